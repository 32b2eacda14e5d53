// Package gate enforces section ordering for continuous-mode exams.
package gate

import (
	"errors"
	"fmt"

	"github.com/stemsi/simulacro-backend/internal/model"
)

// ErrDenied is returned when an earlier section has not been submitted yet.
var ErrDenied = errors.New("complete prior sections first")

// Slot is the state of one section of an exam as seen by the gate. Sections
// that have no attempt yet must be passed as NOT_STARTED.
type Slot struct {
	SectionNumber int
	Status        model.SectionStatus
}

// CanEnter reports whether the section with sectionNumber may be opened.
// Weekly sections are independent. In continuous mode a section that is
// already running (resume) or submitted (review) is always allowed, anything
// else requires every lower-numbered section to be submitted.
func CanEnter(mode model.ExamMode, sectionNumber int, slots []Slot) error {
	if mode != model.ExamModeContinuous {
		return nil
	}

	for _, s := range slots {
		if s.SectionNumber == sectionNumber &&
			(s.Status == model.SectionStatusInProgress || s.Status == model.SectionStatusSubmitted) {
			return nil
		}
	}

	for _, s := range slots {
		if s.SectionNumber < sectionNumber && s.Status != model.SectionStatusSubmitted {
			return fmt.Errorf("%w: section %d is %s", ErrDenied, s.SectionNumber, s.Status)
		}
	}
	return nil
}
