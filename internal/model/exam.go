package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamMode controls how the sections of an exam relate to each other.
type ExamMode string

const (
	// ExamModeContinuous requires sections to be completed strictly in order.
	ExamModeContinuous ExamMode = "CONTINUOUS"
	// ExamModeWeekly makes every section independent with its own due day.
	ExamModeWeekly ExamMode = "WEEKLY"
)

// MaxSections is the number of graded components of a monthly exam.
const MaxSections = 8

// ExamDefinition is an immutable monthly exam as authored in the catalog.
type ExamDefinition struct {
	ID       uuid.UUID           `json:"id"`
	Number   int                 `json:"number"`
	Title    string              `json:"title"`
	Mode     ExamMode            `json:"mode"`
	Sections []SectionDefinition `json:"sections"`
	IsActive bool                `json:"is_active"`

	// RequiredModuleID, when set, must be completed by the student before the
	// exam unlocks. Baseline exams ignore it.
	RequiredModuleID *uuid.UUID `json:"required_module_id,omitempty"`
	IsBaseline       bool       `json:"is_baseline"`
}

// Section returns the section definition with the given id.
func (e *ExamDefinition) Section(id uuid.UUID) (*SectionDefinition, bool) {
	for i := range e.Sections {
		if e.Sections[i].ID == id {
			return &e.Sections[i], true
		}
	}
	return nil, false
}

// SectionDefinition is one time-boxed component of an exam.
type SectionDefinition struct {
	ID              uuid.UUID `json:"id"`
	ExamID          uuid.UUID `json:"exam_id"`
	SectionNumber   int       `json:"section_number"`
	Title           string    `json:"title"`
	DurationMinutes int       `json:"duration_minutes"`
	TotalQuestions  int       `json:"total_questions"`
	IsWriting       bool      `json:"is_writing"`
}

// Duration returns the section's time box.
func (s SectionDefinition) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// CohortExamSchedule anchors an exam on a cohort's program calendar.
type CohortExamSchedule struct {
	CohortID int       `json:"cohort_id"`
	ExamID   uuid.UUID `json:"exam_id"`
	StartDay int       `json:"start_day"`
}

// RosterStudent is an approved cohort member with their current program day.
type RosterStudent struct {
	StudentID  int `json:"student_id"`
	CohortID   int `json:"cohort_id"`
	CurrentDay int `json:"current_day"`
}
