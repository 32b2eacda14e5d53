package service

import (
	"errors"
	"fmt"

	"github.com/stemsi/simulacro-backend/internal/gate"
)

// Error taxonomy shared by the attempt services. Wrap with fmt.Errorf("...: %w")
// and match with errors.Is.
var (
	// ErrValidation marks malformed input or ids that do not belong together.
	ErrValidation = errors.New("validation failed")
	// ErrGateDenied is returned when continuous-mode ordering is violated.
	ErrGateDenied = gate.ErrDenied
	// ErrConflict is returned when mutating an attempt that is no longer in progress.
	ErrConflict = errors.New("section attempt is not in progress")
	// ErrAlreadySubmitted is the ErrConflict of a section that reached its
	// terminal state.
	ErrAlreadySubmitted = fmt.Errorf("%w: already submitted", ErrConflict)
	// ErrExpired is returned after the section timer ran out. The attempt has
	// already been finalized when a caller sees it.
	ErrExpired = errors.New("section time expired")
	// ErrNotFound is returned when an attempt or definition does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExamUnavailable is returned for inactive or still-locked exams.
	ErrExamUnavailable = errors.New("exam is not available")
)
