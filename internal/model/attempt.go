package model

import (
	"time"

	"github.com/google/uuid"
)

// SectionStatus enumerates section attempt states.
// NOT_STARTED -> IN_PROGRESS -> SUBMITTED; SUBMITTED is terminal.
type SectionStatus string

const (
	SectionStatusNotStarted SectionStatus = "NOT_STARTED"
	SectionStatusInProgress SectionStatus = "IN_PROGRESS"
	SectionStatusSubmitted  SectionStatus = "SUBMITTED"
)

// SubmitTrigger records what caused a section to be finalized.
type SubmitTrigger string

const (
	TriggerExplicit SubmitTrigger = "EXPLICIT"
	TriggerExpiry   SubmitTrigger = "EXPIRY"
	TriggerDeadline SubmitTrigger = "DEADLINE"
)

// ExamAttempt is a student's attempt at a whole exam.
type ExamAttempt struct {
	ID          uuid.UUID  `json:"id"`
	ExamID      uuid.UUID  `json:"exam_id"`
	StudentID   int        `json:"student_id"`
	IsCompleted bool       `json:"is_completed"`
	TotalScore  *float64   `json:"total_score,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SectionAttempt is a student's attempt at one section of an exam.
type SectionAttempt struct {
	ID                 uuid.UUID      `json:"id"`
	ExamAttemptID      uuid.UUID      `json:"exam_attempt_id"`
	SectionID          uuid.UUID      `json:"section_id"`
	Status             SectionStatus  `json:"status"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	SubmittedAt        *time.Time     `json:"submitted_at,omitempty"`
	TimeSpentSeconds   int            `json:"time_spent_seconds"`
	TabSwitches        int            `json:"tab_switches"`
	TotalAnswerChanges int            `json:"total_answer_changes"`
	WritingContent     *string        `json:"writing_content,omitempty"`
	WritingWordCount   *int           `json:"writing_word_count,omitempty"`
	TotalCorrect       *int           `json:"total_correct,omitempty"`
	SubmitTrigger      *SubmitTrigger `json:"submit_trigger,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// IsSubmitted reports whether the attempt reached its terminal state.
func (a *SectionAttempt) IsSubmitted() bool {
	return a.Status == SectionStatusSubmitted
}
