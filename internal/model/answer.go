package model

import (
	"time"

	"github.com/google/uuid"
)

// Answer is the current selection for one question of a section attempt.
// A nil OptionID means the answer was cleared.
type Answer struct {
	SectionAttemptID uuid.UUID  `json:"section_attempt_id"`
	QuestionID       uuid.UUID  `json:"question_id"`
	OptionID         *uuid.UUID `json:"option_id"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// AnswerEventType classifies an entry of the answer audit log.
type AnswerEventType string

const (
	AnswerEventSelected AnswerEventType = "SELECTED"
	AnswerEventChanged  AnswerEventType = "CHANGED"
	AnswerEventCleared  AnswerEventType = "CLEARED"
)

// EventSource tells whether an audit entry was derived by the server or
// reported by the client.
type EventSource string

const (
	EventSourceServer EventSource = "SERVER"
	EventSourceClient EventSource = "CLIENT"
)

// AnswerEvent is an append-only audit entry. Never used for scoring.
type AnswerEvent struct {
	SectionAttemptID uuid.UUID       `json:"section_attempt_id"`
	QuestionID       uuid.UUID       `json:"question_id"`
	EventType        AnswerEventType `json:"event_type"`
	FromOptionID     *uuid.UUID      `json:"from_option_id,omitempty"`
	ToOptionID       *uuid.UUID      `json:"to_option_id,omitempty"`
	Source           EventSource     `json:"source"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

// QuestionView is an append-only record of time spent looking at a question.
type QuestionView struct {
	SectionAttemptID uuid.UUID `json:"section_attempt_id"`
	QuestionID       uuid.UUID `json:"question_id"`
	DwellSeconds     int       `json:"dwell_seconds"`
	ViewedAt         time.Time `json:"viewed_at"`
}
