package model

import (
	"time"

	"github.com/google/uuid"
)

// AnswerInput selects (or clears, when OptionID is null) one question.
type AnswerInput struct {
	QuestionID uuid.UUID  `json:"question_id" binding:"required"`
	OptionID   *uuid.UUID `json:"option_id"`
}

// AnswerEventInput is a client-recorded answer interaction.
type AnswerEventInput struct {
	QuestionID   uuid.UUID       `json:"question_id" binding:"required"`
	EventType    AnswerEventType `json:"event_type" binding:"required,oneof=SELECTED CHANGED CLEARED"`
	FromOptionID *uuid.UUID      `json:"from_option_id"`
	ToOptionID   *uuid.UUID      `json:"to_option_id"`
	OccurredAt   time.Time       `json:"occurred_at" binding:"required"`
}

// QuestionViewInput is a client-measured dwell interval on a question.
type QuestionViewInput struct {
	QuestionID   uuid.UUID `json:"question_id" binding:"required"`
	DwellSeconds int       `json:"dwell_seconds" binding:"min=0,max=86400"`
	ViewedAt     time.Time `json:"viewed_at" binding:"required"`
}

// AttemptPayload is the body of both autosave and submit requests.
// Every field is optional; tab switches is a monotonically growing counter.
type AttemptPayload struct {
	Answers        []AnswerInput       `json:"answers" binding:"omitempty,max=200,dive"`
	WritingContent *string             `json:"writing_content" binding:"omitempty,maxwords"`
	TabSwitches    int                 `json:"tab_switches" binding:"min=0"`
	AnswerEvents   []AnswerEventInput  `json:"answer_events" binding:"omitempty,max=1000,dive"`
	QuestionViews  []QuestionViewInput `json:"question_views" binding:"omitempty,max=1000,dive"`
}

// OpenSectionRequest optionally carries the client's own elapsed counter,
// used only when the server has no start timestamp.
type OpenSectionRequest struct {
	ClientElapsedSeconds int `json:"client_elapsed_seconds" binding:"min=0"`
}
