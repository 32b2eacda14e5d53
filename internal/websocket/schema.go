package websocket

import (
	"encoding/json"

	"github.com/stemsi/simulacro-backend/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionAnswer   Action = "answer"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope carries every client message. Payload is decoded according
// to Action; Ref is echoed back so the client can match replies.
type RequestEnvelope struct {
	Action  Action          `json:"action"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AutosaveRequest and SubmitRequest share the REST payload shape.
type AutosaveRequest = model.AttemptPayload

type SubmitRequest = model.AttemptPayload

// AnswerRequest confirms a single question.
type AnswerRequest = model.AnswerInput

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSaved     Event = "saved"
	EventAnswered  Event = "answered"
	EventSubmitted Event = "submitted"
	EventExpired   Event = "expired"
	EventPong      Event = "pong"
	EventError     Event = "error"
)

// Reply is the envelope of every server message.
type Reply struct {
	Event Event  `json:"event"`
	Ref   string `json:"ref,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// ErrorResponse describes a rejected action. Code matches the REST error codes.
type ErrorResponse struct {
	Event   Event  `json:"event"`
	Ref     string `json:"ref,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
