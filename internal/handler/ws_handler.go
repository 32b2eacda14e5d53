package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	govalidator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/simulacro-backend/internal/middleware"
	"github.com/stemsi/simulacro-backend/internal/response"
	"github.com/stemsi/simulacro-backend/internal/service"
	"github.com/stemsi/simulacro-backend/internal/validator"
	ws "github.com/stemsi/simulacro-backend/internal/websocket"
)

// actionTimeout bounds the work done for one stream message.
const actionTimeout = 15 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams autosaves and submits of one section attempt over a
// WebSocket. It goes through the same services as the REST endpoints.
type WSHandler struct {
	sections *service.SectionService
	validate *govalidator.Validate
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sections *service.SectionService, maxWritingWords int, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sections: sections,
		validate: validator.New(maxWritingWords),
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
// Accepts autosave, answer, submit and ping actions for one section attempt.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, ok := uuidParam(c, "attempt_id")
	if !ok {
		return
	}

	// Ownership is checked before the upgrade so strangers get a plain 404.
	if _, err := h.sections.Attempt(c.Request.Context(), attemptID, claims.UserID); err != nil {
		failWith(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	ws.Configure(conn)

	studentID := claims.UserID
	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		done := h.dispatch(ctx, conn, wsLog, attemptID, studentID, &msg)
		cancel()
		if done {
			return
		}
	}
}

// dispatch handles one message. It reports true once the section reached a
// terminal state and the stream should close.
func (h *WSHandler) dispatch(ctx context.Context, conn *websocket.Conn, log zerolog.Logger, attemptID uuid.UUID, studentID int, msg *ws.RequestEnvelope) bool {
	switch msg.Action {
	case ws.ActionPing:
		_ = ws.WriteEvent(conn, ws.EventPong, msg.Ref, nil)
		return false

	case ws.ActionAutosave:
		var req ws.AutosaveRequest
		if !h.decode(conn, msg, &req) {
			return false
		}
		ack, err := h.sections.Autosave(ctx, attemptID, studentID, req)
		if err != nil {
			return h.writeFailure(conn, log, msg.Ref, err)
		}
		_ = ws.WriteEvent(conn, ws.EventSaved, msg.Ref, ack)
		return false

	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if !h.decode(conn, msg, &req) {
			return false
		}
		if err := h.sections.Answer(ctx, attemptID, studentID, req); err != nil {
			return h.writeFailure(conn, log, msg.Ref, err)
		}
		_ = ws.WriteEvent(conn, ws.EventAnswered, msg.Ref, req)
		return false

	case ws.ActionSubmit:
		var req ws.SubmitRequest
		if len(msg.Payload) > 0 && !h.decode(conn, msg, &req) {
			return false
		}
		res, err := h.sections.Submit(ctx, attemptID, studentID, req)
		if err != nil {
			return h.writeFailure(conn, log, msg.Ref, err)
		}
		log.Info().
			Bool("time_expired", res.TimeExpired).
			Bool("already_submitted", res.AlreadySubmitted).
			Bool("exam_completed", res.ExamCompleted).
			Msg("Section submitted over stream")
		_ = ws.WriteEvent(conn, ws.EventSubmitted, msg.Ref, res)
		return true

	default:
		log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		_ = ws.WriteError(conn, msg.Ref, string(response.ErrInvalidPayload), "acción desconocida: "+string(msg.Action))
		return false
	}
}

// decode parses and validates the payload of msg into dst, answering with a
// validation error when it does not fit.
func (h *WSHandler) decode(conn *websocket.Conn, msg *ws.RequestEnvelope, dst any) bool {
	if len(msg.Payload) == 0 {
		_ = ws.WriteError(conn, msg.Ref, string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
		return false
	}
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		_ = ws.WriteError(conn, msg.Ref, string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var fields []string
		for name, text := range validator.TranslateErrors(err) {
			fields = append(fields, name+": "+text)
		}
		_ = ws.WriteError(conn, msg.Ref, string(response.ErrValidation), strings.Join(fields, "; "))
		return false
	}
	return true
}

// writeFailure reports a service error. An expired timer ends the stream.
func (h *WSHandler) writeFailure(conn *websocket.Conn, log zerolog.Logger, ref string, err error) bool {
	if errors.Is(err, service.ErrExpired) {
		_ = ws.WriteEvent(conn, ws.EventExpired, ref, nil)
		return true
	}

	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Stream action failed")
	}
	_ = ws.WriteError(conn, ref, string(code), response.GetMessage(code))
	return errors.Is(err, service.ErrAlreadySubmitted)
}
