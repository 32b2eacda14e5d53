package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/simulacro-backend/internal/middleware"
	"github.com/stemsi/simulacro-backend/internal/model"
	"github.com/stemsi/simulacro-backend/internal/response"
	"github.com/stemsi/simulacro-backend/internal/service"
	"github.com/stemsi/simulacro-backend/internal/validator"
)

// SimulacroHandler handles the student-facing exam endpoints.
type SimulacroHandler struct {
	sections *service.SectionService
}

// NewSimulacroHandler creates a new SimulacroHandler.
func NewSimulacroHandler(sections *service.SectionService) *SimulacroHandler {
	return &SimulacroHandler{sections: sections}
}

// GetExam godoc
// GET /api/v1/student/exams/:exam_id
// Returns the exam overview with per-section status and whether each section
// can be entered.
func (h *SimulacroHandler) GetExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := uuidParam(c, "exam_id")
	if !ok {
		return
	}

	overview, err := h.sections.Overview(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, overview)
}

// OpenSection godoc
// POST /api/v1/student/exams/:exam_id/sections/:section_id/open
// Starts the section on first open and returns its resumable state.
// Questions never carry correctness flags.
func (h *SimulacroHandler) OpenSection(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := uuidParam(c, "exam_id")
	if !ok {
		return
	}
	sectionID, ok := uuidParam(c, "section_id")
	if !ok {
		return
	}

	// The body is optional.
	var req model.OpenSectionRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	state, err := h.sections.OpenSection(c.Request.Context(), examID, sectionID, claims.UserID, req.ClientElapsedSeconds)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// Autosave godoc
// PUT /api/v1/student/attempts/:attempt_id/autosave
// Persists answers, writing text, tab switches and client audit records.
func (h *SimulacroHandler) Autosave(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, ok := uuidParam(c, "attempt_id")
	if !ok {
		return
	}

	var req model.AttemptPayload
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ack, err := h.sections.Autosave(c.Request.Context(), attemptID, claims.UserID, req)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, ack)
}

// Submit godoc
// POST /api/v1/student/attempts/:attempt_id/submit
// Applies the final payload and finalizes the section. Submitting twice
// returns the stored result with already_submitted set.
func (h *SimulacroHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, ok := uuidParam(c, "attempt_id")
	if !ok {
		return
	}

	var req model.AttemptPayload
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	res, err := h.sections.Submit(c.Request.Context(), attemptID, claims.UserID, req)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// GetResults godoc
// GET /api/v1/student/exam-attempts/:exam_attempt_id/results
// Returns the per-section breakdown of the student's exam attempt.
func (h *SimulacroHandler) GetResults(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examAttemptID, ok := uuidParam(c, "exam_attempt_id")
	if !ok {
		return
	}

	results, err := h.sections.Results(c.Request.Context(), examAttemptID, claims.UserID)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, results)
}

// uuidParam parses a path parameter, answering 400 INVALID_ID when malformed.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
