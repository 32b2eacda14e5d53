package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/simulacro-backend/internal/response"
	"github.com/stemsi/simulacro-backend/internal/service"
)

// classify maps a service error onto its HTTP status and API error code.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, service.ErrGateDenied):
		return http.StatusForbidden, response.ErrCompletePriorSections
	case errors.Is(err, service.ErrExamUnavailable):
		return http.StatusForbidden, response.ErrExamNotAvailable
	case errors.Is(err, service.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, response.ErrConflict
	case errors.Is(err, service.ErrExpired):
		return http.StatusGone, response.ErrTimeExpired
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, response.ErrNotFound
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failWith writes the error response for err. Unexpected errors are logged
// with the request logger; the client only sees INTERNAL_ERROR.
func failWith(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}
