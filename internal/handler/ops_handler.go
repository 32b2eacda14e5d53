package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/simulacro-backend/internal/response"
	"github.com/stemsi/simulacro-backend/internal/worker"
)

// OpsHandler exposes operational triggers to an external scheduler.
type OpsHandler struct {
	reconcile *worker.ReconcileWorker
	log       zerolog.Logger
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(reconcile *worker.ReconcileWorker, log zerolog.Logger) *OpsHandler {
	return &OpsHandler{
		reconcile: reconcile,
		log:       log.With().Str("component", "ops_handler").Logger(),
	}
}

// Reconcile godoc
// POST /api/v1/ops/reconcile
// Runs one expiry and deadline sweep and returns its report.
func (h *OpsHandler) Reconcile(c *gin.Context) {
	report, err := h.reconcile.RunOnce(c.Request.Context())
	if errors.Is(err, worker.ErrReconcileRunning) {
		response.Fail(c, http.StatusConflict, response.ErrReconcileRunning)
		return
	}
	if err != nil {
		ev := h.log.Error().Err(err)
		if report != nil {
			ev = ev.Int("zero_filled", report.ZeroFilled).Int("errors", report.Errors)
		}
		ev.Msg("Manual reconcile failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, report)
}
