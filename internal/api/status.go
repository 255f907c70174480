package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/orchestrator"
)

// StatusHandler serves the aggregated system status view.
type StatusHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		orch:   orch,
		logger: logger.Named("status_handler"),
	}
}

// Get handles GET /api/v1/status. Always succeeds; stale or missing
// health data shows up as a degraded overall status rather than an error.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	Ok(w, h.orch.GetStatus(r.Context()))
}
