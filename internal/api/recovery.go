package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/config"
	"github.com/lifeboat-sh/lifeboat/internal/recovery"
)

// RecoveryHandler groups the disaster recovery plan HTTP handlers. Plans
// are registered statically from the config file; the API exposes them
// read-only plus a manual execution endpoint for drills.
type RecoveryHandler struct {
	engine *recovery.Engine
	logger *zap.Logger
}

// NewRecoveryHandler creates a new RecoveryHandler.
func NewRecoveryHandler(engine *recovery.Engine, logger *zap.Logger) *RecoveryHandler {
	return &RecoveryHandler{
		engine: engine,
		logger: logger.Named("recovery_handler"),
	}
}

// planResponse is the JSON representation of a recovery plan.
type planResponse struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Priority    string         `json:"priority"`
	RTOMinutes  int            `json:"rto_minutes"`
	RPOMinutes  int            `json:"rpo_minutes"`
	Triggers    []string       `json:"triggers"`
	Steps       []stepResponse `json:"steps"`
	Contacts    int            `json:"contacts"`
	Enabled     bool           `json:"enabled"`
}

// stepResponse describes one plan step. Command strings are omitted; they
// can embed credentials and paths the API has no reason to expose.
type stepResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Mode      string   `json:"mode"`
	DependsOn []string `json:"depends_on,omitempty"`
	Retries   int      `json:"retries"`
}

func planToResponse(p config.Plan) planResponse {
	steps := make([]stepResponse, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = stepResponse{
			ID:        s.ID,
			Name:      s.Name,
			Mode:      s.Mode,
			DependsOn: s.DependsOn,
			Retries:   s.Retries,
		}
	}
	return planResponse{
		Name:        p.Name,
		Description: p.Description,
		Priority:    p.Priority,
		RTOMinutes:  p.RTOMinutes,
		RPOMinutes:  p.RPOMinutes,
		Triggers:    p.Triggers,
		Steps:       steps,
		Contacts:    len(p.Contacts),
		Enabled:     p.Enabled,
	}
}

// ListPlans handles GET /api/v1/recovery/plans.
func (h *RecoveryHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.engine.Plans()
	items := make([]planResponse, len(plans))
	for i, p := range plans {
		items[i] = planToResponse(p)
	}
	Ok(w, items)
}

// History handles GET /api/v1/recovery/executions.
// Returns recent plan executions, newest first.
func (h *RecoveryHandler) History(w http.ResponseWriter, r *http.Request) {
	Ok(w, h.engine.History())
}

// Execute handles POST /api/v1/recovery/plans/{name}/run.
// Runs a plan immediately regardless of trigger state or cooldown. Meant
// for recovery drills; the execution is recorded in the history like any
// triggered run.
func (h *RecoveryHandler) Execute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var plan *config.Plan
	for _, p := range h.engine.Plans() {
		if p.Name == name {
			plan = &p
			break
		}
	}
	if plan == nil {
		ErrNotFound(w)
		return
	}

	h.logger.Warn("manual recovery plan execution requested",
		zap.String("plan", name),
		zap.String("remote_addr", r.RemoteAddr),
	)

	exec := h.engine.Execute(r.Context(), *plan, "manual")
	Ok(w, exec)
}
