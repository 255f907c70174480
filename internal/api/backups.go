package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/catalog"
	"github.com/lifeboat-sh/lifeboat/internal/config"
	"github.com/lifeboat-sh/lifeboat/internal/db"
	"github.com/lifeboat-sh/lifeboat/internal/orchestrator"
	"github.com/lifeboat-sh/lifeboat/internal/repositories"
)

// BackupHandler groups the backup config and job HTTP handlers. Configs
// are read-only through the API; they live in the config file. Jobs are
// created by triggering a run, never constructed directly.
type BackupHandler struct {
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	catalog *catalog.Catalog
	logger  *zap.Logger
}

// NewBackupHandler creates a new BackupHandler.
func NewBackupHandler(cfg *config.Config, orch *orchestrator.Orchestrator, cat *catalog.Catalog, logger *zap.Logger) *BackupHandler {
	return &BackupHandler{
		cfg:     cfg,
		orch:    orch,
		catalog: cat,
		logger:  logger.Named("backup_handler"),
	}
}

// -----------------------------------------------------------------------------
// Response types
// -----------------------------------------------------------------------------

// backupConfigResponse is the JSON representation of a backup config.
// Destination options are omitted; they can contain endpoint details the
// API has no reason to expose.
type backupConfigResponse struct {
	Name         string       `json:"name"`
	Kind         string       `json:"kind"`
	Schedule     string       `json:"schedule"`
	Compress     bool         `json:"compress"`
	Encrypt      bool         `json:"encrypt"`
	Enabled      bool         `json:"enabled"`
	Destinations []string     `json:"destinations"`
	LastJob      *jobResponse `json:"last_job,omitempty"`
}

// uploadResponse represents the result of a job on a single destination.
type uploadResponse struct {
	ID          string `json:"id"`
	Destination string `json:"destination"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Location    string `json:"location,omitempty"`
	SizeBytes   int64  `json:"size_bytes"`
	Checksum    string `json:"checksum,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
}

// jobResponse is the JSON representation of a backup job.
type jobResponse struct {
	ID         string           `json:"id"`
	Config     string           `json:"config"`
	Kind       string           `json:"kind"`
	Status     string           `json:"status"`
	StartedAt  *string          `json:"started_at"`
	EndedAt    *string          `json:"ended_at"`
	DurationMS int64            `json:"duration_ms"`
	SizeBytes  int64            `json:"size_bytes"`
	Location   string           `json:"location,omitempty"`
	Error      string           `json:"error,omitempty"`
	Uploads    []uploadResponse `json:"uploads,omitempty"`
	CreatedAt  string           `json:"created_at"`
}

// jobToResponse converts a db.BackupJob and its uploads to a jobResponse.
// Pass nil uploads for list responses where details are not needed.
func jobToResponse(j *db.BackupJob, uploads []db.JobUpload) jobResponse {
	resp := jobResponse{
		ID:         j.ID.String(),
		Config:     j.ConfigID,
		Kind:       j.Kind,
		Status:     j.Status,
		DurationMS: j.DurationMS,
		SizeBytes:  j.SizeBytes,
		Location:   j.Location,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt.UTC().Format(time.RFC3339),
	}

	if j.StartedAt != nil {
		s := j.StartedAt.UTC().Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if j.EndedAt != nil {
		s := j.EndedAt.UTC().Format(time.RFC3339)
		resp.EndedAt = &s
	}

	for _, u := range uploads {
		resp.Uploads = append(resp.Uploads, uploadResponse{
			ID:          u.ID.String(),
			Destination: u.DestinationName,
			Kind:        u.Kind,
			Status:      u.Status,
			Location:    u.Location,
			SizeBytes:   u.SizeBytes,
			Checksum:    u.Checksum,
			DurationMS:  u.DurationMS,
			Error:       u.Error,
		})
	}

	return resp
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// List handles GET /api/v1/backups.
// Returns every registered backup config with its most recent job.
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	items := make([]backupConfigResponse, 0, len(h.cfg.Backups))
	for i := range h.cfg.Backups {
		b := &h.cfg.Backups[i]

		dests := make([]string, 0, len(b.Destinations))
		for _, d := range b.Destinations {
			dests = append(dests, d.Name)
		}

		item := backupConfigResponse{
			Name:         b.Name,
			Kind:         b.Kind,
			Schedule:     b.Schedule,
			Compress:     b.Compress,
			Encrypt:      b.Encrypt,
			Enabled:      b.Enabled,
			Destinations: dests,
		}
		if job, ok := h.catalog.LastJob(b.Name); ok {
			jr := jobToResponse(&job, nil)
			item.LastJob = &jr
		}
		items = append(items, item)
	}
	Ok(w, items)
}

// Run handles POST /api/v1/backups/{name}/run.
// Triggers a manual backup and blocks until the job reaches a terminal
// state. A run already in flight for the config returns 409.
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	job, err := h.orch.CreateBackup(r.Context(), name, "manual")
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrUnknownConfig):
			ErrNotFound(w)
		case errors.Is(err, orchestrator.ErrAlreadyRunning):
			ErrConflict(w, "a backup for this config is already running")
		default:
			h.logger.Error("manual backup failed", zap.String("config", name), zap.Error(err))
			// The job record carries the failure detail; return it.
			if job != nil {
				Ok(w, jobToResponse(job, nil))
				return
			}
			ErrInternal(w)
		}
		return
	}

	Created(w, jobToResponse(job, nil))
}

// ListJobs handles GET /api/v1/jobs.
// Serves from the in-memory catalog, most recent first. Supports an
// optional config filter and a limit query parameter.
func (h *BackupHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	opts := paginationOpts(r)
	configName := r.URL.Query().Get("config")

	jobs := h.catalog.Jobs(configName, opts.Limit)
	items := make([]jobResponse, len(jobs))
	for i := range jobs {
		items[i] = jobToResponse(&jobs[i], nil)
	}
	Ok(w, items)
}

// GetJob handles GET /api/v1/jobs/{id}.
// Returns the job with its per-destination upload outcomes.
func (h *BackupHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	job, found := h.catalog.Job(id)
	if !found {
		ErrNotFound(w)
		return
	}

	uploads, err := h.catalog.Uploads(r.Context(), id)
	if err != nil {
		h.logger.Error("loading job uploads", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, jobToResponse(&job, uploads))
}

// -----------------------------------------------------------------------------
// Shared helpers
// -----------------------------------------------------------------------------

// parseUUID extracts and parses a UUID path parameter. On failure it writes
// a 400 response and returns false so callers can early-return.
func parseUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		ErrBadRequest(w, "invalid "+param+": must be a valid UUID")
		return uuid.UUID{}, false
	}
	return id, true
}

// paginationOpts reads limit and offset query parameters from the request.
// Defaults: limit=20, offset=0. Max limit is capped at 100.
func paginationOpts(r *http.Request) repositories.ListOptions {
	limit := 20
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return repositories.ListOptions{Limit: limit, Offset: offset}
}
