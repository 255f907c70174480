package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/catalog"
	"github.com/lifeboat-sh/lifeboat/internal/db"
	"github.com/lifeboat-sh/lifeboat/internal/orchestrator"
	"github.com/lifeboat-sh/lifeboat/internal/repositories"
	"github.com/lifeboat-sh/lifeboat/internal/restore"
	"github.com/lifeboat-sh/lifeboat/internal/verify"
)

// RestorePointHandler groups the restore point HTTP handlers: listing,
// integrity verification and restoration.
type RestorePointHandler struct {
	catalog  *catalog.Catalog
	points   repositories.RestorePointRepository
	verifier *verify.Verifier
	orch     *orchestrator.Orchestrator
	logger   *zap.Logger
}

// NewRestorePointHandler creates a new RestorePointHandler.
func NewRestorePointHandler(
	cat *catalog.Catalog,
	points repositories.RestorePointRepository,
	verifier *verify.Verifier,
	orch *orchestrator.Orchestrator,
	logger *zap.Logger,
) *RestorePointHandler {
	return &RestorePointHandler{
		catalog:  cat,
		points:   points,
		verifier: verifier,
		orch:     orch,
		logger:   logger.Named("restorepoint_handler"),
	}
}

// restorePointResponse is the JSON representation of a restore point.
type restorePointResponse struct {
	ID         string `json:"id"`
	JobID      string `json:"job_id"`
	Config     string `json:"config"`
	Name       string `json:"name"`
	Origin     string `json:"origin"`
	Timestamp  string `json:"timestamp"`
	SizeBytes  int64  `json:"size_bytes"`
	Location   string `json:"location"`
	Compressed bool   `json:"compressed"`
	Encrypted  bool   `json:"encrypted"`
	Verified   bool   `json:"verified"`
	Checksum   string `json:"checksum,omitempty"`
}

func pointToResponse(p *db.RestorePoint) restorePointResponse {
	return restorePointResponse{
		ID:         p.ID.String(),
		JobID:      p.JobID.String(),
		Config:     p.ConfigID,
		Name:       p.Name,
		Origin:     p.Origin,
		Timestamp:  p.Timestamp.UTC().Format(time.RFC3339),
		SizeBytes:  p.SizeBytes,
		Location:   p.Location,
		Compressed: p.Compressed,
		Encrypted:  p.Encrypted,
		Verified:   p.Verified,
		Checksum:   p.Checksum,
	}
}

// listRestorePointsResponse wraps a paginated list of restore points.
type listRestorePointsResponse struct {
	Items []restorePointResponse `json:"items"`
	Total int64                  `json:"total"`
}

// List handles GET /api/v1/restore-points.
// Supports an optional config filter via query parameter.
func (h *RestorePointHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := paginationOpts(r)
	configName := r.URL.Query().Get("config")

	points, total, err := h.catalog.RestorePoints(r.Context(), configName, opts)
	if err != nil {
		h.logger.Error("listing restore points", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]restorePointResponse, len(points))
	for i := range points {
		items[i] = pointToResponse(&points[i])
	}
	Ok(w, listRestorePointsResponse{Items: items, Total: total})
}

// GetByID handles GET /api/v1/restore-points/{id}.
func (h *RestorePointHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	point, err := h.points.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("getting restore point", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, pointToResponse(point))
}

// Verify handles POST /api/v1/restore-points/{id}/verify.
// Runs the integrity checks and, when everything passes, flips the
// verified flag. The full check report is returned either way.
func (h *RestorePointHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	point, err := h.points.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("getting restore point", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	report := h.verifier.Verify(r.Context(), point)
	if report.Valid && !point.Verified {
		if err := h.catalog.MarkVerified(r.Context(), id); err != nil {
			h.logger.Warn("marking restore point verified", zap.String("id", id.String()), zap.Error(err))
		}
	}

	Ok(w, report)
}

// Restore handles POST /api/v1/restore-points/{id}/restore.
// Blocks until the restore finishes. Failures after the safety snapshot
// phase still return the partial result so the client can see the safety
// point that was created.
func (h *RestorePointHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	result, err := h.orch.Restore(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			ErrNotFound(w)
		case errors.Is(err, orchestrator.ErrAlreadyRunning):
			ErrConflict(w, "an operation for this config is already running")
		case errors.Is(err, restore.ErrSafetySnapshot):
			ErrUnprocessable(w, "safety snapshot failed, state left untouched: "+err.Error())
		default:
			h.logger.Error("restore failed", zap.String("id", id.String()), zap.Error(err))
			if result != nil {
				JSON(w, http.StatusInternalServerError, envelope{
					"error": errorResponse{Message: err.Error(), Code: "restore_failed"},
					"data":  result,
				})
				return
			}
			ErrInternal(w)
		}
		return
	}

	Ok(w, result)
}

// Delete handles DELETE /api/v1/restore-points/{id}.
// Removes the catalog row only; the artifact itself is left to the
// destination's retention lifecycle.
func (h *RestorePointHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.points.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("deleting restore point", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	NoContent(w)
}
