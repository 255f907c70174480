// Package catalog maintains the in-memory backup history alongside its
// durable copy in the catalog database. The in-memory side is bounded and
// ordered most-recent-first so status queries never touch the database;
// every mutation is written through to the repositories so the history
// survives restarts.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/db"
	"github.com/lifeboat-sh/lifeboat/internal/repositories"
)

// DefaultLimit is the maximum number of jobs retained in the catalog. When
// a new job would exceed it, the oldest entries are evicted from memory and
// deleted from the database in the same operation.
const DefaultLimit = 1000

// ErrInvalidTransition is returned when a status update would move a job
// backwards, for example completed to running. Job status transitions are
// strictly monotonic: pending, then running, then exactly one terminal
// state, and terminal states never change.
var ErrInvalidTransition = errors.New("catalog: invalid status transition")

// statusRank orders job statuses for the monotonic transition check.
// Terminal states share a rank; a job reaches at most one of them.
var statusRank = map[string]int{
	db.JobStatusPending:   0,
	db.JobStatusRunning:   1,
	db.JobStatusCompleted: 2,
	db.JobStatusFailed:    2,
	db.JobStatusCancelled: 2,
}

// Catalog is the bounded backup history. All methods are safe for
// concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	jobs  []*db.BackupJob // most recent first
	index map[uuid.UUID]*db.BackupJob

	limit  int
	repo   repositories.JobRepository
	points repositories.RestorePointRepository
	logger *zap.Logger
}

func New(repo repositories.JobRepository, points repositories.RestorePointRepository, logger *zap.Logger, limit int) *Catalog {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Catalog{
		index:  make(map[uuid.UUID]*db.BackupJob),
		limit:  limit,
		repo:   repo,
		points: points,
		logger: logger.Named("catalog"),
	}
}

// Load warms the in-memory history from the database. Called once at
// startup before any other method.
func (c *Catalog) Load(ctx context.Context) error {
	jobs, total, err := c.repo.List(ctx, repositories.ListOptions{Limit: c.limit})
	if err != nil {
		return fmt.Errorf("catalog: loading history: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = make([]*db.BackupJob, 0, len(jobs))
	c.index = make(map[uuid.UUID]*db.BackupJob, len(jobs))
	for i := range jobs {
		job := &jobs[i]
		c.jobs = append(c.jobs, job)
		c.index[job.ID] = job
	}

	c.logger.Info("catalog loaded", zap.Int("jobs", len(jobs)), zap.Int64("total", total))
	return nil
}

// CreateJob persists a new job and prepends it to the history, evicting the
// oldest entries if the bound is exceeded.
func (c *Catalog) CreateJob(ctx context.Context, job *db.BackupJob) error {
	if job.Status == "" {
		job.Status = db.JobStatusPending
	}
	if err := c.repo.Create(ctx, job); err != nil {
		return fmt.Errorf("catalog: creating job: %w", err)
	}

	c.mu.Lock()
	c.jobs = append([]*db.BackupJob{job}, c.jobs...)
	c.index[job.ID] = job
	evicted := 0
	for len(c.jobs) > c.limit {
		last := c.jobs[len(c.jobs)-1]
		delete(c.index, last.ID)
		c.jobs = c.jobs[:len(c.jobs)-1]
		evicted++
	}
	c.mu.Unlock()

	if evicted > 0 {
		if err := c.repo.DeleteOlderThanRank(ctx, c.limit); err != nil {
			c.logger.Warn("evicting old jobs from database", zap.Error(err))
		}
		c.logger.Debug("evicted old jobs", zap.Int("count", evicted))
	}
	return nil
}

// UpdateStatus transitions a job to a new status, enforcing monotonic
// ordering. Terminal transitions set EndedAt and the duration.
func (c *Catalog) UpdateStatus(ctx context.Context, id uuid.UUID, status, errMsg string) error {
	newRank, ok := statusRank[status]
	if !ok {
		return fmt.Errorf("catalog: unknown status %q", status)
	}

	c.mu.Lock()
	job, ok := c.index[id]
	if !ok {
		c.mu.Unlock()
		return repositories.ErrNotFound
	}
	if statusRank[job.Status] >= newRank {
		current := job.Status
		c.mu.Unlock()
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, status)
	}

	now := time.Now()
	job.Status = status
	job.Error = errMsg
	switch status {
	case db.JobStatusRunning:
		job.StartedAt = &now
	case db.JobStatusCompleted, db.JobStatusFailed, db.JobStatusCancelled:
		job.EndedAt = &now
		if job.StartedAt != nil {
			job.DurationMS = now.Sub(*job.StartedAt).Milliseconds()
		}
	}
	snapshot := *job
	c.mu.Unlock()

	// Persist the full row so StartedAt and DurationMS survive a reload.
	if err := c.repo.Update(ctx, &snapshot); err != nil {
		return fmt.Errorf("catalog: persisting status: %w", err)
	}
	return nil
}

// UpdateResult records the artifact outcome of a completed upload phase on
// a still-running job.
func (c *Catalog) UpdateResult(ctx context.Context, id uuid.UUID, sizeBytes int64, location, metadata string) error {
	c.mu.Lock()
	job, ok := c.index[id]
	if !ok {
		c.mu.Unlock()
		return repositories.ErrNotFound
	}
	job.SizeBytes = sizeBytes
	job.Location = location
	if metadata != "" {
		job.Metadata = metadata
	}
	snapshot := *job
	c.mu.Unlock()

	if err := c.repo.Update(ctx, &snapshot); err != nil {
		return fmt.Errorf("catalog: persisting result: %w", err)
	}
	return nil
}

// Job returns a copy of the job with the given ID.
func (c *Catalog) Job(id uuid.UUID) (db.BackupJob, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	job, ok := c.index[id]
	if !ok {
		return db.BackupJob{}, false
	}
	return *job, true
}

// Jobs returns up to limit jobs, most recent first. A configID filters to
// one backup config; empty means all. limit <= 0 means no limit.
func (c *Catalog) Jobs(configID string, limit int) []db.BackupJob {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]db.BackupJob, 0, min(len(c.jobs), max(limit, 0)))
	for _, job := range c.jobs {
		if configID != "" && job.ConfigID != configID {
			continue
		}
		out = append(out, *job)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// LastJob returns the most recent job for a config, regardless of outcome.
func (c *Catalog) LastJob(configID string) (db.BackupJob, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, job := range c.jobs {
		if job.ConfigID == configID {
			return *job, true
		}
	}
	return db.BackupJob{}, false
}

// Len reports the number of jobs currently held in memory.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.jobs)
}

// StorageUsage sums completed upload bytes per destination name.
func (c *Catalog) StorageUsage(ctx context.Context) (map[string]int64, error) {
	return c.repo.UploadTotals(ctx)
}

// RecordUpload persists one destination outcome for a job.
func (c *Catalog) RecordUpload(ctx context.Context, upload *db.JobUpload) error {
	if err := c.repo.CreateUpload(ctx, upload); err != nil {
		return fmt.Errorf("catalog: recording upload: %w", err)
	}
	return nil
}

// Uploads returns the per-destination outcomes for a job.
func (c *Catalog) Uploads(ctx context.Context, jobID uuid.UUID) ([]db.JobUpload, error) {
	return c.repo.ListUploadsByJob(ctx, jobID)
}

// AddRestorePoint registers a completed artifact as restorable.
func (c *Catalog) AddRestorePoint(ctx context.Context, point *db.RestorePoint) error {
	if err := c.points.Create(ctx, point); err != nil {
		return fmt.Errorf("catalog: adding restore point: %w", err)
	}
	c.logger.Info("restore point registered",
		zap.String("id", point.ID.String()),
		zap.String("config", point.ConfigID),
		zap.String("location", point.Location))
	return nil
}

// RestorePoint retrieves one restore point by ID.
func (c *Catalog) RestorePoint(ctx context.Context, id uuid.UUID) (*db.RestorePoint, error) {
	return c.points.GetByID(ctx, id)
}

// RestorePoints lists restore points, optionally filtered by config.
func (c *Catalog) RestorePoints(ctx context.Context, configID string, opts repositories.ListOptions) ([]db.RestorePoint, int64, error) {
	if configID != "" {
		return c.points.ListByConfig(ctx, configID, opts)
	}
	return c.points.List(ctx, opts)
}

// MarkVerified flips the verified flag on a restore point.
func (c *Catalog) MarkVerified(ctx context.Context, id uuid.UUID) error {
	return c.points.MarkVerified(ctx, id)
}

// CancelRunning transitions every pending or running job to cancelled.
// Called during shutdown so no job is left dangling in a live state.
func (c *Catalog) CancelRunning(ctx context.Context) error {
	running, err := c.repo.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("catalog: listing running jobs: %w", err)
	}
	for _, job := range running {
		if err := c.UpdateStatus(ctx, job.ID, db.JobStatusCancelled, "server shutdown"); err != nil {
			// The in-memory entry may have been evicted; persist directly.
			if errors.Is(err, repositories.ErrNotFound) {
				now := time.Now()
				if perr := c.repo.UpdateStatus(ctx, job.ID, db.JobStatusCancelled, &now, "server shutdown"); perr != nil {
					c.logger.Warn("cancelling job", zap.String("id", job.ID.String()), zap.Error(perr))
				}
				continue
			}
			c.logger.Warn("cancelling job", zap.String("id", job.ID.String()), zap.Error(err))
		}
	}
	return nil
}
