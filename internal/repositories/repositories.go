// Package repositories defines the persistence interfaces for the catalog
// database and their GORM-backed implementations. Components depend on the
// interfaces only, so tests can substitute in-memory fakes without a database.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lifeboat-sh/lifeboat/internal/db"
)

// -----------------------------------------------------------------------------
// Common
// -----------------------------------------------------------------------------

// ListOptions contains common pagination options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// -----------------------------------------------------------------------------
// JobRepository
// -----------------------------------------------------------------------------

type JobRepository interface {
	Create(ctx context.Context, job *db.BackupJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.BackupJob, error)

	// GetByIDWithUploads retrieves a job together with its JobUpload records.
	// The uploads are returned as a separate slice rather than embedded in
	// the BackupJob struct because GORM cannot auto-resolve UUID-typed
	// foreign keys (see db/models.go for rationale).
	GetByIDWithUploads(ctx context.Context, id uuid.UUID) (*db.BackupJob, []db.JobUpload, error)

	Update(ctx context.Context, job *db.BackupJob) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, endedAt *time.Time, errMsg string) error
	List(ctx context.Context, opts ListOptions) ([]db.BackupJob, int64, error)
	ListByConfig(ctx context.Context, configID string, opts ListOptions) ([]db.BackupJob, int64, error)

	// ListRunning returns all jobs still in pending or running state,
	// used at shutdown to transition in-flight jobs to cancelled.
	ListRunning(ctx context.Context) ([]db.BackupJob, error)

	// DeleteOlderThanRank removes the oldest job rows beyond the most recent
	// keep records, mirroring the in-memory catalog's eviction so the two
	// stores stay bounded together.
	DeleteOlderThanRank(ctx context.Context, keep int) error

	// JobUpload
	CreateUpload(ctx context.Context, upload *db.JobUpload) error
	ListUploadsByJob(ctx context.Context, jobID uuid.UUID) ([]db.JobUpload, error)

	// UploadTotals sums successful upload sizes per destination name,
	// feeding the storage usage part of the status report.
	UploadTotals(ctx context.Context) (map[string]int64, error)
}

// -----------------------------------------------------------------------------
// RestorePointRepository
// -----------------------------------------------------------------------------

type RestorePointRepository interface {
	Create(ctx context.Context, point *db.RestorePoint) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.RestorePoint, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.RestorePoint, int64, error)
	ListByConfig(ctx context.Context, configID string, opts ListOptions) ([]db.RestorePoint, int64, error)

	// MarkVerified sets the verified flag after all integrity checks pass.
	// This is the only mutation permitted on a restore point after creation.
	MarkVerified(ctx context.Context, id uuid.UUID) error
}

// -----------------------------------------------------------------------------
// SettingsRepository
// -----------------------------------------------------------------------------

type SettingsRepository interface {
	Get(ctx context.Context, key string) (*db.Setting, error)
	Set(ctx context.Context, key string, value db.EncryptedString) error
	GetMany(ctx context.Context, prefix string) ([]db.Setting, error)
	Delete(ctx context.Context, key string) error
}
