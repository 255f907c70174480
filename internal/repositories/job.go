package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lifeboat-sh/lifeboat/internal/db"
)

// gormJobRepository is the GORM implementation of JobRepository.
type gormJobRepository struct {
	db *gorm.DB
}

// NewJobRepository returns a JobRepository backed by the provided *gorm.DB.
func NewJobRepository(db *gorm.DB) JobRepository {
	return &gormJobRepository{db: db}
}

// Create inserts a new backup job record into the database.
func (r *gormJobRepository) Create(ctx context.Context, job *db.BackupJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("jobs: create: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its UUID.
// Returns ErrNotFound if no record exists.
func (r *gormJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.BackupJob, error) {
	var job db.BackupJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobs: get by id: %w", err)
	}
	return &job, nil
}

// GetByIDWithUploads retrieves a job together with its JobUpload records
// using two separate queries. The uploads are returned independently rather
// than embedded in the BackupJob struct, because GORM cannot auto-resolve
// UUID-typed foreign keys (see db/models.go for rationale).
func (r *gormJobRepository) GetByIDWithUploads(ctx context.Context, id uuid.UUID) (*db.BackupJob, []db.JobUpload, error) {
	var job db.BackupJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("jobs: get by id with uploads: %w", err)
	}

	var uploads []db.JobUpload
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", id).
		Find(&uploads).Error; err != nil {
		return nil, nil, fmt.Errorf("jobs: get uploads for job %s: %w", id, err)
	}

	return &job, uploads, nil
}

// Update persists all fields of an existing job record.
func (r *gormJobRepository) Update(ctx context.Context, job *db.BackupJob) error {
	result := r.db.WithContext(ctx).
		Model(&db.BackupJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":      job.Status,
			"started_at":  job.StartedAt,
			"ended_at":    job.EndedAt,
			"duration_ms": job.DurationMS,
			"size_bytes":  job.SizeBytes,
			"location":    job.Location,
			"error":       job.Error,
			"metadata":    job.Metadata,
		})
	if result.Error != nil {
		return fmt.Errorf("jobs: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus updates only the status, ended_at and error fields of a job.
// Used when no full in-memory row is available, such as cancelling a job
// already evicted from the catalog.
func (r *gormJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, endedAt *time.Time, errMsg string) error {
	result := r.db.WithContext(ctx).
		Model(&db.BackupJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":   status,
			"ended_at": endedAt,
			"error":    errMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("jobs: update status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a paginated list of jobs and the total count,
// ordered by creation time descending (most recent first).
func (r *gormJobRepository) List(ctx context.Context, opts ListOptions) ([]db.BackupJob, int64, error) {
	var jobs []db.BackupJob
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.BackupJob{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list: %w", err)
	}

	return jobs, total, nil
}

// ListByConfig returns a paginated list of jobs for a given backup config,
// ordered by creation time descending.
func (r *gormJobRepository) ListByConfig(ctx context.Context, configID string, opts ListOptions) ([]db.BackupJob, int64, error) {
	var jobs []db.BackupJob
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&db.BackupJob{}).
		Where("config_id = ?", configID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list by config count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("config_id = ?", configID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list by config: %w", err)
	}

	return jobs, total, nil
}

// ListRunning returns all jobs still in pending or running state.
// Called once at shutdown to mark in-flight jobs cancelled instead of
// leaving them running forever.
func (r *gormJobRepository) ListRunning(ctx context.Context) ([]db.BackupJob, error) {
	var jobs []db.BackupJob
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []string{db.JobStatusPending, db.JobStatusRunning}).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("jobs: list running: %w", err)
	}
	return jobs, nil
}

// DeleteOlderThanRank removes job rows beyond the most recent keep records.
// UUIDv7 primary keys are time-ordered, so ordering by id descending yields
// recency order without touching created_at.
func (r *gormJobRepository) DeleteOlderThanRank(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}

	// Find the id of the keep-th most recent job; everything older goes.
	var boundary db.BackupJob
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Offset(keep - 1).
		First(&boundary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // fewer than keep jobs exist
		}
		return fmt.Errorf("jobs: find eviction boundary: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("id < ?", boundary.ID).
		Delete(&db.BackupJob{}).Error; err != nil {
		return fmt.Errorf("jobs: evict old jobs: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// JobUpload
// -----------------------------------------------------------------------------

// CreateUpload inserts a new job upload record.
// Called once per destination when the upload fan-out completes.
func (r *gormJobRepository) CreateUpload(ctx context.Context, upload *db.JobUpload) error {
	if err := r.db.WithContext(ctx).Create(upload).Error; err != nil {
		return fmt.Errorf("jobs: create upload: %w", err)
	}
	return nil
}

// ListUploadsByJob returns all JobUpload records for a given job.
func (r *gormJobRepository) ListUploadsByJob(ctx context.Context, jobID uuid.UUID) ([]db.JobUpload, error) {
	var uploads []db.JobUpload
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Find(&uploads).Error; err != nil {
		return nil, fmt.Errorf("jobs: list uploads by job: %w", err)
	}
	return uploads, nil
}

// UploadTotals sums the bytes of completed uploads grouped by destination.
func (r *gormJobRepository) UploadTotals(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		DestinationName string
		Total           int64
	}
	if err := r.db.WithContext(ctx).
		Model(&db.JobUpload{}).
		Select("destination_name, SUM(size_bytes) AS total").
		Where("status = ?", db.JobStatusCompleted).
		Group("destination_name").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("jobs: upload totals: %w", err)
	}

	totals := make(map[string]int64, len(rows))
	for _, row := range rows {
		totals[row.DestinationName] = row.Total
	}
	return totals, nil
}
