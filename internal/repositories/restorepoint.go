package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lifeboat-sh/lifeboat/internal/db"
)

// gormRestorePointRepository is the GORM implementation of RestorePointRepository.
type gormRestorePointRepository struct {
	db *gorm.DB
}

// NewRestorePointRepository returns a RestorePointRepository backed by the
// provided *gorm.DB.
func NewRestorePointRepository(db *gorm.DB) RestorePointRepository {
	return &gormRestorePointRepository{db: db}
}

// Create inserts a new restore point record. Called once per successfully
// completed backup job.
func (r *gormRestorePointRepository) Create(ctx context.Context, point *db.RestorePoint) error {
	if err := r.db.WithContext(ctx).Create(point).Error; err != nil {
		return fmt.Errorf("restorepoints: create: %w", err)
	}
	return nil
}

// GetByID retrieves a restore point by its UUID.
// Returns ErrNotFound if no record exists.
func (r *gormRestorePointRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.RestorePoint, error) {
	var point db.RestorePoint
	err := r.db.WithContext(ctx).First(&point, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("restorepoints: get by id: %w", err)
	}
	return &point, nil
}

// Delete removes a restore point record. The underlying artifact is deleted
// separately by retention enforcement; this only drops the catalog entry.
func (r *gormRestorePointRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.RestorePoint{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("restorepoints: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a paginated list of restore points and the total count,
// ordered by snapshot timestamp descending (most recent first).
func (r *gormRestorePointRepository) List(ctx context.Context, opts ListOptions) ([]db.RestorePoint, int64, error) {
	var points []db.RestorePoint
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.RestorePoint{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("restorepoints: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("timestamp DESC").
		Find(&points).Error; err != nil {
		return nil, 0, fmt.Errorf("restorepoints: list: %w", err)
	}

	return points, total, nil
}

// ListByConfig returns a paginated list of restore points for a given backup
// config, ordered by snapshot timestamp descending.
func (r *gormRestorePointRepository) ListByConfig(ctx context.Context, configID string, opts ListOptions) ([]db.RestorePoint, int64, error) {
	var points []db.RestorePoint
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&db.RestorePoint{}).
		Where("config_id = ?", configID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("restorepoints: list by config count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("config_id = ?", configID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("timestamp DESC").
		Find(&points).Error; err != nil {
		return nil, 0, fmt.Errorf("restorepoints: list by config: %w", err)
	}

	return points, total, nil
}

// MarkVerified sets the verified flag. This is the only field the verifier
// is allowed to mutate after creation.
func (r *gormRestorePointRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&db.RestorePoint{}).
		Where("id = ?", id).
		Update("verified", true)
	if result.Error != nil {
		return fmt.Errorf("restorepoints: mark verified: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
