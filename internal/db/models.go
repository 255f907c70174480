package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
// This ensures every record has a valid time-ordered ID before insertion.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// -----------------------------------------------------------------------------
// Backup jobs
// -----------------------------------------------------------------------------

// Job status values. Transitions are monotonic: a job leaves "pending" exactly
// once and never returns to it. Terminal states are completed, failed and
// cancelled. The catalog enforces this ordering on every update.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// BackupJob is a single backup execution for one backup config, triggered by
// the schedule sweep or manually via the API. A job can partially succeed:
// it is marked completed as long as at least one destination upload succeeded,
// with per-destination outcomes recorded in JobUpload rows.
//
// Uploads is populated manually by the repository layer. The gorm:"-" tag
// prevents GORM from attempting foreign key resolution on the field, which
// fails with uuid.UUID primary keys.
type BackupJob struct {
	base
	ConfigID   string `gorm:"not null;index"` // backup config name from the static registry
	Kind       string `gorm:"not null"`       // "database", "files", "cache", "full"
	Status     string `gorm:"not null;default:'pending'"`
	StartedAt  *time.Time
	EndedAt    *time.Time
	DurationMS int64  `gorm:"not null;default:0"`
	SizeBytes  int64  `gorm:"not null;default:0"`
	Location   string `gorm:"type:text;default:''"` // primary location handle (first successful upload)
	Error      string `gorm:"type:text;default:''"`
	Metadata   string `gorm:"type:text;default:'{}'"` // JSON, free-form (table/record counts, checksums)

	Uploads []JobUpload `gorm:"-"`
}

// JobUpload records the outcome of one destination upload within a backup
// job. Failure of one destination never aborts the others, so a job carries
// one row per enabled destination regardless of individual outcomes.
type JobUpload struct {
	base
	JobID           uuid.UUID `gorm:"type:text;not null;index"`
	DestinationName string    `gorm:"not null"`
	Kind            string    `gorm:"not null"` // "local", "s3", "gcs", "azure", "ftp"
	Status          string    `gorm:"not null;default:'pending'"`
	Location        string    `gorm:"type:text;default:''"`
	SizeBytes       int64     `gorm:"not null;default:0"`
	Checksum        string    `gorm:"default:''"` // BLAKE3 hex of the uploaded artifact
	DurationMS      int64     `gorm:"not null;default:0"`
	Error           string    `gorm:"type:text;default:''"`
}

// -----------------------------------------------------------------------------
// Restore points
// -----------------------------------------------------------------------------

// RestorePoint is an addressable backup artifact eligible for restoration.
// One is created for every successfully completed BackupJob. Rows are
// read-only after creation except for the Verified flag, which the integrity
// verifier flips after all checks pass.
type RestorePoint struct {
	base
	JobID      uuid.UUID `gorm:"type:text;not null;index"`
	ConfigID   string    `gorm:"not null;index"`
	Name       string    `gorm:"not null"`
	Origin     string    `gorm:"not null;default:'automatic'"` // "automatic" or "manual"
	Timestamp  time.Time `gorm:"not null;index"`
	SizeBytes  int64     `gorm:"not null;default:0"`
	Location   string    `gorm:"type:text;not null"`
	Compressed bool      `gorm:"not null;default:false"`
	Encrypted  bool      `gorm:"not null;default:false"`
	Verified   bool      `gorm:"not null;default:false"`
	Checksum   string    `gorm:"default:''"`
	Metadata   string    `gorm:"type:text;default:'{}'"` // JSON
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

// Setting is a generic key-value configuration entry stored in the database.
// Keys are namespaced by convention (e.g. "smtp.host", "webhook.url").
// Sensitive values (e.g. "smtp.password") are encrypted at the application
// layer via EncryptedString before being persisted.
//
// Setting does not embed base because it uses a string primary key (the key
// itself) rather than a UUID, and does not need CreatedAt.
type Setting struct {
	Key       string          `gorm:"primaryKey"`
	Value     EncryptedString `gorm:"type:text;not null"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime"`
}
