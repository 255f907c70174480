// Package restore coordinates restoring application state from a restore
// point. A restore is destructive, so the coordinator always captures a
// safety snapshot of current state and registers it as its own restore
// point before any data is overwritten. If the restore then fails the
// operator still has a way back.
package restore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/catalog"
	"github.com/lifeboat-sh/lifeboat/internal/db"
	"github.com/lifeboat-sh/lifeboat/internal/destination"
	"github.com/lifeboat-sh/lifeboat/internal/pipeline"
	"github.com/lifeboat-sh/lifeboat/internal/snapshot"
)

// Restore phases, reported in the result so the API can show how far a
// failed restore got.
const (
	PhaseSafetySnapshot = "safety_snapshot"
	PhaseFetch          = "fetch"
	PhaseDecode         = "decode"
	PhaseApply          = "apply"
	PhaseDone           = "done"
)

// ErrSafetySnapshot wraps any failure during the safety snapshot phase.
// Nothing has been modified when it is returned.
var ErrSafetySnapshot = errors.New("restore: safety snapshot failed")

// Result describes the outcome of a restore attempt. SafetyPointID is set
// whenever the safety snapshot was registered, including on later failure.
type Result struct {
	RestorePointID string        `json:"restore_point_id"`
	SafetyPointID  string        `json:"safety_point_id,omitempty"`
	Phase          string        `json:"phase"`
	Collections    int           `json:"collections"`
	Records        int           `json:"records"`
	Duration       time.Duration `json:"duration"`
}

// Coordinator executes restores. It is stateless; concurrency control
// lives in the orchestrator, which serializes restores with backups.
type Coordinator struct {
	producer *snapshot.Producer
	codec    *pipeline.Codec
	fleet    *destination.Fleet
	catalog  *catalog.Catalog
	logger   *zap.Logger
}

func NewCoordinator(producer *snapshot.Producer, codec *pipeline.Codec, fleet *destination.Fleet, cat *catalog.Catalog, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		producer: producer,
		codec:    codec,
		fleet:    fleet,
		catalog:  cat,
		logger:   logger.Named("restore"),
	}
}

// Restore overwrites application state from the given restore point.
// The safety snapshot is taken strictly before any destructive write; a
// failure there aborts the restore with current state untouched.
func (c *Coordinator) Restore(ctx context.Context, pointID uuid.UUID) (*Result, error) {
	start := time.Now()

	point, err := c.catalog.RestorePoint(ctx, pointID)
	if err != nil {
		return nil, fmt.Errorf("restore: looking up restore point: %w", err)
	}

	result := &Result{RestorePointID: pointID.String(), Phase: PhaseSafetySnapshot}

	safetyID, err := c.safetySnapshot(ctx, point)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrSafetySnapshot, err)
	}
	result.SafetyPointID = safetyID.String()

	result.Phase = PhaseFetch
	up, err := c.fleet.Resolve(point.Location)
	if err != nil {
		return result, fmt.Errorf("restore: resolving %s: %w", point.Location, err)
	}
	artifact, err := up.Fetch(ctx, point.Location)
	if err != nil {
		return result, fmt.Errorf("restore: fetching artifact: %w", err)
	}

	result.Phase = PhaseDecode
	plain, _, err := c.codec.Decode(artifact)
	if err != nil {
		return result, fmt.Errorf("restore: decoding artifact: %w", err)
	}
	var doc snapshot.Document
	if err := json.Unmarshal(plain, &doc); err != nil {
		return result, fmt.Errorf("restore: parsing document: %w", err)
	}
	result.Collections = len(doc.Collections)
	result.Records = doc.RecordCount

	result.Phase = PhaseApply
	if err := c.producer.Apply(ctx, &doc); err != nil {
		return result, fmt.Errorf("restore: applying document: %w", err)
	}

	result.Phase = PhaseDone
	result.Duration = time.Since(start)
	c.logger.Info("restore completed",
		zap.String("restore_point", pointID.String()),
		zap.String("safety_point", result.SafetyPointID),
		zap.Int("collections", result.Collections),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// safetySnapshot dumps current state for every collection, encodes it with
// the same flags as the target restore point, uploads it and registers the
// artifact as a restore point of origin "pre_restore".
func (c *Coordinator) safetySnapshot(ctx context.Context, target *db.RestorePoint) (uuid.UUID, error) {
	doc, err := c.producer.Dump(ctx, "full")
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("dumping current state: %w", err)
	}

	plain, err := json.Marshal(doc)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("marshalling document: %w", err)
	}

	artifact, err := c.codec.Encode(plain, target.Compressed, target.Encrypted)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("encoding artifact: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return uuid.UUID{}, err
	}

	results := c.fleet.Upload(ctx, "pre-restore-"+id.String(), artifact)
	var location string
	for _, r := range results {
		if r.Err == nil {
			location = r.Location
			break
		}
	}
	if location == "" {
		return uuid.UUID{}, fmt.Errorf("no destination accepted the safety snapshot")
	}

	point := &db.RestorePoint{
		ConfigID:   target.ConfigID,
		Name:       fmt.Sprintf("pre-restore of %s", target.Name),
		Origin:     "pre_restore",
		Timestamp:  time.Now(),
		SizeBytes:  int64(len(artifact)),
		Location:   location,
		Compressed: target.Compressed,
		Encrypted:  target.Encrypted,
		Checksum:   destination.Checksum(artifact),
	}
	if err := c.catalog.AddRestorePoint(ctx, point); err != nil {
		return uuid.UUID{}, err
	}

	c.logger.Info("safety snapshot registered",
		zap.String("id", point.ID.String()),
		zap.String("location", location))
	return point.ID, nil
}
