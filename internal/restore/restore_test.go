package restore

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/catalog"
	"github.com/lifeboat-sh/lifeboat/internal/config"
	"github.com/lifeboat-sh/lifeboat/internal/db"
	"github.com/lifeboat-sh/lifeboat/internal/destination"
	"github.com/lifeboat-sh/lifeboat/internal/pipeline"
	"github.com/lifeboat-sh/lifeboat/internal/repositories"
	"github.com/lifeboat-sh/lifeboat/internal/snapshot"
)

type fixture struct {
	coordinator *Coordinator
	catalog     *catalog.Catalog
	fleet       *destination.Fleet
	codec       *pipeline.Codec
	producer    *snapshot.Producer
	settings    *snapshot.MemoryCollection
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	registry := snapshot.NewRegistry()
	settings := snapshot.NewMemoryCollection("settings")
	require.NoError(t, registry.Register("database", settings))
	require.NoError(t, settings.Insert(ctx, snapshot.Record{"key": "current-state"}))
	producer := snapshot.NewProducer(registry, zap.NewNop())

	codec, err := pipeline.New(nil)
	require.NoError(t, err)

	fleet, err := destination.NewFleet([]config.Destination{{
		Name:    "primary",
		Kind:    "local",
		Enabled: true,
		Options: map[string]string{"path": t.TempDir()},
	}}, zap.NewNop())
	require.NoError(t, err)

	cat := catalog.New(
		repositories.NewMemoryJobRepository(),
		repositories.NewMemoryRestorePointRepository(),
		zap.NewNop(), catalog.DefaultLimit)
	require.NoError(t, cat.Load(ctx))

	return &fixture{
		coordinator: NewCoordinator(producer, codec, fleet, cat, zap.NewNop()),
		catalog:     cat,
		fleet:       fleet,
		codec:       codec,
		producer:    producer,
		settings:    settings,
	}
}

// storePoint uploads a document artifact and registers a restore point.
func (f *fixture) storePoint(t *testing.T, doc snapshot.Document) *db.RestorePoint {
	t.Helper()
	ctx := context.Background()

	plain, err := json.Marshal(doc)
	require.NoError(t, err)
	artifact, err := f.codec.Encode(plain, true, false)
	require.NoError(t, err)

	results := f.fleet.Upload(ctx, "job-restore", artifact)
	require.NoError(t, results[0].Err)

	point := &db.RestorePoint{
		ConfigID:   "nightly",
		Name:       "nightly 2026-08-31 02:30",
		Location:   results[0].Location,
		SizeBytes:  int64(len(artifact)),
		Compressed: true,
	}
	require.NoError(t, f.catalog.AddRestorePoint(ctx, point))
	return point
}

func backupDoc() snapshot.Document {
	return snapshot.Document{
		Version:   snapshot.DocumentVersion,
		CreatedAt: time.Now().UTC(),
		Collections: map[string][]snapshot.Record{
			"settings": {
				{"key": "restored-a"},
				{"key": "restored-b"},
			},
		},
		TableCount:  1,
		RecordCount: 2,
	}
}

func TestRestoreAppliesDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	point := f.storePoint(t, backupDoc())

	result, err := f.coordinator.Restore(ctx, point.ID)
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, result.Phase)
	assert.Equal(t, 1, result.Collections)
	assert.Equal(t, 2, result.Records)
	assert.NotEmpty(t, result.SafetyPointID)

	records, err := f.settings.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "restored-a", records[0]["key"])
}

func TestRestoreRegistersSafetyPointFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	point := f.storePoint(t, backupDoc())

	result, err := f.coordinator.Restore(ctx, point.ID)
	require.NoError(t, err)

	safetyID, err := uuid.Parse(result.SafetyPointID)
	require.NoError(t, err)
	safety, err := f.catalog.RestorePoint(ctx, safetyID)
	require.NoError(t, err)

	assert.Equal(t, "pre_restore", safety.Origin)
	assert.Equal(t, "nightly", safety.ConfigID)
	assert.NotEmpty(t, safety.Checksum)

	// The safety artifact holds the state from before the restore.
	up, err := f.fleet.Resolve(safety.Location)
	require.NoError(t, err)
	artifact, err := up.Fetch(ctx, safety.Location)
	require.NoError(t, err)
	plain, _, err := f.codec.Decode(artifact)
	require.NoError(t, err)
	var doc snapshot.Document
	require.NoError(t, json.Unmarshal(plain, &doc))
	require.Len(t, doc.Collections["settings"], 1)
	assert.Equal(t, "current-state", doc.Collections["settings"][0]["key"])
}

func TestRestoreUnknownPoint(t *testing.T) {
	f := newFixture(t)
	_, err := f.coordinator.Restore(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestRestoreMissingArtifactLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	point := f.storePoint(t, backupDoc())
	require.NoError(t, os.Remove(point.Location))

	result, err := f.coordinator.Restore(ctx, point.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSafetySnapshot)
	require.NotNil(t, result)
	assert.Equal(t, PhaseFetch, result.Phase)

	// Current state survives; only the safety snapshot was added.
	records, err := f.settings.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "current-state", records[0]["key"])
}

func TestRestoreSafetySnapshotFailureAborts(t *testing.T) {
	ctx := context.Background()

	// A registry with no collections makes the safety dump fail.
	registry := snapshot.NewRegistry()
	producer := snapshot.NewProducer(registry, zap.NewNop())
	codec, err := pipeline.New(nil)
	require.NoError(t, err)
	fleet, err := destination.NewFleet([]config.Destination{{
		Name:    "primary",
		Kind:    "local",
		Enabled: true,
		Options: map[string]string{"path": t.TempDir()},
	}}, zap.NewNop())
	require.NoError(t, err)
	cat := catalog.New(repositories.NewMemoryJobRepository(), repositories.NewMemoryRestorePointRepository(), zap.NewNop(), catalog.DefaultLimit)
	require.NoError(t, cat.Load(ctx))

	point := &db.RestorePoint{ConfigID: "nightly", Name: "n", Location: "/nowhere.lba"}
	require.NoError(t, cat.AddRestorePoint(ctx, point))

	coordinator := NewCoordinator(producer, codec, fleet, cat, zap.NewNop())
	result, err := coordinator.Restore(ctx, point.ID)
	require.ErrorIs(t, err, ErrSafetySnapshot)
	require.NotNil(t, result)
	assert.Equal(t, PhaseSafetySnapshot, result.Phase)
	assert.Empty(t, result.SafetyPointID)
}
