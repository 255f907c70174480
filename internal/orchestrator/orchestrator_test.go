package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"sync"
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
	"github.com/lifeboat-sh/lifeboat/internal/health"
	"github.com/lifeboat-sh/lifeboat/internal/pipeline"
	"github.com/lifeboat-sh/lifeboat/internal/recovery"
	"github.com/lifeboat-sh/lifeboat/internal/repositories"
	"github.com/lifeboat-sh/lifeboat/internal/restore"
	"github.com/lifeboat-sh/lifeboat/internal/snapshot"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(topic string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, _ := payload.(map[string]any)
	event, _ := m["event"].(string)
	p.events = append(p.events, topic+"/"+event)
}

func (p *recordingPublisher) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// gateCollection blocks the first List call until released, so one
// backup can be held in flight while others are attempted.
type gateCollection struct {
	name    string
	started chan struct{}
	release chan struct{}
	first   sync.Once
}

func (g *gateCollection) Name() string { return g.name }

func (g *gateCollection) List(ctx context.Context) ([]snapshot.Record, error) {
	blocked := false
	g.first.Do(func() {
		blocked = true
		close(g.started)
	})
	if blocked {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []snapshot.Record{{"id": "1"}}, nil
}

func (g *gateCollection) Clear(context.Context) error { return nil }

func (g *gateCollection) Insert(context.Context, snapshot.Record) error { return nil }

type harness struct {
	orch   *Orchestrator
	cat    *catalog.Catalog
	events *recordingPublisher
	users  *snapshot.MemoryCollection
}

func backupCfg(name, dir string, enabled bool) config.BackupConfig {
	return config.BackupConfig{
		Name:     name,
		Kind:     "database",
		Schedule: "0 3 * * *",
		Compress: true,
		Enabled:  enabled,
		Destinations: []config.Destination{{
			Name:    "primary",
			Kind:    "local",
			Enabled: true,
			Options: map[string]string{"path": dir},
		}},
	}
}

func newHarness(t *testing.T, cfg *config.Config, cols ...snapshot.Collection) *harness {
	t.Helper()
	ctx := context.Background()

	registry := snapshot.NewRegistry()
	var users *snapshot.MemoryCollection
	if len(cols) == 0 {
		users = snapshot.NewMemoryCollection("users")
		require.NoError(t, users.Insert(ctx, snapshot.Record{"id": "u1"}))
		require.NoError(t, users.Insert(ctx, snapshot.Record{"id": "u2"}))
		cols = []snapshot.Collection{users}
	}
	for _, col := range cols {
		require.NoError(t, registry.Register("database", col))
	}
	producer := snapshot.NewProducer(registry, zap.NewNop())

	codec, err := pipeline.New(nil)
	require.NoError(t, err)

	fleets := make(map[string]*destination.Fleet, len(cfg.Backups))
	for _, b := range cfg.Backups {
		fleet, err := destination.NewFleet(b.Destinations, zap.NewNop())
		require.NoError(t, err)
		fleets[b.Name] = fleet
	}

	cat := catalog.New(repositories.NewMemoryJobRepository(), repositories.NewMemoryRestorePointRepository(), zap.NewNop(), catalog.DefaultLimit)
	require.NoError(t, cat.Load(ctx))

	// Restores resolve against every configured destination.
	var all []config.Destination
	for _, b := range cfg.Backups {
		all = append(all, b.Destinations...)
	}
	global, err := destination.NewFleet(all, zap.NewNop())
	require.NoError(t, err)
	coord := restore.NewCoordinator(producer, codec, global, cat, zap.NewNop())

	monitor := health.NewMonitor(nil, time.Second, zap.NewNop())
	engine := recovery.NewEngine(cfg.Plans, nil, zap.NewNop())
	events := &recordingPublisher{}

	return &harness{
		orch:   New(cfg, producer, codec, fleets, cat, coord, monitor, engine, events, zap.NewNop()),
		cat:    cat,
		events: events,
		users:  users,
	}
}

func TestCreateBackupCompletes(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Backups: []config.BackupConfig{backupCfg("nightly", t.TempDir(), true)}}
	h := newHarness(t, cfg)

	job, err := h.orch.CreateBackup(ctx, "nightly", "scheduled")
	require.NoError(t, err)

	assert.Equal(t, db.JobStatusCompleted, job.Status)
	assert.NotZero(t, job.SizeBytes)
	assert.NotEmpty(t, job.Location)

	var meta jobMetadata
	require.NoError(t, json.Unmarshal([]byte(job.Metadata), &meta))
	assert.Equal(t, 1, meta.TableCount)
	assert.Equal(t, 2, meta.RecordCount)
	assert.NotEmpty(t, meta.Checksum)
	assert.Zero(t, meta.FailedUploads)

	uploads, err := h.cat.Uploads(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, db.JobStatusCompleted, uploads[0].Status)

	points, _, err := h.cat.RestorePoints(ctx, "nightly", repositories.ListOptions{})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "scheduled", points[0].Origin)
	assert.Equal(t, job.ID, points[0].JobID)

	assert.Contains(t, h.events.seen(), "jobs/created")
	assert.Contains(t, h.events.seen(), "jobs/completed")
}

func TestCreateBackupUnknownConfig(t *testing.T) {
	cfg := &config.Config{Backups: []config.BackupConfig{backupCfg("nightly", t.TempDir(), true)}}
	h := newHarness(t, cfg)

	_, err := h.orch.CreateBackup(context.Background(), "weekly", "manual")
	assert.ErrorIs(t, err, ErrUnknownConfig)
}

func TestCreateBackupDisabledConfig(t *testing.T) {
	cfg := &config.Config{Backups: []config.BackupConfig{backupCfg("nightly", t.TempDir(), false)}}
	h := newHarness(t, cfg)

	// Automatic origins respect the enabled flag; manual runs bypass it.
	_, err := h.orch.CreateBackup(context.Background(), "nightly", "scheduled")
	assert.ErrorIs(t, err, ErrDisabled)

	job, err := h.orch.CreateBackup(context.Background(), "nightly", "manual")
	require.NoError(t, err)
	assert.Equal(t, db.JobStatusCompleted, job.Status)
}

func TestCreateBackupPartialUploadFailure(t *testing.T) {
	ctx := context.Background()
	goodDir := t.TempDir()

	// The second destination's path sits inside a regular file, so its
	// MkdirAll fails while the first succeeds.
	blocker := t.TempDir() + "/blocker"
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	b := backupCfg("nightly", goodDir, true)
	b.Destinations = append(b.Destinations, config.Destination{
		Name:    "broken",
		Kind:    "local",
		Enabled: true,
		Options: map[string]string{"path": blocker + "/nested"},
	})
	cfg := &config.Config{Backups: []config.BackupConfig{b}}
	h := newHarness(t, cfg)

	job, err := h.orch.CreateBackup(ctx, "nightly", "manual")
	require.NoError(t, err)
	assert.Equal(t, db.JobStatusCompleted, job.Status)

	var meta jobMetadata
	require.NoError(t, json.Unmarshal([]byte(job.Metadata), &meta))
	assert.Equal(t, 1, meta.FailedUploads)

	uploads, err := h.cat.Uploads(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, uploads, 2)
}

func TestCreateBackupAllUploadsFail(t *testing.T) {
	blocker := t.TempDir() + "/blocker"
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	cfg := &config.Config{Backups: []config.BackupConfig{backupCfg("nightly", blocker+"/nested", true)}}
	h := newHarness(t, cfg)

	job, err := h.orch.CreateBackup(context.Background(), "nightly", "manual")
	require.Error(t, err)
	require.NotNil(t, job)

	failed, ok := h.cat.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, db.JobStatusFailed, failed.Status)
	assert.NotEmpty(t, failed.Error)
	assert.Contains(t, h.events.seen(), "jobs/failed")
}

func TestCreateBackupSerializedPerConfig(t *testing.T) {
	ctx := context.Background()
	gate := &gateCollection{
		name:    "users",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	cfg := &config.Config{Backups: []config.BackupConfig{
		backupCfg("nightly", t.TempDir(), true),
		backupCfg("weekly", t.TempDir(), true),
	}}
	h := newHarness(t, cfg, gate)

	errCh := make(chan error, 1)
	go func() {
		_, err := h.orch.CreateBackup(ctx, "nightly", "manual")
		errCh <- err
	}()
	<-gate.started

	// Same config is rejected while the first run holds the slot.
	_, err := h.orch.CreateBackup(ctx, "nightly", "manual")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// A different config is free to run concurrently.
	job, err := h.orch.CreateBackup(ctx, "weekly", "manual")
	require.NoError(t, err)
	assert.Equal(t, db.JobStatusCompleted, job.Status)

	close(gate.release)
	require.NoError(t, <-errCh)

	// Slot is released once the first run finishes.
	_, err = h.orch.CreateBackup(ctx, "nightly", "manual")
	require.NoError(t, err)
}

func TestRestoreClaimsConfigSlot(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Backups: []config.BackupConfig{backupCfg("nightly", t.TempDir(), true)}}
	h := newHarness(t, cfg)

	job, err := h.orch.CreateBackup(ctx, "nightly", "manual")
	require.NoError(t, err)

	points, _, err := h.cat.RestorePoints(ctx, "nightly", repositories.ListOptions{})
	require.NoError(t, err)
	require.Len(t, points, 1)

	// Overwrite current state so the restore has something to undo.
	require.NoError(t, h.users.Clear(ctx))
	require.NoError(t, h.users.Insert(ctx, snapshot.Record{"id": "drifted"}))

	result, err := h.orch.Restore(ctx, points[0].ID)
	require.NoError(t, err)
	assert.Equal(t, restore.PhaseDone, result.Phase)
	assert.Equal(t, 2, result.Records)
	assert.NotEmpty(t, result.SafetyPointID)

	restored, err := h.users.List(ctx)
	require.NoError(t, err)
	require.Len(t, restored, 2)

	assert.Contains(t, h.events.seen(), "restore/started")
	assert.Contains(t, h.events.seen(), "restore/completed")
	assert.NotNil(t, job)
}

func TestRestoreUnknownPoint(t *testing.T) {
	cfg := &config.Config{Backups: []config.BackupConfig{backupCfg("nightly", t.TempDir(), true)}}
	h := newHarness(t, cfg)

	_, err := h.orch.Restore(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestGetStatusNeverFails(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Backups: []config.BackupConfig{backupCfg("nightly", t.TempDir(), true)}}
	h := newHarness(t, cfg)

	status := h.orch.GetStatus(ctx)
	require.NotNil(t, status)
	assert.Equal(t, health.StatusDegraded, status.Overall)
	require.Len(t, status.Configs, 1)
	assert.Equal(t, "nightly", status.Configs[0].Name)
	assert.False(t, status.Configs[0].Running)
	assert.Nil(t, status.Configs[0].LastJob)
	assert.Empty(t, status.RecentJobs)
	assert.Empty(t, status.StorageUsage)
	assert.Contains(t, status.Recommendations,
		`backup "nightly" has never run: trigger a manual run to validate the config`)
	assert.Contains(t, status.Recommendations,
		"no recovery plans configured: define at least one plan for critical services")

	_, err := h.orch.CreateBackup(ctx, "nightly", "manual")
	require.NoError(t, err)

	status = h.orch.GetStatus(ctx)
	require.NotNil(t, status.Configs[0].LastJob)
	assert.Equal(t, db.JobStatusCompleted, status.Configs[0].LastJob.Status)
	assert.Equal(t, 1, status.CatalogSize)
	require.Len(t, status.RecentJobs, 1)
	assert.Positive(t, status.StorageUsage["primary"])
	assert.NotContains(t, status.Recommendations,
		`backup "nightly" has never run: trigger a manual run to validate the config`)
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Backups: []config.BackupConfig{backupCfg("nightly", t.TempDir(), true)}}
	h := newHarness(t, cfg)

	job := &db.BackupJob{ConfigID: "nightly", Kind: "database"}
	require.NoError(t, h.cat.CreateJob(ctx, job))
	require.NoError(t, h.cat.UpdateStatus(ctx, job.ID, db.JobStatusRunning, ""))

	require.NoError(t, h.orch.Shutdown(ctx))

	cancelled, ok := h.cat.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, db.JobStatusCancelled, cancelled.Status)
}
