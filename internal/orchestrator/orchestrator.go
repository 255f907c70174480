// Package orchestrator composes the backup subsystem behind a small
// facade: create a backup, restore from a restore point, report status.
// It owns the per-config serialization guarantee: two backups of the same
// config never run simultaneously, while different configs proceed in
// parallel. Restores hold the same per-config slot as backups, so a
// restore never races a backup of the config it is rewriting.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/catalog"
	"github.com/lifeboat-sh/lifeboat/internal/config"
	"github.com/lifeboat-sh/lifeboat/internal/db"
	"github.com/lifeboat-sh/lifeboat/internal/destination"
	"github.com/lifeboat-sh/lifeboat/internal/health"
	"github.com/lifeboat-sh/lifeboat/internal/metrics"
	"github.com/lifeboat-sh/lifeboat/internal/pipeline"
	"github.com/lifeboat-sh/lifeboat/internal/recovery"
	"github.com/lifeboat-sh/lifeboat/internal/restore"
	"github.com/lifeboat-sh/lifeboat/internal/snapshot"
)

// ErrAlreadyRunning is returned when a backup or restore is requested for
// a config that already has one in flight.
var ErrAlreadyRunning = errors.New("orchestrator: operation already running for this config")

// ErrUnknownConfig is returned for a backup config name not present in the
// static registry.
var ErrUnknownConfig = errors.New("orchestrator: unknown backup config")

// ErrDisabled is returned when the named config exists but is disabled.
var ErrDisabled = errors.New("orchestrator: backup config is disabled")

// Publisher receives orchestrator events for fan-out to connected clients.
// Implemented by the websocket hub; a nil Publisher drops events.
type Publisher interface {
	Publish(topic string, payload any)
}

// jobMetadata is the free-form metadata serialized onto completed jobs.
type jobMetadata struct {
	TableCount    int    `json:"table_count"`
	RecordCount   int    `json:"record_count"`
	Checksum      string `json:"checksum"`
	FailedUploads int    `json:"failed_uploads,omitempty"`
}

// Status is the aggregate state returned by GetStatus.
type Status struct {
	Overall         string                  `json:"overall"`
	Checks          map[string]health.Check `json:"checks"`
	Configs         []ConfigStatus          `json:"configs"`
	RecentJobs      []db.BackupJob          `json:"recent_jobs"`
	StorageUsage    map[string]int64        `json:"storage_usage"`
	Plans           []PlanStatus            `json:"plans"`
	Recommendations []string                `json:"recommendations"`
	CatalogSize     int                     `json:"catalog_size"`
	GeneratedAt     time.Time               `json:"generated_at"`
}

// ConfigStatus summarizes one backup config.
type ConfigStatus struct {
	Name    string        `json:"name"`
	Enabled bool          `json:"enabled"`
	Running bool          `json:"running"`
	LastJob *db.BackupJob `json:"last_job,omitempty"`
}

// PlanStatus summarizes one recovery plan.
type PlanStatus struct {
	Name     string     `json:"name"`
	Priority string     `json:"priority"`
	Enabled  bool       `json:"enabled"`
	Steps    int        `json:"steps"`
	LastRun  *time.Time `json:"last_run,omitempty"`
}

// Orchestrator wires the subsystem together. Construct with New; all
// methods are safe for concurrent use.
type Orchestrator struct {
	cfg     *config.Config
	produce *snapshot.Producer
	codec   *pipeline.Codec
	fleets  map[string]*destination.Fleet
	catalog *catalog.Catalog
	coord   *restore.Coordinator
	monitor *health.Monitor
	engine  *recovery.Engine
	events  Publisher
	logger  *zap.Logger

	mu      sync.Mutex
	running map[string]bool // config name -> operation in flight
}

func New(
	cfg *config.Config,
	produce *snapshot.Producer,
	codec *pipeline.Codec,
	fleets map[string]*destination.Fleet,
	cat *catalog.Catalog,
	coord *restore.Coordinator,
	monitor *health.Monitor,
	engine *recovery.Engine,
	events Publisher,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		produce: produce,
		codec:   codec,
		fleets:  fleets,
		catalog: cat,
		coord:   coord,
		monitor: monitor,
		engine:  engine,
		events:  events,
		logger:  logger.Named("orchestrator"),
		running: make(map[string]bool),
	}
}

// claim reserves the per-config slot. release must be called exactly once
// when the operation finishes.
func (o *Orchestrator) claim(configName string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[configName] {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, configName)
	}
	o.running[configName] = true
	return nil
}

func (o *Orchestrator) release(configName string) {
	o.mu.Lock()
	delete(o.running, configName)
	o.mu.Unlock()
}

func (o *Orchestrator) isRunning(configName string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running[configName]
}

// CreateBackup runs a full backup cycle for the named config: snapshot,
// transform, fan-out upload, catalog record and restore point. It blocks
// until the job reaches a terminal state. A job is completed as long as at
// least one destination accepted the artifact; individual upload failures
// are recorded on the job, not fatal to it.
func (o *Orchestrator) CreateBackup(ctx context.Context, configName, origin string) (*db.BackupJob, error) {
	cfg := o.cfg.FindBackup(configName)
	if cfg == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConfig, configName)
	}
	if !cfg.Enabled && origin != "manual" {
		return nil, fmt.Errorf("%w: %q", ErrDisabled, configName)
	}

	if err := o.claim(configName); err != nil {
		return nil, err
	}
	defer o.release(configName)

	job := &db.BackupJob{ConfigID: cfg.Name, Kind: cfg.Kind}
	if err := o.catalog.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	o.publish("jobs", map[string]any{"event": "created", "job_id": job.ID.String(), "config": cfg.Name})

	if err := o.runBackup(ctx, cfg, job, origin); err != nil {
		o.fail(ctx, job, err)
		return job, err
	}

	done, _ := o.catalog.Job(job.ID)
	metrics.BackupsTotal.WithLabelValues(cfg.Name, done.Status).Inc()
	metrics.BackupDuration.WithLabelValues(cfg.Name).Observe(float64(done.DurationMS) / 1000)
	metrics.BackupSizeBytes.WithLabelValues(cfg.Name).Set(float64(done.SizeBytes))
	o.publish("jobs", map[string]any{"event": "completed", "job_id": job.ID.String(), "config": cfg.Name})
	return &done, nil
}

// runBackup executes the phases of a claimed job.
func (o *Orchestrator) runBackup(ctx context.Context, cfg *config.BackupConfig, job *db.BackupJob, origin string) error {
	if err := o.catalog.UpdateStatus(ctx, job.ID, db.JobStatusRunning, ""); err != nil {
		return err
	}

	doc, err := o.produce.Dump(ctx, cfg.Kind)
	if err != nil {
		return fmt.Errorf("orchestrator: snapshot: %w", err)
	}
	plain, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("orchestrator: marshalling snapshot: %w", err)
	}

	artifact, err := o.codec.Encode(plain, cfg.Compress, cfg.Encrypt)
	if err != nil {
		return fmt.Errorf("orchestrator: encoding artifact: %w", err)
	}
	checksum := destination.Checksum(artifact)

	fleet := o.fleets[cfg.Name]
	if fleet == nil || fleet.Size() == 0 {
		return fmt.Errorf("orchestrator: config %q has no enabled destinations", cfg.Name)
	}

	results := fleet.Upload(ctx, job.ID.String(), artifact)

	var location string
	failed := 0
	for _, r := range results {
		upload := &db.JobUpload{
			JobID:           job.ID,
			DestinationName: r.Destination,
			Kind:            r.Kind,
			Location:        r.Location,
			SizeBytes:       r.SizeBytes,
			Checksum:        checksum,
			DurationMS:      r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			upload.Status = db.JobStatusFailed
			upload.Error = r.Err.Error()
			failed++
			metrics.UploadFailures.WithLabelValues(r.Destination).Inc()
		} else {
			upload.Status = db.JobStatusCompleted
			if location == "" {
				location = r.Location
			}
		}
		if err := o.catalog.RecordUpload(ctx, upload); err != nil {
			o.logger.Warn("recording upload", zap.Error(err))
		}
	}

	if location == "" {
		return fmt.Errorf("orchestrator: all %d destination uploads failed", len(results))
	}

	meta, _ := json.Marshal(jobMetadata{
		TableCount:    doc.TableCount,
		RecordCount:   doc.RecordCount,
		Checksum:      checksum,
		FailedUploads: failed,
	})
	if err := o.catalog.UpdateResult(ctx, job.ID, int64(len(artifact)), location, string(meta)); err != nil {
		return err
	}
	if err := o.catalog.UpdateStatus(ctx, job.ID, db.JobStatusCompleted, ""); err != nil {
		return err
	}

	point := &db.RestorePoint{
		JobID:      job.ID,
		ConfigID:   cfg.Name,
		Name:       fmt.Sprintf("%s %s", cfg.Name, time.Now().Format("2006-01-02 15:04")),
		Origin:     origin,
		Timestamp:  time.Now(),
		SizeBytes:  int64(len(artifact)),
		Location:   location,
		Compressed: cfg.Compress,
		Encrypted:  cfg.Encrypt,
		Checksum:   checksum,
	}
	if err := o.catalog.AddRestorePoint(ctx, point); err != nil {
		o.logger.Warn("registering restore point", zap.Error(err))
	}

	o.logger.Info("backup completed",
		zap.String("config", cfg.Name),
		zap.String("job", job.ID.String()),
		zap.Int("size", len(artifact)),
		zap.Int("failed_uploads", failed),
		zap.String("location", location))
	return nil
}

// fail transitions a job to failed, tolerating the case where it never
// left pending.
func (o *Orchestrator) fail(ctx context.Context, job *db.BackupJob, cause error) {
	o.logger.Error("backup failed",
		zap.String("config", job.ConfigID),
		zap.String("job", job.ID.String()),
		zap.Error(cause))
	if err := o.catalog.UpdateStatus(ctx, job.ID, db.JobStatusFailed, cause.Error()); err != nil {
		o.logger.Warn("marking job failed", zap.Error(err))
	}
	metrics.BackupsTotal.WithLabelValues(job.ConfigID, db.JobStatusFailed).Inc()
	o.publish("jobs", map[string]any{"event": "failed", "job_id": job.ID.String(), "config": job.ConfigID, "error": cause.Error()})
}

// Restore rewrites application state from a restore point. It holds the
// restore point's config slot for the duration, so no backup of that
// config can observe half-written state.
func (o *Orchestrator) Restore(ctx context.Context, pointID uuid.UUID) (*restore.Result, error) {
	point, err := o.catalog.RestorePoint(ctx, pointID)
	if err != nil {
		return nil, err
	}

	if err := o.claim(point.ConfigID); err != nil {
		return nil, err
	}
	defer o.release(point.ConfigID)

	o.publish("restore", map[string]any{"event": "started", "restore_point": pointID.String()})

	result, err := o.coord.Restore(ctx, pointID)
	if err != nil {
		metrics.RestoresTotal.WithLabelValues("failed").Inc()
		o.publish("restore", map[string]any{"event": "failed", "restore_point": pointID.String(), "error": err.Error()})
		return result, err
	}

	metrics.RestoresTotal.WithLabelValues("completed").Inc()
	o.publish("restore", map[string]any{"event": "completed", "restore_point": pointID.String()})
	return result, nil
}

// GetStatus aggregates health, per-config job state, recent jobs, storage
// usage, recovery plans and recommendations. It never fails: any sub-query
// that errors degrades to its zero value, and a monitor that has not swept
// yet simply reports degraded with no checks.
func (o *Orchestrator) GetStatus(ctx context.Context) *Status {
	status := &Status{
		Overall:     o.monitor.Status(),
		Checks:      o.monitor.Snapshot(),
		RecentJobs:  o.catalog.Jobs("", 10),
		CatalogSize: o.catalog.Len(),
		GeneratedAt: time.Now(),
	}

	usage, err := o.catalog.StorageUsage(ctx)
	if err != nil {
		o.logger.Warn("storage usage unavailable", zap.Error(err))
		usage = map[string]int64{}
	}
	status.StorageUsage = usage

	for i := range o.cfg.Backups {
		cfg := &o.cfg.Backups[i]
		cs := ConfigStatus{
			Name:    cfg.Name,
			Enabled: cfg.Enabled,
			Running: o.isRunning(cfg.Name),
		}
		if job, ok := o.catalog.LastJob(cfg.Name); ok {
			cs.LastJob = &job
		}
		status.Configs = append(status.Configs, cs)
	}

	if o.engine != nil {
		for _, plan := range o.engine.Plans() {
			ps := PlanStatus{
				Name:     plan.Name,
				Priority: plan.Priority,
				Enabled:  plan.Enabled,
				Steps:    len(plan.Steps),
			}
			if at, ok := o.engine.LastRun(plan.Name); ok {
				ps.LastRun = &at
			}
			status.Plans = append(status.Plans, ps)
		}
	}

	status.Recommendations = o.recommendations(status)
	return status
}

// recommendations derives operator guidance from the aggregated state.
func (o *Orchestrator) recommendations(status *Status) []string {
	var recs []string

	for name, check := range status.Checks {
		if check.Status == health.StatusUnhealthy {
			recs = append(recs, fmt.Sprintf("%s is unhealthy: investigate before the next backup window", name))
		}
	}
	for _, cs := range status.Configs {
		if !cs.Enabled {
			continue
		}
		if cs.LastJob == nil {
			recs = append(recs, fmt.Sprintf("backup %q has never run: trigger a manual run to validate the config", cs.Name))
		} else if cs.LastJob.Status == db.JobStatusFailed {
			recs = append(recs, fmt.Sprintf("last backup of %q failed: %s", cs.Name, cs.LastJob.Error))
		}
	}
	if len(status.Plans) == 0 {
		recs = append(recs, "no recovery plans configured: define at least one plan for critical services")
	}

	sort.Strings(recs)
	return recs
}

// Shutdown cancels jobs still marked live in the catalog. In-flight
// CreateBackup calls are expected to have been interrupted via context
// cancellation before this runs.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.catalog.CancelRunning(ctx)
}

func (o *Orchestrator) publish(topic string, payload any) {
	if o.events != nil {
		o.events.Publish(topic, payload)
	}
}
