package health

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lifeboat-sh/lifeboat/internal/catalog"
	"github.com/lifeboat-sh/lifeboat/internal/db"
	"github.com/lifeboat-sh/lifeboat/internal/destination"
)

// DatabaseProbe pings the catalog database.
type DatabaseProbe struct {
	DB *gorm.DB
}

func (p *DatabaseProbe) Name() string { return "database" }

func (p *DatabaseProbe) Check(ctx context.Context) (string, map[string]string, error) {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return StatusUnhealthy, nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return StatusUnhealthy, nil, err
	}
	stats := sqlDB.Stats()
	return StatusHealthy, map[string]string{
		"open_connections": fmt.Sprintf("%d", stats.OpenConnections),
	}, nil
}

// DestinationProbe checks a destination by writing and deleting a small
// heartbeat artifact. A destination that accepts the write but fails the
// delete is degraded, not unhealthy; backups would still land there.
type DestinationProbe struct {
	Uploader destination.Uploader
}

func (p *DestinationProbe) Name() string { return "destination:" + p.Uploader.Name() }

func (p *DestinationProbe) Check(ctx context.Context) (string, map[string]string, error) {
	details := map[string]string{"kind": p.Uploader.Kind()}

	location, err := p.Uploader.Upload(ctx, "healthcheck", []byte("lifeboat heartbeat"))
	if err != nil {
		return StatusUnhealthy, details, fmt.Errorf("heartbeat write: %w", err)
	}
	if err := p.Uploader.Delete(ctx, location); err != nil {
		details["cleanup_error"] = err.Error()
		return StatusDegraded, details, nil
	}
	return StatusHealthy, details, nil
}

// BackupProbe classifies backup freshness from the catalog: unhealthy if
// the most recent job failed, degraded if no job has completed within the
// stale window.
type BackupProbe struct {
	Catalog *catalog.Catalog
	Configs []string // backup config names to inspect
	Stale   time.Duration
}

func (p *BackupProbe) Name() string { return "backups" }

func (p *BackupProbe) Check(ctx context.Context) (string, map[string]string, error) {
	details := make(map[string]string, len(p.Configs))
	status := StatusHealthy

	for _, name := range p.Configs {
		job, ok := p.Catalog.LastJob(name)
		if !ok {
			details[name] = "no runs yet"
			continue
		}
		switch job.Status {
		case db.JobStatusFailed:
			details[name] = "last run failed: " + job.Error
			status = StatusUnhealthy
		case db.JobStatusCompleted:
			if job.EndedAt != nil && p.Stale > 0 && time.Since(*job.EndedAt) > p.Stale {
				details[name] = fmt.Sprintf("last success %s ago", time.Since(*job.EndedAt).Round(time.Minute))
				if status == StatusHealthy {
					status = StatusDegraded
				}
			} else {
				details[name] = "ok"
			}
		default:
			details[name] = job.Status
		}
	}
	return status, details, nil
}
