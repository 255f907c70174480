// Package scheduler drives the periodic work of the server: a per-minute
// sweep that evaluates every backup config's cron expression against the
// current minute, and a health sweep that polls the monitor and feeds the
// result to the recovery engine.
//
// Both sweeps are gocron jobs in singleton mode, so a slow sweep is never
// overlapped by its next tick. Backup runs themselves are launched on
// their own goroutines; the orchestrator's per-config serialization
// guarantees a config never backs itself up twice at once, so the sweep
// only has to fire and forget.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/config"
	"github.com/lifeboat-sh/lifeboat/internal/cron"
	"github.com/lifeboat-sh/lifeboat/internal/health"
	"github.com/lifeboat-sh/lifeboat/internal/metrics"
	"github.com/lifeboat-sh/lifeboat/internal/orchestrator"
	"github.com/lifeboat-sh/lifeboat/internal/recovery"
	"github.com/lifeboat-sh/lifeboat/internal/websocket"
)

// backupRunTimeout bounds a single scheduled backup run end to end,
// including the destination fan-out.
const backupRunTimeout = 30 * time.Minute

// Scheduler wraps gocron and coordinates the sweep loops.
// The zero value is not usable; create instances with New.
type Scheduler struct {
	cron    gocron.Scheduler
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	monitor *health.Monitor
	engine  *recovery.Engine
	hub     *websocket.Hub
	logger  *zap.Logger
}

// New creates and configures a new Scheduler. Call Start to begin
// processing. A nil hub disables event publication.
func New(
	cfg *config.Config,
	orch *orchestrator.Orchestrator,
	monitor *health.Monitor,
	engine *recovery.Engine,
	hub *websocket.Hub,
	logger *zap.Logger,
) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		cron:    s,
		cfg:     cfg,
		orch:    orch,
		monitor: monitor,
		engine:  engine,
		hub:     hub,
		logger:  logger.Named("scheduler"),
	}, nil
}

// Start validates every configured schedule, registers the sweep jobs and
// starts the underlying gocron scheduler. Called once at server startup.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, b := range s.cfg.Backups {
		if _, err := cron.Parse(b.Schedule); err != nil {
			return fmt.Errorf("backup config %q has invalid schedule %q: %w", b.Name, b.Schedule, err)
		}
	}

	// Backup sweep fires at the top of every minute so cron matching
	// aligns with wall-clock minutes.
	_, err := s.cron.NewJob(
		gocron.CronJob("* * * * *", false),
		gocron.NewTask(s.backupSweep),
		gocron.WithTags("backup-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("registering backup sweep: %w", err)
	}

	_, err = s.cron.NewJob(
		gocron.DurationJob(s.cfg.Health.Interval()),
		gocron.NewTask(s.healthSweep),
		gocron.WithTags("health-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("registering health sweep: %w", err)
	}

	s.logger.Info("scheduler started",
		zap.Int("backup_configs", len(s.cfg.Backups)),
		zap.Duration("health_interval", s.cfg.Health.Interval()),
	)
	s.cron.Start()
	return nil
}

// Stop gracefully shuts down the underlying gocron scheduler, waiting for
// any currently running sweep to complete before returning.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown error: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// backupSweep checks every enabled config's schedule against the current
// minute and launches matching backups.
func (s *Scheduler) backupSweep() {
	now := time.Now()

	for i := range s.cfg.Backups {
		b := &s.cfg.Backups[i]
		if !b.Enabled {
			continue
		}

		due, err := cron.ShouldRun(b.Schedule, now)
		if err != nil {
			// Schedules are validated at startup; reaching this means the
			// config was mutated at runtime with a bad expression.
			s.logger.Error("evaluating schedule",
				zap.String("config", b.Name),
				zap.String("schedule", b.Schedule),
				zap.Error(err),
			)
			continue
		}
		if !due {
			continue
		}

		s.logger.Info("schedule matched, starting backup",
			zap.String("config", b.Name),
			zap.String("schedule", b.Schedule),
		)

		go func(name string) {
			ctx, cancel := context.WithTimeout(context.Background(), backupRunTimeout)
			defer cancel()

			if _, err := s.orch.CreateBackup(ctx, name, "automatic"); err != nil {
				if errors.Is(err, orchestrator.ErrAlreadyRunning) {
					s.logger.Warn("skipping scheduled backup, previous run still in flight",
						zap.String("config", name))
					return
				}
				s.logger.Error("scheduled backup failed",
					zap.String("config", name),
					zap.Error(err),
				)
			}
		}(b.Name)
	}
}

// healthSweep polls every probe, exports the classifications and hands the
// state to the recovery engine.
func (s *Scheduler) healthSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Health.Interval())
	defer cancel()

	s.monitor.Sweep(ctx)

	checks := s.monitor.Snapshot()
	for service, check := range checks {
		metrics.HealthStatus.WithLabelValues(service).Set(metrics.HealthValue(check.Status))
	}
	if s.hub != nil {
		s.hub.Publish(websocket.TopicHealth, websocket.Message{
			Type:    websocket.MsgHealth,
			Topic:   websocket.TopicHealth,
			Payload: map[string]any{"overall": s.monitor.Status(), "checks": checks},
		})
	}

	if s.engine == nil {
		return
	}
	if exec := s.engine.Evaluate(ctx, checks); exec != nil {
		outcome := "success"
		if !exec.Success {
			outcome = "failure"
		}
		metrics.RecoveryRuns.WithLabelValues(exec.Plan, outcome).Inc()
		if s.hub != nil {
			s.hub.Publish(websocket.TopicRecovery, websocket.Message{
				Type:  websocket.MsgRecovery,
				Topic: websocket.TopicRecovery,
				Payload: map[string]any{
					"plan":    exec.Plan,
					"trigger": exec.Trigger,
					"success": exec.Success,
				},
			})
		}
	}
}
