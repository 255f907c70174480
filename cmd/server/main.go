package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/api"
	"github.com/lifeboat-sh/lifeboat/internal/auth"
	"github.com/lifeboat-sh/lifeboat/internal/catalog"
	"github.com/lifeboat-sh/lifeboat/internal/config"
	"github.com/lifeboat-sh/lifeboat/internal/db"
	"github.com/lifeboat-sh/lifeboat/internal/destination"
	"github.com/lifeboat-sh/lifeboat/internal/health"
	"github.com/lifeboat-sh/lifeboat/internal/notification"
	"github.com/lifeboat-sh/lifeboat/internal/orchestrator"
	"github.com/lifeboat-sh/lifeboat/internal/pipeline"
	"github.com/lifeboat-sh/lifeboat/internal/recovery"
	"github.com/lifeboat-sh/lifeboat/internal/repositories"
	"github.com/lifeboat-sh/lifeboat/internal/restore"
	"github.com/lifeboat-sh/lifeboat/internal/scheduler"
	"github.com/lifeboat-sh/lifeboat/internal/snapshot"
	"github.com/lifeboat-sh/lifeboat/internal/verify"
	"github.com/lifeboat-sh/lifeboat/internal/websocket"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type flags struct {
	configPath string
	dbDriver   string
	dbDSN      string
	secretKey  string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "lifeboat",
		Short: "Lifeboat backup and disaster recovery orchestration server",
		Long: `Lifeboat takes scheduled snapshots of application state, compresses and
encrypts them, fans them out to multiple storage destinations, verifies
stored artifacts, and restores from any catalogued point. A health
monitor feeds disaster-recovery plans that remediate failures
automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newHashPasswordCmd())
	root.AddCommand(newCheckConfigCmd(f))

	root.PersistentFlags().StringVar(&f.configPath, "config", envOrDefault("LIFEBOAT_CONFIG", "./lifeboat.yaml"), "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&f.dbDriver, "db-driver", envOrDefault("LIFEBOAT_DB_DRIVER", "sqlite"), "Catalog database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&f.dbDSN, "db-dsn", envOrDefault("LIFEBOAT_DB_DSN", "./lifeboat.db"), "Catalog database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&f.secretKey, "secret-key", envOrDefault("LIFEBOAT_SECRET_KEY", ""), "Master secret for artifact encryption and credentials at rest")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", envOrDefault("LIFEBOAT_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lifeboat %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// newHashPasswordCmd hashes an admin password for the auth.admin_password_hash
// config field. The password is taken as an argument rather than a prompt so
// the command works in provisioning scripts.
func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Hash a password for the auth.admin_password_hash config field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}

func newCheckConfigCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d backup config(s), %d recovery plan(s)\n",
				f.configPath, len(cfg.Backups), len(cfg.Plans))
			return nil
		},
	}
}

func run(ctx context.Context, f *flags) error {
	logger, err := buildLogger(f.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}

	// The master secret is stretched to a fixed-size key shared by artifact
	// encryption and the settings table. A config that enables encryption
	// anywhere makes the secret mandatory.
	var key []byte
	if f.secretKey != "" {
		key = db.DeriveKey(f.secretKey)
	} else if anyEncrypted(cfg) {
		return fmt.Errorf("a backup config enables encryption, set --secret-key or LIFEBOAT_SECRET_KEY")
	}
	if key != nil {
		if err := db.InitEncryption(key); err != nil {
			return err
		}
	}

	logger.Info("starting lifeboat",
		zap.String("version", version),
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.String("db_driver", f.dbDriver),
		zap.Int("backup_configs", len(cfg.Backups)),
		zap.Int("recovery_plans", len(cfg.Plans)),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Catalog database ---
	database, err := db.New(db.Config{
		Driver: f.dbDriver,
		DSN:    f.dbDSN,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	jobs := repositories.NewJobRepository(database)
	points := repositories.NewRestorePointRepository(database)
	settings := repositories.NewSettingsRepository(database)

	cat := catalog.New(jobs, points, logger, catalog.DefaultLimit)
	if err := cat.Load(ctx); err != nil {
		return fmt.Errorf("warming catalog: %w", err)
	}

	// --- Snapshot producer ---
	// The service snapshots its own state tables. Settings carry the
	// operator's notification configuration; the job and restore point
	// tables are the catalog itself.
	registry := snapshot.NewRegistry()
	for _, table := range []string{"settings", "backup_jobs", "job_uploads", "restore_points"} {
		col := snapshot.NewTableCollection(database, table, orderColumn(table))
		if err := registry.Register(config.KindDatabase, col); err != nil {
			return err
		}
	}
	producer := snapshot.NewProducer(registry, logger)

	// Reject configs whose kind has nothing to dump, so a typo fails at
	// startup instead of on every scheduled run.
	for i := range cfg.Backups {
		b := &cfg.Backups[i]
		if b.Enabled && !registry.HasKind(b.Kind) {
			return fmt.Errorf("backup config %q: no collections registered for kind %q", b.Name, b.Kind)
		}
	}

	// --- Transform pipeline ---
	codec, err := pipeline.New(key)
	if err != nil {
		return err
	}

	// --- Destinations ---
	// One fleet per backup config for upload fan-out, plus a fleet over
	// every distinct destination so restore and verify can resolve any
	// location handle in the catalog.
	fleets := make(map[string]*destination.Fleet, len(cfg.Backups))
	seen := make(map[string]config.Destination)
	for i := range cfg.Backups {
		b := &cfg.Backups[i]
		fleet, err := destination.NewFleet(b.Destinations, logger)
		if err != nil {
			return fmt.Errorf("backup config %q: %w", b.Name, err)
		}
		fleets[b.Name] = fleet
		for _, d := range b.Destinations {
			if d.Enabled {
				seen[d.Name] = d
			}
		}
	}
	var allDests []config.Destination
	for _, d := range seen {
		allDests = append(allDests, d)
	}
	globalFleet, err := destination.NewFleet(allDests, logger)
	if err != nil {
		return err
	}

	// --- WebSocket hub ---
	hub := websocket.NewHub()
	go hub.Run(ctx)

	// --- Notifications ---
	notifier := notification.NewService(notification.Config{
		SettingsRepo: settings,
		Hub:          hub,
		Logger:       logger,
	})

	// --- Health monitor ---
	var enabledConfigs []string
	for i := range cfg.Backups {
		if cfg.Backups[i].Enabled {
			enabledConfigs = append(enabledConfigs, cfg.Backups[i].Name)
		}
	}
	probes := []health.Probe{
		&health.DatabaseProbe{DB: database},
		&health.BackupProbe{Catalog: cat, Configs: enabledConfigs, Stale: 48 * time.Hour},
	}
	for _, d := range allDests {
		up, err := destination.New(d, logger)
		if err != nil {
			return fmt.Errorf("destination %q: %w", d.Name, err)
		}
		probes = append(probes, &health.DestinationProbe{Uploader: up})
	}
	monitor := health.NewMonitor(probes, cfg.Health.ProbeTimeout(), logger)

	// --- Restore, verification, recovery ---
	coordinator := restore.NewCoordinator(producer, codec, globalFleet, cat, logger)
	verifier := verify.New(globalFleet, codec, logger)
	engine := recovery.NewEngine(cfg.Plans, notifier, logger)

	// --- Orchestrator ---
	bridge := &eventBridge{hub: hub, notifier: notifier, catalog: cat, logger: logger.Named("events")}
	orch := orchestrator.New(cfg, producer, codec, fleets, cat, coordinator, monitor, engine, bridge, logger)

	// --- Scheduler ---
	sched, err := scheduler.New(cfg, orch, monitor, engine, hub, logger)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	// --- Auth & HTTP API ---
	var jwtMgr *auth.JWTManager
	if cfg.Auth.JWTPrivateKeyFile != "" && cfg.Auth.JWTPublicKeyFile != "" {
		jwtMgr, err = auth.NewJWTManagerFromFiles(cfg.Auth.JWTPrivateKeyFile, cfg.Auth.JWTPublicKeyFile, cfg.Auth.Issuer)
	} else {
		jwtMgr, err = auth.NewJWTManagerGenerated(cfg.Auth.Issuer)
	}
	if err != nil {
		return err
	}
	authSvc := auth.NewService(cfg.Auth, jwtMgr)
	if !authSvc.Enabled() {
		logger.Warn("no admin credentials configured, the API runs unauthenticated")
	}

	router := api.NewRouter(api.RouterConfig{
		Config:        cfg,
		AuthService:   authSvc,
		Orchestrator:  orch,
		Catalog:       cat,
		Verifier:      verifier,
		Engine:        engine,
		Hub:           hub,
		Logger:        logger,
		RestorePoints: points,
		Settings:      settings,
	})

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down lifeboat")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler shutdown", zap.Error(err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("cancelling running jobs", zap.Error(err))
	}
	return nil
}

// anyEncrypted reports whether any backup config enables artifact encryption.
func anyEncrypted(cfg *config.Config) bool {
	for i := range cfg.Backups {
		if cfg.Backups[i].Encrypt {
			return true
		}
	}
	return false
}

// orderColumn picks the deterministic dump order column for a table.
// UUIDv7 keys sort by creation time; the settings table keys by name.
func orderColumn(table string) string {
	if table == "settings" {
		return "key"
	}
	return "id"
}

// eventBridge fans orchestrator events out to WebSocket subscribers and
// turns terminal job events into operator notifications. Notification
// delivery runs off the job's critical path on its own goroutine.
type eventBridge struct {
	hub      *websocket.Hub
	notifier notification.Service
	catalog  *catalog.Catalog
	logger   *zap.Logger
}

func (b *eventBridge) Publish(topic string, payload any) {
	msgType := websocket.MsgJobStatus
	if topic == websocket.TopicRestore {
		msgType = websocket.MsgRestoreStatus
	}
	b.hub.Publish(topic, websocket.Message{
		Type:    msgType,
		Topic:   topic,
		Payload: payload,
	})

	fields, ok := payload.(map[string]any)
	if !ok {
		return
	}
	event, _ := fields["event"].(string)
	if event != "completed" && event != "failed" {
		return
	}

	if topic == websocket.TopicRestore {
		pointID, _ := fields["restore_point"].(string)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := b.notifier.NotifyRestoreCompleted(ctx, pointID, event); err != nil {
				b.logger.Warn("notification delivery failed",
					zap.String("restore_point", pointID),
					zap.Error(err),
				)
			}
		}()
		return
	}
	if topic != websocket.TopicJobs {
		return
	}
	rawID, _ := fields["job_id"].(string)
	jobID, err := uuid.Parse(rawID)
	if err != nil {
		return
	}
	configName, _ := fields["config"].(string)
	errMsg, _ := fields["error"].(string)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var nerr error
		if event == "completed" {
			var size int64
			if job, ok := b.catalog.Job(jobID); ok {
				size = job.SizeBytes
			}
			nerr = b.notifier.NotifyJobCompleted(ctx, jobID, configName, size)
		} else {
			nerr = b.notifier.NotifyJobFailed(ctx, jobID, configName, errMsg)
		}
		if nerr != nil {
			b.logger.Warn("notification delivery failed",
				zap.String("job_id", jobID.String()),
				zap.String("event", event),
				zap.Error(nerr),
			)
		}
	}()
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
