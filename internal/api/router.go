package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/auth"
	"github.com/lifeboat-sh/lifeboat/internal/catalog"
	"github.com/lifeboat-sh/lifeboat/internal/config"
	"github.com/lifeboat-sh/lifeboat/internal/orchestrator"
	"github.com/lifeboat-sh/lifeboat/internal/recovery"
	"github.com/lifeboat-sh/lifeboat/internal/repositories"
	"github.com/lifeboat-sh/lifeboat/internal/verify"
	"github.com/lifeboat-sh/lifeboat/internal/websocket"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
// It is populated in main.go after all components are initialized and
// passed to NewRouter as a single struct to keep the constructor signature
// manageable as the number of dependencies grows.
type RouterConfig struct {
	Config       *config.Config
	AuthService  *auth.Service
	Orchestrator *orchestrator.Orchestrator
	Catalog      *catalog.Catalog
	Verifier     *verify.Verifier
	Engine       *recovery.Engine
	Hub          *websocket.Hub
	Logger       *zap.Logger

	// Repositories; used directly by handlers that do not need service-layer logic.
	RestorePoints repositories.RestorePointRepository
	Settings      repositories.SettingsRepository
}

// NewRouter builds and returns the fully configured Chi router.
// All routes are registered under /api/v1; /healthz and /metrics sit at the
// root for load balancers and Prometheus scrapers.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Global middleware ---
	// RequestID generates a unique ID for each request, used in logs and
	// response headers for tracing.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	// RequestLogger logs every request with method, path, status and latency.
	r.Use(RequestLogger(cfg.Logger))

	// Recoverer catches panics in handlers, logs them, and returns a 500
	// instead of crashing the server.
	r.Use(middleware.Recoverer)

	// --- Initialize handlers ---
	authHandler := NewAuthHandler(cfg.AuthService, cfg.Logger)
	backupHandler := NewBackupHandler(cfg.Config, cfg.Orchestrator, cfg.Catalog, cfg.Logger)
	restorePointHandler := NewRestorePointHandler(cfg.Catalog, cfg.RestorePoints, cfg.Verifier, cfg.Orchestrator, cfg.Logger)
	recoveryHandler := NewRecoveryHandler(cfg.Engine, cfg.Logger)
	statusHandler := NewStatusHandler(cfg.Orchestrator, cfg.Logger)
	settingsHandler := NewSettingsHandler(cfg.Settings, cfg.Logger)
	wsHandler := NewWSHandler(cfg.Hub, cfg.AuthService, cfg.Logger)

	// --- Operational endpoints (never authenticated) ---
	// /healthz is a liveness probe: 200 means the process accepts requests,
	// nothing more. The health monitor's view lives at /api/v1/status.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {

		// --- Public routes (no authentication required) ---
		r.Group(func(r chi.Router) {
			r.Post("/auth/login", authHandler.Login)

			// WebSocket upgrade authenticates itself via the `token` query
			// parameter; the Bearer middleware cannot apply here because
			// browsers cannot set headers on WebSocket connections.
			r.Get("/ws", wsHandler.ServeWS)
		})

		// --- Authenticated routes (valid JWT required) ---
		// When no admin credentials are configured the API runs open; the
		// middleware is simply not installed.
		r.Group(func(r chi.Router) {
			if cfg.AuthService.Enabled() {
				r.Use(Authenticate(cfg.AuthService.JWTManager()))
			}

			// Auth
			r.Get("/auth/me", authHandler.Me)

			// Backup configurations and manual runs
			r.Get("/backups", backupHandler.List)
			r.Post("/backups/{name}/run", backupHandler.Run)

			// Jobs
			r.Get("/jobs", backupHandler.ListJobs)
			r.Get("/jobs/{id}", backupHandler.GetJob)

			// Restore points
			r.Get("/restore-points", restorePointHandler.List)
			r.Get("/restore-points/{id}", restorePointHandler.GetByID)
			r.Post("/restore-points/{id}/verify", restorePointHandler.Verify)
			r.Post("/restore-points/{id}/restore", restorePointHandler.Restore)
			r.Delete("/restore-points/{id}", restorePointHandler.Delete)

			// Recovery plans
			r.Get("/recovery/plans", recoveryHandler.ListPlans)
			r.Get("/recovery/executions", recoveryHandler.History)
			r.Post("/recovery/plans/{name}/run", recoveryHandler.Execute)

			// System status
			r.Get("/status", statusHandler.Get)

			// Notification settings
			r.Get("/settings/notifications", settingsHandler.Get)
			r.Put("/settings/notifications", settingsHandler.Update)
		})
	})

	return r
}
