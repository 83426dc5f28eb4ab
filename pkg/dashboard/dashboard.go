// Package dashboard implements the Dashboard/Health Plane (C8): the
// liveness/readiness/health endpoints and the read-only operator
// dashboard mounted on the application listener, grounded on
// original_source/routes/dashboard.py.
package dashboard

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/httpserver"
	"github.com/iius-rcox/safetyamp-sync/pkg/apitracker"
	"github.com/iius-rcox/safetyamp-sync/pkg/cache"
	"github.com/iius-rcox/safetyamp-sync/pkg/events"
	"github.com/iius-rcox/safetyamp-sync/pkg/failsync"
	"github.com/iius-rcox/safetyamp-sync/pkg/orchestrator"
)

// healthChecker is the narrow surface the health endpoint needs from
// the HTTP client pool — a single cheap GET used as a liveness probe
// for the upstream service.
type healthChecker interface {
	Get(ctx context.Context, path string, v any, correlationID string) error
}

// Deps are the collaborators the dashboard aggregates over. Every
// field is read-only from the dashboard's perspective except the
// cache Store's pause flag and the failure tracker's retry/dismiss
// actions.
type Deps struct {
	Logger       *slog.Logger
	Config       *config.Config
	Redis        *redis.Client
	Cache        cache.Store
	Failures     *failsync.Tracker
	Events       *events.Tracker
	Notifier     *events.ErrorNotifier
	Audit        *events.AuditLog
	APICalls     *apitracker.Tracker
	Orchestrator *orchestrator.Orchestrator
	SafetyAmp    healthChecker
	Samsara      healthChecker
}

// Server holds the dashboard's runtime state not owned by any
// collaborator: the shutdown flag polled by /live and /ready.
type Server struct {
	deps         Deps
	shuttingDown atomic.Bool

	standardLimit *callerRateLimiter
	expensiveLimit *callerRateLimiter
	pauseLimit    *callerRateLimiter
}

// New builds the dashboard server.
func New(deps Deps) *Server {
	s := &Server{deps: deps}
	s.standardLimit = newCallerRateLimiter(deps.Redis, "standard", 60, time.Minute)
	s.expensiveLimit = newCallerRateLimiter(deps.Redis, "expensive", 10, time.Minute)
	s.pauseLimit = newCallerRateLimiter(deps.Redis, "sync-pause", 5, time.Minute)
	return s
}

// BeginShutdown marks the server as draining; /live keeps returning
// 200 but /ready and /health start failing so a load balancer stops
// routing new traffic.
func (s *Server) BeginShutdown() { s.shuttingDown.Store(true) }

// ShuttingDown reports whether shutdown has been requested.
func (s *Server) ShuttingDown() bool { return s.shuttingDown.Load() }

// Mount registers every route in Deps.Config-driven routing onto the
// given httpserver.Server's router. Dashboard API routes sit behind
// DashboardAuth and the appropriate rate-limit tier; liveness/
// readiness/health are unauthenticated so orchestration probes never
// need a token.
func (s *Server) Mount(base *httpserver.Server) {
	base.ShuttingDown = s.ShuttingDown

	base.Router.Get("/live", s.handleLive)
	base.Router.Get("/ready", s.handleReady)
	base.Router.Get("/health", s.handleHealth)

	base.Router.Route("/api/dashboard", func(r chi.Router) {
		r.Use(httpserver.DashboardAuth(s.deps.Config.DashboardAPIToken))
		r.Use(s.standardLimit.middleware)

		r.Get("/sync-metrics", s.handleSyncMetrics)
		r.Get("/api-calls", s.handleAPICalls)
		r.Get("/api-stats", s.handleAPIStats)
		r.Get("/error-suggestions", s.handleErrorSuggestions)
		r.Get("/sync-history", s.handleSyncHistory)
		r.Get("/entity-counts", s.handleEntityCounts)
		r.Get("/cache-stats", s.handleCacheStats)
		r.Get("/duration-trends", s.handleDurationTrends)
		r.Get("/live-status", s.handleLiveStatus)
		r.Get("/dependency-health", s.handleDependencyHealth)
		r.Get("/config-status", s.handleConfigStatus)
		r.Get("/notifications", s.handleNotifications)
		r.Get("/audit-log", s.handleAuditLog)
		r.Get("/sync-status", s.handleSyncStatus)
		r.Get("/sync-pause", s.handleGetSyncPause)
		r.Get("/export", s.handleExport)

		r.Get("/failed-records", s.handleListFailedRecords)
		r.Post("/failed-records/{entityType}/{entityID}/retry", s.handleRetryFailedRecord)
		r.Delete("/failed-records/{entityType}/{entityID}", s.handleDismissFailedRecord)
		r.Get("/sync-diff/{entityType}/{entityID}", s.handleSyncDiff)

		r.Group(func(r chi.Router) {
			r.Use(s.expensiveLimit.middleware)
			r.Post("/trigger-sync", s.handleTriggerSync)
			r.Post("/failed-records/retry-all", s.handleRetryAllFailedRecords)
			r.Post("/cache/invalidate", s.handleCacheInvalidate)
			r.Post("/cache/refresh", s.handleCacheRefresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.pauseLimit.middleware)
			r.Post("/sync-pause", s.handleSetSyncPause)
		})
	})
}
