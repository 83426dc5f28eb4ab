package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/httpserver"
	"github.com/iius-rcox/safetyamp-sync/internal/platform"
	"github.com/iius-rcox/safetyamp-sync/internal/telemetry"
	"github.com/iius-rcox/safetyamp-sync/pkg/apitracker"
	"github.com/iius-rcox/safetyamp-sync/pkg/cache"
	"github.com/iius-rcox/safetyamp-sync/pkg/dashboard"
	"github.com/iius-rcox/safetyamp-sync/pkg/erp"
	"github.com/iius-rcox/safetyamp-sync/pkg/events"
	"github.com/iius-rcox/safetyamp-sync/pkg/failsync"
	"github.com/iius-rcox/safetyamp-sync/pkg/httpclient"
	"github.com/iius-rcox/safetyamp-sync/pkg/identity"
	"github.com/iius-rcox/safetyamp-sync/pkg/orchestrator"
	"github.com/iius-rcox/safetyamp-sync/pkg/sync"
)

// shutdownDrainTimeout bounds how long Run waits for an in-progress
// sync pass to clear after SIGTERM/SIGINT before exiting anyway.
const shutdownDrainTimeout = 30 * time.Second

// Run is the main application entry point: it builds every
// collaborator (C1-C9) from cfg and runs the reconciler's HTTP and
// sync-loop lifecycle until ctx is cancelled, then drains
// cooperatively.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting safetyamp-sync", "sync_interval_minutes", cfg.SyncIntervalMinutes, "listen", cfg.AppListenAddr())

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL())
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	store, err := cache.NewRedisStore(rdb, "/var/lib/safetyamp-sync/cache", logger)
	if err != nil {
		return fmt.Errorf("building cache store: %w", err)
	}

	apiCalls := apitracker.New(rdb, logger)

	safetyAmpClient := httpclient.New(httpclient.Options{
		Service:         "safetyamp",
		BaseURL:         fmt.Sprintf("https://%s", cfg.SafetyAmpFQDN),
		RateLimitCalls:  cfg.APIRateLimitCalls,
		RateLimitPeriod: time.Duration(cfg.APIRateLimitPeriod) * time.Second,
		MaxRetries:      cfg.MaxRetryAttempts,
		Timeout:         time.Duration(cfg.HTTPRequestTimeout) * time.Second,
		Authorize:       bearerAuth(cfg.SafetyAmpToken),
		Recorder:        apiCalls.Record,
		Logger:          logger,
	})
	samsaraClient := httpclient.New(httpclient.Options{
		Service:         "samsara",
		BaseURL:         fmt.Sprintf("https://%s", cfg.SamsaraDomain),
		RateLimitCalls:  cfg.APIRateLimitCalls,
		RateLimitPeriod: time.Duration(cfg.APIRateLimitPeriod) * time.Second,
		MaxRetries:      cfg.MaxRetryAttempts,
		Timeout:         time.Duration(cfg.HTTPRequestTimeout) * time.Second,
		Authorize:       bearerAuth(cfg.SamsaraAPIKey),
		Recorder:        apiCalls.Record,
		Logger:          logger,
	})

	failures := failsync.NewTracker(rdb, logger, cfg.FailedSyncTTLDays, cfg.FailedSyncTrackerEnabled)

	tracker, err := events.NewTracker("/var/lib/safetyamp-sync/changes", logger)
	if err != nil {
		return fmt.Errorf("building event tracker: %w", err)
	}
	notifier, err := events.NewErrorNotifier("/var/lib/safetyamp-sync/errors", cfg.SlackBotToken, cfg.SlackErrorChannel, logger)
	if err != nil {
		return fmt.Errorf("building error notifier: %w", err)
	}
	auditLog := events.NewAuditLog(1000)

	deps := &sync.Deps{
		SafetyAmp:          sync.NewSafetyAmpAPI(safetyAmpClient),
		Samsara:            sync.NewSamsaraAPI(samsaraClient),
		Cache:              store,
		Failures:           failures,
		Events:             tracker,
		Identity:           buildIdentityClient(cfg),
		ERP:                buildERPReader(cfg, logger),
		Logger:             logger,
		SafetyStopLimit:    cfg.SafetyStopThreshold,
		DefaultSiteID:      cfg.DefaultSiteID,
		DefaultAssetTypeID: cfg.DefaultVehicleAssetType,
	}

	syncers := map[string]orchestrator.Syncer{
		"departments": asOrchestratorSyncer(sync.NewDepartmentSyncer(deps)),
		"jobs":        asOrchestratorSyncer(sync.NewJobSyncer(deps)),
		"titles":      asOrchestratorSyncer(sync.NewTitleSyncer(deps)),
		"vehicles":    asOrchestratorSyncer(sync.NewVehicleSyncer(deps)),
		"employees":   asOrchestratorSyncer(sync.NewEmployeeSyncer(deps)),
	}

	orch := orchestrator.New(
		syncers,
		store,
		tracker,
		logger,
		time.Duration(cfg.SyncIntervalMinutes)*time.Minute,
		time.Duration(cfg.VistaRefreshMinutes)*time.Minute,
	)

	dash := dashboard.New(dashboard.Deps{
		Logger:       logger,
		Config:       cfg,
		Redis:        rdb,
		Cache:        store,
		Failures:     failures,
		Events:       tracker,
		Notifier:     notifier,
		Audit:        auditLog,
		APICalls:     apiCalls,
		Orchestrator: orch,
		SafetyAmp:    safetyAmpClient,
		Samsara:      samsaraClient,
	})

	metricsReg := telemetry.NewMetricsRegistry(append(telemetry.All(), httpserver.RequestDurationCollector())...)

	appServer := httpserver.NewServer(logger, []string{"*"}, dash.ShuttingDown)
	dash.Mount(appServer)

	httpSrv := &http.Server{
		Addr:         cfg.AppListenAddr(),
		Handler:      appServer,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsSrv := &http.Server{Addr: cfg.MetricsListenAddr(), Handler: httpserver.NewMetricsServer(metricsReg)}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("application listener starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("application server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("metrics listener starting", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return orch.Run(gctx)
	})
	group.Go(func() error {
		return orch.RunVistaRefresh(gctx)
	})
	group.Go(func() error {
		return runHourlyDigest(gctx, notifier, logger)
	})

	<-gctx.Done()
	logger.Info("shutdown requested, draining")
	dash.BeginShutdown()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
	defer cancel()
	waitForDrain(drainCtx, orch, logger)

	_ = httpSrv.Shutdown(drainCtx)
	_ = metricsSrv.Shutdown(drainCtx)

	if err := group.Wait(); err != nil {
		logger.Error("service exited with error", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// waitForDrain polls the orchestrator's in-progress flag until it
// clears or drainCtx expires.
func waitForDrain(drainCtx context.Context, orch *orchestrator.Orchestrator, logger *slog.Logger) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !orch.InProgress() {
			return
		}
		select {
		case <-drainCtx.Done():
			logger.Warn("shutdown drain timed out with a sync still in progress")
			return
		case <-ticker.C:
		}
	}
}

// runHourlyDigest ticks the error notifier's rate-limited Slack digest
// independently of the sync loop, so a quiet hour with no new errors
// never sends a notification.
func runHourlyDigest(ctx context.Context, notifier *events.ErrorNotifier, logger *slog.Logger) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if sent, err := notifier.SendHourlyNotification(ctx); err != nil {
				logger.Warn("error digest send failed", "error", err)
			} else if sent {
				logger.Info("error digest sent")
			}
		}
	}
}

func bearerAuth(token string) func(*http.Request) {
	return func(req *http.Request) {
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

func buildIdentityClient(cfg *config.Config) identity.Client {
	if cfg.GraphClientID == "" || cfg.GraphClientSecret == "" || cfg.GraphTenantID == "" {
		return identity.StaticClient{}
	}
	return identity.NewGraphClient(cfg.GraphTenantID, cfg.GraphClientID, cfg.GraphClientSecret)
}

func buildERPReader(cfg *config.Config, logger *slog.Logger) erp.Reader {
	if cfg.SQLServer == "" {
		logger.Warn("SQL_SERVER not configured, ERP reader has no rows (dev mode)")
	}
	return erp.StaticReader{}
}

// syncer is the shape every pkg/sync syncer implements.
type syncer interface {
	Sync(ctx context.Context) (sync.Result, error)
}

// asOrchestratorSyncer adapts a concrete pkg/sync syncer to
// orchestrator.Syncer, so pkg/orchestrator has no import dependency on
// pkg/sync.
func asOrchestratorSyncer(s syncer) orchestrator.Syncer {
	return syncerAdapter{s}
}

type syncerAdapter struct {
	inner syncer
}

func (a syncerAdapter) Sync(ctx context.Context) (orchestrator.Result, error) {
	r, err := a.inner.Sync(ctx)
	return orchestrator.Result{
		EntityType: r.EntityType,
		Processed:  r.Processed,
		Created:    r.Created,
		Updated:    r.Updated,
		Skipped:    r.Skipped,
		Errors:     r.Errors,
	}, err
}
