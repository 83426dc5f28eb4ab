// Package orchestrator implements the Orchestrator (C7): the ordered
// full-sync loop, the pause flag, the manual-trigger queue, and the
// reference-cache refresh loop that runs independently of the full
// sync cadence.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iius-rcox/safetyamp-sync/internal/syncerrors"
	"github.com/iius-rcox/safetyamp-sync/pkg/cache"
	"github.com/iius-rcox/safetyamp-sync/pkg/events"
)

// Syncer is the common shape every entity-family syncer in pkg/sync
// implements.
type Syncer interface {
	Sync(ctx context.Context) (Result, error)
}

// Result mirrors sync.Result without importing pkg/sync, so this
// package has no dependency on the concrete syncers — only on the
// narrow interface above.
type Result struct {
	EntityType string
	Processed  int
	Created    int
	Updated    int
	Skipped    int
	Errors     int
}

// orderedSyncType is the fixed execution order §4.7 requires:
// departments before jobs (job sites reference department clusters),
// titles before employees (title lookup), vehicles
// ahead of employees only because they are independent and cheaper to
// fail fast on.
var orderedSyncType = []string{"departments", "jobs", "titles", "vehicles", "employees"}

// pausePollInterval is how often the loop re-checks the pause flag
// while paused.
const pausePollInterval = time.Second

// tickInterval is not referenced by the loop: the inter-pass sleep
// waits on a single timer and returns as soon as a manual trigger
// arrives or the context is cancelled, instead of waiting out the full
// interval.
const tickInterval = time.Second

// triggerQueueCapacity bounds the manual-trigger FIFO so a caller
// hammering the trigger endpoint cannot grow unbounded memory.
const triggerQueueCapacity = 16

// errorBackoff is how long the loop waits before the next full pass
// when the previous pass reported any syncer error, instead of the
// configured interval — a fixed short cool-down rather than the
// standard cadence.
const errorBackoff = 60 * time.Second

// startupStagger bounds the jittered delay before the first pass, so
// multiple instances started at once against the same Redis don't all
// hit the pause-flag check and first sync in lockstep.
const startupStagger = 5 * time.Second

// Orchestrator runs the ordered sync loop and a parallel vista/
// reference-cache refresh loop.
type Orchestrator struct {
	syncers  map[string]Syncer
	cache    cache.Store
	events   *events.Tracker
	logger   *slog.Logger
	interval time.Duration
	vistaTTL time.Duration

	mu      sync.Mutex
	queue   []string
	wake    chan struct{}
	inSync  atomic.Bool
	lastRun atomic.Int64 // unix seconds of the last completed full pass
}

// New builds an Orchestrator. syncers must contain one entry per name
// in orderedSyncType; interval governs the cadence between full
// passes and vistaTTL the independent reference-refresh cadence.
func New(syncers map[string]Syncer, store cache.Store, tracker *events.Tracker, logger *slog.Logger, interval, vistaTTL time.Duration) *Orchestrator {
	if interval <= 0 {
		interval = time.Hour
	}
	if vistaTTL <= 0 {
		vistaTTL = 30 * time.Minute
	}
	return &Orchestrator{
		syncers:  syncers,
		cache:    store,
		events:   tracker,
		logger:   logger,
		interval: interval,
		vistaTTL: vistaTTL,
		wake:     make(chan struct{}, 1),
	}
}

// Trigger enqueues a manual run of one entity-family syncer. It is
// non-blocking: once the queue is full, further triggers for the same
// period are dropped and reported back to the caller.
func (o *Orchestrator) Trigger(syncType string) bool {
	if _, ok := o.syncers[syncType]; !ok && syncType != "all" {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) >= triggerQueueCapacity {
		return false
	}
	o.queue = append(o.queue, syncType)
	select {
	case o.wake <- struct{}{}:
	default:
	}
	return true
}

func (o *Orchestrator) popTrigger() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return "", false
	}
	next := o.queue[0]
	o.queue = o.queue[1:]
	return next, true
}

// InProgress reports whether a sync pass is currently running.
func (o *Orchestrator) InProgress() bool { return o.inSync.Load() }

// LastRun returns the time the last full pass completed, or the zero
// value if none has completed yet.
func (o *Orchestrator) LastRun() time.Time {
	secs := o.lastRun.Load()
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// Run is the main loop: while not shut down, check the pause flag,
// service any manual trigger, otherwise run the full ordered set, then
// sleep the configured interval (woken early by a trigger).
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator started", "interval", o.interval, "vista_refresh", o.vistaTTL)

	if !o.sleep(ctx, jitter(startupStagger)) {
		return nil
	}

	for {
		if ctx.Err() != nil {
			o.logger.Info("orchestrator shutting down")
			return nil
		}

		paused, pausedBy, _, err := o.cache.Paused(ctx)
		if err != nil {
			o.logger.Warn("pause flag read failed, assuming not paused", "error", err)
		}
		if paused {
			o.logger.Debug("orchestrator paused", "paused_by", pausedBy)
			if !o.sleep(ctx, pausePollInterval) {
				return nil
			}
			continue
		}

		if syncType, ok := o.popTrigger(); ok {
			o.runOne(ctx, syncType)
			continue
		}

		hadError := o.runAll(ctx)

		wait := o.interval
		if hadError {
			wait = errorBackoff
		}
		if !o.sleep(ctx, wait) {
			return nil
		}
	}
}

// runOne executes a single triggered syncer, or every syncer in order
// when syncType is "all".
func (o *Orchestrator) runOne(ctx context.Context, syncType string) {
	if syncType == "all" {
		o.runAll(ctx)
		return
	}
	syncer, ok := o.syncers[syncType]
	if !ok {
		o.logger.Warn("triggered sync type not registered", "sync_type", syncType)
		return
	}
	o.inSync.Store(true)
	defer o.inSync.Store(false)
	o.runSyncer(ctx, syncType, syncer)
}

// runAll executes every registered syncer in orderedSyncType order,
// logging and continuing past individual syncer failures so one
// family's outage never blocks the rest. It reports whether any
// syncer errored, which governs the next-pass backoff.
func (o *Orchestrator) runAll(ctx context.Context) (hadError bool) {
	o.inSync.Store(true)
	defer o.inSync.Store(false)

	start := time.Now()
	for _, syncType := range orderedSyncType {
		if ctx.Err() != nil {
			return hadError
		}
		syncer, ok := o.syncers[syncType]
		if !ok {
			continue
		}
		if err := o.runSyncer(ctx, syncType, syncer); err != nil {
			hadError = true
			var stopErr *syncerrors.SafetyStopError
			if isSafetyStop(err, &stopErr) {
				o.logger.Error("safety stop tripped, skipping remaining syncers this pass",
					"sync_type", syncType, "consecutive_errors", stopErr.ConsecutiveErrors)
				break
			}
		}
	}
	o.lastRun.Store(time.Now().Unix())
	o.logger.Info("full sync pass complete", "duration", time.Since(start), "had_error", hadError)
	return hadError
}

func isSafetyStop(err error, target **syncerrors.SafetyStopError) bool {
	se, ok := err.(*syncerrors.SafetyStopError)
	if ok {
		*target = se
	}
	return ok
}

// runSyncer runs one syncer, recovering a panic into a SyncWorkerError
// so a single buggy syncer never crashes the orchestrator loop.
func (o *Orchestrator) runSyncer(ctx context.Context, syncType string, syncer Syncer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &syncerrors.SyncWorkerError{SyncType: syncType, Cause: fmt.Errorf("panic: %v", r)}
			o.logger.Error("syncer panicked", "sync_type", syncType, "error", err)
			o.events.LogError(syncType, "", err.Error(), nil)
		}
	}()

	start := time.Now()
	result, syncErr := syncer.Sync(ctx)
	duration := time.Since(start)

	if syncErr != nil {
		o.logger.Error("syncer failed", "sync_type", syncType, "error", syncErr, "duration", duration)
		return syncErr
	}

	o.logger.Info("syncer complete",
		"sync_type", syncType,
		"processed", result.Processed,
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"duration", duration,
	)
	return nil
}

// sleep blocks for d, the trigger wake channel, or context
// cancellation, whichever comes first. It returns false when the
// context was cancelled.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-o.wake:
		return true
	}
}

// RunVistaRefresh periodically invalidates the cached reference
// collections (clusters/sites/titles/users/assets) so stale ERP-side
// lookups never outlive vistaTTL even when the full sync interval is
// much longer — grounded on the source's independent Vista cache
// aging policy.
func (o *Orchestrator) RunVistaRefresh(ctx context.Context) error {
	names := []string{"clusters", "sites", "titles", "users", "assets"}
	ticker := time.NewTicker(o.vistaTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, name := range names {
				if err := o.cache.Invalidate(ctx, name, ""); err != nil {
					o.logger.Warn("vista refresh invalidate failed", "cache", name, "error", err)
				}
			}
			o.logger.Debug("vista reference caches invalidated", "caches", names)
		}
	}
}

// jitter returns d plus up to 10% random jitter, used by callers that
// stagger startup against other processes sharing the same Redis
// instance.
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/10+1))
}
