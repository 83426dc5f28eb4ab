package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/iius-rcox/safetyamp-sync/internal/syncerrors"
	"github.com/iius-rcox/safetyamp-sync/pkg/cache"
	"github.com/iius-rcox/safetyamp-sync/pkg/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTracker(t *testing.T) *events.Tracker {
	t.Helper()
	tracker, err := events.NewTracker(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("building event tracker: %v", err)
	}
	return tracker
}

// spySyncer counts how many times it was invoked and returns a
// configurable result/error.
type spySyncer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *spySyncer) Sync(context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return Result{}, s.err
}

func (s *spySyncer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// syncerFunc adapts a plain function to the Syncer interface, used for
// ad-hoc closures (panics, order recording) in a single test.
type syncerFunc func(ctx context.Context) (Result, error)

func (f syncerFunc) Sync(ctx context.Context) (Result, error) { return f(ctx) }

func spySyncers() map[string]Syncer {
	out := map[string]Syncer{}
	for _, name := range orderedSyncType {
		out[name] = &spySyncer{}
	}
	return out
}

func TestOrchestrator_RunRespectsPauseFlag(t *testing.T) {
	store := cache.NewMemoryStore()
	if err := store.SetPaused(context.Background(), true, "ops"); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}

	syncers := spySyncers()
	orch := New(syncers, store, testTracker(t), testLogger(), time.Hour, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	if err := orch.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	for name, s := range syncers {
		if got := s.(*spySyncer).callCount(); got != 0 {
			t.Errorf("syncer %q ran %d times while paused, want 0", name, got)
		}
	}
}

func TestOrchestrator_RunsSyncersInOrder(t *testing.T) {
	store := cache.NewMemoryStore()

	var mu sync.Mutex
	var callOrder []string
	recorder := func(name string) Syncer {
		return syncerFunc(func(context.Context) (Result, error) {
			mu.Lock()
			callOrder = append(callOrder, name)
			mu.Unlock()
			return Result{}, nil
		})
	}
	syncers := map[string]Syncer{}
	for _, name := range orderedSyncType {
		syncers[name] = recorder(name)
	}

	orch := New(syncers, store, testTracker(t), testLogger(), time.Hour, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 7*time.Second)
	defer cancel()
	if err := orch.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(callOrder) < len(orderedSyncType) {
		t.Fatalf("expected at least one full pass, got order %v", callOrder)
	}
	for i, name := range orderedSyncType {
		if callOrder[i] != name {
			t.Fatalf("call order = %v, want %v first", callOrder, orderedSyncType)
		}
	}
}

func TestOrchestratorTrigger(t *testing.T) {
	syncers := spySyncers()
	orch := New(syncers, cache.NewMemoryStore(), testTracker(t), testLogger(), time.Hour, time.Hour)

	if !orch.Trigger("jobs") {
		t.Fatal("Trigger(\"jobs\") = false, want true")
	}
	if orch.Trigger("bogus") {
		t.Fatal("Trigger(\"bogus\") = true, want false for an unregistered sync type")
	}
	if !orch.Trigger("all") {
		t.Fatal("Trigger(\"all\") = false, want true")
	}

	first, ok := orch.popTrigger()
	if !ok || first != "jobs" {
		t.Fatalf("popTrigger() = (%q, %v), want (jobs, true)", first, ok)
	}
	second, ok := orch.popTrigger()
	if !ok || second != "all" {
		t.Fatalf("popTrigger() = (%q, %v), want (all, true)", second, ok)
	}
	if _, ok := orch.popTrigger(); ok {
		t.Fatal("popTrigger() should report the queue is empty")
	}
}

func TestOrchestratorTrigger_CapacityBound(t *testing.T) {
	syncers := spySyncers()
	orch := New(syncers, cache.NewMemoryStore(), testTracker(t), testLogger(), time.Hour, time.Hour)

	for i := 0; i < triggerQueueCapacity; i++ {
		if !orch.Trigger("jobs") {
			t.Fatalf("Trigger failed before reaching capacity at i=%d", i)
		}
	}
	if orch.Trigger("jobs") {
		t.Fatal("Trigger should reject once the queue is at capacity")
	}
}

func TestRunSyncer_RecoversPanic(t *testing.T) {
	orch := New(spySyncers(), cache.NewMemoryStore(), testTracker(t), testLogger(), time.Hour, time.Hour)

	panicky := syncerFunc(func(context.Context) (Result, error) {
		panic("boom")
	})

	err := orch.runSyncer(context.Background(), "employees", panicky)
	if err == nil {
		t.Fatal("expected the panic to surface as an error")
	}
	var swErr *syncerrors.SyncWorkerError
	if !errors.As(err, &swErr) {
		t.Fatalf("error = %v, want *syncerrors.SyncWorkerError", err)
	}
	if swErr.SyncType != "employees" {
		t.Errorf("SyncType = %q, want employees", swErr.SyncType)
	}
}

func TestRunAll_StopsOnSafetyStop(t *testing.T) {
	var mu sync.Mutex
	var ran []string
	record := func(name string) {
		mu.Lock()
		ran = append(ran, name)
		mu.Unlock()
	}

	syncers := map[string]Syncer{
		"departments": syncerFunc(func(context.Context) (Result, error) {
			record("departments")
			return Result{}, &syncerrors.SafetyStopError{EntityType: "department", ConsecutiveErrors: 10}
		}),
		"jobs": syncerFunc(func(context.Context) (Result, error) {
			record("jobs")
			return Result{}, nil
		}),
		"titles":    syncerFunc(func(context.Context) (Result, error) { record("titles"); return Result{}, nil }),
		"vehicles":  syncerFunc(func(context.Context) (Result, error) { record("vehicles"); return Result{}, nil }),
		"employees": syncerFunc(func(context.Context) (Result, error) { record("employees"); return Result{}, nil }),
	}

	orch := New(syncers, cache.NewMemoryStore(), testTracker(t), testLogger(), time.Hour, time.Hour)
	hadError := orch.runAll(context.Background())

	if !hadError {
		t.Fatal("runAll() hadError = false, want true")
	}
	if len(ran) != 1 || ran[0] != "departments" {
		t.Fatalf("expected only departments to run before the safety stop, got %v", ran)
	}
}

func TestJitter_WithinBounds(t *testing.T) {
	d := 5 * time.Second
	for i := 0; i < 20; i++ {
		got := jitter(d)
		if got < d || got > d+d/10 {
			t.Fatalf("jitter(%v) = %v, want within [%v, %v]", d, got, d, d+d/10)
		}
	}
}
