package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/pkg/cache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer() *Server {
	return New(Deps{
		Logger: testLogger(),
		Config: &config.Config{},
		Cache:  cache.NewMemoryStore(),
	})
}

// fakeHealthChecker stands in for the narrow healthChecker interface
// (SafetyAmpAPI/SamsaraAPI's Get method) without needing a live server.
type fakeHealthChecker struct {
	err error
}

func (f fakeHealthChecker) Get(context.Context, string, any, string) error { return f.err }

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHandleLive_OK(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/live", nil)
	s.handleLive(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if decodeBody(t, rec)["status"] != "ok" {
		t.Errorf("body = %s, want status ok", rec.Body.String())
	}
}

func TestHandleLive_Draining(t *testing.T) {
	s := newTestServer()
	s.BeginShutdown()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/live", nil)
	s.handleLive(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200 even while draining", rec.Code)
	}
	if decodeBody(t, rec)["status"] != "draining" {
		t.Errorf("body = %s, want status draining", rec.Body.String())
	}
}

func TestHandleReady_CacheHealthy(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ready", nil)
	s.handleReady(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleReady_Draining(t *testing.T) {
	s := newTestServer()
	s.BeginShutdown()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ready", nil)
	s.handleReady(rec, req)

	if rec.Code != 503 {
		t.Fatalf("status = %d, want 503 while draining", rec.Code)
	}
}

func TestHandleHealth_DegradedWhenDependencyFails(t *testing.T) {
	s := New(Deps{
		Logger:    testLogger(),
		Config:    &config.Config{},
		Cache:     cache.NewMemoryStore(),
		SafetyAmp: fakeHealthChecker{err: errors.New("boom")},
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.handleHealth(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200 (degraded is still a 200)", rec.Code)
	}
	if decodeBody(t, rec)["status"] != "degraded" {
		t.Errorf("body = %s, want status degraded", rec.Body.String())
	}
}

func TestHandleHealth_HealthyWithNilCollaborators(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.handleHealth(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if decodeBody(t, rec)["status"] != "healthy" {
		t.Errorf("body = %s, want status healthy", rec.Body.String())
	}
}

func TestHandleSetSyncPause_RejectsInvalidPausedBy(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/dashboard/sync-pause", strings.NewReader(`{"paused":true,"paused_by":"bad value!"}`))
	s.handleSetSyncPause(rec, req)

	if rec.Code != 422 {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestHandleSetSyncPause_SetsFlag(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/dashboard/sync-pause", strings.NewReader(`{"paused":true,"paused_by":"ops"}`))
	s.handleSetSyncPause(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	paused, _, _, err := s.deps.Cache.Paused(context.Background())
	if err != nil {
		t.Fatalf("Paused: %v", err)
	}
	if !paused {
		t.Error("expected the pause flag to be set")
	}
}
