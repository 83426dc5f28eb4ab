package events

import (
	"log/slog"
	"os"
	"testing"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	tr, err := NewTracker(dir, logger)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tr
}

func TestTracker_StartSyncRejectsConcurrentSession(t *testing.T) {
	tr := newTestTracker(t)
	if _, err := tr.StartSync("full"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tr.StartSync("full"); err == nil {
		t.Error("expected error starting a second concurrent session")
	}
}

func TestTracker_LogAndEndSync(t *testing.T) {
	tr := newTestTracker(t)
	if _, err := tr.StartSync("employees"); err != nil {
		t.Fatalf("StartSync: %v", err)
	}

	tr.LogCreation("employee", "123", map[string]any{"first_name": "Jane"})
	tr.LogUpdate("employee", "124", map[string]any{"email": "new@x.com"}, map[string]any{"email": "old@x.com"})
	tr.LogSkip("employee", "125", "no_changes")
	tr.LogError("employee", "126", "boom", nil)

	summary, err := tr.EndSync()
	if err != nil {
		t.Fatalf("EndSync: %v", err)
	}
	if summary.Created != 1 || summary.Updated != 1 || summary.Skipped != 1 || summary.Errors != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.Processed != 4 {
		t.Errorf("processed = %d, want 4", summary.Processed)
	}
	if tr.InProgress() {
		t.Error("expected no session in progress after EndSync")
	}
}

func TestTracker_EndSyncWithoutStart(t *testing.T) {
	tr := newTestTracker(t)
	if _, err := tr.EndSync(); err == nil {
		t.Error("expected error ending a session that was never started")
	}
}

func TestTracker_RecentSessionsPersistsToDisk(t *testing.T) {
	tr := newTestTracker(t)
	for i := 0; i < 3; i++ {
		if _, err := tr.StartSync("full"); err != nil {
			t.Fatalf("StartSync: %v", err)
		}
		tr.LogCreation("employee", "1", nil)
		if _, err := tr.EndSync(); err != nil {
			t.Fatalf("EndSync: %v", err)
		}
	}

	sessions, err := tr.RecentSessions(2)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestAuditLog_EvictsOldest(t *testing.T) {
	log := NewAuditLog(2)
	log.Record("alice", "pause", "")
	log.Record("bob", "resume", "")
	log.Record("carol", "trigger", "")

	recent := log.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("expected ring capped at 2, got %d", len(recent))
	}
	if recent[0].Actor != "carol" {
		t.Errorf("expected most recent first, got %q", recent[0].Actor)
	}
}
