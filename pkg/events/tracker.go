// Package events implements the Event Tracker (C5): a per-session
// change log persisted as JSON, an append-only error ring with
// rate-limited hourly notification, and the in-memory audit ring used
// by the dashboard.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/iius-rcox/safetyamp-sync/internal/model"
	"github.com/iius-rcox/safetyamp-sync/internal/telemetry"
)

// Tracker owns the session lifecycle and persists completed sessions
// to an append-only JSON directory (§4.5's "output/changes/").
type Tracker struct {
	mu         sync.Mutex
	current    *model.Session
	changesDir string
	logger     *slog.Logger
}

// NewTracker creates an Event Tracker writing session files under
// changesDir.
func NewTracker(changesDir string, logger *slog.Logger) (*Tracker, error) {
	if err := os.MkdirAll(changesDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating changes directory: %w", err)
	}
	return &Tracker{changesDir: changesDir, logger: logger}, nil
}

// StartSync begins a new session. Only one session may be in progress
// at a time (§3 invariant iv).
func (t *Tracker) StartSync(syncType string) (*model.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil {
		return nil, fmt.Errorf("a sync session is already in progress: %s", t.current.ID)
	}

	// Step past any second whose session file already exists, so two
	// sessions started within one second do not overwrite each other.
	ts := time.Now().Unix()
	for {
		if _, err := os.Stat(filepath.Join(t.changesDir, fmt.Sprintf("sync_%d.json", ts))); err != nil {
			break
		}
		ts++
	}

	s := &model.Session{
		ID:        fmt.Sprintf("sync_%d", ts),
		SyncType:  syncType,
		StartedAt: time.Now().UTC(),
	}
	t.current = s
	return s, nil
}

// InProgress reports whether a session is currently open.
func (t *Tracker) InProgress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current != nil
}

func (t *Tracker) appendEvent(kind model.EventKind, entityType, entityID string, mutate func(*model.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		t.logger.Warn("event logged with no active session", "kind", kind, "entity_type", entityType)
		return
	}

	ev := model.Event{
		Timestamp:  time.Now().UTC(),
		Operation:  kind,
		EntityType: entityType,
		EntityID:   entityID,
	}
	if mutate != nil {
		mutate(&ev)
	}

	status := "ok"
	if kind == model.EventError {
		status = "error"
	}
	telemetry.ChangesTotal.WithLabelValues(entityType, string(kind), status).Inc()

	switch kind {
	case model.EventCreated:
		t.current.Created = append(t.current.Created, ev)
		t.current.Summary.Created++
	case model.EventUpdated:
		t.current.Updated = append(t.current.Updated, ev)
		t.current.Summary.Updated++
	case model.EventDeleted:
		t.current.Deleted = append(t.current.Deleted, ev)
		t.current.Summary.Deleted++
	case model.EventSkipped:
		t.current.Skipped = append(t.current.Skipped, ev)
		t.current.Summary.Skipped++
	case model.EventError:
		t.current.Errors = append(t.current.Errors, ev)
		t.current.Summary.Errors++
	}
	t.current.Summary.Processed++
}

// LogCreation records a created-entity event with its write payload.
func (t *Tracker) LogCreation(entityType, entityID string, payload map[string]any) {
	t.appendEvent(model.EventCreated, entityType, entityID, func(e *model.Event) {
		e.Payload = payload
	})
}

// LogUpdate records an updated-entity event with the changed fields and
// the pre-update snapshot.
func (t *Tracker) LogUpdate(entityType, entityID string, changes, original map[string]any) {
	t.appendEvent(model.EventUpdated, entityType, entityID, func(e *model.Event) {
		e.Changes = changes
		e.OriginalData = original
	})
}

// LogDeletion records a deleted-entity event with its reason.
func (t *Tracker) LogDeletion(entityType, entityID, reason string) {
	t.appendEvent(model.EventDeleted, entityType, entityID, func(e *model.Event) {
		e.Reason = reason
	})
}

// LogSkip records a skipped-entity event with its reason.
func (t *Tracker) LogSkip(entityType, entityID, reason string) {
	t.appendEvent(model.EventSkipped, entityType, entityID, func(e *model.Event) {
		e.Reason = reason
	})
}

// LogError records an error event with an optional payload snapshot.
func (t *Tracker) LogError(entityType, entityID, message string, payload map[string]any) {
	t.appendEvent(model.EventError, entityType, entityID, func(e *model.Event) {
		e.Message = message
		e.Payload = payload
	})
}

// EndSync closes the current session, persists it to disk, and
// returns its summary.
func (t *Tracker) EndSync() (model.SessionSummary, error) {
	t.mu.Lock()
	s := t.current
	t.mu.Unlock()

	if s == nil {
		return model.SessionSummary{}, fmt.Errorf("no sync session in progress")
	}

	s.EndedAt = time.Now().UTC()

	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return model.SessionSummary{}, fmt.Errorf("marshaling session: %w", err)
	}
	path := filepath.Join(t.changesDir, s.ID+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.logger.Error("failed to persist session", "session", s.ID, "error", err)
	}

	t.mu.Lock()
	t.current = nil
	t.mu.Unlock()

	return s.Summary, nil
}

// RecentSessions returns up to n most-recently-modified persisted
// sessions, most recent first.
func (t *Tracker) RecentSessions(n int) ([]model.Session, error) {
	entries, err := os.ReadDir(t.changesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading changes directory: %w", err)
	}

	type fileInfo struct {
		name    string
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: e.Name(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	if n > 0 && len(files) > n {
		files = files[:n]
	}

	sessions := make([]model.Session, 0, len(files))
	for _, f := range files {
		raw, err := os.ReadFile(filepath.Join(t.changesDir, f.name))
		if err != nil {
			continue
		}
		var s model.Session
		if json.Unmarshal(raw, &s) == nil {
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}

// LastSessionSummary returns the most recently completed session's
// summary, or a zero summary if none exist.
func (t *Tracker) LastSessionSummary() (model.SessionSummary, string, error) {
	sessions, err := t.RecentSessions(1)
	if err != nil || len(sessions) == 0 {
		return model.SessionSummary{}, "", err
	}
	return sessions[0].Summary, sessions[0].ID, nil
}
