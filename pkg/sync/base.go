// Package sync implements the Syncers (C6): one reconciliation pass
// per entity family (departments, jobs, titles, vehicles, employees),
// each following the same fetch→transform→diff→write contract.
package sync

import (
	"log/slog"

	"github.com/iius-rcox/safetyamp-sync/internal/syncerrors"
	"github.com/iius-rcox/safetyamp-sync/pkg/cache"
	"github.com/iius-rcox/safetyamp-sync/pkg/erp"
	"github.com/iius-rcox/safetyamp-sync/pkg/events"
	"github.com/iius-rcox/safetyamp-sync/pkg/failsync"
	"github.com/iius-rcox/safetyamp-sync/pkg/identity"
)

// Deps are the collaborators every syncer is built from.
type Deps struct {
	SafetyAmp       *SafetyAmpAPI
	Samsara         *SamsaraAPI
	Cache           cache.Store
	Failures        *failsync.Tracker
	Events          *events.Tracker
	Identity        identity.Client
	ERP             erp.Reader
	Logger          *slog.Logger
	SafetyStopLimit int
	DefaultSiteID   int
	DefaultAssetTypeID int
}

// Result is the common return shape every syncer produces.
type Result struct {
	EntityType string
	Processed  int
	Created    int
	Updated    int
	Skipped    int
	Errors     int
}

// safetyStop tracks consecutive per-entity errors within one syncer
// pass and reports when the configured threshold is hit.
type safetyStop struct {
	consecutive int
	limit       int
}

func newSafetyStop(limit int) *safetyStop {
	if limit <= 0 {
		limit = 10
	}
	return &safetyStop{limit: limit}
}

func (s *safetyStop) recordSuccess() { s.consecutive = 0 }

// recordError increments the counter and reports whether the limit has
// now been reached.
func (s *safetyStop) recordError() bool {
	s.consecutive++
	return s.consecutive >= s.limit
}

// changedFields compares incoming against existing for each of fields,
// returning only the keys whose normalized value differs and is
// non-empty in the incoming record (§4.6's field-diff policy).
func changedFields(existing, incoming map[string]any, fields []string) map[string]any {
	out := map[string]any{}
	for _, f := range fields {
		newVal, hasNew := incoming[f]
		if !hasNew || isEmptyValue(newVal) {
			continue
		}
		oldVal := existing[f]
		if !valuesEqual(oldVal, newVal) {
			out[f] = newVal
		}
	}
	return out
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	default:
		return false
	}
}

func valuesEqual(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	if isNumeric(a) && isNumeric(b) {
		return numericOf(a) == numericOf(b)
	}
	return a == b
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int64, float64:
		return true
	default:
		return false
	}
}

func numericOf(v any) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float64:
		return t
	default:
		return 0
	}
}

// onEntityError is the shared per-row error-recovery path: log to the
// event tracker, bump the safety-stop counter, and signal whether the
// syncer must abort now.
func onEntityError(events *events.Tracker, stop *safetyStop, entityType, entityID, message string) *syncerrors.SafetyStopError {
	events.LogError(entityType, entityID, message, nil)
	if stop.recordError() {
		return &syncerrors.SafetyStopError{EntityType: entityType, ConsecutiveErrors: stop.limit}
	}
	return nil
}

func intOrZero(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

func stringOrEmpty(v any) string {
	s, _ := v.(string)
	return s
}
