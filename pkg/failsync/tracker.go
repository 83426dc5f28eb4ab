// Package failsync implements the Failed-Sync Memory (C3): a
// field-level fingerprint ledger of prior 422 validation failures and
// the retry-gating predicate that suppresses pointless re-attempts
// until the offending fields actually change.
package failsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iius-rcox/safetyamp-sync/internal/model"
)

const keyPrefix = "safetyamp:failed_sync:"

// Tracker is the C3 ledger, Redis-backed with a configurable TTL.
type Tracker struct {
	rdb     *redis.Client
	logger  *slog.Logger
	ttl     time.Duration
	enabled bool
}

// NewTracker creates a failure tracker. When enabled is false, Get,
// ShouldSkipRetry (always false), RecordFailure and ClearFailure are
// no-ops, so syncers ignore the feature when FAILED_SYNC_TRACKER_ENABLED
// is off; List, Stats and MarkAllForRetry still read Redis.
func NewTracker(rdb *redis.Client, logger *slog.Logger, ttlDays int, enabled bool) *Tracker {
	return &Tracker{rdb: rdb, logger: logger, ttl: time.Duration(ttlDays) * 24 * time.Hour, enabled: enabled}
}

func recordKey(entityType, entityID string) string {
	return keyPrefix + entityType + ":" + entityID
}

// Fingerprint computes the SHA-256 fingerprint of a normalized value:
// scalars are stringified and trimmed; maps/slices are canonical JSON
// with sorted keys; nil becomes "".
func Fingerprint(v any) string {
	return fingerprintString(normalize(v))
}

func fingerprintString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func normalize(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return canonicalJSON(sortedMap(t))
	case []any:
		return canonicalJSON(t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

func sortedMap(m map[string]any) map[string]any {
	// json.Marshal of a map[string]any already emits keys in sorted
	// order, so this is a pass-through kept for readability at call sites.
	return m
}

func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func (t *Tracker) Get(ctx context.Context, entityType, entityID string) (*model.FailureRecord, error) {
	if !t.enabled {
		return nil, nil
	}
	raw, err := t.rdb.Get(ctx, recordKey(entityType, entityID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading failure record: %w", err)
	}
	var rec model.FailureRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling failure record: %w", err)
	}
	return &rec, nil
}

// ShouldSkipRetry returns true iff a FailureRecord exists for the
// entity and every tracked failing field has the same fingerprint as
// the stored one — or, absent field-level tracking, the full-payload
// fingerprint matches.
func (t *Tracker) ShouldSkipRetry(ctx context.Context, entityType, entityID string, payload map[string]any) (bool, error) {
	if !t.enabled {
		return false, nil
	}
	rec, err := t.Get(ctx, entityType, entityID)
	if err != nil || rec == nil {
		return false, err
	}
	if rec.RetryRequested {
		return false, nil
	}

	if len(rec.FailedFields) > 0 {
		for field, ff := range rec.FailedFields {
			if Fingerprint(payload[field]) != ff.ValueFingerprint {
				return false, nil
			}
		}
		return true, nil
	}

	return Fingerprint(payload) == rec.PayloadFingerprint, nil
}

// errorEnvelope is the 422 body shape: {message, errors: {field: [msg...]}}.
type errorEnvelope struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

var fieldWords = []string{"email", "mobile phone", "mobile_phone", "phone", "vin", "name", "code", "serial"}

// ExtractFailedFields parses the 422 error envelope into a per-field map.
// When the "errors" key is absent, it infers a single field from the
// message text; failing that, it falls back to a synthetic "_general" key.
func ExtractFailedFields(body []byte, payload map[string]any) map[string]model.FailedField {
	out := map[string]model.FailedField{}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Errors) > 0 {
		for field, msgs := range env.Errors {
			msg := strings.Join(msgs, "; ")
			out[field] = model.FailedField{
				ValueFingerprint: Fingerprint(payload[field]),
				Error:            msg,
				TruncatedValue:   truncate(fmt.Sprintf("%v", payload[field]), 100),
			}
		}
		return out
	}

	msg := env.Message
	if msg == "" {
		msg = string(body)
	}
	lower := strings.ToLower(msg)
	for _, word := range fieldWords {
		if strings.Contains(lower, word) {
			field := strings.ReplaceAll(word, " ", "_")
			out[field] = model.FailedField{
				ValueFingerprint: Fingerprint(payload[field]),
				Error:            msg,
				TruncatedValue:   truncate(fmt.Sprintf("%v", payload[field]), 100),
			}
			return out
		}
	}

	out["_general"] = model.FailedField{
		ValueFingerprint: Fingerprint(payload),
		Error:            msg,
		TruncatedValue:   truncate(msg, 100),
	}
	return out
}

var duplicateRe = regexp.MustCompile(`(?i)already\s+(been\s+)?taken|duplicate`)
var missingRe = regexp.MustCompile(`(?i)required|must\s+not\s+be\s+(empty|blank)`)

// categorize classifies a 422 by its error text.
func categorize(status int, failedFields map[string]model.FailedField) model.FailureCategory {
	if status != 422 {
		return model.FailureCategory(fmt.Sprintf("http_%d", status))
	}
	for _, ff := range failedFields {
		if duplicateRe.MatchString(ff.Error) {
			return model.CategoryDuplicateFields
		}
	}
	for _, ff := range failedFields {
		if missingRe.MatchString(ff.Error) {
			return model.CategoryMissingRequired
		}
	}
	if len(failedFields) == 1 {
		if _, ok := failedFields["_general"]; ok {
			return model.CategoryUnknown422
		}
	}
	return model.CategoryValidationError
}

// RecordFailure persists (or updates) a FailureRecord for entityType/entityID.
func (t *Tracker) RecordFailure(ctx context.Context, entityType, entityID string, status int, body []byte, payload map[string]any) (*model.FailureRecord, error) {
	if !t.enabled {
		return nil, nil
	}

	failedFields := ExtractFailedFields(body, payload)
	now := time.Now().UTC()

	existing, _ := t.Get(ctx, entityType, entityID)
	rec := &model.FailureRecord{
		EntityType:         entityType,
		EntityID:           entityID,
		FailedFields:       failedFields,
		PayloadFingerprint: Fingerprint(payload),
		Category:           categorize(status, failedFields),
		FirstFailedAt:      now,
		LastFailedAt:       now,
		AttemptCount:       1,
		LastHTTPStatus:     status,
		LastErrorText:      string(body),
	}
	if existing != nil {
		rec.FirstFailedAt = existing.FirstFailedAt
		rec.AttemptCount = existing.AttemptCount + 1
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshaling failure record: %w", err)
	}
	if err := t.rdb.Set(ctx, recordKey(entityType, entityID), raw, t.ttl).Err(); err != nil {
		return nil, fmt.Errorf("persisting failure record: %w", err)
	}
	return rec, nil
}

// ClearFailure removes the FailureRecord after a successful write.
func (t *Tracker) ClearFailure(ctx context.Context, entityType, entityID string) error {
	if !t.enabled {
		return nil
	}
	if err := t.rdb.Del(ctx, recordKey(entityType, entityID)).Err(); err != nil {
		return fmt.Errorf("clearing failure record: %w", err)
	}
	return nil
}

// MarkForRetry sets retry_requested=true without deleting the record;
// the next sync cycle re-evaluates it.
func (t *Tracker) MarkForRetry(ctx context.Context, entityType, entityID string) error {
	rec, err := t.Get(ctx, entityType, entityID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no failure record for %s/%s", entityType, entityID)
	}
	rec.RetryRequested = true
	raw, _ := json.Marshal(rec)
	return t.rdb.Set(ctx, recordKey(entityType, entityID), raw, t.ttl).Err()
}

// MarkAllForRetry sets retry_requested=true on every matching record,
// optionally scoped to one entity type.
func (t *Tracker) MarkAllForRetry(ctx context.Context, entityType string) (int, error) {
	pattern := keyPrefix + "*"
	if entityType != "" {
		pattern = keyPrefix + entityType + ":*"
	}

	count := 0
	iter := t.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		raw, err := t.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var rec model.FailureRecord
		if json.Unmarshal(raw, &rec) != nil {
			continue
		}
		rec.RetryRequested = true
		updated, _ := json.Marshal(rec)
		if t.rdb.Set(ctx, iter.Val(), updated, t.ttl).Err() == nil {
			count++
		}
	}
	return count, iter.Err()
}

// DismissRecord deletes a record outright (the operator has decided it
// will never succeed, e.g. a stale entity).
func (t *Tracker) DismissRecord(ctx context.Context, entityType, entityID string) error {
	return t.ClearFailure(ctx, entityType, entityID)
}

// List returns failure records sorted by last_failed_at desc, paged.
func (t *Tracker) List(ctx context.Context, offset, limit int) ([]model.FailureRecord, int, error) {
	iter := t.rdb.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	var all []model.FailureRecord
	for iter.Next(ctx) {
		raw, err := t.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var rec model.FailureRecord
		if json.Unmarshal(raw, &rec) == nil {
			all = append(all, rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, 0, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].LastFailedAt.After(all[j].LastFailedAt) })

	total := len(all)
	if offset >= total {
		return []model.FailureRecord{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// Stats aggregates failure records by entity_type and by category.
func (t *Tracker) Stats(ctx context.Context) (byEntityType, byCategory map[string]int, err error) {
	records, _, err := t.List(ctx, 0, 1<<30)
	if err != nil {
		return nil, nil, err
	}
	byEntityType = map[string]int{}
	byCategory = map[string]int{}
	for _, r := range records {
		byEntityType[r.EntityType]++
		byCategory[string(r.Category)]++
	}
	return byEntityType, byCategory, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
