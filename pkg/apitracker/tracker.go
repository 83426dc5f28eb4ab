// Package apitracker implements the API Call Tracker (C9): a bounded
// Redis list of recent outbound HTTP calls, used by the dashboard to
// show live traffic and error rates per external service.
package apitracker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iius-rcox/safetyamp-sync/internal/model"
)

const (
	listKey  = "safetyamp:api_calls"
	maxCalls = 1000
)

// Tracker records outbound API calls into a bounded Redis list. It is
// best-effort: a Redis outage disables recording silently rather than
// failing the call it is observing.
type Tracker struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New creates an API call tracker.
func New(rdb *redis.Client, logger *slog.Logger) *Tracker {
	return &Tracker{rdb: rdb, logger: logger}
}

// Record implements httpclient.CallRecorder: push to the head of the
// list and trim to maxCalls.
func (t *Tracker) Record(rec model.APICallRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		t.logger.Warn("failed to marshal api call record", "error", err)
		return
	}

	ctx := context.Background()
	pipe := t.rdb.TxPipeline()
	pipe.LPush(ctx, listKey, raw)
	pipe.LTrim(ctx, listKey, 0, maxCalls-1)
	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Debug("api call tracker unavailable", "error", err)
	}
}

// Filter narrows Recent results.
type Filter struct {
	Service       string
	Method        string
	ErrorsOnly    bool
	CorrelationID string
}

// Recent returns up to limit records (newest first) matching filter.
// Entries that fail to unmarshal are silently skipped rather than
// failing the whole read.
func (t *Tracker) Recent(ctx context.Context, limit int, filter Filter) ([]model.APICallRecord, error) {
	raws, err := t.rdb.LRange(ctx, listKey, 0, int64(maxCalls-1)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, nil
	}

	out := make([]model.APICallRecord, 0, limit)
	for _, raw := range raws {
		var rec model.APICallRecord
		if json.Unmarshal([]byte(raw), &rec) != nil {
			continue
		}
		if filter.Service != "" && rec.Service != filter.Service {
			continue
		}
		if filter.Method != "" && rec.Method != filter.Method {
			continue
		}
		if filter.ErrorsOnly && rec.Error == "" && rec.StatusCode < 400 {
			continue
		}
		if filter.CorrelationID != "" && rec.CorrelationID != filter.CorrelationID {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Stats aggregates the current window: total calls, calls by service,
// error count, success rate (rounded to one decimal place) and average
// duration in milliseconds.
type Stats struct {
	Total       int            `json:"total"`
	ByService   map[string]int `json:"by_service"`
	ErrorCount  int            `json:"error_count"`
	SuccessRate float64        `json:"success_rate"`
	AvgDuration float64        `json:"avg_duration_ms"`
}

// Compute builds Stats over the full retained window.
func (t *Tracker) Compute(ctx context.Context) (Stats, error) {
	records, err := t.Recent(ctx, 0, Filter{})
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{ByService: map[string]int{}}
	var totalDuration float64
	for _, r := range records {
		stats.Total++
		stats.ByService[r.Service]++
		totalDuration += r.DurationMS
		if r.Error != "" || r.StatusCode >= 400 {
			stats.ErrorCount++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = roundToOneDecimal(100 * float64(stats.Total-stats.ErrorCount) / float64(stats.Total))
		stats.AvgDuration = roundToOneDecimal(totalDuration / float64(stats.Total))
	}
	return stats, nil
}

func roundToOneDecimal(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}
