package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iius-rcox/safetyamp-sync/pkg/cache"
)

const defaultCacheTTL = 4 * time.Hour

// loadReference fetches a target-side reference collection through the
// Cache Store, populating it from fetch on miss. Per §4.6's
// before_sync contract, syncers never call the network directly — only
// the cache layer's loader does.
func loadReference(ctx context.Context, store cache.Store, name string, fetch func(ctx context.Context) ([]map[string]any, error)) ([]map[string]any, error) {
	loader := func(ctx context.Context) ([]byte, cache.Metadata, error) {
		rows, err := fetch(ctx)
		if err != nil {
			return nil, cache.Metadata{}, err
		}
		raw, err := json.Marshal(rows)
		if err != nil {
			return nil, cache.Metadata{}, fmt.Errorf("marshaling %s cache entry: %w", name, err)
		}
		meta := cache.Metadata{
			CreatedAt:   time.Now().UTC(),
			LastUpdated: time.Now().UTC(),
			LastRefresh: time.Now().UTC(),
			ItemCount:   len(rows),
			TTLSeconds:  int(defaultCacheTTL.Seconds()),
			Source:      "safetyamp",
		}
		return raw, meta, nil
	}

	raw, _, err := store.LoadOrPopulate(ctx, name, "", defaultCacheTTL, loader)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling %s cache entry: %w", name, err)
	}
	return rows, nil
}

// byField indexes rows by the string value of field.
func byField(rows []map[string]any, field string) map[string]map[string]any {
	out := make(map[string]map[string]any, len(rows))
	for _, r := range rows {
		if key := stringOrEmpty(r[field]); key != "" {
			out[key] = r
		}
	}
	return out
}
