// Package cache implements the two-tier cache store (C2): a primary
// distributed KV tier backed by Redis, a secondary on-disk tier used
// when the primary is unavailable, TTL + metadata bookkeeping, and
// stampede-protected populate-on-miss via a distributed lock.
package cache

import (
	"context"
	"time"
)

// Metadata is the companion record stored alongside every cache entry.
type Metadata struct {
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	LastRefresh time.Time `json:"last_refresh"`
	ItemCount   int       `json:"item_count"`
	TTLSeconds  int       `json:"ttl_s"`
	Source      string    `json:"source"`
	DataHash    string    `json:"data_hash"`
}

// Stat is one row of the dashboard's cache-stats panel.
type Stat struct {
	Name        string    `json:"name"`
	Exists      bool      `json:"exists"`
	ItemCount   int       `json:"item_count"`
	TTLSeconds  int       `json:"ttl_s"`
	LastUpdated time.Time `json:"last_updated"`
}

// Loader populates a cache entry on miss or stampede-lock acquisition.
type Loader func(ctx context.Context) ([]byte, Metadata, error)

// Store is the C2 contract. name identifies a logical cache; subKey
// optionally partitions it (e.g. per entity type).
type Store interface {
	// Get consults the primary tier and falls back to disk on miss or
	// timeout. ok is false when neither tier has the key.
	Get(ctx context.Context, name, subKey string) (data []byte, meta Metadata, ok bool, err error)

	// Save writes to the primary tier with the given TTL, then writes a
	// companion file to the secondary tier.
	Save(ctx context.Context, name, subKey string, data []byte, ttl time.Duration, meta Metadata) error

	// IsValid reports whether the entry's logical validity window
	// (distinct from the KV TTL) has not yet elapsed.
	IsValid(ctx context.Context, name, subKey string, maxAge time.Duration) (bool, error)

	// Invalidate deletes the entry (and its metadata twin) from both tiers.
	Invalidate(ctx context.Context, name, subKey string) error

	// LoadOrPopulate returns the cached value, or runs loader on a miss
	// and caches the result. An entry still present is returned as is;
	// no lock is taken around the loader.
	LoadOrPopulate(ctx context.Context, name, subKey string, ttl time.Duration, loader Loader) ([]byte, Metadata, error)

	// Stats reports per-cache-name existence/TTL/item-count/last-updated
	// for the dashboard's cache panel.
	Stats(ctx context.Context, names []string) ([]Stat, error)

	// Paused / SetPaused implement the orchestrator pause flag stored in
	// the same KV tier (safetyamp:sync:paused).
	Paused(ctx context.Context) (paused bool, pausedBy string, pausedAt time.Time, err error)
	SetPaused(ctx context.Context, paused bool, pausedBy string) error

	// Healthy reports whether the primary tier is reachable.
	Healthy(ctx context.Context) bool
}

func cacheKey(name, subKey string) string {
	if subKey == "" {
		return "safetyamp:" + name
	}
	return "safetyamp:" + name + ":" + subKey
}

func metaKey(name, subKey string) string {
	return cacheKey(name, subKey) + ":metadata"
}

func lockKey(name, subKey string) string {
	return cacheKey(name, subKey) + ":lock"
}

func clampLockTTL(ttl time.Duration) time.Duration {
	ms := ttl.Milliseconds()
	switch {
	case ms < 5000:
		return 5000 * time.Millisecond
	case ms > 30000:
		return 30000 * time.Millisecond
	default:
		return ttl
	}
}
