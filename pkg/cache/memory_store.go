package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	data    []byte
	meta    Metadata
	expires time.Time
}

// MemoryStore is an in-process fake of Store used by unit tests so
// production code can be exercised without a live Redis, matching the
// teacher's practice of keeping callouts behind test doubles.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	paused  bool
	pausedBy string
	pausedAt time.Time
}

// NewMemoryStore creates an empty in-memory cache store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry)}
}

func (s *MemoryStore) Get(_ context.Context, name, subKey string) ([]byte, Metadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[cacheKey(name, subKey)]
	if !ok || time.Now().After(e.expires) {
		return nil, Metadata{}, false, nil
	}
	return e.data, e.meta, true, nil
}

func (s *MemoryStore) Save(_ context.Context, name, subKey string, data []byte, ttl time.Duration, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.LastUpdated = now
	meta.TTLSeconds = int(ttl.Seconds())
	s.entries[cacheKey(name, subKey)] = memEntry{data: data, meta: meta, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) IsValid(ctx context.Context, name, subKey string, maxAge time.Duration) (bool, error) {
	_, meta, ok, _ := s.Get(ctx, name, subKey)
	if !ok {
		return false, nil
	}
	return time.Since(meta.LastUpdated) < maxAge, nil
}

func (s *MemoryStore) Invalidate(_ context.Context, name, subKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, cacheKey(name, subKey))
	return nil
}

func (s *MemoryStore) LoadOrPopulate(ctx context.Context, name, subKey string, ttl time.Duration, loader Loader) ([]byte, Metadata, error) {
	if data, meta, ok, _ := s.Get(ctx, name, subKey); ok {
		return data, meta, nil
	}
	data, meta, err := loader(ctx)
	if err != nil {
		return nil, Metadata{}, err
	}
	if err := s.Save(ctx, name, subKey, data, ttl, meta); err != nil {
		return nil, Metadata{}, err
	}
	return data, meta, nil
}

func (s *MemoryStore) Stats(ctx context.Context, names []string) ([]Stat, error) {
	stats := make([]Stat, 0, len(names))
	for _, name := range names {
		_, meta, ok, _ := s.Get(ctx, name, "")
		stats = append(stats, Stat{Name: name, Exists: ok, ItemCount: meta.ItemCount, TTLSeconds: meta.TTLSeconds, LastUpdated: meta.LastUpdated})
	}
	return stats, nil
}

func (s *MemoryStore) Paused(context.Context) (bool, string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, s.pausedBy, s.pausedAt, nil
}

func (s *MemoryStore) SetPaused(_ context.Context, paused bool, pausedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused, s.pausedBy, s.pausedAt = paused, pausedBy, time.Now()
	return nil
}

func (s *MemoryStore) Healthy(context.Context) bool { return true }
