package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iius-rcox/safetyamp-sync/internal/telemetry"
)

const pausedKey = "safetyamp:sync:paused"
const pausedMetaKey = "safetyamp:sync:paused:metadata"

// releaseScript deletes a lock only if the stored token still matches
// the caller's own token — never an unconditional DEL.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// RedisStore is the production Store: Redis primary, on-disk secondary.
type RedisStore struct {
	rdb    *redis.Client
	diskDir string
	logger *slog.Logger
}

// NewRedisStore creates a tiered cache store. diskDir is created if it
// does not already exist.
func NewRedisStore(rdb *redis.Client, diskDir string, logger *slog.Logger) (*RedisStore, error) {
	if err := os.MkdirAll(diskDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &RedisStore{rdb: rdb, diskDir: diskDir, logger: logger}, nil
}

func (s *RedisStore) diskPaths(name, subKey string) (dataPath, metaPath string) {
	base := name
	if subKey != "" {
		base = name + "_" + subKey
	}
	return filepath.Join(s.diskDir, base+".json"), filepath.Join(s.diskDir, base+"_metadata.json")
}

func (s *RedisStore) Get(ctx context.Context, name, subKey string) ([]byte, Metadata, bool, error) {
	key, mkey := cacheKey(name, subKey), metaKey(name, subKey)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		metaRaw, merr := s.rdb.Get(ctx, mkey).Bytes()
		if merr != nil {
			// Data without metadata means "expired — treat as absent" (§3 invariant iii).
			s.logger.Warn("cache entry missing metadata twin, treating as absent", "cache", name)
			return nil, Metadata{}, false, nil
		}
		var meta Metadata
		if err := json.Unmarshal(metaRaw, &meta); err != nil {
			return nil, Metadata{}, false, fmt.Errorf("unmarshaling cache metadata: %w", err)
		}
		return data, meta, true, nil
	}
	if !errors.Is(err, redis.Nil) {
		s.logger.Warn("redis get failed, falling back to disk", "cache", name, "error", err)
	}

	return s.getFromDisk(name, subKey)
}

func (s *RedisStore) getFromDisk(name, subKey string) ([]byte, Metadata, bool, error) {
	dataPath, metaPath := s.diskPaths(name, subKey)
	data, err := os.ReadFile(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Metadata{}, false, nil
		}
		return nil, Metadata{}, false, fmt.Errorf("reading disk cache: %w", err)
	}
	metaRaw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, Metadata{}, false, nil
	}
	var meta Metadata
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return nil, Metadata{}, false, nil
	}
	return data, meta, true, nil
}

func (s *RedisStore) Save(ctx context.Context, name, subKey string, data []byte, ttl time.Duration, meta Metadata) error {
	key, mkey := cacheKey(name, subKey), metaKey(name, subKey)

	now := time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.LastUpdated = now
	meta.TTLSeconds = int(ttl.Seconds())
	meta.DataHash = dataHash(data)

	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling cache metadata: %w", err)
	}

	if err := s.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		s.logger.Warn("redis save failed, writing disk tier only", "cache", name, "error", err)
	} else if err := s.rdb.Set(ctx, mkey, metaRaw, ttl).Err(); err != nil {
		s.logger.Warn("redis metadata save failed", "cache", name, "error", err)
	}

	if err := s.saveToDisk(name, subKey, data, metaRaw); err != nil {
		s.logger.Warn("disk cache save failed", "cache", name, "error", err)
	}

	telemetry.CacheItemsTotal.WithLabelValues(name).Set(float64(meta.ItemCount))
	telemetry.CacheLastUpdatedTimestamp.WithLabelValues(name).Set(float64(now.Unix()))
	telemetry.CacheTTLSeconds.WithLabelValues(name).Set(ttl.Seconds())

	return nil
}

// saveToDisk writes via a temp-file-then-rename so a reader never
// observes a half-written file.
func (s *RedisStore) saveToDisk(name, subKey string, data, metaRaw []byte) error {
	dataPath, metaPath := s.diskPaths(name, subKey)
	if err := atomicWrite(dataPath, data); err != nil {
		return err
	}
	return atomicWrite(metaPath, metaRaw)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *RedisStore) IsValid(ctx context.Context, name, subKey string, maxAge time.Duration) (bool, error) {
	_, meta, ok, err := s.Get(ctx, name, subKey)
	if err != nil || !ok {
		return false, err
	}
	ref := meta.LastUpdated
	if !meta.LastRefresh.IsZero() {
		ref = meta.LastRefresh
	}
	return time.Since(ref) < maxAge, nil
}

func (s *RedisStore) Invalidate(ctx context.Context, name, subKey string) error {
	key, mkey := cacheKey(name, subKey), metaKey(name, subKey)
	if err := s.rdb.Del(ctx, key, mkey).Err(); err != nil {
		s.logger.Warn("redis invalidate failed", "cache", name, "error", err)
	}
	dataPath, metaPath := s.diskPaths(name, subKey)
	_ = os.Remove(dataPath)
	_ = os.Remove(metaPath)
	return nil
}

// LoadOrPopulate implements the stampede-protection protocol from §4.2:
// SET NX PX with a random token; the holder runs loader and releases
// conditionally; non-holders spin with jittered sleep and return
// whatever has been populated (or the last known value).
func (s *RedisStore) LoadOrPopulate(ctx context.Context, name, subKey string, ttl time.Duration, loader Loader) ([]byte, Metadata, error) {
	if data, meta, ok, err := s.Get(ctx, name, subKey); err == nil && ok {
		return data, meta, nil
	}

	lkey := lockKey(name, subKey)
	token := randomToken()
	lockTTL := clampLockTTL(ttl)

	acquired, err := s.rdb.SetNX(ctx, lkey, token, lockTTL).Result()
	if err != nil {
		s.logger.Warn("lock acquisition failed, proceeding unprotected", "cache", name, "error", err)
		acquired = true
	}

	if acquired {
		defer func() {
			if releaseErr := releaseScript.Run(ctx, s.rdb, []string{lkey}, token).Err(); releaseErr != nil {
				s.logger.Warn("lock release failed", "cache", name, "error", releaseErr)
			}
		}()

		data, meta, err := loader(ctx)
		if err != nil {
			return nil, Metadata{}, fmt.Errorf("populating cache %q: %w", name, err)
		}
		if err := s.Save(ctx, name, subKey, data, ttl, meta); err != nil {
			return nil, Metadata{}, err
		}
		return data, meta, nil
	}

	deadline := time.Now().Add(minDuration(30*time.Second, ttl/4))
	for time.Now().Before(deadline) {
		sleep := time.Duration(100+rand.Intn(400)) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, Metadata{}, ctx.Err()
		case <-time.After(sleep):
		}
		if data, meta, ok, err := s.Get(ctx, name, subKey); err == nil && ok {
			return data, meta, nil
		}
	}

	data, meta, _, err := s.Get(ctx, name, subKey)
	return data, meta, err
}

func (s *RedisStore) Stats(ctx context.Context, names []string) ([]Stat, error) {
	stats := make([]Stat, 0, len(names))
	for _, name := range names {
		_, meta, ok, err := s.Get(ctx, name, "")
		if err != nil {
			return nil, err
		}
		stats = append(stats, Stat{
			Name:        name,
			Exists:      ok,
			ItemCount:   meta.ItemCount,
			TTLSeconds:  meta.TTLSeconds,
			LastUpdated: meta.LastUpdated,
		})
	}
	return stats, nil
}

func (s *RedisStore) Paused(ctx context.Context) (bool, string, time.Time, error) {
	val, err := s.rdb.Get(ctx, pausedKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, "", time.Time{}, nil
	}
	if err != nil {
		return false, "", time.Time{}, fmt.Errorf("reading pause flag: %w", err)
	}

	var pausedBy string
	var pausedAt time.Time
	if metaRaw, err := s.rdb.Get(ctx, pausedMetaKey).Bytes(); err == nil {
		var meta struct {
			PausedBy string    `json:"paused_by"`
			PausedAt time.Time `json:"paused_at"`
		}
		if json.Unmarshal(metaRaw, &meta) == nil {
			pausedBy, pausedAt = meta.PausedBy, meta.PausedAt
		}
	}

	return val == "1", pausedBy, pausedAt, nil
}

func (s *RedisStore) SetPaused(ctx context.Context, paused bool, pausedBy string) error {
	val := "0"
	if paused {
		val = "1"
	}
	if err := s.rdb.Set(ctx, pausedKey, val, 0).Err(); err != nil {
		return fmt.Errorf("setting pause flag: %w", err)
	}

	meta := struct {
		PausedBy string    `json:"paused_by"`
		PausedAt time.Time `json:"paused_at"`
	}{PausedBy: pausedBy, PausedAt: time.Now().UTC()}
	metaRaw, _ := json.Marshal(meta)
	return s.rdb.Set(ctx, pausedMetaKey, metaRaw, 0).Err()
}

func (s *RedisStore) Healthy(ctx context.Context) bool {
	return s.rdb.Ping(ctx).Err() == nil
}

func dataHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
