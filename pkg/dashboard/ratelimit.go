package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iius-rcox/safetyamp-sync/internal/httpserver"
)

// callerRateLimiter limits requests per caller IP within a tier using
// Redis INCR + EXPIRE, generalizing the teacher's login rate limiter
// (internal/auth/ratelimit.go) from a single fixed tier to one
// instance per endpoint class (standard/expensive/mutating).
type callerRateLimiter struct {
	rdb    *redis.Client
	tier   string
	max    int
	window time.Duration
}

func newCallerRateLimiter(rdb *redis.Client, tier string, max int, window time.Duration) *callerRateLimiter {
	return &callerRateLimiter{rdb: rdb, tier: tier, max: max, window: window}
}

func (rl *callerRateLimiter) key(caller string) string {
	return fmt.Sprintf("safetyamp:dashboard_ratelimit:%s:%s", rl.tier, caller)
}

// allow increments the caller's counter and reports whether the
// request is within the tier's budget. A Redis outage fails open
// (allowed=true) so dashboard availability never depends on the cache
// tier being up.
func (rl *callerRateLimiter) allow(ctx context.Context, caller string) (bool, error) {
	key := rl.key(caller)

	pipe := rl.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return true, nil
		}
		return true, fmt.Errorf("checking dashboard rate limit: %w", err)
	}

	return incr.Val() <= int64(rl.max), nil
}

// middleware wraps next, rejecting callers over budget with 429.
func (rl *callerRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := callerIP(r)
		allowed, err := rl.allow(r.Context(), caller)
		if err != nil {
			// Redis outage: fail open, as allow documents.
			allowed = true
		}
		if !allowed {
			httpserver.RespondError(w, http.StatusTooManyRequests, "rate_limited",
				fmt.Sprintf("too many requests, limit is %d per %s", rl.max, rl.window))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
