package httpclient

import (
	"context"
	"sync"
	"time"

	"github.com/iius-rcox/safetyamp-sync/internal/telemetry"
)

// RateLimiter is a sliding-window token bucket: at most max calls may
// be in flight within any trailing window of length period. It is the
// Go-native equivalent of a calls-per-period budget, used to keep the
// reconciler under each external service's published rate limit
// (SafetyAmp: 60 calls / 61s, Samsara: 25 calls / 1s).
type RateLimiter struct {
	mu      sync.Mutex
	service string
	max     int
	period  time.Duration
	calls   []time.Time
}

// NewRateLimiter creates a limiter admitting at most max calls per period.
func NewRateLimiter(service string, max int, period time.Duration) *RateLimiter {
	return &RateLimiter{service: service, max: max, period: period, calls: make([]time.Time, 0, max)}
}

// Wait blocks until a slot is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	defer func() {
		telemetry.RateLimitWaitSeconds.WithLabelValues(r.service).Observe(time.Since(start).Seconds())
	}()

	for {
		r.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-r.period)
		kept := r.calls[:0]
		for _, t := range r.calls {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		r.calls = kept

		if len(r.calls) < r.max {
			r.calls = append(r.calls, now)
			r.mu.Unlock()
			return nil
		}

		sleepFor := r.calls[0].Add(r.period).Sub(now)
		r.mu.Unlock()

		if sleepFor <= 0 {
			continue
		}
		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
