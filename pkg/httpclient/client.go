// Package httpclient implements the HTTP Client Pool (C1): one
// rate-limited, circuit-broken, retrying client per external service
// (SafetyAmp, Samsara, Microsoft Graph).
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/iius-rcox/safetyamp-sync/internal/model"
	"github.com/iius-rcox/safetyamp-sync/internal/syncerrors"
	"github.com/iius-rcox/safetyamp-sync/internal/telemetry"
)

// CallRecorder receives one APICallRecord per outbound HTTP call. The
// apitracker package implements this to feed the bounded API call ring.
type CallRecorder func(model.APICallRecord)

// Client wraps http.Client with a per-service rate limiter, circuit
// breaker, and bounded retry-with-backoff on 429 and transient network
// failures.
type Client struct {
	service    string
	baseURL    string
	http       *http.Client
	limiter    *RateLimiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	logger     *slog.Logger
	authorize  func(*http.Request)
	recorder   CallRecorder
}

// Options configures a Client.
type Options struct {
	Service        string
	BaseURL        string
	RateLimitCalls int
	RateLimitPeriod time.Duration
	MaxRetries     int
	Timeout        time.Duration
	Authorize      func(*http.Request)
	Recorder       CallRecorder
	Logger         *slog.Logger
}

// New creates a Client for one external service.
func New(opts Options) *Client {
	stateGauge := telemetry.CircuitBreakerState.WithLabelValues(opts.Service)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Service,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			stateGauge.Set(float64(to))
			_ = from
		},
	})

	return &Client{
		service:    opts.Service,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		http:       &http.Client{Timeout: opts.Timeout},
		limiter:    NewRateLimiter(opts.Service, opts.RateLimitCalls, opts.RateLimitPeriod),
		breaker:    breaker,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger,
		authorize:  opts.Authorize,
		recorder:   opts.Recorder,
	}
}

type httpResult struct {
	status int
	body   []byte
}

// Do performs one logical call in at most maxRetries attempts,
// retrying on 429 and transient network errors with exponential
// backoff capped at 60s.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, correlationID string) ([]byte, int, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("rate limiter wait: %w", err)
		}

		start := time.Now()
		raw, err := c.breaker.Execute(func() (any, error) {
			return c.doOnce(ctx, method, path, body)
		})
		duration := time.Since(start)

		var status int
		var respBody []byte
		if res, ok := raw.(*httpResult); ok {
			status = res.status
			respBody = res.body
		}

		c.record(method, path, status, duration, err, correlationID)

		if err == nil {
			return respBody, status, nil
		}
		lastErr = err

		var rl *syncerrors.RateLimitError
		var ne *syncerrors.NetworkError
		retryable := false
		switch {
		case isRateLimit(err, &rl):
			retryable = true
		case isNetwork(err, &ne):
			retryable = true
		}

		if !retryable || attempt == c.maxRetries-1 {
			return nil, status, lastErr
		}

		wait := backoffDuration(attempt)
		c.logger.Warn("retrying request", "service", c.service, "path", path, "attempt", attempt+1, "wait", wait, "error", err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, status, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, 0, lastErr
}

func isRateLimit(err error, target **syncerrors.RateLimitError) bool {
	var rl *syncerrors.RateLimitError
	if e, ok := err.(*syncerrors.RateLimitError); ok {
		rl = e
		*target = rl
		return true
	}
	return false
}

func isNetwork(err error, target **syncerrors.NetworkError) bool {
	var ne *syncerrors.NetworkError
	if e, ok := err.(*syncerrors.NetworkError); ok {
		ne = e
		*target = ne
		return true
	}
	return false
}

// backoffDuration implements min(2^attempt, 60) seconds.
func backoffDuration(attempt int) time.Duration {
	secs := math.Pow(2, float64(attempt))
	if secs > 60 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) (any, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &syncerrors.UnexpectedError{Cause: fmt.Errorf("building request: %w", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.authorize != nil {
		c.authorize(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &syncerrors.NetworkError{Service: c.service, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &syncerrors.NetworkError{Service: c.service, Cause: err}
	}

	result := &httpResult{status: resp.StatusCode, body: respBody}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return result, &syncerrors.RateLimitError{Service: c.service, RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return result, &syncerrors.ValidationError{Message: "unprocessable entity", Body: respBody}
	case resp.StatusCode >= 400:
		return result, &syncerrors.HTTPError{StatusCode: resp.StatusCode, Service: c.service, Endpoint: path, Body: respBody}
	}
	return result, nil
}

func parseRetryAfter(v string) int {
	if v == "" {
		return 1
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return 1
}

func (c *Client) record(method, path string, status int, duration time.Duration, err error, correlationID string) {
	statusLabel := strconv.Itoa(status)
	if status == 0 {
		statusLabel = "error"
	}
	telemetry.HTTPClientRequestsTotal.WithLabelValues(c.service, method, statusLabel).Inc()

	if c.recorder == nil {
		return
	}
	rec := model.APICallRecord{
		Timestamp:     time.Now().UTC(),
		Service:       c.service,
		Method:        method,
		Endpoint:      path,
		StatusCode:    status,
		DurationMS:    float64(duration.Microseconds()) / 1000.0,
		CorrelationID: correlationID,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	c.recorder(rec)
}

// Get performs a GET request and decodes the JSON response into v.
func (c *Client) Get(ctx context.Context, path string, v any, correlationID string) error {
	body, _, err := c.Do(ctx, http.MethodGet, path, nil, correlationID)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(body, v)
}

// PostJSON performs a POST with a JSON-encoded body and decodes the
// response into v (which may be nil to discard the body).
func (c *Client) PostJSON(ctx context.Context, path string, payload any, v any, correlationID string) error {
	return c.writeJSON(ctx, http.MethodPost, path, payload, v, correlationID)
}

// PatchJSON performs a PATCH with a JSON-encoded body.
func (c *Client) PatchJSON(ctx context.Context, path string, payload any, v any, correlationID string) error {
	return c.writeJSON(ctx, http.MethodPatch, path, payload, v, correlationID)
}

func (c *Client) writeJSON(ctx context.Context, method, path string, payload any, v any, correlationID string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request payload: %w", err)
	}
	body, _, err := c.Do(ctx, method, path, raw, correlationID)
	if err != nil {
		return err
	}
	if v == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
