package github

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRateLimitCooldown is how long to wait before the single retry of a rate-limited request
const DefaultRateLimitCooldown = 50 * time.Minute

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext is the production SleepFunc
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RateLimitTransport retries a request exactly once, after a fixed cooldown,
// when GitHub answers 429 or 403 with a rate limit message. It can also pace
// outgoing requests with a token bucket limiter.
type RateLimitTransport struct {
	base     http.RoundTripper
	cooldown time.Duration
	limiter  *rate.Limiter
	sleep    SleepFunc
	logger   *slog.Logger
	sent     atomic.Int64
}

// NewRateLimitTransport returns a transport that wraps base. An interval of
// zero disables pacing.
func NewRateLimitTransport(base http.RoundTripper, cooldown, interval time.Duration, logger *slog.Logger) *RateLimitTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	return &RateLimitTransport{
		base:     base,
		cooldown: cooldown,
		limiter:  rate.NewLimiter(limit, 1),
		sleep:    sleepContext,
		logger:   logger,
	}
}

// RoundTrip implements http.RoundTripper
func (t *RateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.sent.Add(1)
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	limited, err := isRateLimited(resp)
	if err != nil {
		return nil, err
	}
	if !limited {
		return resp, nil
	}

	retry, err := rewindRequest(req)
	if err != nil {
		return resp, nil
	}
	resp.Body.Close()

	t.logger.Warn("GitHub rate limit hit, sleeping before a single retry",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"cooldown", t.cooldown)

	if err := t.sleep(req.Context(), t.cooldown); err != nil {
		return nil, fmt.Errorf("rate limit cooldown interrupted: %w", err)
	}

	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(retry)
}

// Requests returns how many requests have entered the transport
func (t *RateLimitTransport) Requests() int64 {
	return t.sent.Load()
}

// Cooldown waits out the configured rate limit cooldown
func (t *RateLimitTransport) Cooldown(ctx context.Context) error {
	return t.sleep(ctx, t.cooldown)
}

// isRateLimited reports whether resp is a rate limit or abuse detection answer.
// The body is buffered and restored so callers can still read it.
func isRateLimited(resp *http.Response) (bool, error) {
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusForbidden {
		return false, nil
	}

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return false, fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))

	return strings.Contains(strings.ToLower(string(data)), "rate limit"), nil
}

// rewindRequest returns a copy of req with a fresh body for resending
func rewindRequest(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	retry.Body = body
	return retry, nil
}
