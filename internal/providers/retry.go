package providers

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig controls RetryDo's backoff schedule.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig matches the teacher's observed retry envelope for
// provider HTTP calls: 3 attempts, 500ms base, 8s cap, full jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// HTTPError wraps a non-2xx provider response.
type HTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return "provider http error: status " + strconv.Itoa(e.StatusCode) + ": " + e.Body
}

// retryable reports whether err is worth retrying: 429, 5xx, or a
// transport-level failure.
func retryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// RetryDo runs fn up to cfg.MaxAttempts times, backing off exponentially
// with full jitter between attempts, honoring Retry-After on 429s, and
// stopping early if ctx is done or the error isn't retryable.
func RetryDo(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts-1 || !retryable(lastErr) {
			return lastErr
		}

		delay := cfg.BaseDelay * time.Duration(1<<uint(attempt))
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		delay = time.Duration(rand.Int63n(int64(delay) + 1))

		var httpErr *HTTPError
		if errors.As(lastErr, &httpErr) && httpErr.RetryAfter > 0 {
			delay = httpErr.RetryAfter
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// ParseRetryAfter parses a Retry-After header value, which may be either
// a number of seconds or an HTTP-date.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
	}
	return 0
}

// CleanSchemaForProvider strips JSON-schema keys some providers reject
// (e.g. "$schema", "additionalProperties") so one ToolDefinition set can be
// sent to any family without per-provider branching at the call site.
func CleanSchemaForProvider(schema map[string]interface{}, providerName string) map[string]interface{} {
	if schema == nil {
		return nil
	}
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if k == "$schema" {
			continue
		}
		if providerName == "gemini" && k == "additionalProperties" {
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = CleanSchemaForProvider(nested, providerName)
			continue
		}
		out[k] = v
	}
	return out
}
