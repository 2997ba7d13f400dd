// Package retry implements the exponential backoff policy used around
// remote model calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// PermanentError indicates a non-retryable failure (bad request, auth
// failure, 4xx other than 429). The caller should surface it immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// RateLimitError indicates a 429 response. RetryAfter, when non-nil,
// is the server-suggested wait before retrying.
type RateLimitError struct {
	Err        error
	RetryAfter *time.Duration
}

func (e *RateLimitError) Error() string { return "rate limited: " + e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

// TransientError indicates a 5xx, timeout, or connection reset — safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Config controls backoff timing. Defaults mirror the reference
// implementation: base=1s, rate=2, max=60s, jitter=0.1, max_retries=3.
type Config struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	ExponentialBase float64
	Jitter         float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2,
		Jitter:          0.1,
	}
}

// DelayForAttempt returns the backoff delay for the given zero-based attempt
// number: min(base * rate^attempt, max) jittered by ±jitter*delay.
func (c Config) DelayForAttempt(attempt int) time.Duration {
	raw := float64(c.BaseDelay) * pow(c.ExponentialBase, attempt)
	if raw > float64(c.MaxDelay) {
		raw = float64(c.MaxDelay)
	}
	if c.Jitter > 0 {
		jitterRange := raw * c.Jitter
		raw += (rand.Float64()*2 - 1) * jitterRange
	}
	if raw < 0 {
		raw = 0
	}
	return time.Duration(raw)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// OnRetry is invoked before each sleep, with the error that triggered the
// retry and the zero-based attempt number that just failed.
type OnRetry func(err error, attempt int)

// Do runs fn, retrying on RateLimitError/TransientError per cfg. A
// PermanentError is returned immediately without retrying. context
// cancellation aborts the wait between attempts.
func Do[T any](ctx context.Context, cfg Config, onRetry OnRetry, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			return zero, err
		}

		var rlErr *RateLimitError
		var transErr *TransientError
		isRetryable := errors.As(err, &rlErr) || errors.As(err, &transErr)
		if !isRetryable {
			return zero, err
		}

		lastErr = err
		if attempt < cfg.MaxRetries {
			if onRetry != nil {
				onRetry(err, attempt)
			}
			delay := cfg.DelayForAttempt(attempt)
			if rlErr != nil && rlErr.RetryAfter != nil {
				delay = *rlErr.RetryAfter
			}
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return zero, fmt.Errorf("retry: exhausted %d attempts: %w", cfg.MaxRetries+1, lastErr)
}
