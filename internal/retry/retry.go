// Package retry wraps a fallible operation with bounded attempts,
// classification-driven backoff, and cancellation-aware sleeping, per §4.4.
package retry

import (
	"context"
	"math/rand"
	"time"

	perr "fetchmcp/internal/platform/errors"
)

const (
	minAttempts = 1
	maxAttempts = 10

	rateLimitCap = 30 * time.Second
	backoffCap   = 10 * time.Second
	jitterFrac   = 0.25
)

// clampAttempts bounds retries to [1,10] per §4.4
func clampAttempts(retries int) int {
	if retries < minAttempts {
		return minAttempts
	}
	if retries > maxAttempts {
		return maxAttempts
	}
	return retries
}

// Do runs fn up to retries times (clamped to [1,10]). Between attempts it
// classifies the error: cancellation never retries; a RATE_LIMITED error
// sleeps min(retryAfter, 30s); any other retryable error sleeps an
// exponential backoff with ±25% jitter, capped at 10s. A non-retryable
// error returns immediately. After exhausting all attempts the last error
// is wrapped as "failed after N attempts: <cause>".
func Do[T any](ctx context.Context, retries int, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := clampAttempts(retries)
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, perr.Abortedf("retry cancelled before attempt %d", attempt)
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if perr.IsCode(err, perr.ErrorCodeAborted) {
			return zero, err
		}
		if !perr.Retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := delayFor(err, attempt)
		select {
		case <-ctx.Done():
			return zero, perr.Abortedf("retry cancelled during backoff")
		case <-time.After(delay):
		}
	}

	return zero, perr.Wrapf(lastErr, perr.CodeOf(lastErr), "failed after %d attempts: %v", attempts, lastErr)
}

// delayFor computes the backoff before the next attempt given the error
// that just occurred and the 1-based attempt number that failed
func delayFor(err error, attempt int) time.Duration {
	if perr.IsCode(err, perr.ErrorCodeRateLimited) {
		ms := rateLimitCap.Milliseconds()
		if e, ok := perr.As(err); ok && e.RetryAfterMs > 0 {
			ms = min(int64(e.RetryAfterMs), ms)
		}
		return time.Duration(ms) * time.Millisecond
	}
	base := 1000 * (1 << (attempt - 1))
	capped := min(int64(base), backoffCap.Milliseconds())
	return jitter(time.Duration(capped) * time.Millisecond)
}

// jitter scales d by a uniform factor in [1-jitterFrac, 1+jitterFrac]
func jitter(d time.Duration) time.Duration {
	factor := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(d) * factor)
}
