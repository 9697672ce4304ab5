package retry

import (
	"context"
	"testing"
	"time"

	perr "fetchmcp/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	t.Parallel()
	calls := 0
	got, err := Do(context.Background(), 3, func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()
	calls := 0
	_, err := Do(context.Background(), 5, func(ctx context.Context) (string, error) {
		calls++
		return "", perr.Validationf("bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesOn5xxThenSucceeds(t *testing.T) {
	t.Parallel()
	calls := 0
	got, err := Do(context.Background(), 3, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", perr.Newf(perr.ErrorCodeHTTP5xx, "upstream down")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttemptsAndWraps(t *testing.T) {
	t.Parallel()
	calls := 0
	_, err := Do(context.Background(), 2, func(ctx context.Context) (string, error) {
		calls++
		return "", perr.Newf(perr.ErrorCodeHTTP5xx, "still down")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "failed after 2 attempts")
}

func TestDo_ClampsAttemptsAboveTen(t *testing.T) {
	t.Parallel()
	calls := 0
	_, err := Do(context.Background(), 99, func(ctx context.Context) (string, error) {
		calls++
		return "", perr.Newf(perr.ErrorCodeHTTP5xx, "down")
	})
	require.Error(t, err)
	assert.Equal(t, maxAttempts, calls)
}

func TestDo_CancellationStopsImmediately(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, 5, func(ctx context.Context) (string, error) {
		calls++
		return "unreachable", nil
	})
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeAborted, perr.CodeOf(err))
	assert.Equal(t, 0, calls)
}

func TestDelayFor_RateLimitHonoursRetryAfter(t *testing.T) {
	t.Parallel()
	err := perr.WithRetryAfterMs(perr.Newf(perr.ErrorCodeRateLimited, "429"), 2000)
	d := delayFor(err, 1)
	assert.Equal(t, 2*time.Second, d)
}

func TestDelayFor_RateLimitCapsAt30s(t *testing.T) {
	t.Parallel()
	err := perr.WithRetryAfterMs(perr.Newf(perr.ErrorCodeRateLimited, "429"), 120_000)
	d := delayFor(err, 1)
	assert.Equal(t, 30*time.Second, d)
}

func TestDelayFor_ExponentialCapsAt10s(t *testing.T) {
	t.Parallel()
	err := perr.Newf(perr.ErrorCodeHTTP5xx, "down")
	d := delayFor(err, 20)
	assert.LessOrEqual(t, d, 10*time.Second+10*time.Second/4)
}
