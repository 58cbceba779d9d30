package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func do(ctx context.Context, op func(context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	var calls int
	var retried []int
	err := do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("flaky"))
		}
		return nil
	}, WithMaxAttempts(5), WithSleep(noSleep), WithOnRetry(func(attempt int, _ error, _ time.Duration) {
		retried = append(retried, attempt)
	}))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ExhaustedReturnsUnwrappedError(t *testing.T) {
	cause := errors.New("Network error")
	var calls int
	err := do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(cause)
	}, WithMaxAttempts(3), WithSleep(noSleep))

	assert.Equal(t, 3, calls)
	assert.Same(t, cause, err)
	assert.Equal(t, "Network error", err.Error())
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	cause := errors.New("bad request")
	var calls int
	err := do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(cause)
	}, WithSleep(noSleep))

	assert.Equal(t, 1, calls)
	assert.Same(t, cause, err)
}

func TestDo_PlainErrorIsNotRetriedByDefault(t *testing.T) {
	var calls int
	err := do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("plain")
	}, WithSleep(noSleep))

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryIf(t *testing.T) {
	target := errors.New("retry me")
	var calls int
	err := do(context.Background(), func(context.Context) error {
		calls++
		return target
	}, WithMaxAttempts(4), WithSleep(noSleep), WithRetryIf(func(err error) bool {
		return errors.Is(err, target)
	}))

	assert.ErrorIs(t, err, target)
	assert.Equal(t, 4, calls)
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cause := errors.New("down")
	var calls int
	err := do(ctx, func(context.Context) error {
		calls++
		return Retryable(cause)
	}, WithMaxAttempts(5), WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	assert.Equal(t, 1, calls)
	assert.Same(t, cause, err)
}

func TestDoWithData(t *testing.T) {
	r := New(WithSleep(noSleep))
	var calls int
	v, err := DoWithData(context.Background(), r, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", Retryable(errors.New("once"))
		}
		return "Ajaw", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Ajaw", v)
}

func TestDo_PermanentBeatsRetryIf(t *testing.T) {
	var calls int
	err := do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errors.New("gone"))
	}, WithSleep(noSleep), WithRetryIf(func(error) bool { return true }))

	assert.EqualError(t, err, "gone")
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	err := do(ctx, func(context.Context) error { calls++; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestBackoff(t *testing.T) {
	r := New(WithBackoff(100*time.Millisecond, 300*time.Millisecond), WithJitter(0))
	assert.Equal(t, 100*time.Millisecond, r.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, r.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, r.Backoff(3))
	assert.Equal(t, 300*time.Millisecond, r.Backoff(40))

	j := New(WithBackoff(100*time.Millisecond, 0), WithJitter(0.5))
	for range 50 {
		d := j.Backoff(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestPresets(t *testing.T) {
	assert.Equal(t, 3, RankAPIRetrier().Policy().Attempts)
	assert.Equal(t, 1, RankAPIRetrier(WithMaxAttempts(1)).Policy().Attempts)
	assert.Equal(t, 50*time.Millisecond, DatabaseRetrier().Policy().Base)
	assert.Equal(t, 2, CacheRetrier().Policy().Attempts)
	assert.Zero(t, CacheRetrier().Policy().Jitter)
}
