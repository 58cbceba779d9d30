// Package retry runs operations with exponential backoff and jitter.
// Used around rank API fetches, snapshot persistence and cache reads.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ════════════════════════════════════════════════════════════════════════════
// Error marks
// ════════════════════════════════════════════════════════════════════════════

type mark uint8

const (
	markRetry mark = iota + 1
	markStop
)

type markedError struct {
	err  error
	mark mark
}

func (e *markedError) Error() string { return e.err.Error() }
func (e *markedError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt. nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, mark: markRetry}
}

// Permanent marks err so that Do returns it at once, whatever RetryIf says.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, mark: markStop}
}

func hasMark(err error, m mark) bool {
	var me *markedError
	return errors.As(err, &me) && me.mark == m
}

// unmark strips a mark applied directly to err. Marks deeper in the chain
// belong to someone else's wrapping and stay.
func unmark(err error) error {
	if me, ok := err.(*markedError); ok {
		return me.err
	}
	return err
}

// ════════════════════════════════════════════════════════════════════════════
// Policy
// ════════════════════════════════════════════════════════════════════════════

// Policy is the backoff schedule.
type Policy struct {
	// Attempts includes the first call.
	Attempts int
	Base     time.Duration
	Cap      time.Duration
	Factor   float64
	// Jitter spreads each delay by ±Jitter of itself.
	Jitter float64
}

var defaultPolicy = Policy{
	Attempts: 3,
	Base:     100 * time.Millisecond,
	Cap:      30 * time.Second,
	Factor:   2,
	Jitter:   0.1,
}

// Option tunes a Retrier.
type Option func(*Retrier)

// WithMaxAttempts sets the number of calls, the first one included.
func WithMaxAttempts(n int) Option {
	return func(r *Retrier) {
		if n > 0 {
			r.policy.Attempts = n
		}
	}
}

// WithBackoff sets the first delay and the largest single delay.
func WithBackoff(base, ceiling time.Duration) Option {
	return func(r *Retrier) {
		if base > 0 {
			r.policy.Base = base
		}
		if ceiling > 0 {
			r.policy.Cap = ceiling
		}
	}
}

// WithJitter sets the jitter fraction in [0, 1].
func WithJitter(j float64) Option {
	return func(r *Retrier) {
		if j >= 0 && j <= 1 {
			r.policy.Jitter = j
		}
	}
}

// WithRetryIf replaces the default predicate, which retries only errors
// marked by Retryable.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryIf = fn }
}

// WithOnRetry is called before each wait with the failed attempt number.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// WithSleep replaces the wait. Tests pass a no-op.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retrier) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// ════════════════════════════════════════════════════════════════════════════
// Retrier
// ════════════════════════════════════════════════════════════════════════════

// Retrier repeats an operation according to its Policy.
type Retrier struct {
	policy  Policy
	retryIf func(error) bool
	onRetry func(attempt int, err error, delay time.Duration)
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Retrier with the default policy.
func New(opts ...Option) *Retrier {
	return newRetrier(defaultPolicy, opts)
}

func newRetrier(p Policy, opts []Option) *Retrier {
	r := &Retrier{policy: p, sleep: sleepCtx}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the schedule in effect.
func (r *Retrier) Policy() Policy { return r.policy }

// Do calls op until it succeeds, fails with an error that is not retried,
// runs out of attempts or ctx ends. The returned error carries no marks.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= r.policy.Attempts || !r.shouldRetry(err) {
			return unmark(err)
		}

		delay := r.Backoff(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}
		if r.sleep(ctx, delay) != nil {
			return unmark(err)
		}
	}
}

func (r *Retrier) shouldRetry(err error) bool {
	switch {
	case hasMark(err, markStop):
		return false
	case r.retryIf != nil:
		return r.retryIf(err)
	default:
		return hasMark(err, markRetry)
	}
}

// Backoff is the wait after the given failed attempt (1-based).
func (r *Retrier) Backoff(attempt int) time.Duration {
	d := float64(r.policy.Base)
	for i := 1; i < attempt && d < float64(r.policy.Cap); i++ {
		d *= r.policy.Factor
	}
	d = min(d, float64(r.policy.Cap))
	if r.policy.Jitter > 0 {
		d *= 1 + r.policy.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(max(d, 0))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DoWithData retries an operation that yields a value.
func DoWithData[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// ════════════════════════════════════════════════════════════════════════════
// Presets
// ════════════════════════════════════════════════════════════════════════════

// RankAPIRetrier is tuned for the remote rank service: few attempts, wide jitter.
func RankAPIRetrier(opts ...Option) *Retrier {
	return newRetrier(Policy{Attempts: 3, Base: 300 * time.Millisecond, Cap: 5 * time.Second, Factor: 2, Jitter: 0.2}, opts)
}

// DatabaseRetrier is tuned for snapshot reads and writes.
func DatabaseRetrier(opts ...Option) *Retrier {
	return newRetrier(Policy{Attempts: 3, Base: 50 * time.Millisecond, Cap: time.Second, Factor: 2, Jitter: 0.05}, opts)
}

// CacheRetrier retries redis once, quickly.
func CacheRetrier(opts ...Option) *Retrier {
	return newRetrier(Policy{Attempts: 2, Base: 20 * time.Millisecond, Cap: 100 * time.Millisecond, Factor: 2}, opts)
}
