package rankapi

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig sizes the client-side token bucket.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// WaitTimeout caps how long one call may queue for a token.
	WaitTimeout time.Duration
}

// DefaultRateLimiterConfig returns conservative defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 5,
		BurstSize:         10,
		WaitTimeout:       5 * time.Second,
	}
}

// RateLimiter spaces out calls to the rank API. A zero rate turns the
// burst into a fixed budget.
type RateLimiter struct {
	bucket  *rate.Limiter
	maxWait time.Duration
}

func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		bucket:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.BurstSize, 1)),
		maxWait: cfg.WaitTimeout,
	}
}

// Wait takes a token, queueing for at most WaitTimeout. The reservation is
// given back when the caller stops waiting.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	res := rl.bucket.Reserve()
	if !res.OK() {
		return fmt.Errorf("%w: budget exhausted", ErrLocalRateLimit)
	}
	delay := res.Delay()
	if delay == 0 {
		return nil
	}
	if delay > rl.maxWait {
		res.Cancel()
		return fmt.Errorf("%w: retry after %s", ErrLocalRateLimit, delay.Round(time.Millisecond))
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		res.Cancel()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// TryAllow takes a token without waiting.
func (rl *RateLimiter) TryAllow() bool {
	return rl.bucket.Allow()
}

// RecordRateLimitHit drains the bucket after the server answered 429.
func (rl *RateLimiter) RecordRateLimitHit() {
	now := time.Now()
	if n := int(rl.bucket.TokensAt(now)); n > 0 {
		rl.bucket.ReserveN(now, n)
	}
}
