package catalog

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval is the minimum spacing between requests to one catalog.
const DefaultInterval = 1100 * time.Millisecond

// RateLimiter enforces a minimum interval between successive calls. The
// first call never waits. One limiter is owned by each catalog client and
// consulted before every request, including retries and detail fetches.
type RateLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewRateLimiter creates a limiter allowing one call per interval.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &RateLimiter{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// Wait blocks until the interval since the previous permitted call has
// elapsed or ctx is canceled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Interval returns the configured spacing.
func (r *RateLimiter) Interval() time.Duration { return r.interval }
