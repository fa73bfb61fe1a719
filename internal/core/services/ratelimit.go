package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket paces remote calls to one store. Tokens refill continuously at
// calls-per-minute / 60 per second and never accumulate beyond one, so a
// quiet period cannot turn into a burst.
type TokenBucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// NewTokenBucket creates a bucket. A non-positive budget means unlimited.
func NewTokenBucket(callsPerMinute int) *TokenBucket {
	if callsPerMinute <= 0 {
		return &TokenBucket{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(float64(callsPerMinute)/60), 1)}
}

// Wait blocks until a token is available or ctx ends.
// It also honours any pause set by Pause.
func (b *TokenBucket) Wait(ctx context.Context) error {
	b.mu.Lock()
	retryAt := b.retryAt
	b.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	return b.limiter.Wait(ctx)
}

// Pause holds every caller of the bucket for d. Call it when the store
// answers 429 with a Retry-After so other workers back off too.
func (b *TokenBucket) Pause(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if until := time.Now().Add(d); until.After(b.retryAt) {
		b.retryAt = until
	}
}

// Limit returns the refill rate in calls per second.
func (b *TokenBucket) Limit() rate.Limit {
	return b.limiter.Limit()
}
