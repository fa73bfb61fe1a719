package rest

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

// Limiter paces calls with a token bucket and supports server-requested
// pauses such as a 429 Retry-After.
type Limiter struct {
	mu     sync.Mutex
	until  time.Time
	bucket *rate.Limiter
}

// NewLimiter creates a limiter allowing callsPerMinute. Zero or less means
// unlimited.
func NewLimiter(callsPerMinute int) *Limiter {
	limit := rate.Inf
	if callsPerMinute > 0 {
		limit = rate.Limit(float64(callsPerMinute) / 60)
	}
	return &Limiter{bucket: rate.NewLimiter(limit, 1)}
}

// Wait blocks until a call may be made.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}

	if d := time.Until(l.PausedUntil()); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Pause holds every call for d. Overlapping pauses keep the later end.
func (l *Limiter) Pause(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := time.Now().Add(d); until.After(l.until) {
		l.until = until
	}
}

// PausedUntil returns the end of the current pause, zero if none was set.
func (l *Limiter) PausedUntil() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.until
}

// Retry calls fn until it succeeds, fails permanently or maxRetries retries
// are spent. The delay doubles after each failure. Failures carrying a
// RetryAfter are retried without a local delay; the limiter holds that pause.
func Retry(ctx context.Context, maxRetries int, delay time.Duration, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) || attempt >= maxRetries {
			return err
		}

		var re *domain.RemoteError
		if !errors.As(err, &re) || re.RetryAfter == 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		delay *= 2
	}
}
