package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("rate limited")

// LimiterOpts configures the token bucket rate limiter.
type LimiterOpts struct {
	// Rate is the number of calls allowed per second. Zero or less disables limiting.
	Rate float64
	// Burst is the maximum number of calls allowed at once.
	Burst int
}

// Limiter paces calls to a provider with a token bucket. A provider that
// answers 429 can hold every caller back with Pause.
type Limiter struct {
	lim *rate.Limiter

	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

// NewLimiter creates a token bucket rate limiter.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limit := rate.Limit(opts.Rate)
	if opts.Rate <= 0 {
		limit = rate.Inf
	}
	return &Limiter{lim: rate.NewLimiter(limit, opts.Burst), now: time.Now}
}

// Wait blocks until any pause has passed and a token is available, or ctx
// is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if d := l.remaining(); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := l.lim.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return nil
}

// Pause stops all callers for d. Overlapping pauses keep the later end.
func (l *Limiter) Pause(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if end := l.now().Add(d); end.After(l.until) {
		l.until = end
	}
}

func (l *Limiter) remaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.until.Sub(l.now())
}

// ThrottledError reports that the provider asked callers to slow down.
type ThrottledError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ThrottledError) Error() string { return e.Err.Error() }
func (e *ThrottledError) Unwrap() error { return e.Err }

// Throttled wraps err as a provider throttling response. retryAfter is the
// provider's Retry-After hint, zero when it gave none.
func Throttled(err error, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	return &ThrottledError{RetryAfter: retryAfter, Err: err}
}

// RetryAfter returns the pause requested by a throttled err. Throttling
// without a hint yields fallback.
func RetryAfter(err error, fallback time.Duration) (time.Duration, bool) {
	var t *ThrottledError
	if !errors.As(err, &t) {
		return 0, false
	}
	if t.RetryAfter > 0 {
		return t.RetryAfter, true
	}
	return fallback, true
}
