// Package resilience guards calls to the embedding and generation providers
// with a circuit breaker and a rate limiter.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls flow
	StateOpen                  // calls are rejected until the cooldown ends
	StateHalfOpen              // a limited number of probes decide the next state
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the provider while the breaker
// is open or its probes are used up.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures a Breaker.
type BreakerOpts struct {
	// Name identifies the guarded provider in logs and metrics.
	Name string
	// FailThreshold is how many consecutive counted failures open the breaker.
	FailThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// HalfOpenMax is the number of concurrent probes allowed when half-open.
	HalfOpenMax int
	// Counts reports whether an error counts as a provider failure.
	// Nil counts every error except caller cancellation and Permanent
	// errors, which describe the request rather than the provider.
	Counts func(error) bool
	// OnChange is called after each transition, outside the breaker lock.
	OnChange func(name string, from, to State)
}

// DefaultBreakerOpts opens after 5 consecutive failures and probes after 30s.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Cooldown:      30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker implements a circuit breaker with closed/open/half-open states.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	failures int
	openedAt time.Time
	probes   int
	now      func() time.Time
}

// NewBreaker creates a circuit breaker. Zero options take the defaults.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerOpts.Cooldown
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	if opts.Counts == nil {
		opts.Counts = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !IsPermanent(err)
		}
	}
	return &Breaker{opts: opts, now: time.Now}
}

// Name returns the configured provider name.
func (b *Breaker) Name() string { return b.opts.Name }

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, to := b.advance()
	b.mu.Unlock()
	b.notify(from, to)
	return to
}

// advance moves open to half-open once the cooldown has elapsed and returns
// the state before and after. Must hold mu.
func (b *Breaker) advance() (State, State) {
	from := b.state
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.state = StateHalfOpen
		b.probes = 0
	}
	return from, b.state
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.opts.OnChange != nil {
		b.opts.OnChange(b.opts.Name, from, to)
	}
}

// Call runs f unless the breaker rejects it with ErrCircuitOpen. Counted
// failures move the breaker toward open; a success closes it.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	b.mu.Lock()
	from, st := b.advance()
	if st == StateOpen || (st == StateHalfOpen && b.probes >= b.opts.HalfOpenMax) {
		b.mu.Unlock()
		b.notify(from, st)
		return ErrCircuitOpen
	}
	if st == StateHalfOpen {
		b.probes++
	}
	b.mu.Unlock()
	b.notify(from, st)

	err := f(ctx)

	b.mu.Lock()
	before := b.state
	switch {
	case err != nil && b.opts.Counts(err):
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.probes = 0
		}
	case err != nil:
		// Not the provider's fault: release the probe without judging.
		if b.state == StateHalfOpen && b.probes > 0 {
			b.probes--
		}
	default:
		// A late success from before the breaker opened leaves it open.
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.probes = 0
		}
		b.failures = 0
	}
	after := b.state
	b.mu.Unlock()
	b.notify(before, after)
	return err
}
