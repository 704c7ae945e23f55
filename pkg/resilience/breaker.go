// Package resilience provides a circuit breaker for calls to external
// services. Retry handles transient blips; the breaker handles the other
// failure mode, a dependency that is down for minutes, by failing fast
// instead of letting every caller wait out its full retry budget.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nybblers/redditdemand/pkg/fn"
)

// ErrOpen is returned when the breaker rejects a call without running it.
var ErrOpen = errors.New("resilience: circuit open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// BreakerOpts tunes a Breaker.
type BreakerOpts struct {
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Cooldown is how long the breaker stays open before letting a
	// probe call through.
	Cooldown time.Duration
}

// DefaultBreakerOpts matches a flaky-but-recoverable HTTP dependency.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Cooldown:      30 * time.Second,
}

// Breaker is a consecutive-failure circuit breaker. Closed passes calls
// through; FailThreshold consecutive failures open it; after Cooldown a
// single probe call is allowed and its outcome closes or re-opens the
// breaker. Safe for concurrent use.
type Breaker struct {
	opts BreakerOpts

	mu       sync.Mutex
	state    state
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a Breaker. Zero-valued opts fields take defaults.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerOpts.Cooldown
	}
	return &Breaker{opts: opts}
}

// allow decides whether a call may proceed, transitioning open -> half-open
// once the cooldown has passed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(b.openedAt) < b.opts.Cooldown {
			return false
		}
		b.state = stateHalfOpen
		b.probing = true
		return true
	case stateHalfOpen:
		// One probe at a time.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

func (b *Breaker) observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.probing = false
	}
	if err == nil {
		b.state = stateClosed
		b.failures = 0
		return
	}
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.opts.FailThreshold {
		b.state = stateOpen
		b.openedAt = time.Now()
		b.failures = 0
	}
}

// Call runs f through the breaker. When the breaker is open, f is not run
// and ErrOpen is returned.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := f(ctx)
	b.observe(err)
	return err
}

// CallResult is Call for functions returning a value. Methods cannot be
// generic, so this is a free function over the breaker.
func CallResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	if !b.allow() {
		return fn.Err[T](ErrOpen)
	}
	r := f(ctx)
	_, err := r.Unwrap()
	b.observe(err)
	return r
}
