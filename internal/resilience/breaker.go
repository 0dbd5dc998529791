// Package resilience keeps a run alive when an LLM backend misbehaves: a
// [Breaker] stops calling a backend after repeated failures, and [Failover]
// chains several backends behind a single [llm.Provider].
//
// The agent loop itself never retries; everything here happens inside one
// Complete call.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/campusagent/internal/observe"
)

// ErrCircuitOpen is returned by [Breaker.Do] without calling the function
// while the breaker is open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the mode of a [Breaker].
type State int

const (
	// StateClosed passes every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown has passed.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero fields take the documented defaults.
type BreakerConfig struct {
	// Name labels log records.
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 5.
	Threshold int

	// Cooldown is how long the breaker stays open. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close
	// again; at most this many probes run at once. Default: 1.
	Probes int
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	probes    int
	now       func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int // half-open probes currently running
	successes int // half-open probes that succeeded
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		probes:    cfg.Probes,
		now:       time.Now,
	}
}

// Do calls fn unless the breaker is open. Failures caused by the caller
// cancelling ctx are not held against the backend.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.settle(ctx, probe, err, ctx.Err() != nil)
	return err
}

func (b *Breaker) admit(ctx context.Context) (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.inFlight, b.successes = 0, 0
		observe.Logger(ctx).Info("circuit half-open", "name", b.name)
	}
	if b.state == StateHalfOpen {
		if b.inFlight >= b.probes {
			return false, ErrCircuitOpen
		}
		b.inFlight++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) settle(ctx context.Context, probe bool, err error, cancelled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.inFlight--
	}
	switch {
	case err != nil && cancelled:
		// The caller gave up; say nothing about the backend.
	case err != nil && probe:
		b.trip(ctx)
	case err != nil:
		b.failures++
		if b.state == StateClosed && b.failures >= b.threshold {
			b.trip(ctx)
		}
	case probe:
		b.successes++
		if b.state == StateHalfOpen && b.successes >= b.probes {
			b.state = StateClosed
			b.failures = 0
			observe.Logger(ctx).Info("circuit closed", "name", b.name)
		}
	default:
		b.failures = 0
	}
}

// trip opens the breaker. b.mu must be held.
func (b *Breaker) trip(ctx context.Context) {
	b.state = StateOpen
	b.openedAt = b.now()
	observe.Logger(ctx).Warn("circuit opened", "name", b.name, "consecutive_failures", b.failures)
}

// State returns the current state. An open breaker whose cooldown has passed
// reports [StateHalfOpen].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures, b.inFlight, b.successes = 0, 0, 0
}
