// Package circuitbreaker guards calls to external dependencies (the hint
// classifier, tier backends) so a failing dependency is short-circuited
// instead of dragging the router down with it. Each open period one trial
// call probes for recovery; repeated trial failures advance the cooldown
// along a bounded, capped backoff sequence.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("alice/breaker")

// State represents the current state of a circuit breaker.
type State int

const (
	// StateClosed - requests pass through while consecutive failures are counted.
	StateClosed State = iota
	// StateOpen - requests fail fast without invoking the dependency.
	StateOpen
	// StateHalfOpen - a single trial call is allowed to probe recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Predefined errors.
var (
	// ErrOpen is returned when a call is rejected because the breaker is open.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTrialInFlight is returned when the half-open trial slot is taken.
	ErrTrialInFlight = errors.New("circuit breaker trial already in flight")
)

// Config holds tuning for a breaker.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold uint32

	// BaseCooldown is the open duration after the first trip. Every re-open
	// from HALF_OPEN doubles it, capped at MaxCooldown; a successful close
	// resets the sequence.
	BaseCooldown time.Duration

	// MaxCooldown caps the backoff sequence.
	MaxCooldown time.Duration

	// IsSuccessful decides whether an error counts as a failure. Defaults to
	// err == nil.
	IsSuccessful func(err error) bool

	// OnStateChange is called on every transition.
	OnStateChange func(name string, from, to State)
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.BaseCooldown <= 0 {
		c.BaseCooldown = time.Second
	}
	if c.MaxCooldown < c.BaseCooldown {
		c.MaxCooldown = 60 * time.Second
	}
	if c.IsSuccessful == nil {
		c.IsSuccessful = func(err error) bool { return err == nil }
	}
	return c
}

// Counts holds request/failure counters for one generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

func (c *Counts) onRequest() { c.Requests++ }

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() { *c = Counts{} }

// Breaker is a single dependency's circuit breaker. The short-circuit
// decision is O(1) under a per-breaker mutex and never invokes the dependency.
// Tuning is re-read on every call, so runtime config updates reach breakers
// that already exist.
type Breaker struct {
	name     string
	settings func() Config

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	openedAt   time.Time
	cooldown   time.Duration
	now        func() time.Time
}

// New creates a breaker for one named dependency with fixed tuning.
func New(name string, cfg Config) *Breaker {
	return NewWithSettings(name, func() Config { return cfg })
}

// NewWithSettings creates a breaker whose tuning is re-read per call.
func NewWithSettings(name string, settings func() Config) *Breaker {
	b := &Breaker{
		name:     name,
		settings: settings,
		now:      time.Now,
	}
	b.cooldown = b.config().BaseCooldown
	return b
}

func (b *Breaker) config() Config { return b.settings().withDefaults() }

// Name returns the dependency id this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, accounting for cooldown expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(b.now())
	return state
}

// Counts returns a copy of the current generation's counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// RetryAfter reports how long until the breaker will allow a trial call.
// Zero when the breaker is not open.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if state, _ := b.currentState(now); state != StateOpen {
		return 0
	}
	return b.openedAt.Add(b.cooldown).Sub(now)
}

// Call runs fn through the breaker. If the breaker rejects the call, fn is
// never invoked and ErrOpen (or ErrTrialInFlight) is returned.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	generation, err := b.beforeRequest()
	if err != nil {
		return err
	}

	defer func() {
		if e := recover(); e != nil {
			b.afterRequest(generation, false)
			panic(e)
		}
	}()

	result := fn(ctx)
	b.afterRequest(generation, b.config().IsSuccessful(result))
	return result
}

func (b *Breaker) beforeRequest() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state, generation := b.currentState(now)

	switch state {
	case StateOpen:
		return generation, ErrOpen
	case StateHalfOpen:
		if b.counts.Requests >= 1 {
			return generation, ErrTrialInFlight
		}
	}

	b.counts.onRequest()
	return generation, nil
}

func (b *Breaker) afterRequest(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state, generation := b.currentState(now)
	if generation != before {
		return
	}

	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	b.counts.onSuccess()
	if state == StateHalfOpen {
		// Trial succeeded: close and reset the backoff sequence.
		b.cooldown = b.config().BaseCooldown
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	b.counts.onFailure()
	cfg := b.config()

	switch state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= cfg.FailureThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		// Trial failed: re-open with the cooldown advanced one step.
		b.cooldown *= 2
		if b.cooldown > cfg.MaxCooldown {
			b.cooldown = cfg.MaxCooldown
		}
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	if b.state == StateOpen && !now.Before(b.openedAt.Add(b.cooldown)) {
		b.setState(StateHalfOpen, now)
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state

	b.generation++
	consecutive := b.counts.ConsecutiveFailures
	b.counts.clear()
	if state == StateOpen {
		b.openedAt = now
	}

	log.Infow("state changed",
		"dependency_id", b.name,
		"from", prev.String(),
		"new_state", state.String(),
		"consecutive_failures", consecutive,
		"cooldown", b.cooldown,
	)
	if hook := b.config().OnStateChange; hook != nil {
		hook(b.name, prev, state)
	}
}
