// Package breaker provides per-provider failure isolation.
// Each provider has exactly one breaker; state transitions are linearizable
// per provider so concurrent requests agree on who runs the half-open trial.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the current state of a circuit breaker.
type State int

const (
	// StateClosed allows requests to pass through normally.
	StateClosed State = iota
	// StateOpen rejects all requests without a network attempt.
	StateOpen
	// StateHalfOpen admits a single trial request after the cool-down.
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
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Allow while the breaker rejects traffic.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config contains breaker tuning parameters.
type Config struct {
	// CallTimeout bounds each upstream attempt. Exceeding it counts as a
	// breaker failure and advances the fallback chain.
	CallTimeout time.Duration
	// ErrorThresholdPct opens the breaker when the failure share of the
	// rolling window reaches this percentage.
	ErrorThresholdPct float64
	// WindowSize is the number of most recent outcomes considered.
	WindowSize int
	// MinRequests is the minimum window occupancy before the threshold is
	// evaluated, so a single early failure cannot trip the breaker.
	MinRequests int
	// ResetTimeout is how long the breaker stays open before admitting the
	// half-open trial.
	ResetTimeout time.Duration
}

// DefaultConfig returns the stock breaker parameters.
func DefaultConfig() Config {
	return Config{
		CallTimeout:       3 * time.Second,
		ErrorThresholdPct: 50,
		WindowSize:        10,
		MinRequests:       5,
		ResetTimeout:      30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.ErrorThresholdPct <= 0 {
		c.ErrorThresholdPct = d.ErrorThresholdPct
	}
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.MinRequests <= 0 {
		c.MinRequests = d.MinRequests
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	return c
}

// Breaker implements the per-provider circuit breaker state machine:
// CLOSED -> OPEN on threshold breach, OPEN -> HALF_OPEN after the cool-down,
// HALF_OPEN -> CLOSED on trial success or back to OPEN on trial failure.
type Breaker struct {
	mu         sync.Mutex
	providerID string
	cfg        Config

	state         State
	window        []bool // ring of outcomes, true = failure
	head          int
	count         int
	failures      int
	lastFailureAt time.Time
	openedAt      time.Time
	trialPending  bool

	onStateChange func(providerID string, from, to State)
	now           func() time.Time
}

// New creates a breaker for the given provider.
func New(providerID string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		providerID: providerID,
		cfg:        cfg,
		state:      StateClosed,
		window:     make([]bool, cfg.WindowSize),
		now:        time.Now,
	}
}

// OnStateChange sets a callback invoked on every transition.
func (b *Breaker) OnStateChange(fn func(providerID string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Allow reports whether a call may be attempted. While OPEN it returns
// ErrCircuitOpen immediately. After the cool-down exactly one caller is
// admitted as the half-open trial; everyone else keeps getting
// ErrCircuitOpen until the trial resolves.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.transitionTo(StateHalfOpen)
			b.trialPending = true
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		// The trial slot is taken.
		return ErrCircuitOpen

	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.push(false)

	case StateHalfOpen:
		b.trialPending = false
		b.resetWindow()
		b.transitionTo(StateClosed)
	}
}

// RecordFailure records a failed call outcome and trips the breaker when the
// rolling-window failure share reaches the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = b.now()

	switch b.state {
	case StateClosed:
		b.push(true)
		if b.count >= b.cfg.MinRequests &&
			float64(b.failures)*100 >= b.cfg.ErrorThresholdPct*float64(b.count) {
			b.openedAt = b.now()
			b.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		// Trial failed: back to open with a fresh cool-down.
		b.trialPending = false
		b.openedAt = b.now()
		b.transitionTo(StateOpen)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ProviderID returns the identity this breaker guards.
func (b *Breaker) ProviderID() string {
	return b.providerID
}

// CallTimeout returns the per-attempt timeout for this breaker's provider.
func (b *Breaker) CallTimeout() time.Duration {
	return b.cfg.CallTimeout
}

// push appends an outcome to the ring, evicting the oldest when full.
func (b *Breaker) push(failure bool) {
	idx := (b.head + b.count) % len(b.window)
	if b.count == len(b.window) {
		if b.window[b.head] {
			b.failures--
		}
		b.head = (b.head + 1) % len(b.window)
		idx = (b.head + b.count - 1) % len(b.window)
	} else {
		b.count++
	}
	b.window[idx] = failure
	if failure {
		b.failures++
	}
}

func (b *Breaker) resetWindow() {
	b.head = 0
	b.count = 0
	b.failures = 0
}

func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}
	oldState := b.state
	b.state = newState

	if b.onStateChange != nil {
		// Callbacks run without the lock held.
		go b.onStateChange(b.providerID, oldState, newState)
	}
}
