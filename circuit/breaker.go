package circuit

import (
	"context"
	"sync"
	"time"
)

// Breaker is a circuit breaker that opens after N consecutive failures and
// allows a single probe once the cooldown has elapsed.
type Breaker struct {
	mu sync.Mutex

	state State

	// Config
	threshold int
	cooldown  time.Duration
	maxProbes int // requests allowed in Half-Open state (usually 1)

	// State variables
	consecutiveFailures int
	lastFailure         time.Time
	openTime            time.Time
	probesSent          int
	probesSuccessful    int
	probesRequired      int // consecutive successes needed to close

	nowFn func() time.Time
}

// NewBreaker creates a breaker.
// threshold: number of consecutive failures to open (default 5).
// cooldown: duration to stay open (default 30s).
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		state:          StateClosed,
		threshold:      threshold,
		cooldown:       cooldown,
		maxProbes:      1,
		probesRequired: 1,
	}
}

func (cb *Breaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.updateStateLocked()
}

// Snapshot returns the breaker's current state and failure bookkeeping. When
// the breaker is open, ResetIn carries the remaining cooldown.
func (cb *Breaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.updateStateLocked()
	snap := Snapshot{
		State:       state,
		Open:        state == StateOpen,
		Failures:    cb.consecutiveFailures,
		LastFailure: cb.lastFailure,
	}
	if state == StateOpen {
		if remaining := cb.cooldown - cb.now().Sub(cb.openTime); remaining > 0 {
			snap.ResetIn = remaining
		}
	}
	return snap
}

// Reset closes the breaker and clears all failure bookkeeping. Intended for a
// user-triggered "retry now" override.
func (cb *Breaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
	cb.lastFailure = time.Time{}
}

func (cb *Breaker) Allow(ctx context.Context) Decision {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.updateStateLocked()

	if state == StateOpen {
		d := Decision{Allowed: false, State: StateOpen, Reason: ReasonCircuitOpen}
		if remaining := cb.cooldown - cb.now().Sub(cb.openTime); remaining > 0 {
			d.ResetIn = remaining
		}
		return d
	}

	if state == StateHalfOpen {
		if cb.probesSent >= cb.maxProbes {
			return Decision{Allowed: false, State: StateHalfOpen, Reason: ReasonCircuitHalfOpenProbeLimit}
		}
		cb.probesSent++
		return Decision{Allowed: true, State: StateHalfOpen}
	}

	return Decision{Allowed: true, State: StateClosed}
}

func (cb *Breaker) RecordSuccess(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.updateStateLocked()

	if state == StateClosed {
		cb.consecutiveFailures = 0
	} else if state == StateHalfOpen {
		cb.probesSuccessful++
		if cb.probesSuccessful >= cb.probesRequired {
			cb.transitionTo(StateClosed)
		} else {
			// Free a probe slot until required successes are met.
			cb.probesSent--
		}
	}
	// Success while Open is ignored; it means Allow was bypassed.
}

func (cb *Breaker) RecordFailure(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.updateStateLocked()
	cb.lastFailure = cb.now()

	if state == StateClosed {
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.threshold {
			cb.transitionTo(StateOpen)
		}
	} else if state == StateHalfOpen {
		// Failure in Half-Open -> Open immediately.
		cb.consecutiveFailures++
		cb.transitionTo(StateOpen)
	}
}

func (cb *Breaker) updateStateLocked() State {
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openTime) >= cb.cooldown {
			cb.transitionTo(StateHalfOpen)
		}
	}
	return cb.state
}

func (cb *Breaker) transitionTo(newState State) {
	cb.state = newState
	switch newState {
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.probesSent = 0
		cb.probesSuccessful = 0
	case StateOpen:
		cb.openTime = cb.now()
		// The failure count is kept so snapshots show how the breaker tripped.
	case StateHalfOpen:
		cb.probesSent = 0
		cb.probesSuccessful = 0
	}
}

func (cb *Breaker) now() time.Time {
	if cb.nowFn != nil {
		return cb.nowFn()
	}
	return time.Now()
}

// SetClock overrides the breaker clock, primarily for tests.
func (cb *Breaker) SetClock(f func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.nowFn = f
}
