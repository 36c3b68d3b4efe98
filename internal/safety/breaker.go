package safety

import (
	"sync"
	"time"

	"github.com/ocx/synapse-core/internal/config"
)

// BreakerState is one of closed, open, half_open (spec.md §4.5).
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker trips when a sliding window of failure timestamps reaches
// a threshold, grounded on the teacher's circuitbreaker.CircuitBreaker
// state machine but re-expressed against spec.md §4.5's own shape: a
// failure_window rather than ReadyToTrip callbacks, and exactly one probe
// transaction allowed through in half_open.
type CircuitBreaker struct {
	cfg config.CircuitBreakerConfig

	mu            sync.Mutex
	state         BreakerState
	failures      []time.Time
	recoveryAt    time.Time
	probeInFlight bool
}

// NewCircuitBreaker constructs a closed breaker.
func NewCircuitBreaker(cfg config.CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: BreakerClosed}
}

// Allow reports whether a transaction may proceed, advancing open->half_open
// once the recovery deadline has passed. probe reports whether this
// admission is the single half-open probe.
func (cb *CircuitBreaker) Allow(now time.Time) (allowed bool, state BreakerState, probe bool) {
	if !cb.cfg.Enabled {
		return true, BreakerClosed, false
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen {
		if now.After(cb.recoveryAt) {
			cb.state = BreakerHalfOpen
			cb.probeInFlight = false
		} else {
			return false, BreakerOpen, false
		}
	}

	if cb.state == BreakerHalfOpen {
		if cb.probeInFlight {
			return false, BreakerHalfOpen, false
		}
		cb.probeInFlight = true
		return true, BreakerHalfOpen, true
	}

	return true, BreakerClosed, false
}

// RecordSuccess closes the circuit if the call was the half-open probe;
// in closed state it simply ages out expired failures.
func (cb *CircuitBreaker) RecordSuccess(now time.Time) (from, to BreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	from = cb.state
	if cb.state == BreakerHalfOpen {
		cb.state = BreakerClosed
		cb.failures = nil
		cb.probeInFlight = false
	} else if cb.state == BreakerClosed {
		window := time.Duration(cb.cfg.FailureWindowSec) * time.Second
		cb.failures = pruneBefore(cb.failures, now.Add(-window))
	}
	return from, cb.state
}

// RecordFailure appends a failure timestamp, pruning the window, and trips
// the breaker to open if the threshold is reached.
func (cb *CircuitBreaker) RecordFailure(now time.Time) (from, to BreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	from = cb.state

	if cb.state == BreakerHalfOpen {
		cb.state = BreakerOpen
		cb.recoveryAt = now.Add(time.Duration(cb.cfg.RecoveryTimeoutSec) * time.Second)
		cb.probeInFlight = false
		return from, cb.state
	}

	window := time.Duration(cb.cfg.FailureWindowSec) * time.Second
	cb.failures = append(cb.failures, now)
	cb.failures = pruneBefore(cb.failures, now.Add(-window))

	if len(cb.failures) >= cb.cfg.FailureThreshold {
		cb.state = BreakerOpen
		cb.recoveryAt = now.Add(time.Duration(cb.cfg.RecoveryTimeoutSec) * time.Second)
		cb.failures = nil
	}
	return from, cb.state
}

// State returns the current state without mutating it.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
