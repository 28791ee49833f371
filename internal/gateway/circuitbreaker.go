// Package gateway implements the aggregator process: per-client and
// per-agent connection tables, a three-lane priority dispatcher, a circuit
// breaker per agent, rate/idle policing, and the WebSocket-facing
// multiplexer. It generalizes the teacher's server.Registry (connection
// tables) and relay.Destination (reconnect/metrics bookkeeping), enriched
// with the original Windows gateway's circuit-breaker/queue semantics.
package gateway

import (
	"sync"
	"time"

	"github.com/sothis/remote-agent/internal/errs"
	"github.com/sothis/remote-agent/internal/metrics"
)

// CircuitState is the per-agent health state.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// FailureThreshold is the number of consecutive failures that opens the
// circuit, matching the original gateway's MAX_CONSECUTIVE_FAILURES.
const FailureThreshold = 10

// OpenTimeout is how long the circuit stays Open before allowing a
// half-open probe.
const OpenTimeout = 30 * time.Second

// CircuitBreaker protects sends to a single agent from being attempted
// while that agent is known to be failing.
type CircuitBreaker struct {
	mu                 sync.Mutex
	state              CircuitState
	consecutiveFailure int
	openUntil          time.Time
	now                func() time.Time
}

// NewCircuitBreaker creates a Closed circuit breaker using the real clock.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{now: time.Now}
}

// Allow reports whether a send attempt should proceed. In the Open state
// before the timeout it refuses immediately; after the timeout it
// transitions to HalfOpen and allows the attempt through. HalfOpen allows
// every attempt until RecordSuccess closes or RecordFailure reopens the
// circuit.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if cb.now().Before(cb.openUntil) {
			return false
		}
		cb.state = CircuitHalfOpen
		metrics.CircuitBreakerTransitions.WithLabelValues("half_open").Inc()
		return true
	}
	return true
}

// RecordSuccess transitions HalfOpen->Closed and resets counters. A
// success observed in any other state simply resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailure = 0
	if cb.state != CircuitClosed {
		cb.state = CircuitClosed
		metrics.CircuitBreakerTransitions.WithLabelValues("closed").Inc()
	}
}

// RecordFailure increments the consecutive failure count, opening the
// circuit once FailureThreshold is reached (or immediately, from
// HalfOpen).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailure++
	if cb.state == CircuitHalfOpen || cb.consecutiveFailure >= FailureThreshold {
		cb.state = CircuitOpen
		cb.openUntil = cb.now().Add(OpenTimeout)
		metrics.CircuitBreakerTransitions.WithLabelValues("open").Inc()
	}
}

// State returns the current circuit state (for tests/metrics).
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Send wraps fn with the breaker: refuses immediately if not Allow, else
// runs fn and records success/failure.
func (cb *CircuitBreaker) Send(fn func() error) error {
	if !cb.Allow() {
		return errs.NewTimeoutError("circuit_breaker.open", OpenTimeout, nil)
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
