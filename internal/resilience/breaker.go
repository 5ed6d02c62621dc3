package resilience

import (
	"sync"
	"time"
)

// CircuitState is the breaker's current position.
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

// CircuitBreaker isolates a failing operation. After failureThreshold
// consecutive failures it opens; calls fail fast until recoveryTimeout
// elapses, then exactly one trial call is admitted (half-open) and its
// outcome decides the next state.
type CircuitBreaker struct {
	failureThreshold int
	recoveryTimeout  time.Duration

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time

	now func() time.Time
}

func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. The transition OPEN→HALF_OPEN
// happens here and grants the single trial call.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if b.now().Sub(b.lastFailure) > b.recoveryTimeout {
			b.state = CircuitHalfOpen
			return true
		}
		return false
	default:
		// The half-open trial is already in flight.
		return false
	}
}

// RecordSuccess closes the breaker and resets the consecutive-failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = CircuitClosed
}

// RecordFailure counts a failure; at the threshold (or on a failed
// half-open trial) the breaker opens.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	if b.state == CircuitHalfOpen || b.failures >= b.failureThreshold {
		b.state = CircuitOpen
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
