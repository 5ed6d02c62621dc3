package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		assert.Equal(t, CircuitClosed, b.State())
	}
	b.RecordFailure()
	assert.Equal(t, CircuitOpen, b.State())
	assert.False(t, b.Allow())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	// Two more failures stay below the threshold after the reset.
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, CircuitClosed, b.State())
}

func TestCircuitBreaker_HalfOpenSingleTrial(t *testing.T) {
	current := time.Unix(1000, 0)
	b := NewCircuitBreaker(1, 30*time.Second)
	b.now = func() time.Time { return current }

	b.RecordFailure()
	assert.Equal(t, CircuitOpen, b.State())
	assert.False(t, b.Allow())

	// After the recovery timeout, exactly one trial call is admitted.
	current = current.Add(31 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, CircuitHalfOpen, b.State())
	assert.False(t, b.Allow(), "only one half-open trial may proceed")

	// A failed trial reopens the circuit.
	b.RecordFailure()
	assert.Equal(t, CircuitOpen, b.State())

	// A successful trial closes it.
	current = current.Add(31 * time.Second)
	assert.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, CircuitClosed, b.State())
	assert.True(t, b.Allow())
}
