package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_InitialState(t *testing.T) {
	b := New("test")
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "test", b.Name())
	assert.True(t, b.Allow())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New("test", WithFailureThreshold(3))

	// First two failures don't open
	useFallback, change := b.RecordFailure()
	assert.False(t, useFallback)
	assert.False(t, change.Opened)

	useFallback, change = b.RecordFailure()
	assert.False(t, useFallback)
	assert.False(t, change.Opened)

	// Third failure opens the circuit
	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())
	assert.False(t, b.Allow())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("test", WithFailureThreshold(3))

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen())

	// Success resets count
	b.RecordSuccess()

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen())

	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := New("test", WithFailureThreshold(1), WithCooldown(10*time.Second), WithClock(clock))

	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.False(t, b.Allow())
	assert.Equal(t, 10*time.Second, b.RetryAfter())

	// Cooldown not elapsed yet
	now = now.Add(9 * time.Second)
	assert.False(t, b.Allow())

	// Cooldown elapsed: exactly one trial admitted
	now = now.Add(2 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.Allow(), "second probe must wait for trial outcome")
}

func TestBreaker_TrialSuccessCloses(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := New("test", WithFailureThreshold(1), WithSuccessThreshold(2),
		WithCooldown(time.Second), WithClock(clock))

	b.RecordFailure()
	now = now.Add(2 * time.Second)
	assert.True(t, b.Allow())

	// First trial success doesn't close yet
	usePrimary, change := b.RecordSuccess()
	assert.False(t, usePrimary)
	assert.False(t, change.Closed)
	assert.Equal(t, StateHalfOpen, b.State())

	// Next trial is admitted and closes the breaker
	assert.True(t, b.Allow())
	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := New("test", WithFailureThreshold(1), WithCooldown(time.Second), WithClock(clock))

	b.RecordFailure()
	now = now.Add(2 * time.Second)
	assert.True(t, b.Allow())

	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())

	// Fresh cooldown runs from the reopen
	assert.False(t, b.Allow())
	now = now.Add(2 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreaker_FailureResetsSuccessCount(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := New("test", WithFailureThreshold(1), WithSuccessThreshold(3),
		WithCooldown(time.Second), WithClock(clock))

	b.RecordFailure()
	now = now.Add(2 * time.Second)

	assert.True(t, b.Allow())
	b.RecordSuccess()
	assert.True(t, b.Allow())
	b.RecordSuccess()

	// Failure resets success count and reopens
	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestBreaker_Reset(t *testing.T) {
	b := New("test", WithFailureThreshold(1))

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.Reset()
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_OpenCircuitReturnsFallback(t *testing.T) {
	b := New("test", WithFailureThreshold(1))

	b.RecordFailure()

	// Additional failures return fallback without state change
	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.False(t, change.Opened)
	assert.False(t, change.Closed)
}
