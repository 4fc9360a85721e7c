package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("relay", 3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	b := NewBreaker("relay", 3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker("relay", 1, time.Minute)
	b.SetClock(func() time.Time { return now })

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	now = now.Add(61 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	// second caller must wait for the probe outcome
	assert.False(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("relay", 1, time.Minute)
	b.SetClock(func() time.Time { return now })

	b.RecordFailure()
	now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	// waits the full reset timeout again
	now = now.Add(61 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreakerStateChangeHandler(t *testing.T) {
	b := NewBreaker("relay", 1, time.Minute)
	ch := make(chan State, 1)
	b.SetStateChangeHandler(func(name string, from, to State) {
		ch <- to
	})

	b.RecordFailure()
	select {
	case to := <-ch:
		assert.Equal(t, StateOpen, to)
	case <-time.After(time.Second):
		t.Fatal("state change handler not invoked")
	}
}

func TestBreakerSnapshot(t *testing.T) {
	b := NewBreaker("rpc", 5, time.Minute)
	b.RecordFailure()
	b.RecordFailure()

	snap := b.Snapshot()
	assert.Equal(t, "rpc", snap.Name)
	assert.Equal(t, "CLOSED", snap.State)
	assert.Equal(t, 2, snap.Failures)
}
