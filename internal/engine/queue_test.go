package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueHighestConfidenceFirst(t *testing.T) {
	q := NewQueue(8)
	require.NoError(t, q.Push("low", 0.2))
	require.NoError(t, q.Push("high", 0.9))
	require.NoError(t, q.Push("mid", 0.5))

	for _, want := range []string{"high", "mid", "low"} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueueEqualConfidenceIsFIFO(t *testing.T) {
	q := NewQueue(8)
	require.NoError(t, q.Push("first", 0.5))
	require.NoError(t, q.Push("second", 0.5))
	require.NoError(t, q.Push("third", 0.5))

	for _, want := range []string{"first", "second", "third"} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestQueueDeduplicatesOrderIDs(t *testing.T) {
	q := NewQueue(8)
	require.NoError(t, q.Push("ord", 0.5))
	require.NoError(t, q.Push("ord", 0.9))
	assert.Equal(t, 1, q.Len())
}

func TestQueueCapacity(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Push("a", 0.1))
	require.NoError(t, q.Push("b", 0.2))
	assert.ErrorIs(t, q.Push("c", 0.3), ErrQueueFull)

	_, ok := q.Pop()
	require.True(t, ok)
	assert.NoError(t, q.Push("c", 0.3))
}

func TestQueueReadySignal(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Push("a", 0.1))
	select {
	case <-q.Ready():
	default:
		t.Fatal("expected ready signal after push")
	}
}
