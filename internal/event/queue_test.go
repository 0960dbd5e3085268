package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PriorityOrdering(t *testing.T) {
	q := NewQueue(DefaultQueueConfig())
	q.Push(New(1, 5, "low-priority-first-pushed"))
	q.Push(New(1, 1, "high-priority"))
	q.Push(New(1, 5, "low-priority-second-pushed"))

	ev, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "high-priority", ev.Payload)

	ev, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "low-priority-first-pushed", ev.Payload, "equal priority dispatches in push order")

	ev, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "low-priority-second-pushed", ev.Payload)
}

func TestQueue_PopTimesOut(t *testing.T) {
	q := NewQueue(QueueConfig{PopTimeout: 20 * time.Millisecond})
	start := time.Now()
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestQueue_PushNilPanics(t *testing.T) {
	q := NewQueue(DefaultQueueConfig())
	assert.Panics(t, func() { q.Push(nil) })
}

func TestQueue_BlockedPopWakesOnPush(t *testing.T) {
	q := NewQueue(QueueConfig{PopTimeout: 2 * time.Second})
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(New(1, 0, "woke-up"))
	}()

	ev, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "woke-up", ev.Payload)
}

func TestQueue_SpinlockModePops(t *testing.T) {
	q := NewQueue(QueueConfig{Spinlock: true, SpinlockPoll: 20 * time.Millisecond, PopTimeout: time.Second})
	q.Push(New(1, 0, "fast"))

	ev, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "fast", ev.Payload)
}

func TestQueue_Len(t *testing.T) {
	q := NewQueue(DefaultQueueConfig())
	assert.Equal(t, 0, q.Len())
	q.Push(New(1, 3, "a"))
	q.Push(New(1, 1, "b"))
	assert.Equal(t, 2, q.Len())
	_, _ = q.Pop()
	assert.Equal(t, 1, q.Len())
}

func TestQueue_CloseWakesBlockedPop(t *testing.T) {
	q := NewQueue(QueueConfig{PopTimeout: 2 * time.Second})
	done := make(chan struct{})
	go func() {
		_, ok := q.Pop()
		assert.False(t, ok)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up after Close")
	}
}
