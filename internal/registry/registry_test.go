package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/ichor-go/internal/async"
	"github.com/tomtom215/ichor-go/internal/event"
)

// noopHandler wraps fn in a generator that never suspends, for tests that
// only care about ordering or registration bookkeeping.
func noopHandler(fn func()) Handler {
	return func(*event.Event) *async.Generator[HandlerBehaviour] {
		return async.New(func(ctx context.Context, yield async.Yield[HandlerBehaviour]) error {
			fn()
			return nil
		})
	}
}

func drain(t *testing.T, h Handler, ev *event.Event) {
	t.Helper()
	gen := h(ev)
	for {
		_, ok, err := gen.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return
		}
	}
}

func TestHandlers_OrderedByPriorityThenInsertion(t *testing.T) {
	h := NewHandlers()
	var order []string

	h.Subscribe(1, 10, 5, noopHandler(func() { order = append(order, "low-a") }))
	h.Subscribe(1, 11, 5, noopHandler(func() { order = append(order, "low-b") }))
	h.Subscribe(1, 12, 1, noopHandler(func() { order = append(order, "high") }))

	for _, fn := range h.Snapshot(1) {
		drain(t, fn, nil)
	}

	assert.Equal(t, []string{"high", "low-a", "low-b"}, order)
}

func TestHandlers_UnregisterRemovesEntry(t *testing.T) {
	h := NewHandlers()
	called := false
	reg := h.Subscribe(1, 1, 1, noopHandler(func() { called = true }))

	reg.Unregister()
	for _, fn := range h.Snapshot(1) {
		drain(t, fn, nil)
	}
	assert.False(t, called)

	reg.Unregister() // idempotent
}

func TestHandlers_SnapshotIsolatedFromConcurrentSubscribe(t *testing.T) {
	h := NewHandlers()
	h.Subscribe(1, 1, 1, noopHandler(func() {}))

	snap := h.Snapshot(1)
	assert.Len(t, snap, 1)

	h.Subscribe(1, 2, 1, noopHandler(func() {}))
	assert.Len(t, snap, 1, "previously taken snapshot must not grow")
	assert.Len(t, h.Snapshot(1), 2)
}

func TestHandlers_GenerationIncrementsOnChange(t *testing.T) {
	h := NewHandlers()
	assert.Equal(t, uint64(0), h.Generation(1))

	reg := h.Subscribe(1, 1, 1, noopHandler(func() {}))
	assert.Equal(t, uint64(1), h.Generation(1))

	reg.Unregister()
	assert.Equal(t, uint64(2), h.Generation(1))
}

func TestInterceptors_GlobalAndTypedBothFire(t *testing.T) {
	ic := NewInterceptors()
	var fired []string

	ic.Subscribe(0, Interceptor{Pre: func(*event.Event) bool { fired = append(fired, "global"); return true }})
	ic.Subscribe(1, Interceptor{Pre: func(*event.Event) bool { fired = append(fired, "typed"); return true }})

	ok := ic.RunPre(&event.Event{Type: 1})
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"global", "typed"}, fired)

	fired = nil
	ok = ic.RunPre(&event.Event{Type: 2})
	assert.True(t, ok)
	assert.Equal(t, []string{"global"}, fired)
}

func TestInterceptors_VetoDropsEventButPostStillRuns(t *testing.T) {
	ic := NewInterceptors()
	var postFired bool

	ic.Subscribe(0, Interceptor{
		Pre:  func(*event.Event) bool { return false },
		Post: func(*event.Event) { postFired = true },
	})

	ok := ic.RunPre(&event.Event{Type: 1})
	assert.False(t, ok, "a Pre hook returning false must veto the event")

	ic.RunPost(&event.Event{Type: 1})
	assert.True(t, postFired, "Post hooks still run for a vetoed event")
}

func TestInterceptors_VetoDoesNotShortCircuitOtherInterceptors(t *testing.T) {
	ic := NewInterceptors()
	var secondFired bool

	ic.Subscribe(0, Interceptor{Pre: func(*event.Event) bool { return false }})
	ic.Subscribe(0, Interceptor{Pre: func(*event.Event) bool { secondFired = true; return true }})

	ok := ic.RunPre(&event.Event{Type: 1})
	assert.False(t, ok)
	assert.True(t, secondFired, "a vetoing interceptor must not prevent later interceptors from running")
}
