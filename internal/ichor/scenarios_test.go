package ichor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/ichor-go/internal/async"
	"github.com/tomtom215/ichor-go/internal/event"
	"github.com/tomtom215/ichor-go/internal/registry"
	"github.com/tomtom215/ichor-go/internal/service"
)

// quitterService requests shutdown as part of its own start, modeling
// scenario 1's "a QuitEvent pushed by Q.start".
type quitterService struct {
	*noopService
	mgr *Manager
}

func (s *quitterService) Start(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		s.mgr.Shutdown()
		return nil
	})
}

func TestScenario_QuitOnStartWithDependencies(t *testing.T) {
	m := testManager(t)

	provider := newNoopService(1)
	providerID := RegisterService(m, provider, nil, []uint64{testIface})

	q := &quitterService{noopService: newNoopService(1), mgr: m}
	consumerID := RegisterService(m, q, []service.Dependency{{InterfaceID: testIface, Required: true}}, nil)

	for i := 0; i < 40; i++ {
		ev, ok := m.queue.Pop()
		if !ok {
			continue
		}
		done := m.dispatch(context.Background(), ev)
		if done {
			break
		}
	}

	assert.Equal(t, service.StateInstalled, m.ServiceState(providerID))
	assert.Equal(t, service.StateInstalled, m.ServiceState(consumerID))
	assert.True(t, m.quitPending)
}

// failingService's Start always reports a failure, modeling scenario 2.
type failingService struct {
	*noopService
}

func (s *failingService) Start(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		return &service.StartError{Kind: service.ErrorKindFailed, Service: s.ID(), Reason: "boom"}
	})
}

func TestScenario_StartFailureDoesNotRemoveService(t *testing.T) {
	m := testManager(t)
	f := &failingService{noopService: newNoopService(1)}
	id := RegisterService(m, f, nil, nil)

	runUntilIdle(t, m, 10)

	assert.Equal(t, service.StateInstalled, m.ServiceState(id), "a failed start must not be reported ACTIVE")
	require.NotNil(t, m.lookup(id), "the service must still be registered after a failed start")
	assert.Equal(t, 1, m.lookup(id).StartCount())
}

func TestScenario_RequiredDependencyCount(t *testing.T) {
	m := testManager(t)

	u1 := newNoopService(1)
	u1ID := RegisterService(m, u1, nil, []uint64{testIface})
	u2 := newNoopService(1)
	u2ID := RegisterService(m, u2, nil, []uint64{testIface})
	runUntilIdle(t, m, 20)

	d := newNoopService(1)
	dID := RegisterService(m, d, []service.Dependency{{InterfaceID: testIface, Required: true}}, nil)
	runUntilIdle(t, m, 20)

	require.Equal(t, service.StateActive, m.ServiceState(dID))
	lm := m.lookup(dID)
	assert.Equal(t, 2, lm.DependencyCount(testIface))

	m.stopServiceSync(context.Background(), u1ID)
	assert.Equal(t, 1, lm.DependencyCount(testIface))
	assert.Equal(t, service.StateActive, m.ServiceState(dID), "D must stay ACTIVE while one provider remains")
	assert.Equal(t, service.StateInstalled, m.ServiceState(u1ID))
	assert.Equal(t, service.StateActive, m.ServiceState(u2ID))
}

func TestScenario_OptionalDependencyCount(t *testing.T) {
	m := testManager(t)

	u1 := newNoopService(1)
	u1ID := RegisterService(m, u1, nil, []uint64{testIface})
	u2 := newNoopService(1)
	RegisterService(m, u2, nil, []uint64{testIface})
	runUntilIdle(t, m, 20)

	d := newNoopService(1)
	dID := RegisterService(m, d, []service.Dependency{{InterfaceID: testIface, Required: false}}, nil)
	runUntilIdle(t, m, 20)

	require.Equal(t, service.StateActive, m.ServiceState(dID))
	lm := m.lookup(dID)
	assert.Equal(t, 2, lm.DependencyCount(testIface))

	m.stopServiceSync(context.Background(), u1ID)
	assert.Equal(t, 1, lm.DependencyCount(testIface))
	assert.Equal(t, service.StateActive, m.ServiceState(dID), "an optional dependency going offline must never stop D")
}

// TestScenario_EventHandlerRegisteredDuringHandling models scenario 6
// directly against the registry, since the dispatch loop's "other" event
// routing is a thin pass-through over registry.Handlers.Snapshot.
func TestScenario_EventHandlerRegisteredDuringHandling(t *testing.T) {
	h := registry.NewHandlers()
	const testEventType event.TypeID = 99

	var secondRoundFired int
	h.Subscribe(testEventType, 1, 1, func(ev *event.Event) *async.Generator[registry.HandlerBehaviour] {
		return async.New(func(ctx context.Context, yield async.Yield[registry.HandlerBehaviour]) error {
			h.Subscribe(testEventType, 2, 1, func(*event.Event) *async.Generator[registry.HandlerBehaviour] {
				return async.New(func(ctx context.Context, yield async.Yield[registry.HandlerBehaviour]) error {
					secondRoundFired++
					return nil
				})
			})
			return nil
		})
	})

	firstSnapshot := h.Snapshot(testEventType)
	for _, fn := range firstSnapshot {
		drainHandler(t, fn)
	}
	assert.Equal(t, 0, secondRoundFired, "a handler registered mid-dispatch must not fire for the in-flight event")

	secondSnapshot := h.Snapshot(testEventType)
	for _, fn := range secondSnapshot {
		drainHandler(t, fn)
	}
	assert.Equal(t, 1, secondRoundFired, "it must fire for the next event")
}

// drainHandler runs one handler's generator to completion, the test-side
// equivalent of Manager.runHandler for cases that exercise registry.Handlers
// directly rather than going through the dispatch loop.
func drainHandler(t *testing.T, h registry.Handler) {
	t.Helper()
	gen := h(nil)
	for {
		_, ok, err := gen.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return
		}
	}
}
