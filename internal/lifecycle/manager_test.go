package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/ichor-go/internal/async"
	"github.com/tomtom215/ichor-go/internal/service"
)

type stubService struct {
	service.BaseService
	startErr error
	stopErr  error
}

func newStub() *stubService {
	b := service.NewBaseService(0)
	return &stubService{BaseService: b}
}

func (s *stubService) Start(context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(context.Context, async.Yield[service.StartBehaviour]) error {
		return s.startErr
	})
}

func (s *stubService) Stop(context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(context.Context, async.Yield[service.StartBehaviour]) error {
		return s.stopErr
	})
}

func drain(t *testing.T, g *async.Generator[service.StartBehaviour]) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		_, ok, err := g.Next(ctx)
		if !ok {
			return err
		}
	}
}

func TestLeafManager_StartsAndStops(t *testing.T) {
	svc := newStub()
	m := NewLeaf(svc, nil)

	require.NoError(t, drain(t, m.Start(context.Background())))
	assert.Equal(t, service.StateInjecting, svc.State())
	assert.Equal(t, 1, m.StartCount())

	assert.True(t, m.SetInjected())
	assert.Equal(t, service.StateActive, svc.State())

	assert.True(t, m.SetUninjected())
	require.NoError(t, drain(t, m.Stop(context.Background())))
	assert.Equal(t, service.StateInstalled, svc.State())
}

func TestManager_RequiredDependencyGatesStart(t *testing.T) {
	svc := newStub()
	ifaceID := service.TypeID[int]()
	m := New(svc, []service.Dependency{{InterfaceID: ifaceID, Required: true}}, nil)

	require.NoError(t, drain(t, m.Start(context.Background())))
	assert.Equal(t, service.StateInstalled, svc.State(), "must not start with unsatisfied required dependency")
	assert.Equal(t, 0, m.StartCount())

	declared, satisfied := m.DependencyOnline(ifaceID)
	assert.True(t, declared)
	assert.True(t, satisfied)

	require.NoError(t, drain(t, m.Start(context.Background())))
	assert.Equal(t, service.StateInjecting, svc.State())
}

func TestManager_RequiredDependencyCountTracksMultipleProviders(t *testing.T) {
	svc := newStub()
	ifaceID := service.TypeID[int]()
	m := New(svc, []service.Dependency{{InterfaceID: ifaceID, Required: true}}, nil)

	_, satisfied := m.DependencyOnline(ifaceID)
	assert.True(t, satisfied)
	_, satisfied = m.DependencyOnline(ifaceID)
	assert.True(t, satisfied)

	_, satisfied = m.DependencyOffline(ifaceID)
	assert.True(t, satisfied, "one provider remains")

	_, satisfied = m.DependencyOffline(ifaceID)
	assert.False(t, satisfied, "no providers remain")
}

func TestManager_StartFailureReturnsToInstalled(t *testing.T) {
	svc := newStub()
	svc.startErr = assertError
	m := NewLeaf(svc, nil)

	err := drain(t, m.Start(context.Background()))
	assert.ErrorIs(t, err, assertError)
	assert.Equal(t, service.StateInstalled, svc.State())
}

func TestManager_InsertAndRemoveSelfInto(t *testing.T) {
	svc := newStub()
	ifaceID := service.TypeID[int]()
	m := NewLeaf(svc, []uint64{ifaceID})

	var injected any
	m.InsertSelfInto(ifaceID, 42, func(v any) { injected = v })
	assert.Same(t, svc, injected)
	assert.Contains(t, m.Dependees(), uint64(42))

	var removed any
	m.RemoveSelfInto(ifaceID, 42, func(v any) { removed = v })
	assert.Same(t, svc, removed)
	assert.NotContains(t, m.Dependees(), uint64(42))
}

var assertError = &service.StartError{Kind: service.ErrorKindFailed, Reason: "boom"}
