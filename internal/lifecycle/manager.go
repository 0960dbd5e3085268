// Package lifecycle drives a single service through the
// INSTALLED -> STARTING -> INJECTING -> ACTIVE -> UNINJECTING -> STOPPING ->
// INSTALLED state DAG, tracking which of its declared dependencies are
// currently satisfied. It is grounded on
// Ichor::LifecycleManager/InternalService, generalized here to also cover
// the dependency-satisfaction bookkeeping the original splits across the
// DependencyManager and a richer DependencyLifecycleManager that this pack
// does not carry a copy of; its behavior is instead taken from the
// specification's dependency invariants.
package lifecycle

import (
	"context"
	"sync"

	"github.com/tomtom215/ichor-go/internal/async"
	"github.com/tomtom215/ichor-go/internal/service"
)

// depState tracks how many ACTIVE providers currently satisfy one declared
// dependency slot. Required dependencies need a count > 0 to be satisfied;
// optional dependencies report the same count purely for observability
// (spec.md's "optional dependency count" scenario).
type depState struct {
	dep   service.Dependency
	count int
}

// Manager is the per-service lifecycle state machine.
type Manager struct {
	mu sync.Mutex

	svc       service.Service
	leaf      bool
	deps      map[uint64]*depState // keyed by InterfaceID
	dependees map[uint64]struct{}  // service ids that depend on this one

	// publishes lists the interface ids this service was registered to
	// provide, supplied by the caller at registration time since Go cannot
	// enumerate a value's implemented interfaces at runtime the way the
	// original's variadic template parameter pack does.
	publishes []uint64

	startCount int
}

// New creates a lifecycle manager for a service declaring deps, published
// under the given interface ids.
func New(svc service.Service, deps []service.Dependency, publishes []uint64) *Manager {
	m := &Manager{
		svc:       svc,
		deps:      make(map[uint64]*depState, len(deps)),
		dependees: make(map[uint64]struct{}),
		publishes: publishes,
	}
	for _, d := range deps {
		d.Satisfied = false
		m.deps[d.InterfaceID] = &depState{dep: d}
	}
	return m
}

// NewLeaf creates the degenerate fast-path manager for a service with no
// declared dependencies, grounded on Ichor's zero-dependency
// LifecycleManager specialization.
func NewLeaf(svc service.Service, publishes []uint64) *Manager {
	return &Manager{
		svc:       svc,
		leaf:      true,
		dependees: make(map[uint64]struct{}),
		publishes: publishes,
	}
}

// Service returns the wrapped service.
func (m *Manager) Service() service.Service { return m.svc }

// IsLeaf reports whether this manager skips dependency bookkeeping entirely.
func (m *Manager) IsLeaf() bool { return m.leaf }

// Dependencies returns a snapshot of this service's declared dependencies.
func (m *Manager) Dependencies() []service.Dependency {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaf {
		return nil
	}
	out := make([]service.Dependency, 0, len(m.deps))
	for _, ds := range m.deps {
		d := ds.dep
		d.Satisfied = ds.count > 0
		out = append(out, d)
	}
	return out
}

// Dependees returns the ids of services currently depending on this one.
func (m *Manager) Dependees() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, 0, len(m.dependees))
	for id := range m.dependees {
		out = append(out, id)
	}
	return out
}

// AllRequiredSatisfied reports whether every required dependency currently
// has at least one ACTIVE provider.
func (m *Manager) AllRequiredSatisfied() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaf {
		return true
	}
	for _, ds := range m.deps {
		if ds.dep.Required && ds.count == 0 {
			return false
		}
	}
	return true
}

// DependencyOnline marks one more ACTIVE provider of ifaceID, and reports
// whether this dependency slot is declared (a no-op otherwise) plus whether
// all required dependencies are now satisfied.
func (m *Manager) DependencyOnline(ifaceID uint64) (declared, allSatisfied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaf {
		return false, true
	}
	ds, ok := m.deps[ifaceID]
	if !ok {
		return false, m.allRequiredSatisfiedLocked()
	}
	ds.count++
	return true, m.allRequiredSatisfiedLocked()
}

// DependencyOffline unmarks one ACTIVE provider of ifaceID, and reports
// whether this dependency slot is declared plus whether all required
// dependencies are still satisfied afterward.
func (m *Manager) DependencyOffline(ifaceID uint64) (declared, allSatisfied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaf {
		return false, true
	}
	ds, ok := m.deps[ifaceID]
	if !ok || ds.count == 0 {
		return ok, m.allRequiredSatisfiedLocked()
	}
	ds.count--
	return true, m.allRequiredSatisfiedLocked()
}

func (m *Manager) allRequiredSatisfiedLocked() bool {
	for _, ds := range m.deps {
		if ds.dep.Required && ds.count == 0 {
			return false
		}
	}
	return true
}

// DependencyCount reports how many ACTIVE providers currently satisfy the
// declared dependency on ifaceID (spec.md §8's observable "svcCount"). It
// returns 0 for an undeclared interface id.
func (m *Manager) DependencyCount(ifaceID uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.deps[ifaceID]
	if !ok {
		return 0
	}
	return ds.count
}

// Publishes reports whether this service was registered to provide ifaceID.
func (m *Manager) Publishes(ifaceID uint64) bool {
	for _, id := range m.publishes {
		if id == ifaceID {
			return true
		}
	}
	return false
}

// InsertSelfInto injects this service into a dependent that declared a
// dependency on ifaceID, and records the dependent as a dependee. inject is
// supplied by the caller (the dependent's own addDependencyInstance hook)
// and receives the provider's service value for a type assertion, replacing
// the original's void*-plus-std::function pointer-reinterpretation.
func (m *Manager) InsertSelfInto(ifaceID, dependentID uint64, inject func(any)) {
	if !m.Publishes(ifaceID) {
		return
	}
	inject(m.svc)
	m.mu.Lock()
	m.dependees[dependentID] = struct{}{}
	m.mu.Unlock()
}

// RemoveSelfInto reverses InsertSelfInto when this service is stopping.
func (m *Manager) RemoveSelfInto(ifaceID, dependentID uint64, remove func(any)) {
	if !m.Publishes(ifaceID) {
		return
	}
	remove(m.svc)
	m.mu.Lock()
	delete(m.dependees, dependentID)
	m.mu.Unlock()
}

// Start runs the service's INSTALLED -> STARTING -> (INJECTING|INSTALLED)
// transition. If the state or dependency preconditions are not met, the
// generator finishes immediately without yielding and without calling the
// service's own Start — matching internal_start's early co_return {}.
func (m *Manager) Start(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		base := m.svc
		if base.State() != service.StateInstalled || !m.AllRequiredSatisfied() {
			return nil
		}
		if !beginStart(base) {
			return nil
		}
		defer endStart(base)

		setState(base, service.StateStarting)
		m.mu.Lock()
		m.startCount++
		m.mu.Unlock()

		gen := base.Start(ctx)
		for {
			v, ok, err := gen.Next(ctx)
			if !ok {
				if err != nil {
					setState(base, service.StateInstalled)
					return err
				}
				break
			}
			if v == service.Started {
				if err := yield(ctx, service.Started); err != nil {
					return err
				}
			}
		}

		setState(base, service.StateInjecting)
		return nil
	})
}

// Stop runs the UNINJECTING -> STOPPING -> INSTALLED transition. The caller
// (internal/ichor) is responsible for having already moved the service from
// ACTIVE to UNINJECTING via SetUninjected.
func (m *Manager) Stop(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		base := m.svc
		if base.State() != service.StateUninjecting {
			return nil
		}

		setState(base, service.StateStopping)

		gen := base.Stop(ctx)
		for {
			v, ok, err := gen.Next(ctx)
			if !ok {
				// A stop failure is logged by the caller and the service is
				// forced to INSTALLED regardless, per spec.md §4.D.
				setState(base, service.StateInstalled)
				return err
			}
			if v == service.Started {
				if err := yield(ctx, service.Started); err != nil {
					setState(base, service.StateInstalled)
					return err
				}
			}
		}
	})
}

// SetInjected advances INJECTING -> ACTIVE.
func (m *Manager) SetInjected() bool {
	if m.svc.State() != service.StateInjecting {
		return false
	}
	setState(m.svc, service.StateActive)
	return true
}

// SetUninjected advances ACTIVE -> UNINJECTING.
func (m *Manager) SetUninjected() bool {
	if m.svc.State() != service.StateActive {
		return false
	}
	setState(m.svc, service.StateUninjecting)
	return true
}

// StartCount returns how many times Start has actually invoked the
// underlying service's Start (observable for testing, per spec.md §7).
func (m *Manager) StartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount
}

// stateSetter and reentryGuard let Manager drive a service's bookkeeping
// without importing service's unexported BaseService fields; any Service
// implementation is expected to embed service.BaseService, which satisfies
// both via its exported TransitionTo/BeginStart/EndStart methods.
type stateSetter interface {
	TransitionTo(service.State)
}

type reentryGuard interface {
	BeginStart() bool
	EndStart()
}

func setState(svc service.Service, s service.State) {
	if ss, ok := svc.(stateSetter); ok {
		ss.TransitionTo(s)
	}
}

func beginStart(svc service.Service) bool {
	if rg, ok := svc.(reentryGuard); ok {
		return rg.BeginStart()
	}
	return true
}

func endStart(svc service.Service) {
	if rg, ok := svc.(reentryGuard); ok {
		rg.EndStart()
	}
}
