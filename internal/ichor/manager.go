// Package ichor implements the Dependency Manager: the global service
// registry, the priority dispatch loop, the injection protocol, the stop
// cascade, and shutdown. The package is named ichor rather than
// "dependency" to avoid colliding with this module's own import path, per
// the original project's own name for this component.
//
// Grounded on spec.md §4.E and, for the dynamic-registration shape of
// AddServer/RemoveServer-style bookkeeping,
// _examples/tomtom215-cartographus/internal/supervisor/server_supervisor.go.
package ichor

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/ichor-go/internal/async"
	"github.com/tomtom215/ichor-go/internal/event"
	"github.com/tomtom215/ichor-go/internal/lifecycle"
	"github.com/tomtom215/ichor-go/internal/metrics"
	"github.com/tomtom215/ichor-go/internal/registry"
	"github.com/tomtom215/ichor-go/internal/service"
)

// ErrHardQuit is returned by Run when a second shutdown signal arrives
// within the hard-quit window, or when the drain deadline after a QuitEvent
// elapses without the runtime finishing a clean shutdown.
var ErrHardQuit = errors.New("ichor: hard quit")

// DependencyConsumer is implemented by services that want to receive the
// provider instance for a declared dependency, the Go analog of the
// original's addDependencyInstance/removeDependencyInstance hooks. A
// service with no interesting dependency instances (it only cares about
// required-satisfaction, not the value) may omit this interface entirely.
type DependencyConsumer interface {
	OnDependencyAdded(interfaceID uint64, provider any)
	OnDependencyRemoved(interfaceID uint64, provider any)
}

// Manager is the Dependency Manager: one instance owns one dispatch loop,
// one event queue, and the full registry of services it manages. Multiple
// Managers may coexist in a process, each on its own goroutine, per spec.md
// §5 ("Multiple Dependency Managers may coexist in separate OS threads").
type Manager struct {
	cfg Config
	log zerolog.Logger

	queue        *event.Queue
	handlers     *registry.Handlers
	interceptors *registry.Interceptors

	mu               sync.Mutex
	services         map[uint64]*lifecycle.Manager
	providersByIface map[uint64][]uint64
	consumersByIface map[uint64][]uint64
	startedAt        map[uint64]time.Time

	quitPending   bool
	quitRequested time.Time
}

// New constructs a Manager with an empty registry.
func New(cfg Config, logger zerolog.Logger) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:              cfg,
		log:              logger,
		queue:            event.NewQueue(event.QueueConfig{Spinlock: cfg.Spinlock, PopTimeout: cfg.PopTimeout}),
		handlers:         registry.NewHandlers(),
		interceptors:     registry.NewInterceptors(),
		services:         make(map[uint64]*lifecycle.Manager),
		providersByIface: make(map[uint64][]uint64),
		consumersByIface: make(map[uint64][]uint64),
		startedAt:        make(map[uint64]time.Time),
	}
}

// Handlers exposes the handler registry so callers can Subscribe to events.
func (m *Manager) Handlers() *registry.Handlers { return m.handlers }

// Interceptors exposes the interceptor registry.
func (m *Manager) Interceptors() *registry.Interceptors { return m.interceptors }

// Queue exposes the event queue, primarily so external collaborators
// (internal/transport services, internal/eventbridge) can push events.
func (m *Manager) Queue() *event.Queue { return m.queue }

// RegisterService adds svc to the registry with the given declared
// dependencies and published interface ids, wires it to any already-ACTIVE
// providers of those dependencies, and enqueues its initial start. It is the
// Go analog of the original's createServiceManager<T, Interfaces...>
// factory function; Go's lack of variadic type parameters means the
// interface ids a service provides are supplied explicitly by the caller
// instead of deduced from a template parameter pack. Callers typically pass
// service.TypeID[T]() for each published interface id.
func RegisterService(m *Manager, svc service.Service, deps []service.Dependency, publishes []uint64) uint64 {
	var lm *lifecycle.Manager
	if len(deps) == 0 {
		lm = lifecycle.NewLeaf(svc, publishes)
	} else {
		lm = lifecycle.New(svc, deps, publishes)
	}

	m.mu.Lock()
	m.services[svc.ID()] = lm
	for _, ifaceID := range publishes {
		m.providersByIface[ifaceID] = append(m.providersByIface[ifaceID], svc.ID())
	}
	for _, d := range deps {
		m.consumersByIface[d.InterfaceID] = append(m.consumersByIface[d.InterfaceID], svc.ID())
	}
	m.mu.Unlock()

	// Wire against providers that are already ACTIVE, so a late-joining
	// consumer still sees every existing provider (spec.md scenario 3/4).
	for _, d := range deps {
		for _, providerID := range m.providerIDs(d.InterfaceID) {
			providerLM := m.lookup(providerID)
			if providerLM == nil || providerLM.Service().State() != service.StateActive {
				continue
			}
			m.wireOneConsumer(providerLM, providerID, lm, svc.ID(), d.InterfaceID)
		}
	}

	m.queue.Push(event.New(typeStartService, event.InternalPriority, startServicePayload{serviceID: svc.ID()}))
	return svc.ID()
}

func (m *Manager) lookup(id uint64) *lifecycle.Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.services[id]
}

func (m *Manager) providerIDs(ifaceID uint64) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.providersByIface[ifaceID]))
	copy(out, m.providersByIface[ifaceID])
	return out
}

// wireOneConsumer performs one InsertSelfInto/DependencyOnline pair and, if
// the consumer is now fully satisfied and still INSTALLED, enqueues its
// start.
func (m *Manager) wireOneConsumer(providerLM *lifecycle.Manager, providerID uint64, consumerLM *lifecycle.Manager, consumerID, ifaceID uint64) {
	inject := func(v any) {
		if dc, ok := consumerLM.Service().(DependencyConsumer); ok {
			dc.OnDependencyAdded(ifaceID, v)
		}
	}
	providerLM.InsertSelfInto(ifaceID, consumerID, inject)

	declared, allSatisfied := consumerLM.DependencyOnline(ifaceID)
	if declared && allSatisfied && consumerLM.Service().State() == service.StateInstalled {
		m.queue.Push(event.New(typeStartService, event.InternalPriority, startServicePayload{serviceID: consumerID}))
	}
}

// Run drives the dispatch loop until ctx is cancelled, a clean shutdown
// completes after a QuitEvent, or a hard quit is triggered by a repeated
// SIGINT or an overrun drain deadline.
func (m *Manager) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sigCh:
			if m.onSignal() {
				return ErrHardQuit
			}
		default:
		}

		if m.quitPendingSince() {
			m.log.Warn().Msg("hard quit window elapsed without clean shutdown")
			return ErrHardQuit
		}

		ev, ok := m.queue.Pop()
		metrics.UpdateQueueDepth(m.queue.Len())
		if !ok {
			continue
		}

		proceed := m.interceptors.RunPre(ev)
		start := time.Now()
		var done bool
		if proceed {
			done = m.dispatch(ctx, ev)
		}
		metrics.RecordEventDispatched(ev.Type, time.Since(start))
		m.interceptors.RunPost(ev)
		m.reportServiceStates()

		if done {
			return nil
		}
	}
}

// onSignal records a shutdown request on first call and reports whether a
// second signal arrived within the hard-quit window.
func (m *Manager) onSignal() bool {
	first := m.requestQuit()
	if first {
		m.queue.Push(event.New(typeQuit, event.InternalPriority, nil))
		return false
	}
	m.mu.Lock()
	requested := m.quitRequested
	m.mu.Unlock()
	return time.Since(requested) < m.cfg.HardQuitWindow
}

// Shutdown requests a clean shutdown the same way a SIGINT would, without
// requiring an actual signal. It is idempotent and safe to call from any
// goroutine, including a service's own suspended start/stop coroutine or
// collaborator code running outside the dispatch loop.
func (m *Manager) Shutdown() {
	m.requestQuit()
	m.queue.Push(event.New(typeQuit, event.InternalPriority, nil))
}

// requestQuit records the first shutdown request under m.mu and reports
// whether this call was the one that recorded it.
func (m *Manager) requestQuit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quitPending {
		return false
	}
	m.quitPending = true
	m.quitRequested = time.Now()
	return true
}

// quitPendingSince reports whether a shutdown has been pending longer than
// the configured hard-quit window.
func (m *Manager) quitPendingSince() bool {
	m.mu.Lock()
	pending, requested := m.quitPending, m.quitRequested
	m.mu.Unlock()
	return pending && time.Since(requested) > m.cfg.HardQuitWindow
}

// dispatch routes one event to its handler and reports whether the dispatch
// loop should now exit (true only after a QuitEvent has been fully drained).
func (m *Manager) dispatch(ctx context.Context, ev *event.Event) bool {
	switch ev.Type {
	case typeStartService:
		p := ev.Payload.(startServicePayload)
		m.handleStart(ctx, p.serviceID)
	case typeStopService:
		p := ev.Payload.(stopServicePayload)
		m.stopServiceSync(ctx, p.serviceID)
	case typeRemoveService:
		p := ev.Payload.(removeServicePayload)
		m.handleRemove(p.serviceID)
	case typeContinuableStart:
		p := ev.Payload.(continuableStartPayload)
		m.finishStart(p.serviceID, p.err)
	case typeStartServiceFailed:
		p := ev.Payload.(startServiceFailedPayload)
		m.log.Warn().Uint64("service_id", p.serviceID).Err(p.err).Msg("service start failed")
	case typeQuit:
		m.handleQuit(ctx)
		return true
	default:
		for _, h := range m.handlers.Snapshot(ev.Type) {
			m.runHandler(ctx, ev, h)
		}
	}
	return false
}

// runHandler drives one handler's generator to completion. A handler that
// never truly suspends (HasSuspended stays false across every yield) is
// drained synchronously on the dispatch loop goroutine, cheaper than a
// goroutine hand-off for the common case of a plain func-returning-nil
// handler. Once a genuine suspension is observed, the remaining drain moves
// to a background goroutine, matching handleStart/continueStart's hand-off
// so the dispatch loop is never blocked waiting on a suspended handler.
func (m *Manager) runHandler(ctx context.Context, ev *event.Event, h registry.Handler) {
	gen := h(ev)
	for {
		_, ok, err := gen.Next(ctx)
		if !ok {
			m.reportHandlerErr(ev, err)
			return
		}
		if gen.HasSuspended() {
			go m.drainHandler(ctx, ev, gen)
			return
		}
	}
}

func (m *Manager) drainHandler(ctx context.Context, ev *event.Event, gen *async.Generator[registry.HandlerBehaviour]) {
	for {
		_, ok, err := gen.Next(ctx)
		if !ok {
			m.reportHandlerErr(ev, err)
			return
		}
	}
}

func (m *Manager) reportHandlerErr(ev *event.Event, err error) {
	if err == nil {
		return
	}
	m.log.Error().Uint64("event_id", ev.ID).Err(err).Msg("handler returned error")
	metrics.RecordHandlerError(ev.Type)
}

// handleStart runs the INSTALLED -> STARTING -> (INJECTING|INSTALLED)
// transition for serviceID. If the generator suspends, draining continues
// on a background goroutine (§4.E's "has suspended since last query"
// handoff) and the outcome is fed back as a typeContinuableStart event so
// the actual state mutation still happens only on the dispatch loop
// goroutine, per spec.md §5's single-writer registry discipline.
func (m *Manager) handleStart(ctx context.Context, serviceID uint64) {
	lm := m.lookup(serviceID)
	if lm == nil {
		return
	}
	m.mu.Lock()
	m.startedAt[serviceID] = time.Now()
	m.mu.Unlock()
	gen := lm.Start(ctx)
	v, ok, err := gen.Next(ctx)
	m.continueStart(ctx, serviceID, gen, v, ok, err)
}

func (m *Manager) continueStart(ctx context.Context, serviceID uint64, gen interface {
	Next(context.Context) (service.StartBehaviour, bool, error)
}, v service.StartBehaviour, ok bool, err error) {
	if !ok {
		m.finishStart(serviceID, err)
		return
	}
	_ = v // service.Started: more to come, keep draining in the background.
	go func() {
		for {
			v, ok, err := gen.Next(ctx)
			if !ok {
				m.queue.Push(event.New(typeContinuableStart, event.InternalPriority, continuableStartPayload{serviceID: serviceID, err: err}))
				return
			}
			_ = v
		}
	}()
}

// finishStart applies the outcome of a completed Start generator: either
// failure (back to INSTALLED, logged, StartServiceFailedEvent emitted) or
// success, which runs the injection protocol and advances INJECTING ->
// ACTIVE.
func (m *Manager) finishStart(serviceID uint64, err error) {
	lm := m.lookup(serviceID)
	if lm == nil {
		return
	}

	m.mu.Lock()
	startedAt, hadStart := m.startedAt[serviceID]
	delete(m.startedAt, serviceID)
	m.mu.Unlock()
	var elapsed time.Duration
	if hadStart {
		elapsed = time.Since(startedAt)
	}

	if err != nil {
		metrics.RecordServiceStart(elapsed, err)
		m.queue.Push(event.New(typeStartServiceFailed, event.InternalPriority, startServiceFailedPayload{serviceID: serviceID, err: err}))
		return
	}
	if lm.Service().State() != service.StateInjecting {
		return
	}
	m.injectIntoDependents(lm, serviceID)
	lm.SetInjected()
	metrics.RecordServiceStart(elapsed, nil)
}

// injectIntoDependents runs the injection protocol (spec.md §4.E): for every
// interface S publishes, wire every consumer that declared a dependency on
// it, recursively triggering their own start when newly satisfied.
func (m *Manager) injectIntoDependents(lm *lifecycle.Manager, serviceID uint64) {
	for _, ifaceID := range m.publishedBy(serviceID) {
		for _, consumerID := range m.consumerIDs(ifaceID) {
			if consumerID == serviceID {
				continue
			}
			consumerLM := m.lookup(consumerID)
			if consumerLM == nil {
				continue
			}
			m.wireOneConsumer(lm, serviceID, consumerLM, consumerID, ifaceID)
		}
	}
}

func (m *Manager) publishedBy(serviceID uint64) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint64
	for ifaceID, ids := range m.providersByIface {
		for _, id := range ids {
			if id == serviceID {
				out = append(out, ifaceID)
				break
			}
		}
	}
	return out
}

func (m *Manager) consumerIDs(ifaceID uint64) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.consumersByIface[ifaceID]))
	copy(out, m.consumersByIface[ifaceID])
	return out
}

// stopServiceSync stops serviceID. It first detaches serviceID from every
// dependee's dependency bookkeeping and recursively stops only the
// dependees whose required dependency on serviceID has no other ACTIVE
// provider left, in reverse-priority order; a dependee with another active
// provider of the same required interface stays ACTIVE with its count
// decremented, matching spec.md §8's "required dependency count" scenario.
// It runs to completion on the calling goroutine (the dispatch loop, for a
// user-issued StopServiceEvent, or Run itself during shutdown).
func (m *Manager) stopServiceSync(ctx context.Context, serviceID uint64) {
	lm := m.lookup(serviceID)
	if lm == nil || lm.Service().State() != service.StateActive {
		return
	}
	stopStarted := time.Now()

	ifaceIDs := m.publishedBy(serviceID)
	var cascade []uint64
	for _, depID := range lm.Dependees() {
		depLM := m.lookup(depID)
		if depLM == nil {
			continue
		}
		unsatisfied := false
		for _, d := range depLM.Dependencies() {
			if !containsUint64(ifaceIDs, d.InterfaceID) {
				continue
			}
			remove := func(v any) {
				if dc, ok := depLM.Service().(DependencyConsumer); ok {
					dc.OnDependencyRemoved(d.InterfaceID, v)
				}
			}
			lm.RemoveSelfInto(d.InterfaceID, depID, remove)
			_, allSatisfied := depLM.DependencyOffline(d.InterfaceID)
			if d.Required && !allSatisfied {
				unsatisfied = true
			}
		}
		if unsatisfied {
			cascade = append(cascade, depID)
		}
	}

	sort.Slice(cascade, func(i, j int) bool {
		return m.priorityOf(cascade[i]) > m.priorityOf(cascade[j])
	})
	for _, depID := range cascade {
		m.stopServiceSync(ctx, depID)
	}

	if !lm.SetUninjected() {
		return
	}

	gen := lm.Stop(ctx)
	for {
		_, ok, err := gen.Next(ctx)
		if !ok {
			if err != nil {
				m.log.Warn().Uint64("service_id", serviceID).Err(err).Msg("stop failed, forcing INSTALLED")
			}
			break
		}
	}

	m.detachFromProviders(lm, serviceID)
	metrics.RecordServiceStop(time.Since(stopStarted))
}

func (m *Manager) priorityOf(serviceID uint64) uint64 {
	lm := m.lookup(serviceID)
	if lm == nil {
		return 0
	}
	return lm.Service().Priority()
}

// detachFromProviders removes serviceID from every provider it was actually
// injected by, the mirror image of wireOneConsumer's InsertSelfInto.
func (m *Manager) detachFromProviders(lm *lifecycle.Manager, serviceID uint64) {
	for _, d := range lm.Dependencies() {
		for _, providerID := range m.providerIDs(d.InterfaceID) {
			providerLM := m.lookup(providerID)
			if providerLM == nil {
				continue
			}
			if !containsUint64(providerLM.Dependees(), serviceID) {
				continue
			}
			remove := func(v any) {
				if dc, ok := lm.Service().(DependencyConsumer); ok {
					dc.OnDependencyRemoved(d.InterfaceID, v)
				}
			}
			providerLM.RemoveSelfInto(d.InterfaceID, serviceID, remove)
			lm.DependencyOffline(d.InterfaceID)
		}
	}
}

func containsUint64(list []uint64, v uint64) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// handleRemove finishes destruction of an already-stopped service, per
// spec.md §4.E ("RemoveServiceEvent with elevated priority finishes
// destruction").
func (m *Manager) handleRemove(serviceID uint64) {
	m.mu.Lock()
	lm := m.services[serviceID]
	delete(m.services, serviceID)
	m.mu.Unlock()
	if lm == nil {
		return
	}
	if ss, ok := lm.Service().(interface{ TransitionTo(service.State) }); ok {
		ss.TransitionTo(service.StateUninstalled)
	}
}

// handleQuit stops every still-ACTIVE service before the loop exits,
// matching spec.md §4.B's "clean shutdown processes the quit event, stops
// services in reverse dependency order, and only then exits".
func (m *Manager) handleQuit(ctx context.Context) {
	for _, id := range m.activeServiceIDs() {
		m.stopServiceSync(ctx, id)
	}
}

// reportServiceStates snapshots the registry's lifecycle states into the
// per-state gauges, replacing the whole vector each time so a service that
// moved out of a state doesn't leave that state's count stale.
func (m *Manager) reportServiceStates() {
	m.mu.Lock()
	counts := make(map[string]int, 6)
	for _, lm := range m.services {
		counts[stateLabel(lm.Service().State())]++
	}
	m.mu.Unlock()
	metrics.SetServicesByState(counts)
}

func stateLabel(s service.State) string {
	switch s {
	case service.StateInstalled:
		return "installed"
	case service.StateStarting:
		return "starting"
	case service.StateInjecting:
		return "injecting"
	case service.StateActive:
		return "active"
	case service.StateUninjecting:
		return "uninjecting"
	case service.StateStopping:
		return "stopping"
	case service.StateUninstalled:
		return "uninstalled"
	default:
		return "other"
	}
}

func (m *Manager) activeServiceIDs() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint64
	for id, lm := range m.services {
		if lm.Service().State() == service.StateActive {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.services[out[i]].Service().Priority() > m.services[out[j]].Service().Priority()
	})
	return out
}

// StopService requests serviceID be stopped, the public entry point behind
// a typeStopService event.
func (m *Manager) StopService(serviceID uint64) {
	m.queue.Push(event.New(typeStopService, event.InternalPriority, stopServicePayload{serviceID: serviceID}))
}

// RemoveService requests serviceID be fully destroyed after it is stopped.
func (m *Manager) RemoveService(serviceID uint64) {
	m.queue.Push(event.New(typeRemoveService, event.InternalPriority+1, removeServicePayload{serviceID: serviceID}))
}

// ServiceState reports the current state of serviceID, or StateUninstalled
// if it is unknown (removed or never registered).
func (m *Manager) ServiceState(serviceID uint64) service.State {
	lm := m.lookup(serviceID)
	if lm == nil {
		return service.StateUninstalled
	}
	return lm.Service().State()
}
