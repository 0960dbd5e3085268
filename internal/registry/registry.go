// Package registry holds the dispatch loop's two parallel subscription
// indexes: handlers, keyed by event type, and interceptors, which may match
// every event type. Grounded on spec.md §4.F and on the ordered
// middleware/handler-table conventions in
// _examples/tomtom215-cartographus/internal/eventprocessor/router.go.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tomtom215/ichor-go/internal/async"
	"github.com/tomtom215/ichor-go/internal/event"
)

// HandlerBehaviour is the single-valued payload a handler's generator yields
// while it has more work to do before it is DONE. Unlike
// service.StartBehaviour (which distinguishes STARTED from DONE), an event
// handler only ever reports it is not yet finished; HandlerDone is the one
// value the dispatch loop ever sees in between.
type HandlerBehaviour int

const (
	// HandlerDone is yielded to mean "still running, more to come".
	HandlerDone HandlerBehaviour = iota
)

// Handler processes one event as an async generator, so a handler that needs
// to await a dependency can suspend without blocking the single-consumer
// dispatch loop. A handler with nothing to suspend on returns
// async.New(func(ctx, yield) error { return nil }) and the dispatch loop
// drains it inline, the same as any other generator that never truly
// suspends.
type Handler func(ev *event.Event) *async.Generator[HandlerBehaviour]

// Interceptor observes an event before (pre) or after (post) it is routed
// to handlers. eventTypeID == 0 means "matches every event type". Pre
// returns false to veto the event: handler routing is skipped for it, though
// every Post hook still runs. Post receives only the event; it is not told
// whether the event was vetoed.
type Interceptor struct {
	Pre  func(ev *event.Event) bool
	Post func(ev *event.Event)
}

// Registration is returned by Subscribe; Unregister removes the entry it
// refers to. Calling Unregister more than once is a no-op.
type Registration struct {
	unregister func()
	once       sync.Once
}

func (r *Registration) Unregister() {
	r.once.Do(func() {
		if r.unregister != nil {
			r.unregister()
		}
	})
}

type handlerEntry struct {
	id       uint64
	priority uint64
	seq      uint64
	handler  Handler
}

// Handlers is `eventTypeId -> ordered list of (serviceId, priority,
// callable)`, ordered ascending by priority and stably among equals by
// insertion sequence. Snapshot hands out a copy, so Subscribe calls made
// from inside a dispatch take effect on the next dispatch rather than
// perturbing the iteration already in flight. A generation counter per
// bucket counts Subscribe/Unregister calls (see Generation).
type Handlers struct {
	mu      sync.Mutex
	buckets map[event.TypeID][]handlerEntry
	seq     atomic.Uint64
	gen     map[event.TypeID]*atomic.Uint64
}

func NewHandlers() *Handlers {
	return &Handlers{
		buckets: make(map[event.TypeID][]handlerEntry),
		gen:     make(map[event.TypeID]*atomic.Uint64),
	}
}

// Subscribe registers h for events of type typeID, with the given
// serviceID/priority for ordering, and returns a handle to unregister it.
func (h *Handlers) Subscribe(typeID event.TypeID, serviceID, priority uint64, fn Handler) *Registration {
	h.mu.Lock()
	entry := handlerEntry{id: serviceID, priority: priority, seq: h.seq.Add(1), handler: fn}
	h.buckets[typeID] = append(h.buckets[typeID], entry)
	sortHandlers(h.buckets[typeID])
	h.bumpGenLocked(typeID)
	h.mu.Unlock()

	return &Registration{unregister: func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		list := h.buckets[typeID]
		for i, e := range list {
			if e.seq == entry.seq {
				h.buckets[typeID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		h.bumpGenLocked(typeID)
	}}
}

func (h *Handlers) bumpGenLocked(typeID event.TypeID) {
	g, ok := h.gen[typeID]
	if !ok {
		g = &atomic.Uint64{}
		h.gen[typeID] = g
	}
	g.Add(1)
}

func sortHandlers(entries []handlerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})
}

// Snapshot returns the handlers currently registered for typeID, in
// dispatch order. It is a copy: subscriptions made while a caller iterates
// a previously taken snapshot never retroactively change it, satisfying
// §4.F's "subscription during dispatch must not affect the current event's
// handler iteration".
func (h *Handlers) Snapshot(typeID event.TypeID) []Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.buckets[typeID]
	out := make([]Handler, len(list))
	for i, e := range list {
		out[i] = e.handler
	}
	return out
}

// Generation returns the current subscription generation for typeID, which
// increments on every Subscribe/Unregister. Callers that cache a Snapshot
// across multiple dispatch turns can compare generations to know whether to
// re-fetch.
func (h *Handlers) Generation(typeID event.TypeID) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.gen[typeID]
	if !ok {
		return 0
	}
	return g.Load()
}

type interceptorEntry struct {
	seq uint64
	it  Interceptor
}

// Interceptors is `eventTypeId -> list<(pre, post)>`, with 0 matching every
// event.
type Interceptors struct {
	mu      sync.Mutex
	buckets map[event.TypeID][]interceptorEntry
	seq     atomic.Uint64
}

func NewInterceptors() *Interceptors {
	return &Interceptors{buckets: make(map[event.TypeID][]interceptorEntry)}
}

// Subscribe registers it for typeID (0 for all event types) and returns a
// handle to unregister it.
func (ic *Interceptors) Subscribe(typeID event.TypeID, it Interceptor) *Registration {
	ic.mu.Lock()
	entry := interceptorEntry{seq: ic.seq.Add(1), it: it}
	ic.buckets[typeID] = append(ic.buckets[typeID], entry)
	ic.mu.Unlock()

	return &Registration{unregister: func() {
		ic.mu.Lock()
		defer ic.mu.Unlock()
		list := ic.buckets[typeID]
		for i, e := range list {
			if e.seq == entry.seq {
				ic.buckets[typeID] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}}
}

// RunPre invokes every interceptor matching ev.Type, then every interceptor
// registered for "all events" (typeID 0), calling only the non-nil Pre hook
// of each. Every matching Pre hook runs regardless of earlier results, so
// one vetoing interceptor never silences another's observation; RunPre
// reports false (vetoed) if any of them returned false.
func (ic *Interceptors) RunPre(ev *event.Event) bool {
	ok := true
	for _, it := range ic.matching(ev.Type) {
		if it.Pre != nil && !it.Pre(ev) {
			ok = false
		}
	}
	return ok
}

// RunPost mirrors RunPre for the Post hook, after handler dispatch.
func (ic *Interceptors) RunPost(ev *event.Event) {
	for _, it := range ic.matching(ev.Type) {
		if it.Post != nil {
			it.Post(ev)
		}
	}
}

func (ic *Interceptors) matching(typeID event.TypeID) []Interceptor {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	var out []Interceptor
	for _, e := range ic.buckets[typeID] {
		out = append(out, e.it)
	}
	if typeID != 0 {
		for _, e := range ic.buckets[0] {
			out = append(out, e.it)
		}
	}
	return out
}
