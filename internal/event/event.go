// Package event defines the dispatch loop's unit of work and the
// priority-bucketed queue that feeds it, grounded on spec.md §4.B and on
// the original's event_queues/MultimapQueue.cpp multimap-of-priority
// semantics.
package event

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// InternalPriority is the reserved priority system-originated events (quit,
// start/stop/remove) are enqueued at.
const InternalPriority uint64 = 0

var idCounter atomic.Uint64

// NextID returns a process-local, monotonically increasing event id.
func NextID() uint64 {
	return idCounter.Add(1)
}

// TypeID is the stable 64-bit identifier of an event's concrete Go type,
// used by the registry to route dispatch without reflection at call sites.
type TypeID = uint64

// Event is the envelope every producer pushes onto a Queue. Payload carries
// the event-specific data; concrete event types (StartServiceEvent,
// QuitEvent, and so on) are modeled in internal/ichor, which knows their
// TypeID values.
type Event struct {
	ID                   uint64
	Type                 TypeID
	OriginatingServiceID uint64
	Priority             uint64
	CorrelationID        uuid.UUID
	Payload              any
}

// New builds an Event with a fresh id and a fresh correlation id for
// downstream observability (the event bridge, §2.2).
func New(typeID TypeID, priority uint64, payload any) *Event {
	return &Event{
		ID:            NextID(),
		Type:          typeID,
		Priority:      priority,
		CorrelationID: uuid.New(),
		Payload:       payload,
	}
}

// NewFrom is New, additionally stamping the service that originated the
// event (spec.md §6.2's originatingServiceId).
func NewFrom(typeID TypeID, priority, originatingServiceID uint64, payload any) *Event {
	ev := New(typeID, priority, payload)
	ev.OriginatingServiceID = originatingServiceID
	return ev
}
