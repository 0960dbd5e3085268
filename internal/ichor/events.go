package ichor

import "github.com/tomtom215/ichor-go/internal/event"

// Well-known internal event types. These are reserved sentinels rather than
// TypeID-hashed Go types, since they describe runtime-internal control flow
// that no user code ever declares a payload struct for.
const (
	typeStartService event.TypeID = iota + 1
	typeStopService
	typeRemoveService
	typeContinuableStart
	typeQuit
	typeStartServiceFailed
)

// startServicePayload carries the id of the service to (re)start.
type startServicePayload struct {
	serviceID uint64
}

type stopServicePayload struct {
	serviceID uint64
}

type removeServicePayload struct {
	serviceID uint64
}

// continuableStartPayload carries the outcome of a background-drained Start
// generator back onto the dispatch loop, so the actual state transition
// only ever happens on the loop goroutine.
type continuableStartPayload struct {
	serviceID uint64
	err       error
}

type startServiceFailedPayload struct {
	serviceID uint64
	err       error
}
