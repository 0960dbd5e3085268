// Package eventbridge forwards dispatched events outward onto NATS for
// external observability. It is a one-way, best-effort publisher: it never
// feeds events back into the dependency graph and never blocks dispatch,
// so it deliberately does not implement internal/service.Service or go
// through internal/ichor.RegisterService — it is wired instead as a
// supervised suture.Service hooked into the dispatch loop's interceptor
// chain, grounded on the publish path in
// _examples/tomtom215-cartographus/internal/eventprocessor/publisher.go and
// the ordered middleware conventions in that package's router.go.
package eventbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	gojson "github.com/goccy/go-json"

	"github.com/tomtom215/ichor-go/internal/event"
	"github.com/tomtom215/ichor-go/internal/ichor"
	"github.com/tomtom215/ichor-go/internal/logging"
	"github.com/tomtom215/ichor-go/internal/metrics"
	"github.com/tomtom215/ichor-go/internal/registry"
)

// backlogSize bounds how many dispatched events the bridge buffers between
// the dispatch loop's goroutine and its own publish goroutine. A full
// backlog drops the event rather than applying backpressure to dispatch.
const backlogSize = 1024

// Bridge subscribes to every event the manager dispatches and republishes
// each one onto subjectPrefix + "." + the event's type id.
type Bridge struct {
	manager       *ichor.Manager
	publisher     *Publisher
	subjectPrefix string
	logger        *logging.EventLogger

	events chan *event.Event
}

// New builds a Bridge over manager, publishing through publisher.
// subjectPrefix is the prefix every outgoing subject is namespaced under (e.g.
// "ichor.events").
func New(manager *ichor.Manager, publisher *Publisher, subjectPrefix string) *Bridge {
	return &Bridge{
		manager:       manager,
		publisher:     publisher,
		subjectPrefix: subjectPrefix,
		logger:        logging.NewEventLogger(),
		events:        make(chan *event.Event, backlogSize),
	}
}

// Serve implements suture.Service. It subscribes a global post-dispatch
// interceptor for the duration of ctx and drains the resulting backlog onto
// the publisher, returning nil on clean shutdown.
func (b *Bridge) Serve(ctx context.Context) error {
	reg := b.manager.Interceptors().Subscribe(0, registry.Interceptor{Post: b.enqueue})
	defer reg.Unregister()

	b.logger.LogRouterStarted()
	defer b.logger.LogRouterStopped()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-b.events:
			b.publish(ctx, ev)
		}
	}
}

// enqueue is the interceptor's Post hook: it never blocks dispatch, so a
// full backlog simply drops the event.
func (b *Bridge) enqueue(ev *event.Event) {
	select {
	case b.events <- ev:
	default:
		logging.Warn().Uint64("event_id", ev.ID).Msg("eventbridge backlog full, dropping event")
	}
}

func (b *Bridge) publish(ctx context.Context, ev *event.Event) {
	subject := fmt.Sprintf("%s.%d", b.subjectPrefix, ev.Type)

	payload, err := gojson.Marshal(ev.Payload)
	if err != nil {
		b.logger.LogPublishFailed(ctx, ev.ID, subject, err)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("ichor-event-id", fmt.Sprintf("%d", ev.ID))
	msg.Metadata.Set("ichor-correlation-id", ev.CorrelationID.String())

	start := time.Now()
	err = b.publisher.Publish(subject, msg)
	metrics.RecordEventBridgePublish(subject, time.Since(start), err)

	if err != nil {
		b.logger.LogPublishFailed(ctx, ev.ID, subject, err)
		return
	}
	b.logger.LogPublished(ctx, ev.ID, subject)
}
