/*
Package eventbridge is the dispatch loop's one-way observability sink. It
never participates in the dependency graph: no service declares it as a
dependency, and it never pushes events back onto the manager's queue.

# Wiring

	srv, _ := eventbridge.NewEmbeddedServer(eventbridge.DefaultServerConfig())
	pub, _ := eventbridge.NewPublisher(eventbridge.DefaultPublisherConfig(srv.ClientURL()), nil)
	bridge := eventbridge.New(manager, pub, "ichor.events")

	tree.AddCollaborator(bridge)

Every event the manager dispatches is republished on
"<prefix>.<event type id>" after handler dispatch (via an interceptor
registered for Post on every event type), subject to a bounded backlog: a
full backlog drops the event rather than applying backpressure to
dispatch. Publish failures are logged and counted but never retried
inline — transport.Breaker trips the underlying circuit instead, so a
persistent NATS outage fails fast rather than stalling the publish
goroutine.
*/
package eventbridge
