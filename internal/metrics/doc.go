/*
Package metrics provides Prometheus instrumentation for the dispatch loop,
the service registry, and the outward event bridge.

# Available Metrics

Dispatch loop:
  - ichor_events_dispatched_total: events dispatched (counter, label event_type)
  - ichor_event_dispatch_duration_seconds: time in dispatch() (histogram, label event_type)
  - ichor_handler_errors_total: handler errors (counter, label event_type)
  - ichor_queue_depth: events waiting in the priority queue (gauge)

Service registry:
  - ichor_services_by_state: services per lifecycle state (gauge, label state)
  - ichor_service_start_duration_seconds: STARTING to ACTIVE latency (histogram)
  - ichor_service_start_failures_total: failed starts (counter)
  - ichor_service_stop_duration_seconds: UNINJECTING to INSTALLED latency (histogram)

Event bridge:
  - ichor_eventbridge_publish_total: outward publishes (counter, labels subject, outcome)
  - ichor_eventbridge_publish_duration_seconds: publish latency (histogram)

# Exposing the Registry

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
*/
package metrics
