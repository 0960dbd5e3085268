package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// This package instruments the dispatch loop, the service registry, and the
// outward event bridge. Every metric name carries the fixed "ichor_" prefix.

var (
	// EventsDispatchedTotal counts events that reached dispatch(), labeled by
	// their numeric event type id (stringified, since event type ids are
	// derived from Go type names at runtime and have no fixed label set).
	EventsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ichor_events_dispatched_total",
			Help: "Total number of events popped from the queue and dispatched",
		},
		[]string{"event_type"},
	)

	EventDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ichor_event_dispatch_duration_seconds",
			Help:    "Time spent in dispatch() for one event, including all matching handlers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	HandlerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ichor_handler_errors_total",
			Help: "Total number of event handlers that returned an error",
		},
		[]string{"event_type"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ichor_queue_depth",
			Help: "Current number of events waiting in the priority queue",
		},
	)

	// ServicesByState tracks the number of registered services currently in
	// each lifecycle state (installed, starting, injecting, active,
	// uninjecting, stopping).
	ServicesByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ichor_services_by_state",
			Help: "Current number of services in each lifecycle state",
		},
		[]string{"state"},
	)

	ServiceStartDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ichor_service_start_duration_seconds",
			Help:    "Time from STARTING to ACTIVE for a service, across all suspend/resume cycles",
			Buckets: prometheus.DefBuckets,
		},
	)

	ServiceStartFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ichor_service_start_failures_total",
			Help: "Total number of service starts that returned a StartError",
		},
	)

	ServiceStopDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ichor_service_stop_duration_seconds",
			Help:    "Time from UNINJECTING to INSTALLED for a service being stopped",
			Buckets: prometheus.DefBuckets,
		},
	)

	// EventBridgePublishTotal counts events forwarded to the outward NATS
	// subject, labeled by subject and outcome.
	EventBridgePublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ichor_eventbridge_publish_total",
			Help: "Total number of events published to the outward event bridge",
		},
		[]string{"subject", "outcome"},
	)

	EventBridgePublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ichor_eventbridge_publish_duration_seconds",
			Help:    "Time spent publishing one event to the outward event bridge",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// RecordEventDispatched records one event reaching dispatch().
func RecordEventDispatched(eventType uint64, duration time.Duration) {
	label := strconv.FormatUint(eventType, 10)
	EventsDispatchedTotal.WithLabelValues(label).Inc()
	EventDispatchDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordHandlerError records a handler returning an error for eventType.
func RecordHandlerError(eventType uint64) {
	HandlerErrorsTotal.WithLabelValues(strconv.FormatUint(eventType, 10)).Inc()
}

// UpdateQueueDepth sets the current queue depth gauge.
func UpdateQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

// SetServicesByState replaces the per-state service count gauges in one
// call, so a stale state never lingers above zero between snapshots.
func SetServicesByState(counts map[string]int) {
	for _, state := range []string{"installed", "starting", "injecting", "active", "uninjecting", "stopping"} {
		ServicesByState.WithLabelValues(state).Set(float64(counts[state]))
	}
}

// RecordServiceStart records a completed service start.
func RecordServiceStart(duration time.Duration, err error) {
	if err != nil {
		ServiceStartFailuresTotal.Inc()
		return
	}
	ServiceStartDuration.Observe(duration.Seconds())
}

// RecordServiceStop records a completed service stop.
func RecordServiceStop(duration time.Duration) {
	ServiceStopDuration.Observe(duration.Seconds())
}

// RecordEventBridgePublish records one publish attempt to the outward bridge.
func RecordEventBridgePublish(subject string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	EventBridgePublishTotal.WithLabelValues(subject, outcome).Inc()
	EventBridgePublishDuration.Observe(duration.Seconds())
}
