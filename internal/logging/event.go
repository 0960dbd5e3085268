package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// EventLogger provides specialized logging for the dispatch loop and the
// outward NATS/Watermill event bridge, with named methods for the handful
// of event-lifecycle occurrences worth a dedicated call site instead of a
// raw zerolog chain.
type EventLogger struct {
	logger zerolog.Logger
}

// NewEventLogger creates a logger configured for event processing, using
// the global logger with a component field.
func NewEventLogger() *EventLogger {
	return &EventLogger{
		logger: With().Str("component", "eventbridge").Logger(),
	}
}

// NewEventLoggerWithLogger creates an EventLogger with a custom logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value (copy-on-write semantics)
func NewEventLoggerWithLogger(logger zerolog.Logger) *EventLogger {
	return &EventLogger{
		logger: logger.With().Str("component", "eventbridge").Logger(),
	}
}

// Debug logs a debug message.
func (e *EventLogger) Debug(msg string, fields ...interface{}) {
	event := e.logger.Debug()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// Info logs an info message.
func (e *EventLogger) Info(msg string, fields ...interface{}) {
	event := e.logger.Info()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// Warn logs a warning message.
func (e *EventLogger) Warn(msg string, fields ...interface{}) {
	event := e.logger.Warn()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// Error logs an error message.
func (e *EventLogger) Error(msg string, fields ...interface{}) {
	event := e.logger.Error()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

func (e *EventLogger) loggerWithContext(ctx context.Context) zerolog.Logger {
	logCtx := e.logger.With()
	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		logCtx = logCtx.Str("correlation_id", correlationID)
	}
	return logCtx.Logger()
}

// LogDispatched logs one event being routed through the dispatch loop.
func (e *EventLogger) LogDispatched(ctx context.Context, eventID, eventType uint64) {
	logger := e.loggerWithContext(ctx)
	logger.Debug().Uint64("event_id", eventID).Uint64("event_type", eventType).Msg("event dispatched")
}

// LogHandlerFailed logs a handler returning an error for a given event.
func (e *EventLogger) LogHandlerFailed(ctx context.Context, eventID uint64, err error) {
	logger := e.loggerWithContext(ctx)
	logger.Error().Uint64("event_id", eventID).Err(err).Msg("event handler failed")
}

// LogPublished logs an event forwarded onto the outward NATS subject.
func (e *EventLogger) LogPublished(ctx context.Context, eventID uint64, subject string) {
	logger := e.loggerWithContext(ctx)
	logger.Debug().Uint64("event_id", eventID).Str("subject", subject).Msg("event published")
}

// LogPublishFailed logs a failed publish to the outward NATS subject.
func (e *EventLogger) LogPublishFailed(ctx context.Context, eventID uint64, subject string, err error) {
	logger := e.loggerWithContext(ctx)
	logger.Warn().Uint64("event_id", eventID).Str("subject", subject).Err(err).Msg("event publish failed")
}

// LogRouterStarted logs when the Watermill router starts.
func (e *EventLogger) LogRouterStarted() {
	e.Info("event bridge router started")
}

// LogRouterStopped logs when the Watermill router stops.
func (e *EventLogger) LogRouterStopped() {
	e.Info("event bridge router stopped")
}
