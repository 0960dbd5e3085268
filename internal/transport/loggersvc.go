// Package transport hosts the external-collaborator services named but not
// defined by the core: logger, timer, and network transports. None of them
// get a special-cased injection path from internal/ichor — they are
// ordinary services that happen to front a concrete I/O concern, registered
// with RegisterService like any user service.
package transport

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tomtom215/ichor-go/internal/async"
	"github.com/tomtom215/ichor-go/internal/logging"
	"github.com/tomtom215/ichor-go/internal/service"
)

// LoggerService is the Logger external collaborator: a thin Service
// wrapper around a zerolog logger. It does no I/O of its own beyond what
// the wrapped logger already does; its value is being a named,
// lifecycle-managed unit other services can declare a dependency on,
// rather than reaching for the global logger directly.
type LoggerService struct {
	service.BaseService
	logger zerolog.Logger
}

// NewLoggerService builds a LoggerService logging through the given
// zerolog.Logger.
func NewLoggerService(logger zerolog.Logger) *LoggerService {
	return &LoggerService{
		BaseService: service.NewBaseService(0),
		logger:      logger.With().Str("component", "logger-service").Logger(),
	}
}

// NewGlobalLoggerService builds a LoggerService over the process-wide
// logger configured by internal/logging.
func NewGlobalLoggerService() *LoggerService {
	return NewLoggerService(logging.Logger())
}

// Start is synchronous: there is no connection to establish, only a ready
// logger to expose.
func (s *LoggerService) Start(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		s.logger.Debug().Msg("logger service started")
		return nil
	})
}

// Stop has no buffered writer to flush here and returns immediately.
func (s *LoggerService) Stop(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		s.logger.Debug().Msg("logger service stopped")
		return nil
	})
}

// Logger returns the underlying zerolog.Logger for dependent services to
// log through.
func (s *LoggerService) Logger() zerolog.Logger { return s.logger }
