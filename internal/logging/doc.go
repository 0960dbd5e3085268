// This file documents the logging package's conventions beyond the
// Quick Start in logger.go.
//
// # Structured Logging
//
// Always terminate log chains with .Msg() or .Send():
//
//	logging.Info().Str("key", "value").Msg("message")  // correct
//	logging.Info().Str("key", "value")                 // wrong, never emitted
//
// Prefer structured fields over string formatting:
//
//	logging.Info().Str("component", name).Int("count", n).Msg("items processed")
//	logging.Info().Msgf("%s processed %d items", name, n) // avoid
//
// # Component Loggers
//
//	componentLogger := logging.WithComponent("dispatch")
//	componentLogger.Info().Msg("loop started")
//
// # slog Adapter
//
// NewSlogHandler adapts the global zerolog logger to slog.Handler, for
// libraries (sutureslog, in this repository) that require an slog.Logger:
//
//	slogger := slog.New(logging.NewSlogHandler())
package logging
