// Package config provides layered configuration loading for the runtime:
// compiled-in defaults, overridden by an optional YAML file, overridden by
// environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for a running Ichor process.
type Config struct {
	Dispatch    DispatchConfig    `koanf:"dispatch"`
	Logging     LoggingConfig     `koanf:"logging"`
	EventBridge EventBridgeConfig `koanf:"eventbridge"`
	Metrics     MetricsConfig     `koanf:"metrics"`
}

// DispatchConfig mirrors ichor.Config; it is kept as a separate, koanf-tagged
// struct here because ichor.Config has no struct tags of its own and is not
// meant to know how it is loaded.
type DispatchConfig struct {
	// PopTimeoutMS is the event queue's condvar wait timeout in milliseconds.
	PopTimeoutMS int `koanf:"pop_timeout_ms"`
	// Spinlock enables the queue's busy-poll-before-park mode.
	Spinlock bool `koanf:"spinlock"`
	// HardQuitWindowMS is how long a clean shutdown is given to drain
	// after a quit request before the loop force-exits.
	HardQuitWindowMS int `koanf:"hard_quit_window_ms"`
}

// PopTimeout returns the configured pop timeout as a time.Duration.
func (d DispatchConfig) PopTimeout() time.Duration {
	return time.Duration(d.PopTimeoutMS) * time.Millisecond
}

// HardQuitWindow returns the configured hard-quit window as a time.Duration.
func (d DispatchConfig) HardQuitWindow() time.Duration {
	return time.Duration(d.HardQuitWindowMS) * time.Millisecond
}

// LoggingConfig maps onto logging.Config.
type LoggingConfig struct {
	Level     string `koanf:"level"`
	Format    string `koanf:"format"`
	Caller    bool   `koanf:"caller"`
	Timestamp bool   `koanf:"timestamp"`
}

// EventBridgeConfig controls the outward NATS publisher.
type EventBridgeConfig struct {
	Enabled bool `koanf:"enabled"`
	// URL is the NATS server to publish to. Ignored when EmbeddedServer is true.
	URL string `koanf:"url"`
	// EmbeddedServer runs an in-process NATS server instead of dialing URL.
	EmbeddedServer bool `koanf:"embedded_server"`
	// SubjectPrefix namespaces the subjects events are published under.
	SubjectPrefix string `koanf:"subject_prefix"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled    bool   `koanf:"enabled"`
	ListenAddr string `koanf:"listen_addr"`
}

// defaultConfig returns the compiled-in configuration defaults. It is the
// first layer loaded by LoadWithKoanf; every other layer only overrides
// what it explicitly sets.
func defaultConfig() *Config {
	return &Config{
		Dispatch: DispatchConfig{
			PopTimeoutMS:     500,
			Spinlock:         false,
			HardQuitWindowMS: 5000,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Caller:    false,
			Timestamp: true,
		},
		EventBridge: EventBridgeConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			SubjectPrefix:  "ichor.events",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9090",
		},
	}
}

// Validate checks the configuration for internally inconsistent values that
// would otherwise surface as a confusing failure deep in startup.
func (c *Config) Validate() error {
	if c.Dispatch.PopTimeoutMS <= 0 {
		return fmt.Errorf("dispatch.pop_timeout_ms must be positive, got %d", c.Dispatch.PopTimeoutMS)
	}
	if c.Dispatch.HardQuitWindowMS <= 0 {
		return fmt.Errorf("dispatch.hard_quit_window_ms must be positive, got %d", c.Dispatch.HardQuitWindowMS)
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not a recognized level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if c.EventBridge.Enabled && !c.EventBridge.EmbeddedServer && c.EventBridge.URL == "" {
		return fmt.Errorf("eventbridge.url is required when eventbridge is enabled and embedded_server is false")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics is enabled")
	}
	return nil
}
