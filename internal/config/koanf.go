package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where a config file is searched for, in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/ichor/config.yaml",
	"/etc/ichor/config.yml",
}

// ConfigPathEnvVar overrides the config file search with an explicit path.
const ConfigPathEnvVar = "CONFIG_PATH"

// LoadWithKoanf loads the configuration in three layers, each overriding the
// last: compiled-in defaults, an optional YAML file, then environment
// variables.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Transform environment variable names to koanf paths, e.g.
	// EVENTBRIDGE_URL -> eventbridge.url, LOG_LEVEL -> logging.level.
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths, honoring
// ConfigPathEnvVar first.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps flat environment variable names onto nested koanf
// config paths. Unmapped keys are skipped so unrelated environment variables
// never pollute the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"dispatch_pop_timeout_ms":      "dispatch.pop_timeout_ms",
		"dispatch_spinlock":            "dispatch.spinlock",
		"dispatch_hard_quit_window_ms": "dispatch.hard_quit_window_ms",

		"log_level":     "logging.level",
		"log_format":    "logging.format",
		"log_caller":    "logging.caller",
		"log_timestamp": "logging.timestamp",

		"eventbridge_enabled":         "eventbridge.enabled",
		"eventbridge_url":             "eventbridge.url",
		"eventbridge_embedded_server": "eventbridge.embedded_server",
		"eventbridge_subject_prefix":  "eventbridge.subject_prefix",

		"metrics_enabled":     "metrics.enabled",
		"metrics_listen_addr": "metrics.listen_addr",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// GetKoanfInstance returns a fresh Koanf instance for advanced usage, such as
// a hot-reload loop that wants its own provider stack.
func GetKoanfInstance() *koanf.Koanf {
	return koanf.New(".")
}

// WatchConfigFile watches a config file for changes and invokes callback on
// each one. The caller is responsible for synchronizing access to whatever
// configuration state callback reloads.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
