// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

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

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/posrelay/config.yaml",
	"/etc/posrelay/config.yml",
}

// ConfigPathEnvVar is the environment variable that overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if present)
//  3. Environment variables: override any setting
//
// The result is validated before being returned; validation failure is a
// startup-fatal condition for the caller.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// UPSTREAM_API_KEY -> upstream.api_key, POLL_BASE_INTERVAL -> poll.base_interval
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
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

// findConfigFile searches for a config file in the default paths.
// Returns the path of the first file found, or empty string if none exists.
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

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables return empty string and are skipped, preventing random
// environment variables from polluting the config.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		// Upstream feed mappings
		"upstream_url":              "upstream.url",
		"upstream_api_key":          "upstream.api_key",
		"upstream_channel_id":       "upstream.channel_id",
		"upstream_timeout":          "upstream.timeout",
		"upstream_max_retries":      "upstream.max_retries",
		"upstream_retry_base_delay": "upstream.retry_base_delay",
		"upstream_latitude_field":   "upstream.latitude_field",
		"upstream_longitude_field":  "upstream.longitude_field",

		// Downstream store mappings
		"downstream_url":              "downstream.url",
		"downstream_auth_secret":      "downstream.auth_secret",
		"downstream_path":             "downstream.path",
		"downstream_timeout":          "downstream.timeout",
		"downstream_max_retries":      "downstream.max_retries",
		"downstream_retry_base_delay": "downstream.retry_base_delay",

		// Poll cadence mappings
		"poll_base_interval":        "poll.base_interval",
		"poll_escalation_threshold": "poll.escalation_threshold",
		"poll_ceiling_interval":     "poll.ceiling_interval",
		"poll_cap_multiplier":       "poll.cap_multiplier",
		"poll_drift_check_interval": "poll.drift_check_interval",
		"poll_staleness_window":     "poll.staleness_window",

		// Server mappings
		"http_host":      "server.host",
		"http_port":      "server.port",
		"http_timeout":   "server.timeout",
		"shutdown_grace": "server.shutdown_grace",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
