// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

// Package config provides layered configuration loading for Posrelay.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables
//   - Config file (config.yaml)
//   - Built-in defaults
//
// All settings are validated at startup; a missing upstream URL/key or
// downstream destination is a fatal startup error, never a first-cycle
// surprise.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the immutable process-wide configuration snapshot.
// It is loaded once at startup and treated as read-only afterwards.
type Config struct {
	Upstream   UpstreamConfig   `koanf:"upstream"`
	Downstream DownstreamConfig `koanf:"downstream"`
	Poll       PollConfig       `koanf:"poll"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// UpstreamConfig configures the feed client for the upstream data-logger API.
//
// The upstream returns generic numbered fields (field1..field8); which field
// carries latitude versus longitude is an explicit, validated configuration
// value because swapping them silently corrupts every relayed position.
type UpstreamConfig struct {
	// URL is the base URL of the upstream feed API.
	URL string `koanf:"url" validate:"required,url"`

	// APIKey is the opaque pre-issued read key for the feed channel.
	APIKey string `koanf:"api_key" validate:"required"`

	// ChannelID identifies the feed channel to poll.
	ChannelID string `koanf:"channel_id" validate:"required"`

	// Timeout bounds a single fetch attempt.
	Timeout time.Duration `koanf:"timeout"`

	// MaxRetries is the per-call retry budget (attempts beyond the first).
	MaxRetries int `koanf:"max_retries" validate:"min=0,max=10"`

	// RetryBaseDelay is multiplied by the attempt number for the linear
	// per-call retry delay (distinct from the poll-cadence backoff).
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// LatitudeField is the numbered upstream field carrying latitude (1..8).
	LatitudeField int `koanf:"latitude_field" validate:"min=1,max=8"`

	// LongitudeField is the numbered upstream field carrying longitude (1..8).
	LongitudeField int `koanf:"longitude_field" validate:"min=1,max=8"`
}

// DownstreamConfig configures the store writer for the downstream
// real-time key-path store.
type DownstreamConfig struct {
	// URL is the base URL of the downstream store.
	URL string `koanf:"url" validate:"required,url"`

	// AuthSecret is the opaque write credential appended to store requests.
	// Optional: open development stores accept unauthenticated writes.
	AuthSecret string `koanf:"auth_secret"`

	// Path is the fixed key path that receives merge-writes,
	// e.g. "transit/vehicle42".
	Path string `koanf:"path" validate:"required"`

	// Timeout bounds a single write attempt.
	Timeout time.Duration `koanf:"timeout"`

	// MaxRetries is the per-call retry budget (attempts beyond the first).
	MaxRetries int `koanf:"max_retries" validate:"min=0,max=10"`

	// RetryBaseDelay is multiplied by (attempt+1) for the write retry delay.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
}

// PollConfig governs the reconciliation cadence and its failure escalation.
type PollConfig struct {
	// BaseInterval is the nominal time between reconciliation cycles.
	BaseInterval time.Duration `koanf:"base_interval"`

	// EscalationThreshold is the consecutive-failure count above which the
	// poll interval escalates.
	EscalationThreshold int `koanf:"escalation_threshold" validate:"min=1"`

	// CeilingInterval caps the escalated poll interval.
	CeilingInterval time.Duration `koanf:"ceiling_interval"`

	// CapMultiplier caps the exponential growth factor applied to
	// BaseInterval during escalation.
	CapMultiplier int `koanf:"cap_multiplier" validate:"min=1"`

	// DriftCheckInterval is the fixed cadence at which the scheduler compares
	// the armed timer interval against the live computed interval.
	DriftCheckInterval time.Duration `koanf:"drift_check_interval"`

	// StalenessWindow is the maximum tolerated time since the last successful
	// cycle before the health snapshot reports degraded.
	StalenessWindow time.Duration `koanf:"staleness_window"`
}

// ServerConfig configures the operational HTTP surface.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`

	// ShutdownGrace bounds the total wait for in-flight work on shutdown;
	// the process exits when it elapses regardless of remaining work.
	ShutdownGrace time.Duration `koanf:"shutdown_grace"`
}

// LoggingConfig configures the global zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values applied.
// Defaults are loaded first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			URL:            "",
			APIKey:         "",
			ChannelID:      "",
			Timeout:        10 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: 2 * time.Second,
			LatitudeField:  1,
			LongitudeField: 2,
		},
		Downstream: DownstreamConfig{
			URL:            "",
			AuthSecret:     "",
			Path:           "",
			Timeout:        10 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: 2 * time.Second,
		},
		Poll: PollConfig{
			BaseInterval:        15 * time.Second,
			EscalationThreshold: 5,
			CeilingInterval:     300 * time.Second,
			CapMultiplier:       20,
			DriftCheckInterval:  10 * time.Second,
			StalenessWindow:     300 * time.Second,
		},
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			Timeout:       30 * time.Second,
			ShutdownGrace: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for startup-fatal problems.
// Struct-tag validation covers required fields and ranges; duration and
// cross-field constraints are checked by hand.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Upstream.LatitudeField == c.Upstream.LongitudeField {
		return fmt.Errorf("upstream latitude_field and longitude_field must differ (both are %d)", c.Upstream.LatitudeField)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive, got %v", c.Upstream.Timeout)
	}
	if c.Upstream.RetryBaseDelay < 0 {
		return fmt.Errorf("upstream retry_base_delay must not be negative, got %v", c.Upstream.RetryBaseDelay)
	}
	if c.Downstream.Timeout <= 0 {
		return fmt.Errorf("downstream timeout must be positive, got %v", c.Downstream.Timeout)
	}
	if c.Downstream.RetryBaseDelay < 0 {
		return fmt.Errorf("downstream retry_base_delay must not be negative, got %v", c.Downstream.RetryBaseDelay)
	}
	if c.Poll.BaseInterval <= 0 {
		return fmt.Errorf("poll base_interval must be positive, got %v", c.Poll.BaseInterval)
	}
	if c.Poll.CeilingInterval < c.Poll.BaseInterval {
		return fmt.Errorf("poll ceiling_interval %v must not be below base_interval %v", c.Poll.CeilingInterval, c.Poll.BaseInterval)
	}
	if c.Poll.DriftCheckInterval <= 0 {
		return fmt.Errorf("poll drift_check_interval must be positive, got %v", c.Poll.DriftCheckInterval)
	}
	if c.Poll.StalenessWindow <= 0 {
		return fmt.Errorf("poll staleness_window must be positive, got %v", c.Poll.StalenessWindow)
	}
	if c.Server.ShutdownGrace <= 0 {
		return fmt.Errorf("server shutdown_grace must be positive, got %v", c.Server.ShutdownGrace)
	}

	return nil
}
