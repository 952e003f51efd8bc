// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

package config

import (
	"strings"
	"testing"
	"time"
)

// validConfig returns a minimal configuration that passes validation.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Upstream.URL = "https://feed.example.com"
	cfg.Upstream.APIKey = "test-read-key"
	cfg.Upstream.ChannelID = "123456"
	cfg.Downstream.URL = "https://store.example.com"
	cfg.Downstream.Path = "transit/vehicle42"
	return cfg
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()

	if cfg.Poll.BaseInterval != 15*time.Second {
		t.Errorf("BaseInterval = %v, want 15s", cfg.Poll.BaseInterval)
	}
	if cfg.Poll.EscalationThreshold != 5 {
		t.Errorf("EscalationThreshold = %d, want 5", cfg.Poll.EscalationThreshold)
	}
	if cfg.Poll.CeilingInterval != 300*time.Second {
		t.Errorf("CeilingInterval = %v, want 300s", cfg.Poll.CeilingInterval)
	}
	if cfg.Poll.CapMultiplier != 20 {
		t.Errorf("CapMultiplier = %d, want 20", cfg.Poll.CapMultiplier)
	}
	if cfg.Poll.StalenessWindow != 300*time.Second {
		t.Errorf("StalenessWindow = %v, want 300s", cfg.Poll.StalenessWindow)
	}
	if cfg.Upstream.LatitudeField != 1 || cfg.Upstream.LongitudeField != 2 {
		t.Errorf("field mapping = (%d,%d), want (1,2)", cfg.Upstream.LatitudeField, cfg.Upstream.LongitudeField)
	}
	if cfg.Server.ShutdownGrace != 10*time.Second {
		t.Errorf("ShutdownGrace = %v, want 10s", cfg.Server.ShutdownGrace)
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing upstream url", func(c *Config) { c.Upstream.URL = "" }},
		{"missing upstream api key", func(c *Config) { c.Upstream.APIKey = "" }},
		{"missing upstream channel", func(c *Config) { c.Upstream.ChannelID = "" }},
		{"missing downstream url", func(c *Config) { c.Downstream.URL = "" }},
		{"missing downstream path", func(c *Config) { c.Downstream.Path = "" }},
		{"malformed upstream url", func(c *Config) { c.Upstream.URL = "not a url" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidateFieldMapping(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Upstream.LatitudeField = 2
	cfg.Upstream.LongitudeField = 2

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for identical field numbers")
	}
	if !strings.Contains(err.Error(), "must differ") {
		t.Errorf("unexpected error message: %v", err)
	}

	// Swapped mapping is legal; only identical fields are rejected.
	cfg.Upstream.LatitudeField = 2
	cfg.Upstream.LongitudeField = 1
	if err := cfg.Validate(); err != nil {
		t.Errorf("swapped field mapping should validate: %v", err)
	}

	cfg.Upstream.LatitudeField = 9
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out-of-range field number")
	}
}

func TestValidateIntervalConstraints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero base interval", func(c *Config) { c.Poll.BaseInterval = 0 }},
		{"ceiling below base", func(c *Config) { c.Poll.CeilingInterval = time.Second }},
		{"zero drift check", func(c *Config) { c.Poll.DriftCheckInterval = 0 }},
		{"zero staleness window", func(c *Config) { c.Poll.StalenessWindow = 0 }},
		{"zero upstream timeout", func(c *Config) { c.Upstream.Timeout = 0 }},
		{"zero downstream timeout", func(c *Config) { c.Downstream.Timeout = 0 }},
		{"negative retry delay", func(c *Config) { c.Upstream.RetryBaseDelay = -time.Second }},
		{"zero shutdown grace", func(c *Config) { c.Server.ShutdownGrace = 0 }},
		{"zero escalation threshold", func(c *Config) { c.Poll.EscalationThreshold = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "https://feed.example.com")
	t.Setenv("UPSTREAM_API_KEY", "env-key")
	t.Setenv("UPSTREAM_CHANNEL_ID", "42")
	t.Setenv("UPSTREAM_LATITUDE_FIELD", "2")
	t.Setenv("UPSTREAM_LONGITUDE_FIELD", "1")
	t.Setenv("DOWNSTREAM_URL", "https://store.example.com")
	t.Setenv("DOWNSTREAM_PATH", "transit/bus7")
	t.Setenv("POLL_BASE_INTERVAL", "30s")
	t.Setenv("HTTP_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Upstream.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.Upstream.APIKey)
	}
	if cfg.Upstream.LatitudeField != 2 || cfg.Upstream.LongitudeField != 1 {
		t.Errorf("field mapping = (%d,%d), want (2,1)", cfg.Upstream.LatitudeField, cfg.Upstream.LongitudeField)
	}
	if cfg.Poll.BaseInterval != 30*time.Second {
		t.Errorf("BaseInterval = %v, want 30s", cfg.Poll.BaseInterval)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	// Unset values keep their defaults.
	if cfg.Downstream.MaxRetries != 3 {
		t.Errorf("Downstream.MaxRetries = %d, want default 3", cfg.Downstream.MaxRetries)
	}
}

func TestLoadFailsFastOnMissingCredentials(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "https://feed.example.com")
	t.Setenv("UPSTREAM_API_KEY", "")
	t.Setenv("UPSTREAM_CHANNEL_ID", "42")
	t.Setenv("DOWNSTREAM_URL", "https://store.example.com")
	t.Setenv("DOWNSTREAM_PATH", "transit/bus7")

	if _, err := Load(); err == nil {
		t.Fatal("expected Load to fail without an upstream API key")
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"UPSTREAM_URL", "upstream.url"},
		{"UPSTREAM_RETRY_BASE_DELAY", "upstream.retry_base_delay"},
		{"DOWNSTREAM_AUTH_SECRET", "downstream.auth_secret"},
		{"POLL_ESCALATION_THRESHOLD", "poll.escalation_threshold"},
		{"LOG_LEVEL", "logging.level"},
		{"SHUTDOWN_GRACE", "server.shutdown_grace"},
		{"PATH", ""},
		{"HOME", ""},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
