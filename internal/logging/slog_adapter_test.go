// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSlogHandlerLevels(t *testing.T) {
	var buf bytes.Buffer
	handler := &SlogHandler{logger: NewTestLogger(&buf)}
	slogger := slog.New(handler)

	slogger.Info("info message")
	slogger.Warn("warn message")
	slogger.Error("error message")

	out := buf.String()
	for _, want := range []string{"info message", "warn message", "error message"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestSlogHandlerAttrs(t *testing.T) {
	var buf bytes.Buffer
	handler := &SlogHandler{logger: NewTestLogger(&buf)}
	slogger := slog.New(handler)

	slogger.Info("with fields",
		slog.String("service", "relay"),
		slog.Int64("count", 7),
		slog.Bool("ok", true),
	)

	out := buf.String()
	if !strings.Contains(out, `"service":"relay"`) {
		t.Errorf("missing string attr: %s", out)
	}
	if !strings.Contains(out, `"count":7`) {
		t.Errorf("missing int attr: %s", out)
	}
	if !strings.Contains(out, `"ok":true`) {
		t.Errorf("missing bool attr: %s", out)
	}
}

func TestSlogHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	handler := &SlogHandler{logger: NewTestLogger(&buf)}

	derived := handler.WithAttrs([]slog.Attr{slog.String("component", "supervisor")})
	slog.New(derived).Info("derived message")

	if !strings.Contains(buf.String(), `"component":"supervisor"`) {
		t.Errorf("pre-configured attr missing: %s", buf.String())
	}
}

func TestSlogHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	handler := &SlogHandler{logger: NewTestLogger(&buf)}

	grouped := handler.WithGroup("tree")
	slog.New(grouped).Info("grouped", slog.String("service", "api"))

	if !strings.Contains(buf.String(), `"tree.service":"api"`) {
		t.Errorf("group prefix missing: %s", buf.String())
	}
}

func TestSlogHandlerEnabled(t *testing.T) {
	handler := &SlogHandler{logger: NewTestLogger(&bytes.Buffer{}).Level(zerolog.WarnLevel)}

	if handler.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !handler.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestSlogToZerologLevel(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  zerolog.Level
	}{
		{slog.LevelDebug, zerolog.DebugLevel},
		{slog.LevelInfo, zerolog.InfoLevel},
		{slog.LevelWarn, zerolog.WarnLevel},
		{slog.LevelError, zerolog.ErrorLevel},
	}

	for _, tt := range tests {
		if got := slogToZerologLevel(tt.level); got != tt.want {
			t.Errorf("slogToZerologLevel(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
