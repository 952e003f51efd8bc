// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

package store

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/openfleet/posrelay/internal/config"
	"github.com/openfleet/posrelay/internal/feed"
)

func testDownstreamConfig(serverURL string) *config.DownstreamConfig {
	return &config.DownstreamConfig{
		URL:            serverURL,
		AuthSecret:     "secret-token",
		Path:           "vehicle/position",
		Timeout:        2 * time.Second,
		MaxRetries:     2,
		RetryBaseDelay: 5 * time.Millisecond,
	}
}

func testSample() *feed.Sample {
	return &feed.Sample{
		EntryID:    42,
		Latitude:   51.5074,
		Longitude:  -0.1278,
		CapturedAt: "2026-08-29T10:00:00Z",
	}
}

func TestWritePositionSuccess(t *testing.T) {
	t.Parallel()

	var gotMethod, gotPath, gotAuth string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.URL.Query().Get("auth")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(testDownstreamConfig(server.URL))
	client.now = func() time.Time {
		return time.Date(2026, 8, 29, 10, 0, 5, 0, time.UTC)
	}

	if err := client.WritePosition(context.Background(), testSample()); err != nil {
		t.Fatalf("WritePosition failed: %v", err)
	}

	if gotMethod != http.MethodPatch {
		t.Errorf("expected PATCH, got %s", gotMethod)
	}
	if gotPath != "/vehicle/position.json" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if gotAuth != "secret-token" {
		t.Errorf("expected auth secret in query, got %q", gotAuth)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["latitude"] != 51.5074 {
		t.Errorf("unexpected latitude: %v", payload["latitude"])
	}
	if payload["upstreamEntryId"] != float64(42) {
		t.Errorf("unexpected upstream entry ID: %v", payload["upstreamEntryId"])
	}
	if payload["updatedAt"] != "2026-08-29 10:00:05 UTC" {
		t.Errorf("unexpected updatedAt: %v", payload["updatedAt"])
	}
	if payload["upstreamTimestamp"] != "2026-08-29T10:00:00Z" {
		t.Errorf("unexpected upstream timestamp: %v", payload["upstreamTimestamp"])
	}
}

func TestWritePositionOmitsAuthWhenUnset(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("auth") {
			t.Error("auth param must be absent when no secret is configured")
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := testDownstreamConfig(server.URL)
	cfg.AuthSecret = ""
	client := NewClient(cfg)

	if err := client.WritePosition(context.Background(), testSample()); err != nil {
		t.Fatalf("WritePosition failed: %v", err)
	}
}

func TestWritePositionRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(testDownstreamConfig(server.URL))

	err := client.WritePosition(context.Background(), testSample())
	var de *DownstreamError
	if !errors.As(err, &de) {
		t.Fatalf("expected DownstreamError, got %v", err)
	}
	if de.Kind != KindWriteRejected {
		t.Errorf("expected kind %q, got %q", KindWriteRejected, de.Kind)
	}
	if de.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", de.StatusCode)
	}
}

func TestWritePositionRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(testDownstreamConfig(server.URL))

	if err := client.WritePosition(context.Background(), testSample()); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestWritePositionTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	cfg := testDownstreamConfig(server.URL)
	cfg.Timeout = 50 * time.Millisecond
	cfg.MaxRetries = 0
	client := NewClient(cfg)

	err := client.WritePosition(context.Background(), testSample())
	var de *DownstreamError
	if !errors.As(err, &de) || de.Kind != KindWriteTimeout {
		t.Fatalf("expected timeout downstream error, got %v", err)
	}
}

func TestWritePositionContextCancellation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testDownstreamConfig(server.URL)
	cfg.RetryBaseDelay = 10 * time.Second
	client := NewClient(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := client.WritePosition(ctx, testSample())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
