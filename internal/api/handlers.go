// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/openfleet/posrelay/internal/relay"
)

// Version is the reported service version, overridable at build time with
// -ldflags "-X github.com/openfleet/posrelay/internal/api.Version=...".
var Version = "dev"

// HealthSource provides point-in-time engine state for the probes.
// Implemented by *relay.Engine.
type HealthSource interface {
	Snapshot() relay.HealthSnapshot
}

// Handler serves the HTTP endpoints.
type Handler struct {
	source    HealthSource
	startTime time.Time
}

// NewHandler creates an API handler backed by the given health source.
func NewHandler(source HealthSource) *Handler {
	return &Handler{
		source:    source,
		startTime: time.Now(),
	}
}

// Health returns the full health snapshot. Responds 200 while healthy and
// 503 when degraded, so plain HTTP probes work without parsing the body.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Snapshot()

	status := http.StatusOK
	if snap.Status == relay.StatusDegraded {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, &APIResponse{
		Success: snap.Status == relay.StatusHealthy,
		Data:    snap,
	})
}

// HealthLive is a liveness probe: 200 whenever the process is alive,
// regardless of upstream or downstream reachability.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"alive":   true,
			"version": Version,
			"uptime":  time.Since(h.startTime).Seconds(),
		},
	})
}

// Status renders a terse plain-text summary for humans poking the service
// with curl.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Snapshot()

	lastSuccess := "never"
	if snap.LastSuccessAt != nil {
		lastSuccess = snap.LastSuccessAt.UTC().Format(time.RFC3339)
	}
	baseline := "unset"
	if snap.LastAcceptedEntryID != nil {
		baseline = fmt.Sprintf("%d", *snap.LastAcceptedEntryID)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "posrelay %s\n", Version)
	fmt.Fprintf(w, "status:                %s\n", snap.Status)
	fmt.Fprintf(w, "uptime:                %s\n", snap.Uptime)
	fmt.Fprintf(w, "last accepted entry:   %s\n", baseline)
	fmt.Fprintf(w, "last success:          %s\n", lastSuccess)
	fmt.Fprintf(w, "consecutive failures:  %d\n", snap.ConsecutiveFailures)
	fmt.Fprintf(w, "total failures:        %d\n", snap.TotalFailures)
	fmt.Fprintf(w, "configured interval:   %s\n", snap.ConfiguredInterval)
	fmt.Fprintf(w, "current interval:      %s\n", snap.CurrentInterval)
}
