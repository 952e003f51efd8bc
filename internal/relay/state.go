// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

package relay

import (
	"runtime"
	"time"
)

// Health status values reported by Snapshot.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// State is the engine's mutable reconciliation state. It is owned by the
// engine and guarded by the engine's mutex; readers go through Snapshot.
type State struct {
	// LastAcceptedEntryID is the upstream identifier of the last sample
	// either adopted at first sight or confirmed written downstream.
	// Nil until the first successful fetch.
	LastAcceptedEntryID *int64

	ConsecutiveFailures int
	TotalFailures       int
	LastSuccessAt       time.Time
	StartedAt           time.Time
	ShuttingDown        bool
}

// MemoryStats is the subset of runtime memory counters exposed by the
// health endpoint.
type MemoryStats struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	Goroutines      int    `json:"goroutines"`
}

// HealthSnapshot is a point-in-time read-only view of the engine,
// safe to serialize while a cycle is in flight.
type HealthSnapshot struct {
	Status               string        `json:"status"`
	Uptime               string        `json:"uptime"`
	UptimeSeconds        float64       `json:"uptime_seconds"`
	Memory               MemoryStats   `json:"memory"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	TotalFailures        int           `json:"total_failures"`
	LastSuccessAt        *time.Time    `json:"last_success_at"`
	TimeSinceLastSuccess time.Duration `json:"time_since_last_success_ms"`
	ConfiguredInterval   time.Duration `json:"configured_interval_ms"`
	CurrentInterval      time.Duration `json:"current_interval_ms"`
	LastAcceptedEntryID  *int64        `json:"last_accepted_entry_id"`
}

// collectMemoryStats reads the runtime counters for a health snapshot.
func collectMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		NumGC:           m.NumGC,
		Goroutines:      runtime.NumGoroutine(),
	}
}
