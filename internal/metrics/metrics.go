// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

// Package metrics provides Prometheus instrumentation for Posrelay.
//
// Instrumented concerns:
//   - Reconciliation cycle outcomes and durations
//   - Upstream fetch and downstream write latency
//   - Failure counters and the adaptive poll interval
//   - Circuit breaker state for the upstream feed
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconciliation cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_cycles_total",
			Help: "Total number of reconciliation cycles by outcome",
		},
		[]string{"outcome"}, // "first_seen", "duplicate", "new", "invalid", "fetch_error", "write_error", "skipped"
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_cycle_duration_seconds",
			Help:    "Duration of a complete fetch-classify-write cycle in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// Upstream feed metrics
	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_fetch_duration_seconds",
			Help:    "Duration of upstream feed fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_fetch_errors_total",
			Help: "Total number of upstream fetch errors by kind",
		},
		[]string{"kind"}, // "timeout", "status", "malformed", "empty"
	)

	// Downstream store metrics
	WriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_write_duration_seconds",
			Help:    "Duration of downstream store writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_writes_total",
			Help: "Total number of successful downstream position writes",
		},
	)

	WriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_write_errors_total",
			Help: "Total number of downstream write errors by kind",
		},
		[]string{"kind"}, // "timeout", "rejected"
	)

	// Backoff state metrics
	ConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_consecutive_failures",
			Help: "Current count of consecutive failed cycles",
		},
	)

	TotalFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_total_failures",
			Help: "Decaying total failure count (decremented on success)",
		},
	)

	CurrentInterval = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_current_interval_seconds",
			Help: "Current poll interval in seconds (escalates under sustained failure)",
		},
	)

	LastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_last_success_timestamp",
			Help: "Unix timestamp of the last successful reconciliation cycle",
		},
	)

	RecoveredPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_recovered_panics_total",
			Help: "Total number of panics recovered at the cycle boundary",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)
)

// RecordCycle records a completed reconciliation cycle with its outcome.
func RecordCycle(outcome string, duration time.Duration) {
	CyclesTotal.WithLabelValues(outcome).Inc()
	CycleDuration.Observe(duration.Seconds())
}

// RecordBackoffState updates the backoff gauges after a cycle.
func RecordBackoffState(consecutive, total int, interval time.Duration) {
	ConsecutiveFailures.Set(float64(consecutive))
	TotalFailures.Set(float64(total))
	CurrentInterval.Set(interval.Seconds())
}

// RecordSuccess stamps the last-success gauge with the current time.
func RecordSuccess(at time.Time) {
	LastSuccessTimestamp.Set(float64(at.Unix()))
}
