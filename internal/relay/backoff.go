// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

package relay

import (
	"time"

	"github.com/openfleet/posrelay/internal/config"
)

// BackoffController computes the poll cadence from the failure history.
//
// Two logical modes:
//   - Nominal: consecutiveFailures <= escalationThreshold, interval is the
//     configured base.
//   - Escalated: entered the cycle consecutiveFailures first exceeds the
//     threshold; the interval grows exponentially, capped by both a
//     multiplier on the base and an absolute ceiling.
//
// Recovery is immediate: one successful cycle returns the controller to
// Nominal with the base interval, no gradual ramp-down.
//
// Not safe for concurrent use on its own; the engine serializes access.
type BackoffController struct {
	baseInterval        time.Duration
	escalationThreshold int
	ceilingInterval     time.Duration
	capMultiplier       int

	consecutiveFailures int
	totalFailures       int
}

// NewBackoffController creates a controller from the poll configuration.
func NewBackoffController(cfg *config.PollConfig) *BackoffController {
	return &BackoffController{
		baseInterval:        cfg.BaseInterval,
		escalationThreshold: cfg.EscalationThreshold,
		ceilingInterval:     cfg.CeilingInterval,
		capMultiplier:       cfg.CapMultiplier,
	}
}

// RecordFailure registers one failed cycle.
func (b *BackoffController) RecordFailure() {
	b.consecutiveFailures++
	b.totalFailures++
}

// RecordSuccess registers one successful cycle: the consecutive counter
// resets immediately, while the total counter decays by one (floored at
// zero) to provide a slower error-rate signal.
func (b *BackoffController) RecordSuccess() {
	b.consecutiveFailures = 0
	if b.totalFailures > 0 {
		b.totalFailures--
	}
}

// Interval returns the poll interval implied by the current failure state.
func (b *BackoffController) Interval() time.Duration {
	if b.consecutiveFailures <= b.escalationThreshold {
		return b.baseInterval
	}

	// interval = min(base * min(2^(failures-2), capMultiplier), ceiling)
	exponent := b.consecutiveFailures - 2
	multiplier := b.capMultiplier
	if exponent < 63 {
		if m := int64(1) << exponent; m < int64(b.capMultiplier) {
			multiplier = int(m)
		}
	}

	interval := b.baseInterval * time.Duration(multiplier)
	if interval > b.ceilingInterval {
		return b.ceilingInterval
	}
	return interval
}

// ConsecutiveFailures returns the reset-on-success failure counter.
func (b *BackoffController) ConsecutiveFailures() int {
	return b.consecutiveFailures
}

// TotalFailures returns the decay-on-success failure counter.
func (b *BackoffController) TotalFailures() int {
	return b.totalFailures
}
