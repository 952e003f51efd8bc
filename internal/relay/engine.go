// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

/*
engine.go - Reconciliation Engine and Scheduler

This file implements the core reconciliation loop: fetch the latest
upstream sample, classify it against the last accepted entry identifier,
and publish accepted positions downstream.

Cycle guarantees:
- Cycles are strictly serialized; a cycle never overlaps another.
- A cycle failure (fetch or write) never terminates the process; it feeds
  the backoff controller and the next cycle runs on the escalated cadence.
- A panic inside a cycle is recovered at the cycle boundary, counted, and
  logged; the loop keeps running.
- The baseline identifier advances only after a confirmed downstream
  write (or on first sight, where no write happens at all).

Scheduling:
- Exactly one cycle runs at startup before the periodic schedule begins.
- A single timer is armed per cycle with the backoff controller's current
  interval. A short fixed-cadence drift check re-arms the timer when the
  live interval no longer matches the armed one, so an escalation or reset
  takes effect without waiting out a stale timer.
*/

package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfleet/posrelay/internal/config"
	"github.com/openfleet/posrelay/internal/feed"
	"github.com/openfleet/posrelay/internal/logging"
	"github.com/openfleet/posrelay/internal/metrics"
	"github.com/openfleet/posrelay/internal/store"
)

// Cycle outcome labels for metrics and logs.
const (
	outcomeFirstSeen  = "first_seen"
	outcomeDuplicate  = "duplicate"
	outcomeNew        = "new"
	outcomeInvalid    = "invalid"
	outcomeFetchError = "fetch_error"
	outcomeWriteError = "write_error"
	outcomeSkipped    = "skipped"
)

// Engine drives the reconciliation loop.
type Engine struct {
	fetcher feed.Fetcher
	writer  store.Writer
	backoff *BackoffController
	cfg     *config.PollConfig

	mu    sync.RWMutex
	state State

	now func() time.Time // injectable for tests
}

// NewEngine creates a reconciliation engine.
func NewEngine(fetcher feed.Fetcher, writer store.Writer, cfg *config.PollConfig) *Engine {
	return &Engine{
		fetcher: fetcher,
		writer:  writer,
		backoff: NewBackoffController(cfg),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Serve runs the engine until ctx is cancelled. Implements suture.Service.
func (e *Engine) Serve(ctx context.Context) error {
	e.mu.Lock()
	if e.state.StartedAt.IsZero() {
		e.state.StartedAt = e.now()
	}
	e.mu.Unlock()

	logging.Info().
		Dur("base_interval", e.cfg.BaseInterval).
		Dur("ceiling_interval", e.cfg.CeilingInterval).
		Int("escalation_threshold", e.cfg.EscalationThreshold).
		Msg("Starting reconciliation engine")

	// Initial cycle before the periodic schedule, avoids an empty-state wait.
	e.RunCycle(ctx)

	armed := e.CurrentInterval()
	timer := time.NewTimer(armed)
	defer timer.Stop()

	driftTicker := time.NewTicker(e.cfg.DriftCheckInterval)
	defer driftTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Reconciliation engine stopping")
			return ctx.Err()

		case <-timer.C:
			e.RunCycle(ctx)
			armed = e.CurrentInterval()
			timer.Reset(armed)

		case <-driftTicker.C:
			// Escalation or reset changed the live interval mid-wait;
			// re-arm rather than waiting out the stale timer.
			if live := e.CurrentInterval(); live != armed {
				logging.Debug().
					Dur("armed", armed).
					Dur("live", live).
					Msg("Poll interval drift detected, re-arming timer")
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				armed = live
				timer.Reset(armed)
			}
		}
	}
}

// BeginShutdown flags the engine as shutting down. Cycles entered after
// this point are immediate no-ops. Idempotent.
func (e *Engine) BeginShutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.ShuttingDown = true
}

// RunCycle executes exactly one reconciliation cycle. Exported for the
// scheduler and for tests; callers must not invoke it concurrently.
func (e *Engine) RunCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecoveredPanics.Inc()
			logging.Error().
				Interface("panic", r).
				Msg("Recovered panic in reconciliation cycle")
		}
	}()

	e.mu.RLock()
	shuttingDown := e.state.ShuttingDown
	e.mu.RUnlock()
	if shuttingDown || ctx.Err() != nil {
		metrics.RecordCycle(outcomeSkipped, 0)
		return
	}

	cycleID := uuid.NewString()
	log := logging.With().Str("cycle_id", cycleID).Logger()
	start := e.now()

	sample, err := e.fetcher.FetchLatest(ctx)
	if err != nil {
		if ctx.Err() != nil {
			metrics.RecordCycle(outcomeSkipped, e.now().Sub(start))
			return
		}
		e.recordFailure()
		metrics.RecordCycle(outcomeFetchError, e.now().Sub(start))
		log.Warn().
			Err(err).
			Int("consecutive_failures", e.backoffConsecutive()).
			Dur("next_interval", e.CurrentInterval()).
			Msg("Cycle failed: upstream fetch error")
		return
	}

	e.mu.RLock()
	baseline := e.state.LastAcceptedEntryID
	e.mu.RUnlock()

	switch Classify(sample, baseline) {
	case FirstSeen:
		e.adoptEntry(sample.EntryID)
		e.recordSuccess()
		metrics.RecordCycle(outcomeFirstSeen, e.now().Sub(start))
		log.Info().
			Int64("entry_id", sample.EntryID).
			Msg("First sample seen, baseline adopted without write")

	case Duplicate:
		e.recordSuccess()
		metrics.RecordCycle(outcomeDuplicate, e.now().Sub(start))
		log.Debug().
			Int64("entry_id", sample.EntryID).
			Msg("Duplicate sample, nothing to do")

	case Invalid:
		// Downgraded to a no-op, not a failure: the upstream is alive,
		// the data is just unusable. Baseline stays put.
		e.recordSuccess()
		metrics.RecordCycle(outcomeInvalid, e.now().Sub(start))
		log.Warn().
			Int64("entry_id", sample.EntryID).
			Float64("latitude", sample.Latitude).
			Float64("longitude", sample.Longitude).
			Msg("Invalid coordinates, sample dropped")

	case New:
		if err := e.writer.WritePosition(ctx, sample); err != nil {
			if ctx.Err() != nil {
				metrics.RecordCycle(outcomeSkipped, e.now().Sub(start))
				return
			}
			e.recordFailure()
			metrics.RecordCycle(outcomeWriteError, e.now().Sub(start))
			log.Warn().
				Err(err).
				Int64("entry_id", sample.EntryID).
				Int("consecutive_failures", e.backoffConsecutive()).
				Dur("next_interval", e.CurrentInterval()).
				Msg("Cycle failed: downstream write error")
			return
		}
		e.adoptEntry(sample.EntryID)
		e.recordSuccess()
		metrics.RecordCycle(outcomeNew, e.now().Sub(start))
		log.Info().
			Int64("entry_id", sample.EntryID).
			Float64("latitude", sample.Latitude).
			Float64("longitude", sample.Longitude).
			Msg("Position relayed downstream")
	}
}

// CurrentInterval returns the live poll interval.
func (e *Engine) CurrentInterval() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backoff.Interval()
}

// Snapshot returns a point-in-time health view. Safe to call concurrently
// with an in-flight cycle.
func (e *Engine) Snapshot() HealthSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.now()
	snap := HealthSnapshot{
		Status:              StatusHealthy,
		Memory:              collectMemoryStats(),
		ConsecutiveFailures: e.backoff.ConsecutiveFailures(),
		TotalFailures:       e.backoff.TotalFailures(),
		ConfiguredInterval:  e.cfg.BaseInterval,
		CurrentInterval:     e.backoff.Interval(),
		LastAcceptedEntryID: e.state.LastAcceptedEntryID,
	}

	if !e.state.StartedAt.IsZero() {
		uptime := now.Sub(e.state.StartedAt)
		snap.Uptime = uptime.Round(time.Second).String()
		snap.UptimeSeconds = uptime.Seconds()
	}

	if !e.state.LastSuccessAt.IsZero() {
		t := e.state.LastSuccessAt
		snap.LastSuccessAt = &t
		snap.TimeSinceLastSuccess = now.Sub(t)
	} else if !e.state.StartedAt.IsZero() {
		// No success yet: measure staleness from process start.
		snap.TimeSinceLastSuccess = now.Sub(e.state.StartedAt)
	}

	if snap.ConsecutiveFailures >= e.cfg.EscalationThreshold ||
		snap.TimeSinceLastSuccess > e.cfg.StalenessWindow {
		snap.Status = StatusDegraded
	}

	return snap
}

func (e *Engine) adoptEntry(entryID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := entryID
	e.state.LastAcceptedEntryID = &id
}

func (e *Engine) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backoff.RecordSuccess()
	e.state.ConsecutiveFailures = e.backoff.ConsecutiveFailures()
	e.state.TotalFailures = e.backoff.TotalFailures()
	e.state.LastSuccessAt = e.now()
	metrics.RecordSuccess(e.state.LastSuccessAt)
	metrics.RecordBackoffState(e.backoff.ConsecutiveFailures(), e.backoff.TotalFailures(), e.backoff.Interval())
}

func (e *Engine) recordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backoff.RecordFailure()
	e.state.ConsecutiveFailures = e.backoff.ConsecutiveFailures()
	e.state.TotalFailures = e.backoff.TotalFailures()
	metrics.RecordBackoffState(e.backoff.ConsecutiveFailures(), e.backoff.TotalFailures(), e.backoff.Interval())
}

func (e *Engine) backoffConsecutive() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backoff.ConsecutiveFailures()
}
