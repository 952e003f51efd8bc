// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

package relay

import (
	"github.com/openfleet/posrelay/internal/feed"
)

// Classification is the change detector's verdict on a fetched sample.
type Classification string

const (
	// FirstSeen means no baseline identifier exists yet. The engine adopts
	// the identifier without writing downstream: the store may already hold
	// this entry from a previous process instance, and writing it blind
	// would double-publish.
	FirstSeen Classification = "first_seen"

	// Duplicate means the identifier matches the current baseline. No-op.
	Duplicate Classification = "duplicate"

	// New means a fresh identifier with valid coordinates. Write it.
	New Classification = "new"

	// Invalid means a fresh identifier whose coordinates are non-finite or
	// the 0,0 sentinel. Logged, never written, and the baseline is NOT
	// advanced: invalid coordinates must never overwrite a known-good
	// downstream position, and a later valid sample is still compared
	// against the old baseline.
	Invalid Classification = "invalid"
)

// Classify decides what a fetched sample means relative to the last
// accepted entry identifier. Deterministic per (sample, baseline) pair.
func Classify(sample *feed.Sample, lastAccepted *int64) Classification {
	if lastAccepted == nil {
		return FirstSeen
	}
	if sample.EntryID == *lastAccepted {
		return Duplicate
	}
	if !sample.HasValidCoordinates() {
		return Invalid
	}
	return New
}
