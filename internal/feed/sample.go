// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

package feed

import "math"

// Sample is the unit fetched from the upstream feed: the single most recent
// position entry, normalized from the upstream's numbered-field record.
//
// A Sample is immutable once fetched. EntryID is an opaque ordered identifier
// that increases monotonically per feed; the reconciliation engine treats a
// sample as new only when its EntryID differs from the previously accepted one.
//
// The client guarantees type coercion only: Latitude/Longitude are NaN when
// the upstream field is not numeric. Semantic validity (finite, non-sentinel
// coordinates) is the change detector's concern.
type Sample struct {
	EntryID    int64
	Latitude   float64
	Longitude  float64
	CapturedAt string
}

// HasValidCoordinates reports whether the sample carries finite coordinates
// that are not the 0,0 sentinel emitted by devices without a GPS fix.
func (s *Sample) HasValidCoordinates() bool {
	if math.IsNaN(s.Latitude) || math.IsInf(s.Latitude, 0) {
		return false
	}
	if math.IsNaN(s.Longitude) || math.IsInf(s.Longitude, 0) {
		return false
	}
	return s.Latitude != 0 || s.Longitude != 0
}
