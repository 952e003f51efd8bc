// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCycleIncrementsOutcome(t *testing.T) {
	before := testutil.ToFloat64(CyclesTotal.WithLabelValues("new"))

	RecordCycle("new", 250*time.Millisecond)

	after := testutil.ToFloat64(CyclesTotal.WithLabelValues("new"))
	if after != before+1 {
		t.Errorf("cycles_total{outcome=new} = %v, want %v", after, before+1)
	}
}

func TestRecordBackoffState(t *testing.T) {
	RecordBackoffState(3, 12, 240*time.Second)

	if got := testutil.ToFloat64(ConsecutiveFailures); got != 3 {
		t.Errorf("consecutive_failures = %v, want 3", got)
	}
	if got := testutil.ToFloat64(TotalFailures); got != 12 {
		t.Errorf("total_failures = %v, want 12", got)
	}
	if got := testutil.ToFloat64(CurrentInterval); got != 240 {
		t.Errorf("current_interval_seconds = %v, want 240", got)
	}
}

func TestRecordSuccess(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	RecordSuccess(at)

	if got := testutil.ToFloat64(LastSuccessTimestamp); got != float64(at.Unix()) {
		t.Errorf("last_success_timestamp = %v, want %v", got, at.Unix())
	}
}

func TestFetchErrorKinds(t *testing.T) {
	before := testutil.ToFloat64(FetchErrors.WithLabelValues("timeout"))

	FetchErrors.WithLabelValues("timeout").Inc()

	after := testutil.ToFloat64(FetchErrors.WithLabelValues("timeout"))
	if after != before+1 {
		t.Errorf("fetch_errors_total{kind=timeout} = %v, want %v", after, before+1)
	}
}
