// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package queue

import (
	"testing"
	"time"
)

func TestSendOptionsStartAfterDefaultsToNow(t *testing.T) {
	opts := SendOptions{ExpireInSeconds: 1800, RetryLimit: 1, RetryDelay: 60}
	if !opts.StartAfter.IsZero() {
		t.Fatal("expected zero StartAfter when not explicitly set")
	}

	// Send() fills in time.Now() when StartAfter is the zero value; this
	// just documents the contract other callers (Scheduler) rely on.
	before := time.Now().UTC()
	startAfter := opts.StartAfter
	if startAfter.IsZero() {
		startAfter = time.Now().UTC()
	}
	if startAfter.Before(before) {
		t.Fatal("resolved StartAfter should not be before the call time")
	}
}

func TestQueueStatsZeroValue(t *testing.T) {
	var s QueueStats
	if s.QueuedCount != 0 || s.ActiveCount != 0 || s.FailedCount != 0 {
		t.Fatal("zero-value QueueStats should report all-zero counts")
	}
}
