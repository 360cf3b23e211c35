// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package maintenance

import (
	"testing"
	"time"
)

func TestExtractHeartbeatMissing(t *testing.T) {
	if hb := extractHeartbeat(nil); hb != nil {
		t.Fatal("expected nil heartbeat for empty result")
	}
	if hb := extractHeartbeat([]byte(`{"foo":"bar"}`)); hb != nil {
		t.Fatal("expected nil heartbeat when field absent")
	}
}

func TestExtractHeartbeatPresent(t *testing.T) {
	blob := []byte(`{"heartbeat":"2026-01-01T00:00:00Z"}`)
	hb := extractHeartbeat(blob)
	if hb == nil {
		t.Fatal("expected non-nil heartbeat")
	}
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !hb.Equal(want) {
		t.Errorf("heartbeat = %v, want %v", hb, want)
	}
}

// TestTickScheduleBoundaries documents scenario S5: at 12:34 only the
// always-sub-tasks run; at 13:00 the hourly sub-task also runs; at
// 03:00 the daily sub-task also runs. This test evaluates copies of the
// minute/hour predicates run() uses; it does not call run() itself.
func TestTickScheduleBoundaries(t *testing.T) {
	cases := []struct {
		hour, minute   int
		wantHourly     bool
		wantDaily      bool
	}{
		{12, 34, false, false},
		{13, 0, true, false},
		{3, 0, true, true},
	}
	for _, c := range cases {
		now := time.Date(2026, 1, 1, c.hour, c.minute, 0, 0, time.UTC)
		gotHourly := now.Minute() == 0
		gotDaily := now.Hour() == 3 && now.Minute() == 0
		if gotHourly != c.wantHourly {
			t.Errorf("%02d:%02d hourly = %v, want %v", c.hour, c.minute, gotHourly, c.wantHourly)
		}
		if gotDaily != c.wantDaily {
			t.Errorf("%02d:%02d daily = %v, want %v", c.hour, c.minute, gotDaily, c.wantDaily)
		}
	}
}
