// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package sessions

import (
	"testing"
	"time"

	"github.com/sjorge/streamystats/internal/models"
)

func TestSessionKeyPrefersUpstreamID(t *testing.T) {
	s := models.Session{ID: "abc123", UserID: "u1", DeviceID: "d1"}
	if got, want := sessionKey(s), "sid:abc123"; got != want {
		t.Fatalf("sessionKey() = %q, want %q", got, want)
	}
}

func TestSessionKeyFallsBackToComposite(t *testing.T) {
	s := models.Session{
		UserID:         "u1",
		DeviceID:       "d1",
		NowPlayingItem: &models.NowPlayingItem{ID: "item1", SeriesID: "series1"},
	}
	if got, want := sessionKey(s), "u1|d1|series1|item1"; got != want {
		t.Fatalf("sessionKey() = %q, want %q", got, want)
	}
}

func TestShouldDropSessionFiltersTrailers(t *testing.T) {
	s := models.Session{NowPlayingItem: &models.NowPlayingItem{Type: "Trailer"}}
	if !shouldDropSession(s) {
		t.Fatal("expected trailer session to be dropped")
	}

	s = models.Session{NowPlayingItem: &models.NowPlayingItem{Type: "Episode"}}
	if shouldDropSession(s) {
		t.Fatal("expected a normal episode session to survive the filter")
	}
}

func TestShouldDropSessionFiltersPrerolls(t *testing.T) {
	s := models.Session{NowPlayingItem: &models.NowPlayingItem{
		Type:        "Video",
		ProviderIDs: map[string]string{"prerolls.video": "1"},
	}}
	if !shouldDropSession(s) {
		t.Fatal("expected preroll-tagged session to be dropped")
	}
}

func TestNewTrackedSessionCapturesPlayState(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := models.Session{
		ID:       "sess1",
		UserID:   "u1",
		UserName: "alice",
		NowPlayingItem: &models.NowPlayingItem{
			ID: "item1", Name: "Pilot", RunTimeTicks: 12_000_000_000,
		},
		PlayState: &models.PlayState{PositionTicks: 0, PlayMethod: "DirectPlay"},
	}

	tr := newTrackedSession(1, "sid:sess1", s, now)

	if tr.Phase != models.SessionPhaseActivePlaying {
		t.Fatalf("expected new session to start in active_playing phase, got %q", tr.Phase)
	}
	if tr.StartTime != now || tr.LastUpdateTime != now {
		t.Fatal("expected StartTime and LastUpdateTime to be stamped at creation")
	}
	if tr.ItemID != "item1" || tr.RuntimeTicks != 12_000_000_000 {
		t.Fatal("expected item fields to be copied from the upstream session")
	}
}

func TestNewTrackedSessionStartsPausedWhenUpstreamIsPaused(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := models.Session{
		ID:             "sess1",
		NowPlayingItem: &models.NowPlayingItem{ID: "item1"},
		PlayState:      &models.PlayState{IsPaused: true},
	}

	tr := newTrackedSession(1, "sid:sess1", s, now)
	if tr.Phase != models.SessionPhaseActivePaused {
		t.Fatalf("expected paused session to start in active_paused phase, got %q", tr.Phase)
	}
}

func TestAccrueDurationSkipsPausedTicks(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := &models.TrackedSession{IsPaused: true, LastUpdateTime: start, PlayDuration: 100}

	accrueDuration(tr, start.Add(30*time.Second))

	if tr.PlayDuration != 100 {
		t.Fatalf("expected no accrual while paused, got PlayDuration=%d", tr.PlayDuration)
	}
	if !tr.LastUpdateTime.Equal(start.Add(30 * time.Second)) {
		t.Fatal("expected LastUpdateTime to advance even while paused")
	}
}

func TestAccrueDurationAccumulatesWhilePlaying(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := &models.TrackedSession{IsPaused: false, LastUpdateTime: start, PlayDuration: 100}

	accrueDuration(tr, start.Add(45*time.Second))

	if tr.PlayDuration != 145 {
		t.Fatalf("expected PlayDuration=145 after 45s unpaused, got %d", tr.PlayDuration)
	}
}

func TestIsReplacementDetectsItemChange(t *testing.T) {
	tr := &models.TrackedSession{ItemID: "item1", PositionTicks: 100, PlayDuration: 10}
	s := models.Session{NowPlayingItem: &models.NowPlayingItem{ID: "item2"}}

	if !isReplacement(tr, s) {
		t.Fatal("expected a changed playing item to be detected as a replacement")
	}
}

func TestIsReplacementDetectsPositionReset(t *testing.T) {
	tr := &models.TrackedSession{
		ItemID:        "item1",
		PositionTicks: 7 * positionResetFromTicks / 6, // > 60s
		PlayDuration:  45,
	}
	s := models.Session{
		NowPlayingItem: &models.NowPlayingItem{ID: "item1"},
		PlayState:      &models.PlayState{PositionTicks: 5 * positionResetToTicks / 10}, // < 10s
	}

	if !isReplacement(tr, s) {
		t.Fatal("expected a position reset with accumulated watch time to be detected as a replacement")
	}
}

func TestIsReplacementIgnoresSmallRewinds(t *testing.T) {
	tr := &models.TrackedSession{
		ItemID:        "item1",
		PositionTicks: 200_000_000, // 20s, below the reset-from threshold
		PlayDuration:  45,
	}
	s := models.Session{
		NowPlayingItem: &models.NowPlayingItem{ID: "item1"},
		PlayState:      &models.PlayState{PositionTicks: 50_000_000}, // 5s
	}

	if isReplacement(tr, s) {
		t.Fatal("did not expect a normal small rewind to be treated as a replacement")
	}
}

func TestIsReplacementIgnoresResetWithoutAccumulatedTime(t *testing.T) {
	tr := &models.TrackedSession{
		ItemID:        "item1",
		PositionTicks: 700_000_000, // 70s
		PlayDuration:  5,           // below the 30s min-played floor
	}
	s := models.Session{
		NowPlayingItem: &models.NowPlayingItem{ID: "item1"},
		PlayState:      &models.PlayState{PositionTicks: 50_000_000},
	}

	if isReplacement(tr, s) {
		t.Fatal("did not expect a position reset to count as a replacement before 30s of accumulated watch time")
	}
}

func TestFinalizeDropsSubSecondSessions(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := &models.TrackedSession{
		StartTime:      now,
		LastUpdateTime: now,
		PlayDuration:   0,
		IsPaused:       true,
	}

	if pb := finalize(tr, now, nil); pb != nil {
		t.Fatal("expected a sub-second session to finalize to nil")
	}
}

func TestFinalizeComputesPercentCompleteAndCompleted(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := &models.TrackedSession{
		ServerID:       1,
		SessionKey:     "sid:sess1",
		UMSSessionID:   "sess1",
		ItemID:         "item1",
		PositionTicks:  9_500_000_000,
		RuntimeTicks:   10_000_000_000,
		PlayMethod:     "DirectPlay",
		StartTime:      start,
		LastUpdateTime: start,
		PlayDuration:   600,
		IsPaused:       true,
	}

	pb := finalize(tr, start.Add(10*time.Minute), nil)
	if pb == nil {
		t.Fatal("expected a 600s session to produce a PlaybackSession")
	}
	if pb.PercentComplete != 95 {
		t.Fatalf("expected PercentComplete=95, got %v", pb.PercentComplete)
	}
	if !pb.Completed {
		t.Fatal("expected a 95%% watched session to be marked completed")
	}
	if pb.PlayDurationSeconds != 600 {
		t.Fatalf("expected PlayDurationSeconds=600 for a paused-at-finalize session, got %d", pb.PlayDurationSeconds)
	}
	if pb.IsTranscoded {
		t.Fatal("expected DirectPlay to not be marked transcoded")
	}
}

func TestFinalizeAddsTrailingUnpausedTime(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := &models.TrackedSession{
		StartTime:      start,
		LastUpdateTime: start,
		PlayDuration:   100,
		IsPaused:       false,
	}

	pb := finalize(tr, start.Add(20*time.Second), nil)
	if pb == nil {
		t.Fatal("expected finalize to produce a session")
	}
	if pb.PlayDurationSeconds != 120 {
		t.Fatalf("expected 100s accrued + 20s trailing = 120s, got %d", pb.PlayDurationSeconds)
	}
}

func TestFinalizeProducesStableIdempotentID(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := &models.TrackedSession{
		ServerID:       1,
		UMSSessionID:   "sess1",
		StartTime:      start,
		LastUpdateTime: start,
		PlayDuration:   60,
	}

	a := finalize(tr, start.Add(time.Minute), nil)
	b := finalize(tr, start.Add(2*time.Minute), nil)
	if a == nil || b == nil {
		t.Fatal("expected both finalize calls to produce a session")
	}
	if a.ID != b.ID {
		t.Fatalf("expected IdempotentID to be stable across repeated finalize calls, got %q vs %q", a.ID, b.ID)
	}
}
