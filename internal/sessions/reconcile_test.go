// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package sessions

import (
	"testing"
	"time"

	"github.com/sjorge/streamystats/internal/models"
)

func TestReconcileServerTracksNewSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	upstream := []models.Session{
		{ID: "sess1", UserID: "u1", NowPlayingItem: &models.NowPlayingItem{ID: "item1", RunTimeTicks: 1000}},
	}

	result := reconcileServer(map[string]*models.TrackedSession{}, upstream, now)

	if len(result.tracked) != 1 {
		t.Fatalf("expected 1 tracked session, got %d", len(result.tracked))
	}
	if len(result.finalized) != 0 {
		t.Fatalf("expected no finalized sessions for a brand-new one, got %d", len(result.finalized))
	}
	if _, ok := result.tracked["sid:sess1"]; !ok {
		t.Fatal("expected the new session to be tracked under its sid: key")
	}
}

func TestReconcileServerDropsTrailers(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	upstream := []models.Session{
		{ID: "sess1", NowPlayingItem: &models.NowPlayingItem{ID: "item1", Type: "Trailer"}},
	}

	result := reconcileServer(map[string]*models.TrackedSession{}, upstream, now)

	if len(result.tracked) != 0 {
		t.Fatalf("expected trailer sessions to be dropped, got %d tracked", len(result.tracked))
	}
}

func TestReconcileServerFinalizesEndedSession(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	current := map[string]*models.TrackedSession{
		"sid:sess1": {
			ServerID: 1, SessionKey: "sid:sess1", UMSSessionID: "sess1",
			ItemID: "item1", StartTime: start, LastUpdateTime: start, PlayDuration: 120,
		},
	}

	result := reconcileServer(current, nil, start.Add(2*time.Minute))

	if len(result.tracked) != 0 {
		t.Fatalf("expected no sessions tracked after everything ended, got %d", len(result.tracked))
	}
	if len(result.finalized) != 1 {
		t.Fatalf("expected 1 finalized session, got %d", len(result.finalized))
	}
	if result.finalized[0].SessionKey != "sid:sess1" {
		t.Fatalf("expected the finalized session to carry its original session key, got %q", result.finalized[0].SessionKey)
	}
}

func TestReconcileServerUpdatesInPlaceSession(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	current := map[string]*models.TrackedSession{
		"sid:sess1": {
			ServerID: 1, SessionKey: "sid:sess1", UMSSessionID: "sess1",
			ItemID: "item1", PositionTicks: 100, StartTime: start, LastUpdateTime: start,
		},
	}
	upstream := []models.Session{
		{ID: "sess1", NowPlayingItem: &models.NowPlayingItem{ID: "item1"}, PlayState: &models.PlayState{PositionTicks: 5_000_000}},
	}

	result := reconcileServer(current, upstream, start.Add(10*time.Second))

	if len(result.finalized) != 0 {
		t.Fatalf("expected no finalization for an in-place update, got %d", len(result.finalized))
	}
	tr, ok := result.tracked["sid:sess1"]
	if !ok {
		t.Fatal("expected the session to still be tracked")
	}
	if tr.PlayDuration != 10 {
		t.Fatalf("expected 10s of accrued play duration, got %d", tr.PlayDuration)
	}
}

func TestBackoffBlocksUntilDelayElapses(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := &serverBackoff{}

	b.recordFailure(start)
	if !b.blocked(start.Add(5 * time.Second)) {
		t.Fatal("expected the server to still be backed off 5s after a single failure (base=10s)")
	}
	if b.blocked(start.Add(11 * time.Second)) {
		t.Fatal("expected the server to be pollable again past the base backoff delay")
	}
}

func TestBackoffCapsGrowth(t *testing.T) {
	b := &serverBackoff{}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		b.recordFailure(now)
	}
	delay := b.nextAttemptAt.Sub(now)
	if delay > backoffCap {
		t.Fatalf("expected backoff to cap at %v, got %v", backoffCap, delay)
	}
}

func TestBackoffResetsOnSuccess(t *testing.T) {
	b := &serverBackoff{consecutiveFailures: 5}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	b.recordSuccess(now)

	if b.consecutiveFailures != 0 {
		t.Fatalf("expected failure streak to reset to 0, got %d", b.consecutiveFailures)
	}
	if b.blocked(now) {
		t.Fatal("expected a server to be immediately pollable after a success")
	}
	if !b.lastSuccessAt.Equal(now) {
		t.Fatal("expected lastSuccessAt to be stamped")
	}
}

func TestIsHealthyThresholds(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	healthy := serverBackoff{consecutiveFailures: 0, lastSuccessAt: now.Add(-time.Minute)}
	if !isHealthy(healthy, now) {
		t.Fatal("expected a recently-successful, low-failure server to be healthy")
	}

	tooManyFailures := serverBackoff{consecutiveFailures: unhealthyFailureThreshold, lastSuccessAt: now}
	if isHealthy(tooManyFailures, now) {
		t.Fatal("expected a server at the failure threshold to be unhealthy")
	}

	stale := serverBackoff{consecutiveFailures: 0, lastSuccessAt: now.Add(-10 * time.Minute)}
	if isHealthy(stale, now) {
		t.Fatal("expected a server with a stale last success to be unhealthy")
	}

	neverPolled := serverBackoff{}
	if !isHealthy(neverPolled, now) {
		t.Fatal("expected a never-polled server to default to healthy")
	}
}
