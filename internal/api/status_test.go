// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"testing"
	"time"

	"github.com/sjorge/streamystats/internal/queue"
	"github.com/sjorge/streamystats/internal/sessions"
)

func TestComputeStatusHealthyWhenNothingWrong(t *testing.T) {
	now := time.Now()
	servers := []ServerSyncInfo{{ServerID: 1, Name: "main", SyncStatus: "completed"}}
	stats := map[string]queue.QueueStats{"activity-sync": {QueuedCount: 2, FailedCount: 0}}

	agg := computeStatus(servers, stats, true, true, nil, now)

	if agg.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s (issues=%v warnings=%v)", agg.Status, agg.Issues, agg.Warnings)
	}
	if len(agg.Issues) != 0 || len(agg.Warnings) != 0 {
		t.Fatalf("expected no issues/warnings, got issues=%v warnings=%v", agg.Issues, agg.Warnings)
	}
}

func TestComputeStatusUnhealthyOnFailedServer(t *testing.T) {
	servers := []ServerSyncInfo{{ServerID: 1, Name: "main", SyncStatus: "failed"}}
	agg := computeStatus(servers, nil, true, true, nil, time.Now())

	if agg.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", agg.Status)
	}
	if len(agg.Issues) != 1 {
		t.Fatalf("expected exactly one issue, got %v", agg.Issues)
	}
}

func TestComputeStatusUnhealthyOnStuckSyncing(t *testing.T) {
	now := time.Now()
	started := now.Add(-45 * time.Minute)
	servers := []ServerSyncInfo{{ServerID: 1, Name: "main", SyncStatus: "syncing", LastSyncStarted: &started}}

	agg := computeStatus(servers, nil, true, true, nil, now)

	if agg.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy for stuck-syncing server, got %s", agg.Status)
	}
}

func TestComputeStatusSyncingWithinThresholdIsNotAnIssue(t *testing.T) {
	now := time.Now()
	started := now.Add(-5 * time.Minute)
	servers := []ServerSyncInfo{{ServerID: 1, Name: "main", SyncStatus: "syncing", LastSyncStarted: &started}}

	agg := computeStatus(servers, nil, true, true, nil, now)

	if agg.Status != StatusHealthy {
		t.Fatalf("expected healthy for recently-started sync, got %s (issues=%v)", agg.Status, agg.Issues)
	}
}

func TestComputeStatusUnhealthyWhenSchedulerDown(t *testing.T) {
	agg := computeStatus(nil, nil, false, true, nil, time.Now())
	if agg.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy when scheduler is down, got %s", agg.Status)
	}
}

func TestComputeStatusUnhealthyWhenSessionPollerDown(t *testing.T) {
	agg := computeStatus(nil, nil, true, false, nil, time.Now())
	if agg.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy when session poller is down, got %s", agg.Status)
	}
}

func TestComputeStatusWarningOnHighQueueDepth(t *testing.T) {
	stats := map[string]queue.QueueStats{"activity-sync": {QueuedCount: 150}}
	agg := computeStatus(nil, stats, true, true, nil, time.Now())

	if agg.Status != StatusWarning {
		t.Fatalf("expected warning on high queue depth, got %s", agg.Status)
	}
}

func TestComputeStatusUnhealthyOnHighTotalFailedJobs(t *testing.T) {
	stats := map[string]queue.QueueStats{
		"activity-sync":    {FailedCount: 6},
		"recent-items-sync": {FailedCount: 6},
	}
	agg := computeStatus(nil, stats, true, true, nil, time.Now())

	if agg.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy on total failed jobs > 10, got %s (issues=%v)", agg.Status, agg.Issues)
	}
}

func TestComputeStatusCarriesSessionPollerSnapshot(t *testing.T) {
	pollerStatus := []sessions.ServerStatus{{ServerID: 1, Healthy: true}}
	agg := computeStatus(nil, nil, true, true, pollerStatus, time.Now())

	if len(agg.SessionPoller) != 1 || agg.SessionPoller[0].ServerID != 1 {
		t.Fatalf("expected session poller snapshot to be passed through, got %v", agg.SessionPoller)
	}
}
