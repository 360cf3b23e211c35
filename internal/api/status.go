// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the thin HTTP/SSE admin shell: a server-status
// aggregate, on-demand job trigger RPCs, and an event stream. It exists
// only to exercise the core's public Go API (spec.md §1, §12); it is
// not a user-facing dashboard.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/sjorge/streamystats/internal/database"
	"github.com/sjorge/streamystats/internal/jobs"
	"github.com/sjorge/streamystats/internal/queue"
	"github.com/sjorge/streamystats/internal/sessions"
)

// staleSyncingThreshold mirrors MaintenanceWorker's own stuck-syncing
// cutoff (spec.md §4.3): a server still reporting 'syncing' past this
// age is flagged even before the next maintenance tick resets it.
const staleSyncingThreshold = 30 * time.Minute

const (
	maxQueuedJobs       = 100
	maxRecentFailedJobs = 5
	maxTotalFailedJobs  = 10
)

// Status is the closed health tier the aggregate reports.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusWarning   Status = "warning"
	StatusUnhealthy Status = "unhealthy"
)

// ServerSyncInfo is one server's sync lifecycle state, the per-server
// surface spec.md §7 requires every server to expose.
type ServerSyncInfo struct {
	ServerID          int64      `json:"serverId"`
	Name              string     `json:"name"`
	SyncStatus        string     `json:"syncStatus"`
	SyncProgress      *string    `json:"syncProgress,omitempty"`
	SyncError         *string    `json:"syncError,omitempty"`
	LastSyncStarted   *time.Time `json:"lastSyncStarted,omitempty"`
	LastSyncCompleted *time.Time `json:"lastSyncCompleted,omitempty"`
}

// AggregateStatus is the full /server-status response.
type AggregateStatus struct {
	Status          Status                      `json:"status"`
	Issues          []string                    `json:"issues,omitempty"`
	Warnings        []string                    `json:"warnings,omitempty"`
	Servers         []ServerSyncInfo            `json:"servers"`
	SessionPoller   []sessions.ServerStatus     `json:"sessionPoller"`
	SchedulerUp     bool                        `json:"schedulerRunning"`
	SessionPollerUp bool                        `json:"sessionPollerRunning"`
	QueueStats      map[string]queue.QueueStats `json:"queueStats"`
}

// SchedulerRunner is the subset of scheduler.Scheduler the status
// aggregate needs; kept as an interface so this package doesn't force
// a concrete dependency edge onto tests.
type SchedulerRunner interface {
	Running() bool
}

// SessionPollerRunner is the subset of sessions.Poller the status
// aggregate needs.
type SessionPollerRunner interface {
	Running() bool
	Status() []sessions.ServerStatus
}

// ComputeServerStatus assembles the full aggregate: it reads every
// server's sync lifecycle columns, every catalog queue's point-in-time
// stats, and the Scheduler/SessionPoller running flags, then reduces
// them to a single healthy|warning|unhealthy verdict via computeStatus.
func ComputeServerStatus(ctx context.Context, db *database.DB, store *queue.Store, sched SchedulerRunner, poller SessionPollerRunner) (AggregateStatus, error) {
	servers, err := fetchServerSyncInfo(ctx, db)
	if err != nil {
		return AggregateStatus{}, fmt.Errorf("fetch server sync info: %w", err)
	}

	queueStats := make(map[string]queue.QueueStats, len(jobs.Catalog))
	for _, meta := range jobs.Catalog {
		if meta.QueueName == "" {
			continue // interval-driven key, never a QueueStore queue
		}
		stats, err := store.GetQueueStats(ctx, meta.QueueName)
		if err != nil {
			return AggregateStatus{}, fmt.Errorf("queue stats %s: %w", meta.QueueName, err)
		}
		queueStats[meta.QueueName] = stats
	}

	return computeStatus(servers, queueStats, sched.Running(), poller.Running(), poller.Status(), time.Now()), nil
}

// computeStatus is the pure decision core: no I/O, so every branch of
// spec.md §7's health rule is directly unit-testable. An unhealthy
// signal escalates the whole aggregate to unhealthy; a warning-only
// signal without an unhealthy one escalates to warning.
func computeStatus(servers []ServerSyncInfo, queueStats map[string]queue.QueueStats, schedulerRunning, pollerRunning bool, pollerStatus []sessions.ServerStatus, now time.Time) AggregateStatus {
	agg := AggregateStatus{
		Servers:         servers,
		SessionPoller:   pollerStatus,
		SchedulerUp:     schedulerRunning,
		SessionPollerUp: pollerRunning,
		QueueStats:      queueStats,
	}

	var issues, warnings []string

	for _, s := range servers {
		if s.SyncStatus == "failed" {
			issues = append(issues, fmt.Sprintf("server %d (%s) failed to sync", s.ServerID, s.Name))
		}
		if s.SyncStatus == "syncing" && s.LastSyncStarted != nil && now.Sub(*s.LastSyncStarted) > staleSyncingThreshold {
			issues = append(issues, fmt.Sprintf("server %d (%s) stuck syncing since %s", s.ServerID, s.Name, s.LastSyncStarted.Format(time.RFC3339)))
		}
	}

	if !schedulerRunning {
		issues = append(issues, "scheduler is not running")
	}
	if !pollerRunning {
		issues = append(issues, "session poller is not running")
	}

	var totalQueued, totalFailed int64
	for _, stats := range queueStats {
		totalQueued += stats.QueuedCount
		totalFailed += stats.FailedCount
		if stats.FailedCount > maxRecentFailedJobs {
			warnings = append(warnings, fmt.Sprintf("queue has %d recently failed jobs", stats.FailedCount))
		}
	}
	if totalQueued > maxQueuedJobs {
		warnings = append(warnings, fmt.Sprintf("%d jobs queued across all queues", totalQueued))
	}
	if totalFailed > maxTotalFailedJobs {
		issues = append(issues, fmt.Sprintf("%d total failed jobs across all queues", totalFailed))
	}

	switch {
	case len(issues) > 0:
		agg.Status = StatusUnhealthy
	case len(warnings) > 0:
		agg.Status = StatusWarning
	default:
		agg.Status = StatusHealthy
	}
	agg.Issues = issues
	agg.Warnings = warnings
	return agg
}

// fetchServerSyncInfo loads the full sync-lifecycle row for every
// configured server.
func fetchServerSyncInfo(ctx context.Context, db *database.DB) ([]ServerSyncInfo, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, sync_status, sync_progress, sync_error,
			last_sync_started, last_sync_completed
		FROM servers ORDER BY id`)
	if err != nil {
		return nil, database.Classify(err)
	}
	defer rows.Close()

	var out []ServerSyncInfo
	for rows.Next() {
		var s ServerSyncInfo
		if err := rows.Scan(&s.ServerID, &s.Name, &s.SyncStatus, &s.SyncProgress, &s.SyncError,
			&s.LastSyncStarted, &s.LastSyncCompleted); err != nil {
			return nil, fmt.Errorf("scan server sync info: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate server sync info: %w", err)
	}
	return out, nil
}
