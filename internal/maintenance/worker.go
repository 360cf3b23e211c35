// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package maintenance implements MaintenanceWorker: the single queue
// handler registered against the global 1-minute scheduler-maintenance
// schedule. Its four sub-tasks are independent; failure of one must
// not prevent the others (spec.md §4.3).
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/sjorge/streamystats/internal/database"
	"github.com/sjorge/streamystats/internal/logging"
	"github.com/sjorge/streamystats/internal/models"
	"github.com/sjorge/streamystats/internal/queue"
)

// DeletedItemsReconciler is the opaque external collaborator spec.md
// §1 marks out of scope; MaintenanceWorker only needs to invoke it and
// log its metrics.
type DeletedItemsReconciler interface {
	Reconcile(ctx context.Context, serverID int64) (ReconcileMetrics, error)
}

// ReconcileMetrics is whatever the deleted-items reconciliation run
// reports back for logging.
type ReconcileMetrics struct {
	ItemsRemoved int
}

// Worker runs the maintenance sub-tasks: stale-sync reset and stale-job
// GC on every tick, deleted-items reconciliation at minute 0 of each
// hour, and old job-result pruning at 03:00.
type Worker struct {
	db          *database.DB
	store       *queue.Store
	reconciler  DeletedItemsReconciler
	now         func() time.Time
	lastHourRun int
	lastDayRun  int
}

// New creates a Worker. reconciler may be nil if deleted-items
// reconciliation is not wired (the hourly sub-task then returns without
// doing anything).
func New(db *database.DB, store *queue.Store, reconciler DeletedItemsReconciler) *Worker {
	return &Worker{db: db, store: store, reconciler: reconciler, now: time.Now, lastHourRun: -1, lastDayRun: -1}
}

// Handle is the registered handler for the scheduler-maintenance queue
// (matches queue.Handler); it is invoked once per minute via
// QueueStore's work loop. The job payload is ignored.
func (w *Worker) Handle(ctx context.Context, _ models.Job) error {
	return w.run(ctx)
}

func (w *Worker) run(ctx context.Context) error {
	log := logging.Ctx(ctx)
	now := w.now()

	w.runIsolated(ctx, "stale-sync-reset", w.resetStaleSyncingServers)
	w.runIsolated(ctx, "stale-job-gc", w.gcStaleJobResults)

	if now.Minute() == 0 {
		w.runIsolated(ctx, "deleted-items-reconciliation", w.reconcileDeletedItems)
	}

	if now.Hour() == 3 && now.Minute() == 0 {
		w.runIsolated(ctx, "old-job-result-pruning", w.pruneOldJobResults)
	}

	log.Debug().Time("tick", now).Msg("maintenance tick complete")
	return nil
}

// runIsolated executes fn and logs any error without propagating it,
// so one sub-task's failure never prevents the others from running.
func (w *Worker) runIsolated(ctx context.Context, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("subtask", name).Msg("maintenance sub-task failed")
	}
}

// resetStaleSyncingServers transitions servers stuck in 'syncing' with
// a last_sync_started older than 30 minutes (or null) to 'failed' with
// an explanatory sync_error.
func (w *Worker) resetStaleSyncingServers(ctx context.Context) error {
	cutoff := w.now().Add(-staleSyncThreshold)
	tag, err := w.db.Pool.Exec(ctx, `
		UPDATE servers SET sync_status = 'failed',
			sync_error = 'sync timed out: stuck in syncing state',
			updated_at = now()
		WHERE sync_status = 'syncing'
			AND (last_sync_started IS NULL OR last_sync_started < $1)`, cutoff)
	if err != nil {
		return fmt.Errorf("reset stale syncing servers: %w", database.Classify(err))
	}
	if n := tag.RowsAffected(); n > 0 {
		logging.Ctx(ctx).Warn().Int64("count", n).Msg("reset stale syncing servers to failed")
	}
	return nil
}

const staleSyncThreshold = 30 * time.Minute

// gcStaleJobResults marks generate-item-embeddings job_results stuck in
// 'processing' for over 10 minutes as failed, when their embedded
// heartbeat is also stale (over 2 minutes).
func (w *Worker) gcStaleJobResults(ctx context.Context) error {
	rows, err := w.db.Pool.Query(ctx, `
		SELECT id, result, created_at FROM job_results
		WHERE job_name = 'generate-item-embeddings'
			AND status = 'processing'
			AND created_at < $1`, w.now().Add(-10*time.Minute))
	if err != nil {
		return fmt.Errorf("query stale job results: %w", database.Classify(err))
	}

	type candidate struct {
		id        int64
		heartbeat *time.Time
	}
	var candidates []candidate
	for rows.Next() {
		var id int64
		var result []byte
		var createdAt time.Time
		if err := rows.Scan(&id, &result, &createdAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan stale job result: %w", err)
		}
		hb := extractHeartbeat(result)
		candidates = append(candidates, candidate{id: id, heartbeat: hb})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate stale job results: %w", err)
	}

	cutoff := w.now().Add(-2 * time.Minute)
	for _, c := range candidates {
		if c.heartbeat != nil && c.heartbeat.After(cutoff) {
			continue // still heartbeating, leave it alone
		}
		if _, err := w.db.Pool.Exec(ctx, `
			UPDATE job_results SET status = 'failed', updated_at = now(),
				processing_time_ms = LEAST(
					EXTRACT(EPOCH FROM (now() - created_at)) * 1000, 600000)
			WHERE id = $1`, c.id); err != nil {
			return fmt.Errorf("fail stale job result %d: %w", c.id, database.Classify(err))
		}
	}
	return nil
}

func (w *Worker) reconcileDeletedItems(ctx context.Context) error {
	if w.reconciler == nil {
		return nil
	}

	rows, err := w.db.Pool.Query(ctx, `
		SELECT id FROM servers WHERE sync_status != 'syncing'`)
	if err != nil {
		return fmt.Errorf("list non-busy servers: %w", database.Classify(err))
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		metrics, err := w.reconciler.Reconcile(ctx, id)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("serverId", id).Msg("deleted-items reconciliation failed")
			continue
		}
		logging.Ctx(ctx).Info().Int64("serverId", id).Int("itemsRemoved", metrics.ItemsRemoved).
			Msg("deleted-items reconciliation complete")
	}
	return nil
}

// extractHeartbeat reads the "heartbeat" RFC3339 timestamp embedded in
// a job_results.result JSON blob, if present.
func extractHeartbeat(result []byte) *time.Time {
	if len(result) == 0 {
		return nil
	}
	var payload struct {
		Heartbeat *time.Time `json:"heartbeat"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil
	}
	return payload.Heartbeat
}

func (w *Worker) pruneOldJobResults(ctx context.Context) error {
	tag, err := w.db.Pool.Exec(ctx, `
		DELETE FROM job_results WHERE created_at < $1`, w.now().Add(-10*24*time.Hour))
	if err != nil {
		return fmt.Errorf("prune old job results: %w", database.Classify(err))
	}
	logging.Ctx(ctx).Info().Int64("count", tag.RowsAffected()).Msg("pruned old job results")
	return nil
}
