// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package queue implements QueueStore: a persistent work queue over
// Postgres with named queues, at-least-once delivery, per-job retry
// policy, expiry, singleton-key deduplication, cron schedule rows, and
// a batch fetch -> work -> complete/cancel/fail protocol.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sjorge/streamystats/internal/apperr"
	"github.com/sjorge/streamystats/internal/database"
	"github.com/sjorge/streamystats/internal/logging"
	"github.com/sjorge/streamystats/internal/models"
)

// Store is the QueueStore: all operations are transactional against the
// backing Postgres schema (queue, jobs, schedules).
type Store struct {
	db *database.DB
}

// New creates a Store bound to db.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// QueueDefaults are the per-queue defaults createQueue registers.
type QueueDefaults struct {
	RetryLimit       int
	RetryDelay       int
	RetentionSeconds int
}

// CreateQueue registers name idempotently with the given defaults.
func (s *Store) CreateQueue(ctx context.Context, name string, d QueueDefaults) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO queue (name, retry_limit, retry_delay, retention_seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			retry_limit = EXCLUDED.retry_limit,
			retry_delay = EXCLUDED.retry_delay,
			retention_seconds = EXCLUDED.retention_seconds`,
		name, d.RetryLimit, d.RetryDelay, d.RetentionSeconds)
	if err != nil {
		return fmt.Errorf("create queue %s: %w", name, database.Classify(err))
	}
	return nil
}

// SendOptions configures a single send() call.
type SendOptions struct {
	ExpireInSeconds int
	RetryLimit      int
	RetryDelay      int
	SingletonKey    string // empty means no dedup
	StartAfter      time.Time
}

// Send inserts a new job. If opts.SingletonKey collides with a job
// already in a non-terminal state for this queue, the insert is
// silently skipped and an empty job ID is returned — this mirrors
// pg-boss's "singleton send returns null" semantics rather than
// raising an error, since a duplicate send is an expected race, not a
// caller mistake.
func (s *Store) Send(ctx context.Context, name string, payload any, opts SendOptions) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", apperr.Classify(apperr.ErrValidation, fmt.Errorf("marshal payload: %w", err))
	}

	id := uuid.NewString()
	startAfter := opts.StartAfter
	if startAfter.IsZero() {
		startAfter = time.Now().UTC()
	}

	var singletonKey any
	if opts.SingletonKey != "" {
		singletonKey = opts.SingletonKey
	}

	tag, err := s.db.Pool.Exec(ctx, `
		INSERT INTO jobs (id, name, data, state, retry_limit, retry_delay,
			start_after, expire_in_seconds, singleton_key)
		VALUES ($1, $2, $3, 'created', $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		id, name, data, opts.RetryLimit, opts.RetryDelay, startAfter, opts.ExpireInSeconds, singletonKey)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			logging.Ctx(ctx).Debug().Str("queue", name).Str("singletonKey", opts.SingletonKey).
				Msg("send skipped: singleton key collision")
			return "", nil
		}
		return "", fmt.Errorf("send %s: %w", name, database.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		logging.Ctx(ctx).Debug().Str("queue", name).Str("singletonKey", opts.SingletonKey).
			Msg("send skipped: singleton key collision")
		return "", nil
	}
	return id, nil
}

// Schedule upserts a cron schedule row. key is required; the row is
// replaced idempotently when called again with the same (name, key).
func (s *Store) Schedule(ctx context.Context, name, key, cronExpr string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperr.Classify(apperr.ErrValidation, fmt.Errorf("marshal schedule payload: %w", err))
	}

	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO schedules (name, key, cron_expr, data, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (name, key) DO UPDATE SET
			cron_expr = EXCLUDED.cron_expr,
			data = EXCLUDED.data,
			updated_at = now()`,
		name, key, cronExpr, data)
	if err != nil {
		return fmt.Errorf("schedule %s/%s: %w", name, key, database.Classify(err))
	}
	return nil
}

// Unschedule removes a schedule row; idempotent.
func (s *Store) Unschedule(ctx context.Context, name, key string) error {
	_, err := s.db.Pool.Exec(ctx, `DELETE FROM schedules WHERE name = $1 AND key = $2`, name, key)
	if err != nil {
		return fmt.Errorf("unschedule %s/%s: %w", name, key, database.Classify(err))
	}
	return nil
}

// DueSchedules returns every schedule row, for the caller (the cron
// evaluator in this package) to decide which are due and enqueue
// accordingly.
func (s *Store) DueSchedules(ctx context.Context) ([]models.Schedule, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT name, key, cron_expr, timezone, data, last_ran_at, created_at, updated_at
		FROM schedules`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", database.Classify(err))
	}
	defer rows.Close()

	var out []models.Schedule
	for rows.Next() {
		var sch models.Schedule
		if err := rows.Scan(&sch.Name, &sch.Key, &sch.CronExpr, &sch.Timezone, &sch.Data, &sch.LastRanAt, &sch.CreatedAt, &sch.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

// MarkScheduleRan stamps last_ran_at for (name, key), used by the cron
// evaluator after it enqueues a due schedule's job so the same minute
// is never fired twice.
func (s *Store) MarkScheduleRan(ctx context.Context, name, key string, at time.Time) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE schedules SET last_ran_at = $3 WHERE name = $1 AND key = $2`, name, key, at)
	if err != nil {
		return fmt.Errorf("mark schedule ran %s/%s: %w", name, key, database.Classify(err))
	}
	return nil
}

// Fetch returns up to batchSize jobs for name in {created, retry} whose
// start_after has elapsed, for ad-hoc inspection or cancellation
// without marking them active.
func (s *Store) Fetch(ctx context.Context, name string, batchSize int) ([]models.Job, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, name, data, state, retry_limit, retry_count, retry_delay,
			retry_backoff, start_after, expire_in_seconds, singleton_key,
			output, created_on, started_on, completed_on
		FROM jobs
		WHERE name = $1 AND state IN ('created', 'retry') AND start_after <= now()
		ORDER BY created_on
		LIMIT $2`, name, batchSize)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, database.Classify(err))
	}
	defer rows.Close()
	return scanJobs(rows)
}

// Work atomically claims up to batchSize due jobs for name (transitioning
// them to active via SELECT ... FOR UPDATE SKIP LOCKED so concurrent
// workers never double-claim), invokes handler for each, and writes the
// terminal state per the failure model in spec.md §4.1.
func (s *Store) Work(ctx context.Context, name string, batchSize int, handler Handler) error {
	jobs, err := s.claim(ctx, name, batchSize)
	if err != nil {
		return err
	}

	for _, j := range jobs {
		s.runOne(ctx, j, handler)
	}
	return nil
}

func (s *Store) claim(ctx context.Context, name string, batchSize int) ([]models.Job, error) {
	var claimed []models.Job
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, name, data, state, retry_limit, retry_count, retry_delay,
				retry_backoff, start_after, expire_in_seconds, singleton_key,
				output, created_on, started_on, completed_on
			FROM jobs
			WHERE name = $1 AND state IN ('created', 'retry') AND start_after <= now()
			ORDER BY created_on
			LIMIT $2
			FOR UPDATE SKIP LOCKED`, name, batchSize)
		if err != nil {
			return err
		}
		js, err := scanJobs(rows)
		rows.Close()
		if err != nil {
			return err
		}

		for i := range js {
			if _, err := tx.Exec(ctx, `UPDATE jobs SET state = 'active', started_on = now() WHERE id = $1`, js[i].ID); err != nil {
				return err
			}
			js[i].State = models.JobStateActive
		}
		claimed = js
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", name, database.Classify(err))
	}
	return claimed, nil
}

// Handler processes one job's payload and returns an error to trigger
// the retry/fail path.
type Handler func(ctx context.Context, job models.Job) error

func (s *Store) runOne(ctx context.Context, job models.Job, handler Handler) {
	handlerErr := handler(ctx, job)
	if handlerErr == nil {
		s.complete(ctx, job, nil)
		return
	}

	if job.RetryCount < job.RetryLimit {
		s.retry(ctx, job, handlerErr)
		return
	}
	s.fail(ctx, job, handlerErr)
}

func (s *Store) complete(ctx context.Context, job models.Job, output []byte) {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE jobs SET state = 'completed', completed_on = now(), output = $2 WHERE id = $1`,
		job.ID, output)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("jobId", job.ID).Str("queue", job.Name).Msg("failed to record job completion")
	}
}

func (s *Store) retry(ctx context.Context, job models.Job, cause error) {
	delay := time.Duration(job.RetryDelay) * time.Second
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE jobs SET state = 'retry', retry_count = retry_count + 1,
			start_after = now() + $2::interval
		WHERE id = $1`,
		job.ID, delay.String())
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("jobId", job.ID).Msg("failed to schedule retry")
	}
	logging.Ctx(ctx).Warn().Err(cause).Str("jobId", job.ID).Str("queue", job.Name).
		Int("retryCount", job.RetryCount+1).Msg("job failed, will retry")
}

func (s *Store) fail(ctx context.Context, job models.Job, cause error) {
	output, _ := json.Marshal(map[string]string{"error": cause.Error()})
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE jobs SET state = 'failed', completed_on = now(), output = $2 WHERE id = $1`,
		job.ID, output)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("jobId", job.ID).Msg("failed to record job failure")
	}
	logging.Ctx(ctx).Error().Err(cause).Str("jobId", job.ID).Str("queue", job.Name).Msg("job exhausted retries")
}

// Cancel transitions the given job IDs from {created, retry, active} to
// cancelled.
func (s *Store) Cancel(ctx context.Context, ids []string) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE jobs SET state = 'cancelled', completed_on = now()
		WHERE id = ANY($1) AND state IN ('created', 'retry', 'active')`, ids)
	if err != nil {
		return fmt.Errorf("cancel jobs: %w", database.Classify(err))
	}
	return nil
}

// CancelByName cancels every non-terminal job for a queue, used by the
// manual full-sync trigger to preempt any already-queued run for the
// same server (spec.md §4.2).
func (s *Store) CancelByName(ctx context.Context, name string) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE jobs SET state = 'cancelled', completed_on = now()
		WHERE name = $1 AND state IN ('created', 'retry', 'active')`, name)
	if err != nil {
		return fmt.Errorf("cancel jobs for %s: %w", name, database.Classify(err))
	}
	return nil
}

// GetJobByID returns a single job's full state.
func (s *Store) GetJobByID(ctx context.Context, name, id string) (*models.Job, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT id, name, data, state, retry_limit, retry_count, retry_delay,
			retry_backoff, start_after, expire_in_seconds, singleton_key,
			output, created_on, started_on, completed_on
		FROM jobs WHERE name = $1 AND id = $2`, name, id)

	j, err := scanJob(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job %s/%s: %w", name, id, database.Classify(err))
	}
	return &j, nil
}

// QueueStats is the getQueueStats() result.
type QueueStats struct {
	QueuedCount  int64
	ActiveCount  int64
	FailedCount  int64
	ExpiredCount int64
}

// GetQueueStats returns point-in-time counts for name.
func (s *Store) GetQueueStats(ctx context.Context, name string) (QueueStats, error) {
	var stats QueueStats
	err := s.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state IN ('created', 'retry')),
			COUNT(*) FILTER (WHERE state = 'active'),
			COUNT(*) FILTER (WHERE state = 'failed'),
			COUNT(*) FILTER (WHERE state = 'expired')
		FROM jobs WHERE name = $1`, name).Scan(&stats.QueuedCount, &stats.ActiveCount, &stats.FailedCount, &stats.ExpiredCount)
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue stats %s: %w", name, database.Classify(err))
	}
	return stats, nil
}

// ExpireStaleJobs transitions active jobs whose expire_in_seconds has
// elapsed since started_on to the expired terminal state, distinct
// from failed. No code in this module calls it; MaintenanceWorker's
// stale-job GC sweep works on job_results rows, not on queue jobs.
func (s *Store) ExpireStaleJobs(ctx context.Context) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE jobs SET state = 'expired', completed_on = now()
		WHERE state = 'active'
			AND started_on IS NOT NULL
			AND started_on + (expire_in_seconds || ' seconds')::interval < now()`)
	if err != nil {
		return 0, fmt.Errorf("expire stale jobs: %w", database.Classify(err))
	}
	return tag.RowsAffected(), nil
}

// PruneTerminalJobs deletes terminal jobs older than their queue's
// retention_seconds.
func (s *Store) PruneTerminalJobs(ctx context.Context) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `
		DELETE FROM jobs j USING queue q
		WHERE j.name = q.name
			AND j.state IN ('completed', 'cancelled', 'failed', 'expired')
			AND j.completed_on IS NOT NULL
			AND j.completed_on + (q.retention_seconds || ' seconds')::interval < now()`)
	if err != nil {
		return 0, fmt.Errorf("prune terminal jobs: %w", database.Classify(err))
	}
	return tag.RowsAffected(), nil
}

func scanJobs(rows pgx.Rows) ([]models.Job, error) {
	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.Job, error) {
	var j models.Job
	var singletonKey *string
	err := row.Scan(
		&j.ID, &j.Name, &j.Data, &j.State, &j.RetryLimit, &j.RetryCount, &j.RetryDelay,
		&j.RetryBackoff, &j.StartAfter, &j.ExpireIn, &singletonKey,
		&j.Output, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return models.Job{}, err
	}
	j.SingletonKey = singletonKey
	return j, nil
}
