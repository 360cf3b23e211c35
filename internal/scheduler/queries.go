// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package scheduler

import (
	"context"

	"github.com/sjorge/streamystats/internal/jobs"
)

func (s *Scheduler) loadOverrides(ctx context.Context) error {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT server_id, job_key, cron_expr, enabled FROM server_job_configurations`)
	if err != nil {
		return err
	}
	defer rows.Close()

	next := make(map[int64]map[jobs.JobKey]override)
	for rows.Next() {
		var serverID int64
		var jobKey string
		var cronExpr *string
		var enabled bool
		if err := rows.Scan(&serverID, &jobKey, &cronExpr, &enabled); err != nil {
			return err
		}
		if next[serverID] == nil {
			next[serverID] = make(map[jobs.JobKey]override)
		}
		next[serverID][jobs.JobKey(jobKey)] = override{cronExpr: cronExpr, enabled: &enabled}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.overrides = next
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) loadOverridesForServer(ctx context.Context, serverID int64) error {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT job_key, cron_expr, enabled FROM server_job_configurations WHERE server_id = $1`, serverID)
	if err != nil {
		return err
	}
	defer rows.Close()

	perServer := make(map[jobs.JobKey]override)
	for rows.Next() {
		var jobKey string
		var cronExpr *string
		var enabled bool
		if err := rows.Scan(&jobKey, &cronExpr, &enabled); err != nil {
			return err
		}
		perServer[jobs.JobKey(jobKey)] = override{cronExpr: cronExpr, enabled: &enabled}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.overrides[serverID] = perServer
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) resetStuckSyncingServers(ctx context.Context) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE servers SET sync_status = 'pending', sync_error = NULL, updated_at = now()
		WHERE sync_status = 'syncing'`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Scheduler) anyServerMissingUpstreamID(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM servers WHERE upstream_id IS NULL OR upstream_id = '')`).Scan(&exists)
	return exists, err
}

func (s *Scheduler) serversNotSyncing(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id FROM servers WHERE sync_status != 'syncing'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Scheduler) allServerIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT id FROM servers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// tierOptions mirrors queue.SendOptions' numeric fields, built from a
// jobs.Tier, for the on-demand trigger RPCs in triggers.go.
func tierOptions(t jobs.Tier) (expireInSeconds, retryLimit, retryDelaySeconds int) {
	return int(t.ExpireIn.Seconds()), t.RetryLimit, int(t.RetryDelay.Seconds())
}
