// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scheduler translates per-server job intent (global default ⨁
// per-server override) into durable QueueStore schedule rows, and
// performs startup recovery of servers left mid-sync.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sjorge/streamystats/internal/database"
	"github.com/sjorge/streamystats/internal/jobs"
	"github.com/sjorge/streamystats/internal/logging"
	"github.com/sjorge/streamystats/internal/queue"
)

// staleSyncThreshold is how old a "syncing" server row must be before
// the next maintenance tick resets it (spec.md §3 Server invariant).
const staleSyncThreshold = 30 * time.Minute

// override is one server's (jobKey -> {cron, enabled}) row, read from
// server_job_configurations.
type override struct {
	cronExpr *string
	enabled  *bool
}

// Scheduler owns what should be scheduled when. It implements
// jobs.Policy so SessionPoller can ask isEnabled/effectiveCron without
// importing this package back (spec.md §9).
type Scheduler struct {
	db    *database.DB
	store *queue.Store

	skipStartupFullSync bool

	mu        sync.RWMutex
	overrides map[int64]map[jobs.JobKey]override

	cronParser cron.Parser

	runningMu sync.Mutex
	running   bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

var _ jobs.Policy = (*Scheduler)(nil)

// New creates a Scheduler.
func New(db *database.DB, store *queue.Store, skipStartupFullSync bool) *Scheduler {
	return &Scheduler{
		db:                  db,
		store:               store,
		skipStartupFullSync: skipStartupFullSync,
		overrides:           make(map[int64]map[jobs.JobKey]override),
		cronParser:          cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		stopCh:              make(chan struct{}),
	}
}

// Start implements the StartStopManager lifecycle: it runs the startup
// sequence once, then a background loop that re-reconciles schedules
// periodically (self-healing against overrides changed out from under
// the in-memory cache by another replica, or cache staleness).
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.runStartupSequence(ctx); err != nil {
		return fmt.Errorf("scheduler startup: %w", err)
	}

	s.runningMu.Lock()
	s.running = true
	s.runningMu.Unlock()

	s.wg.Add(1)
	go s.reconcileLoop(ctx)
	return nil
}

// Stop signals the background reconcile loop to exit.
func (s *Scheduler) Stop() error {
	s.runningMu.Lock()
	s.running = false
	s.runningMu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	return nil
}

// Running reports whether the reconcile loop is currently active,
// consulted by the /server-status aggregate's "disabled scheduler"
// check (spec.md §12).
func (s *Scheduler) Running() bool {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.running
}

func (s *Scheduler) reconcileLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.loadOverrides(ctx); err != nil {
				logging.Ctx(ctx).Error().Err(err).Msg("failed to reload server job overrides")
				continue
			}
			ids, err := s.allServerIDs(ctx)
			if err != nil {
				logging.Ctx(ctx).Error().Err(err).Msg("failed to list servers for reconcile")
				continue
			}
			for _, id := range ids {
				if err := s.syncSchedulesForServer(ctx, id); err != nil {
					logging.Ctx(ctx).Error().Err(err).Int64("serverId", id).Msg("failed to sync schedules for server")
				}
			}
		}
	}
}

// runStartupSequence implements the 6 ordered steps in spec.md §4.2.
func (s *Scheduler) runStartupSequence(ctx context.Context) error {
	log := logging.Ctx(ctx)

	// 1. Load overrides table into a two-level map.
	if err := s.loadOverrides(ctx); err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}

	// 2. Startup cleanup: reset stuck 'syncing' servers to 'pending'.
	resetCount, err := s.resetStuckSyncingServers(ctx)
	if err != nil {
		return fmt.Errorf("startup cleanup: %w", err)
	}
	log.Info().Int64("resetCount", resetCount).Msg("startup cleanup: reset stuck syncing servers")

	// 3. If any server lacks an upstream id, enqueue backfill-jellyfin-ids once.
	needsBackfill, err := s.anyServerMissingUpstreamID(ctx)
	if err != nil {
		return fmt.Errorf("check upstream ids: %w", err)
	}
	if needsBackfill {
		if _, err := s.store.Send(ctx, "backfill-jellyfin-ids", map[string]any{}, queue.SendOptions{
			ExpireInSeconds: int(jobs.TierStandard.ExpireIn.Seconds()),
			RetryLimit:      jobs.TierStandard.RetryLimit,
			RetryDelay:      int(jobs.TierStandard.RetryDelay.Seconds()),
			SingletonKey:    "backfill-jellyfin-ids",
		}); err != nil {
			return fmt.Errorf("enqueue backfill-jellyfin-ids: %w", err)
		}
	}

	// 4. Unless skip-startup-full-sync, enqueue full-sync for every
	// server not currently syncing (or stale-syncing, already reset above).
	if !s.skipStartupFullSync {
		ids, err := s.serversNotSyncing(ctx)
		if err != nil {
			return fmt.Errorf("list servers not syncing: %w", err)
		}
		for _, id := range ids {
			if err := s.TriggerFullSync(ctx, id, false); err != nil {
				log.Error().Err(err).Int64("serverId", id).Msg("failed to enqueue startup full-sync")
			}
		}
	}

	// 5. Reconcile schedules for every server.
	ids, err := s.allServerIDs(ctx)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}
	for _, id := range ids {
		if err := s.syncSchedulesForServer(ctx, id); err != nil {
			log.Error().Err(err).Int64("serverId", id).Msg("failed to sync schedules at startup")
		}
	}

	// 6. Register the single global scheduler-maintenance schedule.
	meta := jobs.Catalog[jobs.JobSchedulerMaintenance]
	if err := s.store.Schedule(ctx, meta.QueueName, "global", meta.DefaultCron, map[string]any{}); err != nil {
		return fmt.Errorf("register scheduler-maintenance: %w", err)
	}

	return nil
}

// syncSchedulesForServer implements spec.md §4.2's algorithm: for every
// cron jobKey, compute cron = override ?? default and enabled =
// override.enabled ?? true; schedule or unschedule accordingly.
// Failures on one key do not abort the others.
func (s *Scheduler) syncSchedulesForServer(ctx context.Context, serverID int64) error {
	ctx = logging.ContextWithServerID(ctx, serverID)
	var firstErr error
	for _, key := range jobs.CronJobKeys() {
		if err := s.syncOneKey(ctx, serverID, key); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("jobKey", string(key)).
				Msg("failed to sync schedule for job key")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Scheduler) syncOneKey(ctx context.Context, serverID int64, key jobs.JobKey) error {
	meta := jobs.Catalog[key]
	cronExpr := s.EffectiveCron(serverID, key)
	enabled := s.IsEnabled(serverID, key)
	scheduleKey := fmt.Sprintf("server-%d", serverID)

	if !enabled {
		return s.store.Unschedule(ctx, meta.QueueName, scheduleKey)
	}

	payload := buildPayload(serverID, key)
	return s.store.Schedule(ctx, meta.QueueName, scheduleKey, cronExpr, payload)
}

// buildPayload constructs the per-jobKey payload, the "pattern-match on
// the closed JobKey enum" dispatch spec.md §9 describes.
func buildPayload(serverID int64, key jobs.JobKey) map[string]any {
	payload := map[string]any{"serverId": serverID}
	switch key {
	case jobs.JobActivitySync:
		payload["pages"] = 5
		payload["pageSize"] = 100
	case jobs.JobGeolocationSync:
		payload["batchSize"] = 100
	case jobs.JobFingerprintSync:
		// full recompute takes no extra parameters
	}
	return payload
}

// IsEnabled implements jobs.Policy.
func (s *Scheduler) IsEnabled(serverID int64, key jobs.JobKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if perServer, ok := s.overrides[serverID]; ok {
		if o, ok := perServer[key]; ok && o.enabled != nil {
			return *o.enabled
		}
	}
	return true
}

// EffectiveCron implements jobs.Policy.
func (s *Scheduler) EffectiveCron(serverID int64, key jobs.JobKey) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if perServer, ok := s.overrides[serverID]; ok {
		if o, ok := perServer[key]; ok && o.cronExpr != nil {
			return *o.cronExpr
		}
	}
	return jobs.Catalog[key].DefaultCron
}

// ReloadServerConfig re-reads one server's overrides into the cache and
// re-reconciles its schedules; called by the admin mutation that edits
// per-server overrides.
func (s *Scheduler) ReloadServerConfig(ctx context.Context, serverID int64) error {
	if err := s.loadOverridesForServer(ctx, serverID); err != nil {
		return fmt.Errorf("reload overrides for server %d: %w", serverID, err)
	}
	return s.syncSchedulesForServer(ctx, serverID)
}
