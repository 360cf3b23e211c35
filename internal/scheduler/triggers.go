// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package scheduler

import (
	"context"
	"fmt"

	"github.com/sjorge/streamystats/internal/jobs"
	"github.com/sjorge/streamystats/internal/queue"
)

// trigger enqueues a single on-demand job for serverID, drawing
// expire/retry settings from tier and an optional singleton key.
func (s *Scheduler) trigger(ctx context.Context, queueName string, serverID int64, tier jobs.Tier, singletonKey string, extra map[string]any) error {
	expireIn, retryLimit, retryDelay := tierOptions(tier)
	payload := map[string]any{"serverId": serverID}
	for k, v := range extra {
		payload[k] = v
	}
	_, err := s.store.Send(ctx, queueName, payload, queue.SendOptions{
		ExpireInSeconds: expireIn,
		RetryLimit:      retryLimit,
		RetryDelay:      retryDelay,
		SingletonKey:    singletonKey,
	})
	return err
}

// TriggerFullSync enqueues full-sync for serverID. When manual is true
// (an operator-initiated request, not the startup sweep) it first
// preempts any already-queued full-sync for the same server, per
// spec.md §4.2.
func (s *Scheduler) TriggerFullSync(ctx context.Context, serverID int64, manual bool) error {
	meta := jobs.Catalog[jobs.JobFullSync]
	tier := meta.Tier
	if manual {
		if err := s.store.CancelByName(ctx, meta.QueueName); err != nil {
			return fmt.Errorf("preempt queued full-sync: %w", err)
		}
		tier = jobs.TierManualFullSync
	}
	return s.trigger(ctx, meta.QueueName, serverID, tier, "", nil)
}

// TriggerUserSync enqueues user-sync for serverID.
func (s *Scheduler) TriggerUserSync(ctx context.Context, serverID int64) error {
	meta := jobs.Catalog[jobs.JobUserSync]
	return s.trigger(ctx, meta.QueueName, serverID, meta.Tier, "", nil)
}

// TriggerLibraryItemsSync enqueues recent-items-sync for serverID.
func (s *Scheduler) TriggerLibraryItemsSync(ctx context.Context, serverID int64) error {
	meta := jobs.Catalog[jobs.JobRecentItemsSync]
	return s.trigger(ctx, meta.QueueName, serverID, meta.Tier, "", nil)
}

// TriggerPeopleSync enqueues people-sync for serverID with a
// per-server singleton key so a busy server cannot enqueue duplicates.
func (s *Scheduler) TriggerPeopleSync(ctx context.Context, serverID int64) error {
	meta := jobs.Catalog[jobs.JobPeopleSync]
	return s.trigger(ctx, meta.QueueName, serverID, meta.Tier, singletonKeyFor(meta.QueueName, serverID), nil)
}

// TriggerGeolocationBackfill enqueues backfill-activity-locations for
// serverID.
func (s *Scheduler) TriggerGeolocationBackfill(ctx context.Context, serverID int64) error {
	meta := jobs.Catalog[jobs.JobGeolocationSync]
	return s.trigger(ctx, "backfill-activity-locations", serverID, meta.Tier,
		singletonKeyFor("backfill-activity-locations", serverID), map[string]any{"batchSize": 500})
}

func singletonKeyFor(queueName string, serverID int64) string {
	return fmt.Sprintf("%s-%d", queueName, serverID)
}
