// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package queue

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sjorge/streamystats/internal/logging"
	"github.com/sjorge/streamystats/internal/models"
)

// cronTickInterval is how often the evaluator polls the schedules
// table for due rows. A schedule's own cron expression, not this
// interval, determines how often its job actually fires; 15s keeps the
// worst-case delivery lag well under a minute even for "* * * * *".
const cronTickInterval = 15 * time.Second

// CronTicker is the "separate process" spec.md §3 describes that ticks
// cron and enqueues new Job rows for every due Schedule. It is the
// component that turns a durable Schedule row into a one-shot Job send.
type CronTicker struct {
	store  *Store
	parser cron.Parser

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCronTicker creates a CronTicker bound to store.
func NewCronTicker(store *Store) *CronTicker {
	return &CronTicker{
		store:  store,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		stopCh: make(chan struct{}),
	}
}

// Start implements the StartStopManager lifecycle: runs one evaluation
// immediately, then ticks every cronTickInterval until Stop or ctx is
// cancelled.
func (c *CronTicker) Start(ctx context.Context) error {
	c.evaluate(ctx)

	c.wg.Add(1)
	go c.loop(ctx)
	return nil
}

// Stop signals the loop to exit and waits for it to unwind.
func (c *CronTicker) Stop() error {
	close(c.stopCh)
	c.wg.Wait()
	return nil
}

func (c *CronTicker) loop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(cronTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.evaluate(ctx)
		}
	}
}

func (c *CronTicker) evaluate(ctx context.Context) {
	log := logging.Ctx(ctx)

	schedules, err := c.store.DueSchedules(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cron evaluator: failed to list schedules")
		return
	}

	now := time.Now().UTC()
	for _, sch := range schedules {
		due, nextAfterFire, err := c.isDue(sch, now)
		if err != nil {
			log.Error().Err(err).Str("queue", sch.Name).Str("key", sch.Key).Str("cron", sch.CronExpr).
				Msg("cron evaluator: invalid cron expression, skipping schedule")
			continue
		}
		if !due {
			continue
		}

		if _, err := c.store.Send(ctx, sch.Name, rawJSON(sch.Data), SendOptions{
			ExpireInSeconds: 3600,
			RetryLimit:      1,
			RetryDelay:      60,
		}); err != nil {
			log.Error().Err(err).Str("queue", sch.Name).Str("key", sch.Key).Msg("cron evaluator: failed to enqueue due schedule")
			continue
		}
		if err := c.store.MarkScheduleRan(ctx, sch.Name, sch.Key, nextAfterFire); err != nil {
			log.Error().Err(err).Str("queue", sch.Name).Str("key", sch.Key).Msg("cron evaluator: failed to stamp last_ran_at")
		}
	}
}

// isDue reports whether sch's next scheduled fire time (computed from
// its last run, or its creation time if it has never run) has elapsed.
// It also returns the fire time itself, stamped as last_ran_at so the
// next evaluation computes from the tick that was actually taken
// rather than wall-clock "now" (avoiding cron drift).
func (c *CronTicker) isDue(sch models.Schedule, now time.Time) (bool, time.Time, error) {
	schedule, err := c.parser.Parse(sch.CronExpr)
	if err != nil {
		return false, time.Time{}, err
	}

	from := sch.CreatedAt
	if sch.LastRanAt != nil {
		from = *sch.LastRanAt
	}

	next := schedule.Next(from)
	if next.After(now) {
		return false, time.Time{}, nil
	}
	return true, next, nil
}

// rawJSON marshals pre-encoded JSON bytes through Send without a
// double encode/decode round trip.
type rawJSONPayload []byte

func (r rawJSONPayload) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("{}"), nil
	}
	return r, nil
}

func rawJSON(b []byte) rawJSONPayload { return rawJSONPayload(b) }
