// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package queue

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sjorge/streamystats/internal/models"
)

func newTestTicker() *CronTicker {
	return &CronTicker{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

func TestIsDueFiresAfterElapsedMinute(t *testing.T) {
	c := newTestTicker()
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sch := models.Schedule{CronExpr: "* * * * *", CreatedAt: created}

	due, _, err := c.isDue(sch, created.Add(90*time.Second))
	if err != nil {
		t.Fatalf("isDue returned error: %v", err)
	}
	if !due {
		t.Fatal("expected schedule to be due 90s after creation on a every-minute cron")
	}
}

func TestIsDueNotYetElapsed(t *testing.T) {
	c := newTestTicker()
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sch := models.Schedule{CronExpr: "0 3 * * *", CreatedAt: created}

	due, _, err := c.isDue(sch, created.Add(time.Hour))
	if err != nil {
		t.Fatalf("isDue returned error: %v", err)
	}
	if due {
		t.Fatal("daily-at-3am schedule should not be due 1h after a noon creation")
	}
}

func TestIsDueUsesLastRanAtNotCreatedAt(t *testing.T) {
	c := newTestTicker()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lastRan := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sch := models.Schedule{CronExpr: "0 * * * *", CreatedAt: created, LastRanAt: &lastRan}

	due, _, err := c.isDue(sch, lastRan.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("isDue returned error: %v", err)
	}
	if due {
		t.Fatal("hourly schedule should not be due 30m after its last run")
	}

	due, _, err = c.isDue(sch, lastRan.Add(61*time.Minute))
	if err != nil {
		t.Fatalf("isDue returned error: %v", err)
	}
	if !due {
		t.Fatal("hourly schedule should be due 61m after its last run")
	}
}

func TestIsDueRejectsInvalidCron(t *testing.T) {
	c := newTestTicker()
	sch := models.Schedule{CronExpr: "not a cron expression", CreatedAt: time.Now()}
	if _, _, err := c.isDue(sch, time.Now()); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}
