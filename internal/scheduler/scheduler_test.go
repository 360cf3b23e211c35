// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package scheduler

import (
	"testing"

	"github.com/sjorge/streamystats/internal/jobs"
)

func TestEffectiveCronFallsBackToDefault(t *testing.T) {
	s := &Scheduler{overrides: map[int64]map[jobs.JobKey]override{}}

	got := s.EffectiveCron(1, jobs.JobActivitySync)
	want := jobs.Catalog[jobs.JobActivitySync].DefaultCron
	if got != want {
		t.Errorf("EffectiveCron() = %q, want default %q", got, want)
	}
}

func TestEffectiveCronUsesOverride(t *testing.T) {
	custom := "0 */2 * * *"
	s := &Scheduler{overrides: map[int64]map[jobs.JobKey]override{
		7: {jobs.JobActivitySync: {cronExpr: &custom}},
	}}

	if got := s.EffectiveCron(7, jobs.JobActivitySync); got != custom {
		t.Errorf("EffectiveCron() = %q, want override %q", got, custom)
	}
}

func TestIsEnabledDefaultsTrue(t *testing.T) {
	s := &Scheduler{overrides: map[int64]map[jobs.JobKey]override{}}
	if !s.IsEnabled(1, jobs.JobPeopleSync) {
		t.Error("IsEnabled() should default to true when no override row exists")
	}
}

func TestIsEnabledHonorsOverride(t *testing.T) {
	disabled := false
	s := &Scheduler{overrides: map[int64]map[jobs.JobKey]override{
		3: {jobs.JobPeopleSync: {enabled: &disabled}},
	}}
	if s.IsEnabled(3, jobs.JobPeopleSync) {
		t.Error("IsEnabled() should honor an explicit false override")
	}
}

func TestBuildPayloadIncludesServerID(t *testing.T) {
	payload := buildPayload(42, jobs.JobActivitySync)
	if payload["serverId"] != int64(42) {
		t.Errorf("buildPayload()[\"serverId\"] = %v, want 42", payload["serverId"])
	}
	if payload["pages"] != 5 {
		t.Errorf("buildPayload() for activity-sync should set pages=5, got %v", payload["pages"])
	}
}
