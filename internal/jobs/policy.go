// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package jobs

// Policy is the read-only seam spec.md §9 prescribes to break the
// Scheduler <-> SessionPoller import cycle: the source's Scheduler
// needs Poller.reloadServerConfig and Poller needs
// Scheduler.isJobEnabledForServer. Both depend on this interface
// instead of on each other; internal/scheduler implements it and
// internal/sessions only ever sees this narrow view.
type Policy interface {
	IsEnabled(serverID int64, key JobKey) bool
	EffectiveCron(serverID int64, key JobKey) string
}
