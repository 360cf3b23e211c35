// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jobs defines the closed JobKey catalog and the JobRegistry
// mapping queue names to handler functions. Representing the catalog
// as a tagged enum (rather than a loosely-typed string map) is the
// decomposition spec.md §9 calls for: a single closed sum type that
// both Scheduler and SessionPoller pattern-match against, instead of
// each side hand-rolling its own dispatch table.
package jobs

import "time"

// JobKey is the authoritative closed set of schedulable job identities.
type JobKey string

const (
	JobActivitySync       JobKey = "activity-sync"
	JobRecentItemsSync    JobKey = "recent-items-sync"
	JobUserSync           JobKey = "user-sync"
	JobPeopleSync         JobKey = "people-sync"
	JobEmbeddingsSync     JobKey = "embeddings-sync"
	JobFullSync           JobKey = "full-sync"
	JobGeolocationSync    JobKey = "geolocation-sync"
	JobFingerprintSync    JobKey = "fingerprint-sync"
	JobSecuritySync       JobKey = "security-sync"

	// JobSessionPolling is interval-based and consumed directly by
	// SessionPoller, never enqueued into QueueStore.
	JobSessionPolling JobKey = "session-polling"

	// Global (not per-server) keys, collapsed into a single
	// scheduler-maintenance cron job that dispatches internally by
	// minute/hour (spec.md §4.2, §4.3).
	JobCleanup            JobKey = "job-cleanup"
	JobOldJobCleanup       JobKey = "old-job-cleanup"
	JobDeletedItemsCleanup JobKey = "deleted-items-cleanup"
	JobSchedulerMaintenance JobKey = "scheduler-maintenance"
)

// Cadence classifies a JobKey as cron-driven (QueueStore schedule row)
// or interval-driven (consumed by a long-lived loop, never scheduled
// into QueueStore).
type Cadence int

const (
	CadenceCron Cadence = iota
	CadenceInterval
)

// Tier is one of the four expire/retry policy bands the on-demand
// trigger RPCs draw from (spec.md §4.2).
type Tier struct {
	ExpireIn   time.Duration
	RetryLimit int
	RetryDelay time.Duration
}

var (
	TierStandard = Tier{ExpireIn: 30 * time.Minute, RetryLimit: 1, RetryDelay: 60 * time.Second}
	TierMedium   = Tier{ExpireIn: time.Hour, RetryLimit: 1, RetryDelay: 60 * time.Second}
	TierLong     = Tier{ExpireIn: 2 * time.Hour, RetryLimit: 1, RetryDelay: 300 * time.Second}
	TierExtended = Tier{ExpireIn: 4 * time.Hour, RetryLimit: 1, RetryDelay: 300 * time.Second}
	// TierManualFullSync is the full-sync trigger's own tier, wider than
	// TierExtended because a manual full-sync is expected to take the
	// longest of any on-demand operation.
	TierManualFullSync = Tier{ExpireIn: 6 * time.Hour, RetryLimit: 1, RetryDelay: 300 * time.Second}
)

// Meta describes a cron-tagged JobKey's defaults: its queue name, a
// default cron expression (used absent a per-server override), and the
// retry/expiry tier its jobs are enqueued with.
type Meta struct {
	QueueName  string
	Cadence    Cadence
	DefaultCron string // only meaningful when Cadence == CadenceCron
	Tier       Tier
	// SingletonPerServer marks keys that must use
	// singletonKey = "<queueName>-<serverId>" so a busy server cannot
	// enqueue duplicates (spec.md §5).
	SingletonPerServer bool
}

// Catalog is the authoritative (jobKey -> Meta) table.
var Catalog = map[JobKey]Meta{
	JobActivitySync:    {QueueName: "activity-sync", Cadence: CadenceCron, DefaultCron: "*/5 * * * *", Tier: TierStandard},
	JobRecentItemsSync: {QueueName: "recent-items-sync", Cadence: CadenceCron, DefaultCron: "*/15 * * * *", Tier: TierMedium},
	JobUserSync:        {QueueName: "user-sync", Cadence: CadenceCron, DefaultCron: "0 * * * *", Tier: TierStandard},
	JobPeopleSync:      {QueueName: "people-sync", Cadence: CadenceCron, DefaultCron: "0 2 * * *", Tier: TierLong, SingletonPerServer: true},
	JobEmbeddingsSync:  {QueueName: "embeddings-sync", Cadence: CadenceCron, DefaultCron: "30 2 * * *", Tier: TierExtended},
	JobFullSync:        {QueueName: "full-sync", Cadence: CadenceCron, DefaultCron: "0 3 * * *", Tier: TierManualFullSync},
	JobGeolocationSync: {QueueName: "geolocate-activities", Cadence: CadenceCron, DefaultCron: "*/10 * * * *", Tier: TierMedium, SingletonPerServer: true},
	JobFingerprintSync: {QueueName: "calculate-fingerprints", Cadence: CadenceCron, DefaultCron: "0 4 * * *", Tier: TierLong, SingletonPerServer: true},
	// JobSecuritySync is a composite job (activity sync + geolocation
	// sweep + fingerprint recompute, spec.md §4.7); it is not in the
	// spec's explicit singleton-key list but is marked singleton anyway
	// since it is the longest-running job in the catalog and a busy
	// server enqueuing a second overlapping run serves no purpose.
	JobSecuritySync: {QueueName: "security-sync", Cadence: CadenceCron, DefaultCron: "0 1 * * *", Tier: TierExtended, SingletonPerServer: true},

	JobSessionPolling: {QueueName: "", Cadence: CadenceInterval},

	JobSchedulerMaintenance: {QueueName: "scheduler-maintenance", Cadence: CadenceCron, DefaultCron: "* * * * *", Tier: TierStandard},
}

// CronJobKeys returns every cron-tagged key in the catalog, the set
// syncSchedulesForServer iterates (spec.md §4.2), in a stable order.
func CronJobKeys() []JobKey {
	return []JobKey{
		JobActivitySync,
		JobRecentItemsSync,
		JobUserSync,
		JobPeopleSync,
		JobEmbeddingsSync,
		JobFullSync,
		JobGeolocationSync,
		JobFingerprintSync,
		JobSecuritySync,
	}
}
