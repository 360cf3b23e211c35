// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security implements SecuritySyncJob: the composite job that
// chains a small activity-log sync, a bounded geolocation sweep, and a
// full fingerprint recompute behind one set of progress events
// (spec.md §4.7).
package security

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/sjorge/streamystats/internal/geo"
	"github.com/sjorge/streamystats/internal/logging"
	"github.com/sjorge/streamystats/internal/models"
)

const (
	jobName = "security-sync"

	// recentSyncPages/recentSyncPageSize mirror the activity-sync
	// schedule's own defaults: a small window is all this job needs,
	// since GeolocationPipeline only cares about what's new.
	recentSyncPages    = 5
	recentSyncPageSize = 100

	geolocateBatchSize = 500
	geolocateCap       = 10_000
)

// ActivitySyncer is the narrow surface Job needs from
// activity.Ingestor, kept as an interface so this package's tests
// don't need a real Ingestor (or a database).
type ActivitySyncer interface {
	Run(ctx context.Context, serverID int64, maxPages, pageSize int) (int, error)
}

// Geolocator is the narrow surface Job needs from geo.Pipeline.
type Geolocator interface {
	GeolocateActivities(ctx context.Context, serverID int64, batchSize int) (geo.Result, error)
	CalculateFingerprints(ctx context.Context, serverID int64) (int, error)
}

// Publisher is the SSE fan-out seam; a nil Publisher value is invalid,
// use a no-op implementation in callers that don't need events.
type Publisher interface {
	PublishStarted(ctx context.Context, serverID int64, jobName string)
	PublishProgress(ctx context.Context, serverID int64, jobName string, data map[string]any)
	PublishCompleted(ctx context.Context, serverID int64, jobName string, data map[string]any)
	PublishFailed(ctx context.Context, serverID int64, jobName string, cause error)
}

// Job runs the composite sync.
type Job struct {
	activities ActivitySyncer
	geo        Geolocator
	publisher  Publisher
}

// New creates a Job.
func New(activities ActivitySyncer, geo Geolocator, publisher Publisher) *Job {
	return &Job{activities: activities, geo: geo, publisher: publisher}
}

// Counters accumulates SecuritySyncJob's progress across its three
// phases, reported on every progress event and the final completed
// event (spec.md §4.7).
type Counters struct {
	ActivitiesSynced    int `json:"activitiesSynced"`
	LocationsProcessed  int `json:"locationsProcessed"`
	FingerprintsUpdated int `json:"fingerprintsUpdated"`
	AnomaliesDetected   int `json:"anomaliesDetected"`
}

func (c Counters) asMap() map[string]any {
	return map[string]any{
		"activitiesSynced":    c.ActivitiesSynced,
		"locationsProcessed":  c.LocationsProcessed,
		"fingerprintsUpdated": c.FingerprintsUpdated,
		"anomaliesDetected":   c.AnomaliesDetected,
	}
}

type payload struct {
	ServerID int64 `json:"serverId"`
}

// Handle implements queue.Handler for the security-sync queue.
func (j *Job) Handle(ctx context.Context, job models.Job) error {
	var p payload
	if err := json.Unmarshal(job.Data, &p); err != nil {
		return fmt.Errorf("security-sync: decode payload: %w", err)
	}
	return j.Run(ctx, p.ServerID)
}

// Run executes the three phases in order, publishing started/progress/
// completed/failed SSE events with accumulated counters at each step.
func (j *Job) Run(ctx context.Context, serverID int64) error {
	log := logging.Ctx(ctx)
	j.publisher.PublishStarted(ctx, serverID, jobName)

	var counters Counters

	synced, err := j.activities.Run(ctx, serverID, recentSyncPages, recentSyncPageSize)
	if err != nil {
		j.publisher.PublishFailed(ctx, serverID, jobName, err)
		return fmt.Errorf("security-sync: activity sync: %w", err)
	}
	counters.ActivitiesSynced = synced
	j.publisher.PublishProgress(ctx, serverID, jobName, counters.asMap())

	for counters.LocationsProcessed < geolocateCap {
		res, err := j.geo.GeolocateActivities(ctx, serverID, geolocateBatchSize)
		if err != nil {
			j.publisher.PublishFailed(ctx, serverID, jobName, err)
			return fmt.Errorf("security-sync: geolocate: %w", err)
		}
		counters.LocationsProcessed += res.Processed
		counters.AnomaliesDetected += res.AnomaliesDetected
		j.publisher.PublishProgress(ctx, serverID, jobName, counters.asMap())

		if res.Processed < geolocateBatchSize {
			break
		}
	}

	updated, err := j.geo.CalculateFingerprints(ctx, serverID)
	if err != nil {
		j.publisher.PublishFailed(ctx, serverID, jobName, err)
		return fmt.Errorf("security-sync: calculate fingerprints: %w", err)
	}
	counters.FingerprintsUpdated = updated

	j.publisher.PublishCompleted(ctx, serverID, jobName, counters.asMap())
	log.Info().Int64("serverId", serverID).
		Int("activitiesSynced", counters.ActivitiesSynced).
		Int("locationsProcessed", counters.LocationsProcessed).
		Int("fingerprintsUpdated", counters.FingerprintsUpdated).
		Int("anomaliesDetected", counters.AnomaliesDetected).
		Msg("security-sync: complete")
	return nil
}
