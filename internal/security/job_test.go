// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"errors"
	"testing"

	"github.com/sjorge/streamystats/internal/geo"
)

type fakeActivities struct {
	count int
	err   error
}

func (f *fakeActivities) Run(ctx context.Context, serverID int64, maxPages, pageSize int) (int, error) {
	return f.count, f.err
}

type fakeGeolocator struct {
	batches        []geo.Result
	batchCall      int
	fingerprintErr error
	updated        int
	geoErr         error
}

func (f *fakeGeolocator) GeolocateActivities(ctx context.Context, serverID int64, batchSize int) (geo.Result, error) {
	if f.geoErr != nil {
		return geo.Result{}, f.geoErr
	}
	if f.batchCall >= len(f.batches) {
		return geo.Result{}, nil
	}
	res := f.batches[f.batchCall]
	f.batchCall++
	return res, nil
}

func (f *fakeGeolocator) CalculateFingerprints(ctx context.Context, serverID int64) (int, error) {
	return f.updated, f.fingerprintErr
}

type fakePublisher struct {
	started   int
	progress  []map[string]any
	completed map[string]any
	failed    error
}

func (f *fakePublisher) PublishStarted(ctx context.Context, serverID int64, jobName string) {
	f.started++
}
func (f *fakePublisher) PublishProgress(ctx context.Context, serverID int64, jobName string, data map[string]any) {
	f.progress = append(f.progress, data)
}
func (f *fakePublisher) PublishCompleted(ctx context.Context, serverID int64, jobName string, data map[string]any) {
	f.completed = data
}
func (f *fakePublisher) PublishFailed(ctx context.Context, serverID int64, jobName string, cause error) {
	f.failed = cause
}

func TestJobRunAccumulatesCountersAcrossPhases(t *testing.T) {
	activities := &fakeActivities{count: 12}
	geolocator := &fakeGeolocator{
		batches: []geo.Result{
			{Processed: 500, AnomaliesDetected: 2},
			{Processed: 500, AnomaliesDetected: 1},
			{Processed: 100, AnomaliesDetected: 0}, // short batch: stop
		},
		updated: 7,
	}
	pub := &fakePublisher{}

	job := New(activities, geolocator, pub)
	if err := job.Run(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pub.started != 1 {
		t.Fatalf("expected exactly one started event, got %d", pub.started)
	}
	if pub.completed["activitiesSynced"] != 12 {
		t.Fatalf("expected activitiesSynced=12, got %+v", pub.completed)
	}
	if pub.completed["locationsProcessed"] != 1100 {
		t.Fatalf("expected locationsProcessed=1100, got %+v", pub.completed)
	}
	if pub.completed["anomaliesDetected"] != 3 {
		t.Fatalf("expected anomaliesDetected=3, got %+v", pub.completed)
	}
	if pub.completed["fingerprintsUpdated"] != 7 {
		t.Fatalf("expected fingerprintsUpdated=7, got %+v", pub.completed)
	}
	if len(pub.progress) == 0 {
		t.Fatal("expected at least one progress event")
	}
}

func TestJobRunStopsGeolocationAtHardCap(t *testing.T) {
	activities := &fakeActivities{count: 0}
	fullBatch := geo.Result{Processed: geolocateBatchSize}
	geolocator := &fakeGeolocator{batches: []geo.Result{fullBatch, fullBatch, fullBatch, fullBatch, fullBatch,
		fullBatch, fullBatch, fullBatch, fullBatch, fullBatch, fullBatch, fullBatch, fullBatch, fullBatch,
		fullBatch, fullBatch, fullBatch, fullBatch, fullBatch, fullBatch, fullBatch}}
	pub := &fakePublisher{}

	job := New(activities, geolocator, pub)
	if err := job.Run(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pub.completed["locationsProcessed"].(int) < geolocateCap {
		t.Fatalf("expected locationsProcessed to reach the hard cap, got %+v", pub.completed)
	}
}

func TestJobRunPublishesFailedOnActivitySyncError(t *testing.T) {
	activities := &fakeActivities{err: errors.New("upstream unreachable")}
	pub := &fakePublisher{}

	job := New(activities, &fakeGeolocator{}, pub)
	err := job.Run(context.Background(), 1)

	if err == nil {
		t.Fatal("expected an error to propagate")
	}
	if pub.failed == nil {
		t.Fatal("expected a failed event to be published")
	}
	if pub.completed != nil {
		t.Fatal("did not expect a completed event after a failure")
	}
}

func TestJobRunPublishesFailedOnGeolocateError(t *testing.T) {
	activities := &fakeActivities{count: 5}
	geolocator := &fakeGeolocator{geoErr: errors.New("db unavailable")}
	pub := &fakePublisher{}

	job := New(activities, geolocator, pub)
	err := job.Run(context.Background(), 1)

	if err == nil {
		t.Fatal("expected an error to propagate")
	}
	if pub.failed == nil {
		t.Fatal("expected a failed event to be published")
	}
}
