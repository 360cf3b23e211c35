// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/sjorge/streamystats/internal/database"
	"github.com/sjorge/streamystats/internal/logging"
	"github.com/sjorge/streamystats/internal/metrics"
	"github.com/sjorge/streamystats/internal/models"
)

const (
	defaultGeolocateBatchSize = 100
	defaultBackfillBatchSize  = 500
	backfillHardCap           = 100_000
)

// EventPublisher is the minimal SSE fan-out seam the pipeline needs;
// nil is a valid, silent no-op (unit tests and the backfill job's
// internal geolocate calls don't always need to publish).
type EventPublisher interface {
	PublishAnomaly(ctx context.Context, serverID int64, ev models.AnomalyEvent)
	PublishProgress(ctx context.Context, serverID int64, jobName string, data map[string]any)
}

// Pipeline implements GeolocationPipeline: resolving IPs embedded in
// activity ShortOverviews and running behavioral anomaly detection
// against each user's fingerprint.
type Pipeline struct {
	db        *database.DB
	provider  Provider
	publisher EventPublisher
	now       func() time.Time
}

// New creates a Pipeline. publisher may be nil.
func New(db *database.DB, provider Provider, publisher EventPublisher) *Pipeline {
	return &Pipeline{db: db, provider: provider, now: time.Now, publisher: publisher}
}

// Result reports what one geolocate-activities pass did.
type Result struct {
	Processed         int
	AnomaliesDetected int
}

type geolocatePayload struct {
	ServerID  int64 `json:"serverId"`
	BatchSize int   `json:"batchSize"`
}

// HandleGeolocate implements queue.Handler for the geolocate-activities queue.
func (p *Pipeline) HandleGeolocate(ctx context.Context, job models.Job) error {
	var payload geolocatePayload
	if err := json.Unmarshal(job.Data, &payload); err != nil {
		return fmt.Errorf("geolocate-activities: decode payload: %w", err)
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = defaultGeolocateBatchSize
	}
	_, err := p.GeolocateActivities(ctx, payload.ServerID, payload.BatchSize)
	return err
}

type candidateActivity struct {
	ID            int64
	UserID        string
	ItemID        string
	Name          string
	Type          string
	ShortOverview string
	OccurredAt    time.Time
}

// GeolocateActivities resolves up to batchSize un-located activities
// for serverID and runs anomaly detection on the eligible ones.
func (p *Pipeline) GeolocateActivities(ctx context.Context, serverID int64, batchSize int) (Result, error) {
	ctx = logging.ContextWithServerID(ctx, serverID)
	log := logging.Ctx(ctx)
	candidates, err := loadGeolocationCandidates(ctx, p.db, serverID, batchSize)
	if err != nil {
		return Result{}, fmt.Errorf("geolocate-activities: load candidates: %w", err)
	}
	if len(candidates) == 0 {
		return Result{}, nil
	}

	cache := newFingerprintCache(p.db)
	var anomalies []models.AnomalyEvent

	err = p.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, c := range candidates {
			loc, ipAddress, provider := p.resolveOne(ctx, c.ShortOverview)
			if err := insertActivityLocation(ctx, tx, c.ID, ipAddress, loc, provider); err != nil {
				return err
			}

			if c.UserID == "" || loc.CountryCode == "" || loc.IsPrivateIP {
				continue
			}

			evs, err := p.detectAnomalies(ctx, tx, cache, serverID, c, loc)
			if err != nil {
				return err
			}
			anomalies = append(anomalies, evs...)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	for _, ev := range anomalies {
		metrics.AnomalyEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
		if p.publisher != nil {
			p.publisher.PublishAnomaly(ctx, serverID, ev)
		}
	}

	log.Info().Int("processed", len(candidates)).
		Int("anomalies", len(anomalies)).Msg("geolocate-activities: batch complete")
	return Result{Processed: len(candidates), AnomaliesDetected: len(anomalies)}, nil
}

// resolveOne resolves a single candidate's IP to a Location, without
// touching the database. A missing or private IP never reaches the
// provider.
func (p *Pipeline) resolveOne(ctx context.Context, shortOverview string) (Location, string, string) {
	ip, ok := extractIP(shortOverview)
	if !ok {
		return Location{IsPrivateIP: true}, "unknown", "placeholder"
	}
	if IsPrivateIP(ip) {
		return Location{IsPrivateIP: true}, ip, "private"
	}

	start := p.now()
	loc, err := p.provider.Lookup(ctx, ip)
	metrics.GeoIPLookupDuration.WithLabelValues(p.provider.Name()).Observe(p.now().Sub(start).Seconds())
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("ip", ip).Msg("geolocate-activities: lookup failed, marking unresolved")
		return Location{IsPrivateIP: true}, ip, "unresolved"
	}
	return loc, ip, p.provider.Name()
}

// detectAnomalies runs the three anomaly checks for one eligible
// activity and folds the observation into the user's fingerprint, all
// within tx. When no fingerprint exists yet for this user, the checks
// still run against an empty known-set: seeding persistence is not a
// license to suppress novelty detection on the very first observation,
// so a user's first-ever activity can legitimately fire new_country,
// new_location, and new_device all at once.
func (p *Pipeline) detectAnomalies(ctx context.Context, tx pgx.Tx, cache *fingerprintCache, serverID int64, c candidateActivity, loc Location) ([]models.AnomalyEvent, error) {
	fp, err := cache.get(ctx, serverID, c.UserID)
	if err != nil {
		return nil, err
	}
	if fp == nil {
		fp = &models.UserFingerprint{ServerID: serverID, UserID: c.UserID}
	}

	var events []models.AnomalyEvent

	if loc.Latitude != 0 || loc.Longitude != 0 {
		prior, err := loadPriorLocation(ctx, tx, serverID, c.UserID, c.ID)
		if err != nil {
			return nil, err
		}
		if ev, ok := checkImpossibleTravel(prior, loc.Latitude, loc.Longitude, c.OccurredAt); ok {
			ev.ServerID = serverID
			ev.UserID = c.UserID
			ev.ActivityID = c.ID
			events = append(events, ev)
		}
	}

	if ev, ok := checkLocationNovelty(fp, loc.CountryCode, loc.City); ok {
		ev.ServerID = serverID
		ev.UserID = c.UserID
		ev.ActivityID = c.ID
		events = append(events, ev)
	}

	fallbackDevice, err := latestSessionDeviceName(ctx, tx, serverID, c.UserID)
	if err != nil {
		return nil, err
	}
	normalizedDevice, originalDevice := deviceLabel(c.Name, c.Type, fallbackDevice)
	if ev, ok := checkNewDevice(fp, normalizedDevice, originalDevice); ok {
		ev.ServerID = serverID
		ev.UserID = c.UserID
		ev.ActivityID = c.ID
		events = append(events, ev)
	}

	recordObservation(fp, loc.CountryCode, loc.City, normalizedDevice)
	if err := saveFingerprint(ctx, tx, fp); err != nil {
		return nil, err
	}
	cache.put(serverID, c.UserID, fp)

	for _, ev := range events {
		if err := insertAnomalyEvent(ctx, tx, ev); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func loadGeolocationCandidates(ctx context.Context, db *database.DB, serverID int64, batchSize int) ([]candidateActivity, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT a.id, COALESCE(a.user_id, ''), COALESCE(a.item_id, ''), a.name, a.type, a.short_overview, a.occurred_at
		FROM activities a
		WHERE a.server_id = $1
			AND a.short_overview LIKE '%IP%'
			AND NOT EXISTS (SELECT 1 FROM activity_locations l WHERE l.activity_id = a.id)
		ORDER BY a.occurred_at ASC
		LIMIT $2`, serverID, batchSize)
	if err != nil {
		return nil, database.Classify(err)
	}
	defer rows.Close()

	var out []candidateActivity
	for rows.Next() {
		var c candidateActivity
		if err := rows.Scan(&c.ID, &c.UserID, &c.ItemID, &c.Name, &c.Type, &c.ShortOverview, &c.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func insertActivityLocation(ctx context.Context, tx pgx.Tx, activityID int64, ipAddress string, loc Location, provider string) error {
	var lat, lon *float64
	if loc.Latitude != 0 || loc.Longitude != 0 {
		lat, lon = &loc.Latitude, &loc.Longitude
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO activity_locations (activity_id, ip_address, country_code, country, region, city,
			latitude, longitude, timezone, is_private_ip, provider, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (activity_id) DO NOTHING`,
		activityID, ipAddress, loc.CountryCode, loc.Country, loc.Region, loc.City,
		lat, lon, loc.Timezone, loc.IsPrivateIP, provider)
	if err != nil {
		return fmt.Errorf("insert activity location for activity %d: %w", activityID, database.Classify(err))
	}
	return nil
}

func insertAnomalyEvent(ctx context.Context, tx pgx.Tx, ev models.AnomalyEvent) error {
	detail := ev.Detail
	if ev.DeviceName != "" {
		detail = fmt.Sprintf("%s: %s", detail, ev.DeviceName)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO anomaly_events (server_id, user_id, activity_id, kind, severity, detail,
			distance_km, speed_kmh, time_diff_minutes, prior_country, new_country, resolved, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, now())
		ON CONFLICT DO NOTHING`,
		ev.ServerID, ev.UserID, ev.ActivityID, ev.Kind, ev.Severity, detail,
		ev.DistanceKM, ev.SpeedKMH, ev.TimeDiffMinutes, ev.PriorCountry, ev.NewCountry)
	if err != nil {
		return fmt.Errorf("insert anomaly event for activity %d: %w", ev.ActivityID, database.Classify(err))
	}
	return nil
}

func loadPriorLocation(ctx context.Context, tx pgx.Tx, serverID int64, userID string, excludeActivityID int64) (*priorLocation, error) {
	var p priorLocation
	err := tx.QueryRow(ctx, `
		SELECT a.occurred_at, l.latitude, l.longitude, COALESCE(l.country_code, '')
		FROM activities a
		JOIN activity_locations l ON l.activity_id = a.id
		WHERE a.server_id = $1 AND a.user_id = $2 AND a.id != $3
			AND l.is_private_ip = FALSE AND l.latitude IS NOT NULL AND l.longitude IS NOT NULL
		ORDER BY a.occurred_at DESC
		LIMIT 1`, serverID, userID, excludeActivityID,
	).Scan(&p.OccurredAt, &p.Latitude, &p.Longitude, &p.Country)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load prior location for user %s: %w", userID, database.Classify(err))
	}
	return &p, nil
}

type backfillPayload struct {
	ServerID  int64 `json:"serverId"`
	BatchSize int   `json:"batchSize"`
}

// HandleBackfill implements queue.Handler for the backfill-activity-locations queue.
func (p *Pipeline) HandleBackfill(ctx context.Context, job models.Job) error {
	var payload backfillPayload
	if err := json.Unmarshal(job.Data, &payload); err != nil {
		return fmt.Errorf("backfill-activity-locations: decode payload: %w", err)
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = defaultBackfillBatchSize
	}
	_, err := p.BackfillActivityLocations(ctx, payload.ServerID, payload.BatchSize)
	return err
}

// BackfillActivityLocations repeatedly calls GeolocateActivities until
// a batch returns fewer rows than batchSize, hard-capped at 100 000
// rows to prevent a runaway job.
func (p *Pipeline) BackfillActivityLocations(ctx context.Context, serverID int64, batchSize int) (Result, error) {
	var total Result
	for total.Processed < backfillHardCap {
		res, err := p.GeolocateActivities(ctx, serverID, batchSize)
		if err != nil {
			return total, err
		}
		total.Processed += res.Processed
		total.AnomaliesDetected += res.AnomaliesDetected

		if p.publisher != nil {
			p.publisher.PublishProgress(ctx, serverID, "backfill-activity-locations", map[string]any{
				"processed": total.Processed, "anomaliesDetected": total.AnomaliesDetected,
			})
		}
		if res.Processed < batchSize {
			break
		}
	}
	return total, nil
}
