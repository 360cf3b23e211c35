// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/sjorge/streamystats/internal/database"
	"github.com/sjorge/streamystats/internal/models"
)

// fingerprintCache is the in-batch (serverId,userId) -> fingerprint
// cache anomaly detection uses so that N activities from the same
// user within one geolocate-activities batch hit the database once.
type fingerprintCache struct {
	db      *database.DB
	entries map[cacheKey]*models.UserFingerprint
}

type cacheKey struct {
	serverID int64
	userID   string
}

func newFingerprintCache(db *database.DB) *fingerprintCache {
	return &fingerprintCache{db: db, entries: make(map[cacheKey]*models.UserFingerprint)}
}

// get returns the cached fingerprint for (serverID, userID), loading it
// from the database on a cache miss. A nil, nil result means no
// fingerprint exists yet for this user.
func (c *fingerprintCache) get(ctx context.Context, serverID int64, userID string) (*models.UserFingerprint, error) {
	key := cacheKey{serverID: serverID, userID: userID}
	if fp, ok := c.entries[key]; ok {
		return fp, nil
	}

	fp, err := loadFingerprint(ctx, c.db, serverID, userID)
	if err != nil {
		return nil, err
	}
	c.entries[key] = fp
	return fp, nil
}

// put writes through an updated fingerprint to the cache, so a burst
// of identical activities later in the same batch sees the update
// without re-reading the database.
func (c *fingerprintCache) put(serverID int64, userID string, fp *models.UserFingerprint) {
	c.entries[cacheKey{serverID: serverID, userID: userID}] = fp
}

func loadFingerprint(ctx context.Context, db *database.DB, serverID int64, userID string) (*models.UserFingerprint, error) {
	var fp models.UserFingerprint
	var countries, cities, devices, clients, locationPatterns, devicePatterns, hourHistogram []byte
	err := db.Pool.QueryRow(ctx, `
		SELECT user_id, server_id, known_countries, known_cities, known_device_ids, known_clients,
			location_patterns, device_patterns, hour_histogram, avg_sessions_per_day, total_sessions,
			last_calculated_at
		FROM user_fingerprints WHERE server_id = $1 AND user_id = $2`, serverID, userID,
	).Scan(&fp.UserID, &fp.ServerID, &countries, &cities, &devices, &clients,
		&locationPatterns, &devicePatterns, &hourHistogram, &fp.AvgSessionsPerDay, &fp.TotalSessions,
		&fp.LastCalculatedAt)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load fingerprint for user %s/server %d: %w", userID, serverID, database.Classify(err))
	}

	if err := unmarshalFingerprintJSON(&fp, countries, cities, devices, clients, locationPatterns, devicePatterns, hourHistogram); err != nil {
		return nil, fmt.Errorf("decode fingerprint for user %s/server %d: %w", userID, serverID, err)
	}
	return &fp, nil
}

func unmarshalFingerprintJSON(fp *models.UserFingerprint, countries, cities, devices, clients, locationPatterns, devicePatterns, hourHistogram []byte) error {
	for _, pair := range []struct {
		src []byte
		dst any
	}{
		{countries, &fp.KnownCountries},
		{cities, &fp.KnownCities},
		{devices, &fp.KnownDeviceIDs},
		{clients, &fp.KnownClients},
		{locationPatterns, &fp.LocationPatterns},
		{devicePatterns, &fp.DevicePatterns},
		{hourHistogram, &fp.HourHistogram},
	} {
		if len(pair.src) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.src, pair.dst); err != nil {
			return err
		}
	}
	return nil
}

// saveFingerprint upserts fp within tx, used both by the in-line
// per-activity update (anomaly detection) and the full recompute job.
func saveFingerprint(ctx context.Context, tx pgx.Tx, fp *models.UserFingerprint) error {
	countries, err := json.Marshal(fp.KnownCountries)
	if err != nil {
		return err
	}
	cities, err := json.Marshal(fp.KnownCities)
	if err != nil {
		return err
	}
	devices, err := json.Marshal(fp.KnownDeviceIDs)
	if err != nil {
		return err
	}
	clients, err := json.Marshal(fp.KnownClients)
	if err != nil {
		return err
	}
	locationPatterns, err := json.Marshal(fp.LocationPatterns)
	if err != nil {
		return err
	}
	devicePatterns, err := json.Marshal(fp.DevicePatterns)
	if err != nil {
		return err
	}
	hourHistogram, err := json.Marshal(fp.HourHistogram)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO user_fingerprints (user_id, server_id, known_countries, known_cities, known_device_ids,
			known_clients, location_patterns, device_patterns, hour_histogram, avg_sessions_per_day,
			total_sessions, last_calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (user_id, server_id) DO UPDATE SET
			known_countries = EXCLUDED.known_countries,
			known_cities = EXCLUDED.known_cities,
			known_device_ids = EXCLUDED.known_device_ids,
			known_clients = EXCLUDED.known_clients,
			location_patterns = EXCLUDED.location_patterns,
			device_patterns = EXCLUDED.device_patterns,
			hour_histogram = EXCLUDED.hour_histogram,
			avg_sessions_per_day = EXCLUDED.avg_sessions_per_day,
			total_sessions = EXCLUDED.total_sessions,
			last_calculated_at = now()`,
		fp.UserID, fp.ServerID, countries, cities, devices, clients,
		locationPatterns, devicePatterns, hourHistogram, fp.AvgSessionsPerDay, fp.TotalSessions)
	if err != nil {
		return fmt.Errorf("save fingerprint for user %s/server %d: %w", fp.UserID, fp.ServerID, database.Classify(err))
	}
	return nil
}

