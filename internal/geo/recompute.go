// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/sjorge/streamystats/internal/database"
	"github.com/sjorge/streamystats/internal/logging"
	"github.com/sjorge/streamystats/internal/models"
)

type fingerprintPayload struct {
	ServerID int64 `json:"serverId"`
}

// HandleCalculateFingerprints implements queue.Handler for the
// calculate-fingerprints queue.
func (p *Pipeline) HandleCalculateFingerprints(ctx context.Context, job models.Job) error {
	var payload fingerprintPayload
	if err := json.Unmarshal(job.Data, &payload); err != nil {
		return fmt.Errorf("calculate-fingerprints: decode payload: %w", err)
	}
	_, err := p.CalculateFingerprints(ctx, payload.ServerID)
	return err
}

// CalculateFingerprints fully recomputes every user's fingerprint on
// serverID from scratch: known sets, usage histograms, and
// sessions-per-day, replacing whatever the append-only anomaly path
// had accumulated (spec.md §4.6). It returns the number of
// fingerprints successfully updated.
func (p *Pipeline) CalculateFingerprints(ctx context.Context, serverID int64) (int, error) {
	ctx = logging.ContextWithServerID(ctx, serverID)
	log := logging.Ctx(ctx)
	userIDs, err := listActivityUsers(ctx, p.db, serverID)
	if err != nil {
		return 0, fmt.Errorf("calculate-fingerprints: list users: %w", err)
	}

	updated := 0
	for _, userID := range userIDs {
		if err := p.recomputeOne(ctx, serverID, userID); err != nil {
			log.Error().Err(err).Str("userId", userID).
				Msg("calculate-fingerprints: recompute failed for user")
			continue
		}
		updated++
	}

	log.Info().Int("users", len(userIDs)).
		Msg("calculate-fingerprints: recompute complete")
	return updated, nil
}

func (p *Pipeline) recomputeOne(ctx context.Context, serverID int64, userID string) error {
	return p.db.WithTx(ctx, func(tx pgx.Tx) error {
		fp, err := aggregateFingerprint(ctx, tx, serverID, userID)
		if err != nil {
			return err
		}
		return saveFingerprint(ctx, tx, fp)
	})
}

func listActivityUsers(ctx context.Context, db *database.DB, serverID int64) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT DISTINCT user_id FROM activities
		WHERE server_id = $1 AND user_id IS NOT NULL AND user_id != ''`, serverID)
	if err != nil {
		return nil, database.Classify(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func aggregateFingerprint(ctx context.Context, tx pgx.Tx, serverID int64, userID string) (*models.UserFingerprint, error) {
	fp := &models.UserFingerprint{
		UserID:           userID,
		ServerID:         serverID,
		KnownCountries:   []string{},
		KnownCities:      []string{},
		KnownDeviceIDs:   []string{},
		KnownClients:     []string{},
		LocationPatterns: map[string]int{},
		DevicePatterns:   map[string]int{},
		HourHistogram:    map[int]int{},
	}

	rows, err := tx.Query(ctx, `
		SELECT l.country_code, l.city
		FROM activities a
		JOIN activity_locations l ON l.activity_id = a.id
		WHERE a.server_id = $1 AND a.user_id = $2 AND l.is_private_ip = FALSE AND l.country_code IS NOT NULL AND l.country_code != ''`,
		serverID, userID)
	if err != nil {
		return nil, fmt.Errorf("aggregate locations for user %s: %w", userID, database.Classify(err))
	}
	for rows.Next() {
		var country, city string
		if err := rows.Scan(&country, &city); err != nil {
			rows.Close()
			return nil, err
		}
		if !fp.HasCountry(country) {
			fp.KnownCountries = append(fp.KnownCountries, country)
		}
		if city != "" && !fp.HasCity(city) {
			fp.KnownCities = append(fp.KnownCities, city)
		}
		fp.LocationPatterns[country+":"+city]++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fallbackDevice, err := latestSessionDeviceName(ctx, tx, serverID, userID)
	if err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `
		SELECT name, type, EXTRACT(HOUR FROM occurred_at AT TIME ZONE 'UTC')::int
		FROM activities WHERE server_id = $1 AND user_id = $2`, serverID, userID)
	if err != nil {
		return nil, fmt.Errorf("aggregate device/hour patterns for user %s: %w", userID, database.Classify(err))
	}
	for rows.Next() {
		var name, typ string
		var hour int
		if err := rows.Scan(&name, &typ, &hour); err != nil {
			rows.Close()
			return nil, err
		}
		normalized, _ := deviceLabel(name, typ, fallbackDevice)
		if normalized != "" {
			if !fp.HasDevice(normalized) {
				fp.KnownDeviceIDs = append(fp.KnownDeviceIDs, normalized)
			}
			fp.DevicePatterns[normalized]++
		}
		fp.HourHistogram[hour]++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var client string
	clientRows, err := tx.Query(ctx, `
		SELECT DISTINCT client FROM sessions WHERE server_id = $1 AND user_id = $2 AND client IS NOT NULL AND client != ''`,
		serverID, userID)
	if err != nil {
		return nil, fmt.Errorf("aggregate clients for user %s: %w", userID, database.Classify(err))
	}
	for clientRows.Next() {
		if err := clientRows.Scan(&client); err != nil {
			clientRows.Close()
			return nil, err
		}
		fp.KnownClients = append(fp.KnownClients, client)
	}
	clientRows.Close()
	if err := clientRows.Err(); err != nil {
		return nil, err
	}

	var totalSessions int
	var distinctDays int
	err = tx.QueryRow(ctx, `
		SELECT count(*), count(DISTINCT (started_at AT TIME ZONE 'UTC')::date)
		FROM sessions WHERE server_id = $1 AND user_id = $2`, serverID, userID,
	).Scan(&totalSessions, &distinctDays)
	if err != nil {
		return nil, fmt.Errorf("aggregate session totals for user %s: %w", userID, database.Classify(err))
	}
	fp.TotalSessions = totalSessions
	if distinctDays > 0 {
		fp.AvgSessionsPerDay = roundTo2Decimals(float64(totalSessions) / float64(distinctDays))
	}

	return fp, nil
}
