// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/sjorge/streamystats/internal/database"
	"github.com/sjorge/streamystats/internal/models"
)

// loadActiveSessions restores one server's TrackedSession map from the
// active_sessions table, the restart-recovery step spec.md §4.4
// requires: a poller that crashes mid-session must pick the session
// back up rather than silently losing its accumulated watch time.
func loadActiveSessions(ctx context.Context, db *database.DB, serverID int64) (map[string]*models.TrackedSession, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT session_key, payload FROM active_sessions WHERE server_id = $1`, serverID)
	if err != nil {
		return nil, fmt.Errorf("load active sessions for server %d: %w", serverID, database.Classify(err))
	}
	defer rows.Close()

	out := make(map[string]*models.TrackedSession)
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("scan active session row: %w", err)
		}
		var t models.TrackedSession
		if err := json.Unmarshal(payload, &t); err != nil {
			continue // corrupt/outdated payload, drop rather than block startup
		}
		out[key] = &t
	}
	return out, rows.Err()
}

// saveActiveSession upserts the current in-memory snapshot of one
// tracked session, so a crash between ticks loses at most one poll
// interval's worth of progress.
func saveActiveSession(ctx context.Context, db *database.DB, t *models.TrackedSession, now time.Time) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal tracked session: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO active_sessions (server_id, session_key, payload, last_seen_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (server_id, session_key) DO UPDATE
			SET payload = EXCLUDED.payload,
				last_seen_at = EXCLUDED.last_seen_at,
				updated_at = now()`,
		t.ServerID, t.SessionKey, payload, now)
	if err != nil {
		return fmt.Errorf("upsert active session %s/%s: %w", t.SessionKey, t.ItemID, database.Classify(err))
	}
	return nil
}

// deleteActiveSession removes a tracked session's persisted row once it
// has been finalized (or has no finalizable duration and is simply
// dropped).
func deleteActiveSession(ctx context.Context, db *database.DB, serverID int64, sessionKey string) error {
	_, err := db.Pool.Exec(ctx, `
		DELETE FROM active_sessions WHERE server_id = $1 AND session_key = $2`, serverID, sessionKey)
	if err != nil {
		return fmt.Errorf("delete active session %d/%s: %w", serverID, sessionKey, database.Classify(err))
	}
	return nil
}

// insertPlaybackSession writes one finalized history row. IdempotentID
// makes re-finalizing the same session (e.g. after a poller restart)
// a no-op rather than a duplicate (spec.md §3).
func insertPlaybackSession(ctx context.Context, tx pgx.Tx, pb models.PlaybackSession) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO sessions (
			id, server_id, ums_session_id, session_key, user_id, item_id, item_name,
			series_id, season_id, client, device_id, device_name, remote_end_point,
			play_method, is_transcoded, position_ticks, runtime_ticks, percent_complete,
			completed, play_duration_seconds, started_at, ended_at, raw_data
		) VALUES (
			$1, $2, $3, $4, NULLIF($5, ''), $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23
		)
		ON CONFLICT (id) DO NOTHING`,
		pb.ID, pb.ServerID, pb.UMSSessionID, pb.SessionKey, pb.UserID, pb.ItemID, pb.ItemName,
		pb.SeriesID, pb.SeasonID, pb.Client, pb.DeviceID, pb.DeviceName, pb.RemoteEndPoint,
		pb.PlayMethod, pb.IsTranscoded, pb.PositionTicks, pb.RuntimeTicks, pb.PercentComplete,
		pb.Completed, pb.PlayDurationSeconds, pb.StartedAt, pb.EndedAt, pb.RawData)
	if err != nil {
		return fmt.Errorf("insert playback session %s: %w", pb.ID, database.Classify(err))
	}
	return nil
}

// persistFinalizedSessions writes every finalized PlaybackSession and
// removes its active_sessions row in one transaction per server-tick,
// so a crash between the two never leaves a ghost active_sessions row
// pointing at history that was never written.
func persistFinalizedSessions(ctx context.Context, db *database.DB, serverID int64, sessions []models.PlaybackSession) error {
	if len(sessions) == 0 {
		return nil
	}
	return db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, pb := range sessions {
			if err := insertPlaybackSession(ctx, tx, pb); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				DELETE FROM active_sessions WHERE server_id = $1 AND session_key = $2`,
				serverID, pb.SessionKey); err != nil {
				return fmt.Errorf("delete active session %d/%s: %w", serverID, pb.SessionKey, database.Classify(err))
			}
		}
		return nil
	})
}

// listPollableServers returns every server the poller should fetch
// sessions for: sync_enabled servers with a non-empty URL and API key.
func listPollableServers(ctx context.Context, db *database.DB) ([]models.Server, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, url, api_key, server_type, sync_enabled
		FROM servers
		WHERE sync_enabled = TRUE AND url != '' AND api_key != ''`)
	if err != nil {
		return nil, fmt.Errorf("list pollable servers: %w", database.Classify(err))
	}
	defer rows.Close()

	var servers []models.Server
	for rows.Next() {
		var s models.Server
		if err := rows.Scan(&s.ID, &s.Name, &s.URL, &s.APIKey, &s.ServerType, &s.SyncEnabled); err != nil {
			return nil, fmt.Errorf("scan server row: %w", err)
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}
