// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package activity implements ActivityIngestor: the per-server tail of
// the UMS activity log, run by the activity-sync queue handler and by
// the security-sync job; SessionPoller does not invoke it. It
// pages newest-first until a durable cursor is reached, then upserts
// the accepted rows oldest-first and advances the cursor (spec.md
// §4.5).
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/sjorge/streamystats/internal/database"
	"github.com/sjorge/streamystats/internal/models"
)

// cursorBackfillWindow is how far back a first-contact cursor starts:
// far enough to avoid missing anything from just before ingestion
// began, not so far that it back-fills a server's whole history.
const cursorBackfillWindow = 10 * time.Minute

// loadOrInitCursor returns serverID's durable tailing cursor, creating
// one at (now - cursorBackfillWindow, nil) if none exists yet.
func loadOrInitCursor(ctx context.Context, db *database.DB, serverID int64, now time.Time) (models.ActivityLogCursor, error) {
	var cur models.ActivityLogCursor
	var cursorID *int64
	err := db.Pool.QueryRow(ctx, `
		SELECT server_id, cursor_date, cursor_id, updated_at
		FROM activity_log_cursors WHERE server_id = $1`, serverID,
	).Scan(&cur.ServerID, &cur.CursorDate, &cursorID, &cur.UpdatedAt)
	if err == nil {
		if cursorID != nil {
			cur.CursorID = *cursorID
		}
		return cur, nil
	}
	if !database.IsNoRows(err) {
		return cur, fmt.Errorf("load activity cursor for server %d: %w", serverID, database.Classify(err))
	}

	cur = models.ActivityLogCursor{ServerID: serverID, CursorDate: now.Add(-cursorBackfillWindow)}
	if err := saveCursor(ctx, db, cur); err != nil {
		return cur, fmt.Errorf("init activity cursor for server %d: %w", serverID, err)
	}
	return cur, nil
}

// saveCursor persists cur, the only durable write ActivityIngestor
// makes that is never allowed to move cursorDate/cursorId backward.
func saveCursor(ctx context.Context, db *database.DB, cur models.ActivityLogCursor) error {
	var cursorID *int64
	if cur.CursorID != 0 {
		cursorID = &cur.CursorID
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO activity_log_cursors (server_id, cursor_date, cursor_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (server_id) DO UPDATE
			SET cursor_date = EXCLUDED.cursor_date,
				cursor_id = EXCLUDED.cursor_id,
				updated_at = now()`,
		cur.ServerID, cur.CursorDate, cursorID)
	if err != nil {
		return fmt.Errorf("save activity cursor for server %d: %w", cur.ServerID, database.Classify(err))
	}
	return nil
}
