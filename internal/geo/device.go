// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/sjorge/streamystats/internal/database"
)

// latestSessionDeviceName looks up the device_name of the user's most
// recent session, the fallback deviceLabel uses when an activity's own
// name/type carry nothing useful. Returns "" (not an error) when the
// user has no session on record, a normal condition for a user's very
// first activity.
func latestSessionDeviceName(ctx context.Context, tx pgx.Tx, serverID int64, userID string) (string, error) {
	if userID == "" {
		return "", nil
	}
	var deviceName *string
	err := tx.QueryRow(ctx, `
		SELECT device_name FROM sessions
		WHERE server_id = $1 AND user_id = $2
		ORDER BY started_at DESC
		LIMIT 1`, serverID, userID,
	).Scan(&deviceName)
	if database.IsNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load latest session device for user %s/server %d: %w", userID, serverID, database.Classify(err))
	}
	if deviceName == nil {
		return "", nil
	}
	return *deviceName, nil
}

// deviceLabel derives a device fingerprint label from an activity's
// name and type, falling back to the caller-supplied latest session
// device name when the activity itself carries nothing useful. The
// returned label is normalized (trim + lowercase) for set membership;
// callers display originalCase separately.
func deviceLabel(activityName, activityType, fallbackSessionDevice string) (normalized, original string) {
	name := strings.TrimSpace(activityName)
	typ := strings.TrimSpace(activityType)

	switch {
	case name != "" && typ != "":
		original = name + " (" + typ + ")"
	case name != "":
		original = name
	default:
		original = strings.TrimSpace(fallbackSessionDevice)
	}

	return strings.ToLower(original), original
}
