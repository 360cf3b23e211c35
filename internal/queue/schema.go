// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package queue

import (
	"context"
	"fmt"

	"github.com/sjorge/streamystats/internal/apperr"
	"github.com/sjorge/streamystats/internal/database"
	"github.com/sjorge/streamystats/internal/logging"
)

// EnsureCompatibleSchema detects a legacy queue schema — the
// distinguishing signal is a "job" table (singular) present without a
// "queue" table — and drops it, since the queue schema is operational
// state, not durable user data (spec.md §4.1, §7 Fatal).
func EnsureCompatibleSchema(ctx context.Context, db *database.DB) error {
	var hasLegacyJobTable, hasQueueTable bool
	err := db.Pool.QueryRow(ctx, `SELECT to_regclass('public.job') IS NOT NULL`).Scan(&hasLegacyJobTable)
	if err != nil {
		return fmt.Errorf("detect legacy schema: %w", err)
	}
	err = db.Pool.QueryRow(ctx, `SELECT to_regclass('public.queue') IS NOT NULL`).Scan(&hasQueueTable)
	if err != nil {
		return fmt.Errorf("detect queue schema: %w", err)
	}

	if hasLegacyJobTable && !hasQueueTable {
		logging.Ctx(ctx).Warn().Msg("incompatible legacy queue schema detected, dropping and recreating")
		_, err := db.Pool.Exec(ctx, `DROP TABLE IF EXISTS job CASCADE`)
		if err != nil {
			return apperr.Classify(apperr.ErrFatalSchema, fmt.Errorf("drop legacy schema: %w", err))
		}
	}
	return nil
}
