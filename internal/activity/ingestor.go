// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/sjorge/streamystats/internal/database"
	"github.com/sjorge/streamystats/internal/logging"
	"github.com/sjorge/streamystats/internal/models"
	"github.com/sjorge/streamystats/internal/umsclient"
)

const (
	defaultPages    = 5
	defaultPageSize = 100
)

// ClientFactory builds a UMS client for one server, mirroring the
// factory the session poller caches per server (this package has no
// equivalent cache, since activity-sync jobs are short-lived and run
// far less often).
type ClientFactory func(server models.Server) umsclient.Client

// Ingestor implements ActivityIngestor as a registered queue handler
// (spec.md §4.5): it is dispatched by the activity-sync schedule the
// same way any other cron-tagged job is.
type Ingestor struct {
	db            *database.DB
	clientFactory ClientFactory
	now           func() time.Time
}

// New creates an Ingestor.
func New(db *database.DB, clientFactory ClientFactory) *Ingestor {
	return &Ingestor{db: db, clientFactory: clientFactory, now: time.Now}
}

type payload struct {
	ServerID int64 `json:"serverId"`
	Pages    int   `json:"pages"`
	PageSize int   `json:"pageSize"`
}

// Handle implements queue.Handler for the activity-sync queue.
func (ig *Ingestor) Handle(ctx context.Context, job models.Job) error {
	var p payload
	if err := json.Unmarshal(job.Data, &p); err != nil {
		return fmt.Errorf("activity ingestor: decode payload: %w", err)
	}
	if p.Pages <= 0 {
		p.Pages = defaultPages
	}
	if p.PageSize <= 0 {
		p.PageSize = defaultPageSize
	}
	_, err := ig.Run(ctx, p.ServerID, p.Pages, p.PageSize)
	return err
}

// Run executes one tailing pass for serverID: page the activity log
// newest-first up to maxPages pages of pageSize each, stop at the
// cursor, upsert accepted rows oldest-first, and advance the cursor.
// It returns the number of activities ingested, used by SecuritySyncJob
// to report its accumulated counters (spec.md §4.7).
func (ig *Ingestor) Run(ctx context.Context, serverID int64, maxPages, pageSize int) (int, error) {
	log := logging.Ctx(ctx)
	now := ig.now()

	server, err := loadServer(ctx, ig.db, serverID)
	if err != nil {
		return 0, fmt.Errorf("activity ingestor: load server %d: %w", serverID, err)
	}

	cur, err := loadOrInitCursor(ctx, ig.db, serverID, now)
	if err != nil {
		return 0, fmt.Errorf("activity ingestor: load cursor: %w", err)
	}

	client := ig.clientFactory(server)

	var accepted []models.ActivityEntry
	pagesWalked := 0
	for startIndex := 0; pagesWalked < maxPages && pagesWalked < maxPagesPerTick; pagesWalked++ {
		page, err := client.Activities(ctx, startIndex, pageSize, umsclient.RequestOptions{})
		if err != nil {
			return 0, fmt.Errorf("activity ingestor: fetch page at offset %d: %w", startIndex, err)
		}

		pageAccepted, stop := acceptPage(page, cur.CursorID, cur.CursorDate, pageSize)
		accepted = append(accepted, pageAccepted...)
		if stop {
			break
		}
		startIndex += len(page)
	}

	if len(accepted) == 0 {
		log.Debug().Int64("serverId", serverID).Msg("activity ingestor: nothing new")
		return 0, nil
	}

	sortOldestFirst(accepted)

	if err := upsertActivities(ctx, ig.db, serverID, accepted); err != nil {
		return 0, fmt.Errorf("activity ingestor: upsert: %w", err)
	}

	newCur := newestCursor(accepted, cur)
	if err := saveCursor(ctx, ig.db, newCur); err != nil {
		return 0, fmt.Errorf("activity ingestor: advance cursor: %w", err)
	}

	log.Info().Int64("serverId", serverID).Int("count", len(accepted)).Int("pages", pagesWalked).
		Msg("activity ingestor: ingested new activities")
	return len(accepted), nil
}

func loadServer(ctx context.Context, db *database.DB, serverID int64) (models.Server, error) {
	var s models.Server
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, url, api_key, server_type FROM servers WHERE id = $1`, serverID,
	).Scan(&s.ID, &s.Name, &s.URL, &s.APIKey, &s.ServerType)
	if err != nil {
		return s, database.Classify(err)
	}
	return s, nil
}

// upsertActivities writes every accepted entry, letting every column
// from the upstream payload win on conflict (spec.md §4.5 step 5).
// userId is never validated against a local users table: this schema
// carries no such table (full user sync is an opaque, out-of-scope job
// per spec.md §1), so there is nothing to validate against and the
// upstream userId passes through unchanged.
func upsertActivities(ctx context.Context, db *database.DB, serverID int64, entries []models.ActivityEntry) error {
	return db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, e := range entries {
			occurredAt, ok := parseActivityDate(e.Date)
			if !ok {
				occurredAt = time.Now().UTC()
			}
			var userID, itemID *string
			if e.UserID != "" {
				userID = &e.UserID
			}
			if e.ItemID != "" {
				itemID = &e.ItemID
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO activities (id, server_id, name, short_overview, type, severity, user_id, item_id, occurred_at, ingested_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
				ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name,
					short_overview = EXCLUDED.short_overview,
					type = EXCLUDED.type,
					severity = EXCLUDED.severity,
					user_id = EXCLUDED.user_id,
					item_id = EXCLUDED.item_id,
					occurred_at = EXCLUDED.occurred_at`,
				e.ID, serverID, e.Name, e.ShortOverview, e.Type, e.Severity, userID, itemID, occurredAt,
			); err != nil {
				return fmt.Errorf("upsert activity %d: %w", e.ID, database.Classify(err))
			}
		}
		return nil
	})
}
