// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package umsclient implements the HTTP client contract for an
// upstream media server (UMS): a closed four-operation surface of
// system info, sessions, activities, and a ping reachability check.
// The full-sync-only users/libraries/items operations are not part of it.
package umsclient

import (
	"context"

	"github.com/sjorge/streamystats/internal/models"
)

// RequestOptions carries the per-call tuning knobs every operation
// accepts (spec.md §6: timeoutMs, retries; cancellation flows through
// ctx instead of an explicit signal field, the idiomatic Go analogue).
type RequestOptions struct {
	TimeoutMS int
	Retries   int
}

// Client is the UMS HTTP client contract. Jellyfin is the reference
// implementation; Emby's API is wire-compatible enough to share it.
type Client interface {
	// SystemInfo validates credentials and returns the upstream server's
	// self-description.
	SystemInfo(ctx context.Context, opts RequestOptions) (*models.SystemInfo, error)

	// Sessions lists currently-playing sessions.
	Sessions(ctx context.Context, opts RequestOptions) ([]models.Session, error)

	// Activities returns one newest-first page of the activity log.
	Activities(ctx context.Context, startIndex, limit int, opts RequestOptions) ([]models.ActivityEntry, error)

	// Ping performs a lightweight reachability check. No code in this
	// module calls it other than CircuitBreakerClient's pass-through.
	Ping(ctx context.Context) error
}
