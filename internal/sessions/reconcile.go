// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package sessions

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/sjorge/streamystats/internal/models"
)

// reconcileResult is everything one server's one-tick reconciliation
// produced: the surviving tracked-session map and the PlaybackSession
// rows to persist (from sessions that ended or were replaced).
type reconcileResult struct {
	tracked   map[string]*models.TrackedSession
	finalized []models.PlaybackSession
}

// reconcileServer implements spec.md §4.4 steps 1-5 for one server: filter
// trailers/prerolls, partition into new/updated/ended against the
// current tracked map, and apply the state machine to each.
func reconcileServer(current map[string]*models.TrackedSession, upstream []models.Session, now time.Time) reconcileResult {
	result := reconcileResult{tracked: make(map[string]*models.TrackedSession, len(upstream))}
	seen := make(map[string]bool, len(upstream))

	for _, s := range upstream {
		if shouldDropSession(s) {
			continue
		}
		key := sessionKey(s)
		seen[key] = true

		tracked, existed := current[key]
		if !existed {
			result.tracked[key] = newTrackedSession(0, key, s, now)
			continue
		}

		if isReplacement(tracked, s) {
			if pb := finalize(tracked, now, marshalTracked(tracked)); pb != nil {
				result.finalized = append(result.finalized, *pb)
			}
			fresh := newTrackedSession(tracked.ServerID, key, s, now)
			result.tracked[key] = fresh
			continue
		}

		applyUpdate(tracked, s, now)
		result.tracked[key] = tracked
	}

	// Ended: anything tracked before this tick that upstream no longer
	// reports is finalized and dropped from the map.
	for key, tracked := range current {
		if seen[key] {
			continue
		}
		if pb := finalize(tracked, now, marshalTracked(tracked)); pb != nil {
			result.finalized = append(result.finalized, *pb)
		}
	}

	return result
}

// marshalTracked serializes a TrackedSession for the sessions.raw_data
// diagnostics column; marshal failures are non-fatal (diagnostics
// only), so the error is swallowed and nil returned.
func marshalTracked(t *models.TrackedSession) []byte {
	b, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	return b
}
