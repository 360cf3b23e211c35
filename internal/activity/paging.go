// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package activity

import (
	"sort"
	"time"

	"github.com/sjorge/streamystats/internal/models"
)

// maxPagesPerTick bounds the newest-first paging walk so one slow or
// chatty server cannot monopolize a poll tick (spec.md §4.5).
const maxPagesPerTick = 50

// parseActivityDate parses a UMS activity's Date field, tolerating the
// two timestamp shapes Jellyfin/Emby are known to emit.
func parseActivityDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// acceptPage filters one newest-first page of activity entries against
// the durable cursor, returning the entries still newer than the
// cursor and whether paging should stop after this page (spec.md
// §4.5 step 2: stop on cursor-id match, cursor-date reached, or a
// short page).
func acceptPage(page []models.ActivityEntry, cursorID int64, cursorDate time.Time, requestedSize int) (accepted []models.ActivityEntry, stop bool) {
	for _, e := range page {
		if cursorID != 0 && e.ID == cursorID {
			return accepted, true
		}
		date, ok := parseActivityDate(e.Date)
		if ok && !date.After(cursorDate) {
			return accepted, true
		}
		accepted = append(accepted, e)
	}
	if len(page) < requestedSize {
		stop = true
	}
	return accepted, stop
}

// sortOldestFirst reorders candidates so upserts apply in the order
// they actually occurred, matching spec.md §4.5 step 3.
func sortOldestFirst(entries []models.ActivityEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		di, _ := parseActivityDate(entries[i].Date)
		dj, _ := parseActivityDate(entries[j].Date)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return entries[i].ID < entries[j].ID
	})
}

// newestCursor computes the cursor position to advance to after
// accepting entries: the newest (last, post-sort) accepted row.
func newestCursor(entries []models.ActivityEntry, fallback models.ActivityLogCursor) models.ActivityLogCursor {
	if len(entries) == 0 {
		return fallback
	}
	newest := entries[len(entries)-1]
	date, ok := parseActivityDate(newest.Date)
	if !ok {
		return fallback
	}
	return models.ActivityLogCursor{ServerID: fallback.ServerID, CursorDate: date, CursorID: newest.ID}
}
