// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package activity

import (
	"testing"
	"time"

	"github.com/sjorge/streamystats/internal/models"
)

func TestAcceptPageStopsOnCursorIDMatch(t *testing.T) {
	cursorDate := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	page := []models.ActivityEntry{
		{ID: 10, Date: "2026-01-02T00:00:00Z"},
		{ID: 9, Date: "2026-01-01T12:00:00Z"}, // cursor
		{ID: 8, Date: "2026-01-01T06:00:00Z"},
	}

	accepted, stop := acceptPage(page, 9, cursorDate, 100)

	if !stop {
		t.Fatal("expected paging to stop once the cursor id is reached")
	}
	if len(accepted) != 1 || accepted[0].ID != 10 {
		t.Fatalf("expected only the entry newer than the cursor id, got %+v", accepted)
	}
}

func TestAcceptPageStopsOnCursorDateReached(t *testing.T) {
	cursorDate := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	page := []models.ActivityEntry{
		{ID: 3, Date: "2026-01-02T00:00:00Z"},
		{ID: 2, Date: "2026-01-01T11:00:00Z"}, // at/before cursor date
	}

	accepted, stop := acceptPage(page, 0, cursorDate, 100)

	if !stop {
		t.Fatal("expected paging to stop once an entry's date reaches the cursor date")
	}
	if len(accepted) != 1 || accepted[0].ID != 3 {
		t.Fatalf("expected only the entry newer than the cursor date, got %+v", accepted)
	}
}

func TestAcceptPageStopsOnShortPage(t *testing.T) {
	page := []models.ActivityEntry{
		{ID: 1, Date: "2026-01-02T00:00:00Z"},
	}

	accepted, stop := acceptPage(page, 0, time.Time{}, 100)

	if !stop {
		t.Fatal("expected a page shorter than the requested size to end paging")
	}
	if len(accepted) != 1 {
		t.Fatalf("expected the short page's entries to still be accepted, got %d", len(accepted))
	}
}

func TestAcceptPageContinuesOnFullPageWithNoCursorMatch(t *testing.T) {
	page := make([]models.ActivityEntry, 2)
	page[0] = models.ActivityEntry{ID: 2, Date: "2026-01-02T00:00:00Z"}
	page[1] = models.ActivityEntry{ID: 1, Date: "2026-01-01T23:00:00Z"}

	_, stop := acceptPage(page, 0, time.Time{}, 2)

	if stop {
		t.Fatal("did not expect a full page with no cursor match to stop paging")
	}
}

func TestSortOldestFirst(t *testing.T) {
	entries := []models.ActivityEntry{
		{ID: 3, Date: "2026-01-03T00:00:00Z"},
		{ID: 1, Date: "2026-01-01T00:00:00Z"},
		{ID: 2, Date: "2026-01-02T00:00:00Z"},
	}

	sortOldestFirst(entries)

	if entries[0].ID != 1 || entries[1].ID != 2 || entries[2].ID != 3 {
		t.Fatalf("expected ascending date order, got %v, %v, %v", entries[0].ID, entries[1].ID, entries[2].ID)
	}
}

func TestNewestCursorAdvancesToLastEntry(t *testing.T) {
	fallback := models.ActivityLogCursor{ServerID: 1, CursorID: 5}
	entries := []models.ActivityEntry{
		{ID: 6, Date: "2026-01-01T00:00:00Z"},
		{ID: 7, Date: "2026-01-02T00:00:00Z"},
	}

	cur := newestCursor(entries, fallback)

	if cur.CursorID != 7 {
		t.Fatalf("expected cursor to advance to the newest (last, post-sort) entry id 7, got %d", cur.CursorID)
	}
}

func TestNewestCursorFallsBackWhenEmpty(t *testing.T) {
	fallback := models.ActivityLogCursor{ServerID: 1, CursorID: 5}

	cur := newestCursor(nil, fallback)

	if cur.CursorID != 5 {
		t.Fatalf("expected the fallback cursor to be returned unchanged, got %d", cur.CursorID)
	}
}
