// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/sjorge/streamystats/internal/database"
	"github.com/sjorge/streamystats/internal/events"
	"github.com/sjorge/streamystats/internal/logging"
	"github.com/sjorge/streamystats/internal/queue"
)

// JobTrigger is the set of on-demand trigger RPCs the HTTP shell
// exposes, implemented by *scheduler.Scheduler (spec.md §4.2).
type JobTrigger interface {
	TriggerFullSync(ctx context.Context, serverID int64, manual bool) error
	TriggerUserSync(ctx context.Context, serverID int64) error
	TriggerLibraryItemsSync(ctx context.Context, serverID int64) error
	TriggerPeopleSync(ctx context.Context, serverID int64) error
	TriggerGeolocationBackfill(ctx context.Context, serverID int64) error
}

// triggerKeys maps the path's {jobKey} segment to a JobTrigger method.
var triggerKeys = map[string]func(JobTrigger, context.Context, int64) error{
	"full-sync":            func(t JobTrigger, ctx context.Context, id int64) error { return t.TriggerFullSync(ctx, id, true) },
	"user-sync":            func(t JobTrigger, ctx context.Context, id int64) error { return t.TriggerUserSync(ctx, id) },
	"library-items-sync":   func(t JobTrigger, ctx context.Context, id int64) error { return t.TriggerLibraryItemsSync(ctx, id) },
	"people-sync":          func(t JobTrigger, ctx context.Context, id int64) error { return t.TriggerPeopleSync(ctx, id) },
	"geolocation-backfill": func(t JobTrigger, ctx context.Context, id int64) error { return t.TriggerGeolocationBackfill(ctx, id) },
}

// Handler holds every collaborator the admin shell's endpoints call
// into. It never owns business logic itself; every handler is a thin
// HTTP translation over an existing public method (spec.md §12).
type Handler struct {
	db      *database.DB
	store   *queue.Store
	sched   SchedulerRunner
	poller  SessionPollerRunner
	trigger JobTrigger
	bus     *events.Bus
}

// NewHandler creates a Handler. sched and trigger are typically the
// same *scheduler.Scheduler value; they are split into two narrow
// interfaces so tests can fake either independently.
func NewHandler(db *database.DB, store *queue.Store, sched SchedulerRunner, trigger JobTrigger, poller SessionPollerRunner, bus *events.Bus) *Handler {
	return &Handler{db: db, store: store, sched: sched, poller: poller, trigger: trigger, bus: bus}
}

// ServerStatus handles GET /server-status.
func (h *Handler) ServerStatus(w http.ResponseWriter, r *http.Request) {
	agg, err := ComputeServerStatus(r.Context(), h.db, h.store, h.sched, h.poller)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to compute server status")
		writeJSONError(w, http.StatusInternalServerError, "failed to compute server status")
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// TriggerJob handles POST /servers/{id}/trigger/{jobKey}.
func (h *Handler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	serverID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	jobKey := chi.URLParam(r, "jobKey")
	fn, ok := triggerKeys[jobKey]
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "unknown jobKey: "+jobKey)
		return
	}

	if err := fn(h.trigger, r.Context(), serverID); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Int64("serverId", serverID).Str("jobKey", jobKey).
			Msg("failed to trigger job")
		writeJSONError(w, http.StatusInternalServerError, "failed to trigger job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"serverId": serverID, "jobKey": jobKey, "triggered": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
