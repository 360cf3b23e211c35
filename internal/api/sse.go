// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/sjorge/streamystats/internal/events"
	"github.com/sjorge/streamystats/internal/logging"
)

// sseHeartbeatInterval bounds how long a connection can go without any
// bytes before the shell sends a keep-alive comment, so intermediate
// proxies do not time out an idle stream (spec.md §6: heartbeat <=30s).
const sseHeartbeatInterval = 20 * time.Second

// Events handles GET /events, an SSE stream of every published
// events.Event. A `?since=<unix-seconds>` query param replays buffered
// events newer than that instant before switching to live delivery.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if since := r.URL.Query().Get("since"); since != "" {
		if epoch, err := strconv.ParseInt(since, 10, 64); err == nil {
			for _, ev := range h.bus.Since(time.Unix(epoch, 0)) {
				if !writeEvent(w, ev) {
					return
				}
			}
			flusher.Flush()
		}
	}

	subID, ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(subID)

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !writeEvent(w, ev) {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				logging.Ctx(ctx).Debug().Err(err).Msg("sse: heartbeat write failed, client likely gone")
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent renders ev as a single SSE `data:` frame, reporting
// whether the write succeeded.
func writeEvent(w http.ResponseWriter, ev events.Event) bool {
	payload, err := json.Marshal(ev)
	if err != nil {
		return true // skip a single bad event rather than killing the stream
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err == nil
}
