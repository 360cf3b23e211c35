// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the admin/SSE shell's router: health check,
// Prometheus /metrics, the server-status aggregate, the on-demand
// trigger RPC, and the SSE event stream (spec.md §12). There is no
// auth layer here (explicit non-goal, spec.md §1).
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(recoverPanic)
	r.Use(requestLogging)
	r.Use(chimiddleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/server-status", h.ServerStatus)
	r.Post("/servers/{id}/trigger/{jobKey}", h.TriggerJob)
	r.Get("/events", h.Events)

	return r
}
