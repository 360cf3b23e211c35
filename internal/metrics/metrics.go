// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics provides Prometheus instrumentation for the queue,
// scheduler, session poller, and geolocation pipeline, following the
// naming conventions of the teacher codebase's metrics package
// (_total/_seconds/_duration_seconds suffixes, label-vec per
// dimension).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue metrics.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current queued+active job count per queue",
		},
		[]string{"queue"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs that completed successfully",
		},
		[]string{"queue"},
	)

	JobsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs that exhausted retries and failed",
		},
		[]string{"queue"},
	)

	// Session poller metrics.
	SessionPollTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_poll_tick_duration_seconds",
			Help:    "Duration of one server's upstream sessions call within a SessionPoller tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server"},
	)

	SessionPollConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "session_poll_consecutive_failures",
			Help: "Consecutive poll failures per server, reset on success",
		},
		[]string{"server"},
	)

	SessionsFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_finalized_total",
			Help: "Total number of playback sessions finalized into history",
		},
		[]string{"server"},
	)

	// Geolocation / anomaly metrics.
	GeoIPLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geoip_lookup_duration_seconds",
			Help:    "Duration of IP geolocation provider lookups",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	AnomalyEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomaly_events_total",
			Help: "Total number of anomaly events emitted by kind",
		},
		[]string{"kind"},
	)

	// Circuit breaker metrics.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=half-open, 2=open",
		},
		[]string{"server"},
	)
)
