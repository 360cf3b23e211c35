// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events implements the single SSE event stream (spec.md §6):
// a bounded ring buffer with `?since=` replay support, fed by every
// job and by the anomaly detector, consumed by the admin HTTP shell.
package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Kind is the closed set of SSE event types the stream emits.
type Kind string

const (
	KindStarted   Kind = "started"
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
	KindAnomaly   Kind = "anomaly"
)

// Event is one SSE payload. Timestamp must render with 6-digit
// fractional seconds (spec.md §6: "pad Date.toISOString() ms to µs"),
// which MarshalJSON below enforces regardless of the Time value's own
// precision.
type Event struct {
	Seq       int64          `json:"-"`
	Type      Kind           `json:"type"`
	JobName   string         `json:"jobName,omitempty"`
	ServerID  int64          `json:"serverId"`
	Timestamp time.Time      `json:"-"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type wireEvent struct {
	Type      Kind           `json:"type"`
	JobName   string         `json:"jobName,omitempty"`
	ServerID  int64          `json:"serverId"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// MarshalJSON renders Timestamp as a microsecond-precision ISO-8601
// string instead of Go's nanosecond-precision RFC3339Nano default.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		Type:      e.Type,
		JobName:   e.JobName,
		ServerID:  e.ServerID,
		Timestamp: formatMicros(e.Timestamp),
		Data:      e.Data,
		Error:     e.Error,
	})
}

// formatMicros renders t as RFC3339 with exactly 6 fractional digits.
func formatMicros(t time.Time) string {
	return fmt.Sprintf("%s.%06dZ", t.UTC().Format("2006-01-02T15:04:05"), t.UTC().Nanosecond()/1000)
}
