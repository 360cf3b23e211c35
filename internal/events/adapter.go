// streamystats - media analytics ingestion core
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"context"

	"github.com/sjorge/streamystats/internal/models"
)

// Publisher adapts a Bus to the narrow publishing interfaces each
// pipeline package depends on (geo.EventPublisher, security.Publisher),
// so those packages never need to import internal/events directly and
// can be unit-tested against a trivial fake.
type Publisher struct {
	bus *Bus
}

// NewPublisher wraps bus.
func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{bus: bus}
}

// PublishAnomaly implements geo.EventPublisher.
func (p *Publisher) PublishAnomaly(_ context.Context, serverID int64, ev models.AnomalyEvent) {
	p.bus.Publish(Event{
		Type:     KindAnomaly,
		ServerID: serverID,
		Data: map[string]any{
			"kind":     ev.Kind,
			"severity": ev.Severity,
			"userId":   ev.UserID,
			"detail":   ev.Detail,
		},
	})
}

// PublishProgress implements geo.EventPublisher and security.Publisher.
func (p *Publisher) PublishProgress(_ context.Context, serverID int64, jobName string, data map[string]any) {
	p.bus.Publish(Event{Type: KindProgress, ServerID: serverID, JobName: jobName, Data: data})
}

// PublishStarted emits a started event for jobName.
func (p *Publisher) PublishStarted(_ context.Context, serverID int64, jobName string) {
	p.bus.Publish(Event{Type: KindStarted, ServerID: serverID, JobName: jobName})
}

// PublishCompleted emits a completed event carrying the job's final counters.
func (p *Publisher) PublishCompleted(_ context.Context, serverID int64, jobName string, data map[string]any) {
	p.bus.Publish(Event{Type: KindCompleted, ServerID: serverID, JobName: jobName, Data: data})
}

// PublishFailed emits a failed event carrying the triggering error.
func (p *Publisher) PublishFailed(_ context.Context, serverID int64, jobName string, cause error) {
	p.bus.Publish(Event{Type: KindFailed, ServerID: serverID, JobName: jobName, Error: cause.Error()})
}
