// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"sync"
	"time"
)

const (
	defaultRingCapacity = 500
	subscriberBuffer    = 32
)

// Bus is the SSE fan-out hub: every Publish is appended to a bounded
// ring buffer (for `?since=` replay) and pushed to every live
// subscriber. A subscriber too slow to keep up has events dropped
// rather than stalling publishers (spec.md §6 asks for a best-effort
// stream, not a lossless one).
type Bus struct {
	mu          sync.Mutex
	capacity    int
	ring        []Event
	nextSeq     int64
	subscribers map[int64]chan Event
	nextSubID   int64
	now         func() time.Time
}

// NewBus creates a Bus with the default ring capacity.
func NewBus() *Bus {
	return &Bus{capacity: defaultRingCapacity, subscribers: make(map[int64]chan Event), now: time.Now}
}

// Publish stamps ev with a sequence number and timestamp (if zero),
// appends it to the ring, and fans it out to every subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	b.nextSeq++
	ev.Seq = b.nextSeq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	b.ring = append(b.ring, ev)
	if len(b.ring) > b.capacity {
		b.ring = b.ring[len(b.ring)-b.capacity:]
	}

	subs := make([]chan Event, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
}

// Subscribe registers a new live listener, returning its id (for
// Unsubscribe) and a receive-only channel of future events.
func (b *Bus) Subscribe() (int64, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	id := b.nextSubID
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes the channel for id.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// SubscriberCount reports how many SSE clients are currently
// subscribed, so a shutting-down HTTP server can log how many open
// streams it is about to cut.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Since returns every buffered event with a timestamp strictly after
// since, oldest-first, for the `?since=<epoch>` replay contract
// (spec.md §6).
func (b *Bus) Since(since time.Time) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, 0, len(b.ring))
	for _, ev := range b.ring {
		if ev.Timestamp.After(since) {
			out = append(out, ev)
		}
	}
	return out
}
