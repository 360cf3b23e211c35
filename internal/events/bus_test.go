// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"testing"
	"time"
)

func TestBusPublishFansOutToSubscribers(t *testing.T) {
	b := NewBus()
	_, ch := b.Subscribe()

	b.Publish(Event{Type: KindStarted, ServerID: 1, JobName: "activity-sync"})

	select {
	case ev := <-ch:
		if ev.Type != KindStarted || ev.ServerID != 1 {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.Seq != 1 {
			t.Fatalf("expected first event to have seq 1, got %d", ev.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to receive the published event")
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	id, ch := b.Subscribe()
	b.Unsubscribe(id)

	_, open := <-ch
	if open {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
}

func TestBusSinceReturnsOnlyNewerEvents(t *testing.T) {
	b := NewBus()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	b.Publish(Event{Type: KindStarted, ServerID: 1})
	b.now = func() time.Time { return fixed.Add(time.Minute) }
	b.Publish(Event{Type: KindCompleted, ServerID: 1})

	out := b.Since(fixed)
	if len(out) != 1 || out[0].Type != KindCompleted {
		t.Fatalf("expected only the later event, got %+v", out)
	}
}

func TestBusRingBufferEvictsOldestWhenFull(t *testing.T) {
	b := NewBus()
	b.capacity = 2

	b.Publish(Event{Type: KindStarted, ServerID: 1})
	b.Publish(Event{Type: KindProgress, ServerID: 1})
	b.Publish(Event{Type: KindCompleted, ServerID: 1})

	out := b.Since(time.Time{})
	if len(out) != 2 {
		t.Fatalf("expected ring buffer capped at 2, got %d", len(out))
	}
	if out[0].Type != KindProgress || out[1].Type != KindCompleted {
		t.Fatalf("expected the oldest event to be evicted, got %+v", out)
	}
}

func TestBusPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewBus()
	_, ch := b.Subscribe()
	_ = ch // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+5; i++ {
			b.Publish(Event{Type: KindProgress, ServerID: 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Publish to never block even with a full subscriber buffer")
	}
}

func TestFormatMicrosPadsToSixDigits(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 8000, time.UTC) // 8000ns = 8us
	got := formatMicros(ts)
	want := "2026-03-04T05:06:07.000008Z"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
