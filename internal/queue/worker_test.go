// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package queue

import (
	"context"
	"testing"
	"time"
)

type fakeHandlerSource struct {
	names []string
}

func (f *fakeHandlerSource) QueueNames() []string { return f.names }
func (f *fakeHandlerSource) Lookup(name string) (Handler, int, bool) {
	return nil, 0, false
}

func TestWorkerPoolStartStopWithNoRegisteredQueues(t *testing.T) {
	wp := NewWorkerPool(nil, &fakeHandlerSource{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := wp.Start(ctx); err != nil {
		t.Fatalf("unexpected error starting worker pool: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- wp.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error stopping worker pool: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop did not return promptly with no active workers")
	}
}

func TestWorkerPoolSpawnsOneGoroutinePerQueueName(t *testing.T) {
	hs := &fakeHandlerSource{names: []string{"queue-a", "queue-b", "queue-c"}}
	wp := NewWorkerPool(nil, hs)
	ctx, cancel := context.WithCancel(context.Background())

	if err := wp.Start(ctx); err != nil {
		t.Fatalf("unexpected error starting worker pool: %v", err)
	}

	// Lookup always misses (no handler registered) so runQueue never
	// touches the nil store; this only exercises the fan-out/shutdown
	// bookkeeping.
	cancel()
	if err := wp.Stop(); err != nil {
		t.Fatalf("unexpected error stopping worker pool: %v", err)
	}
}
