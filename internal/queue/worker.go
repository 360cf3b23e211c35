// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package queue

import (
	"context"
	"sync"
	"time"

	"github.com/sjorge/streamystats/internal/logging"
)

// defaultPollInterval is how often an idle worker re-checks its queue
// for newly-created or retry-due rows (spec.md §5: "one logical worker
// per registered queue").
const defaultPollInterval = 2 * time.Second

// HandlerSource is the subset of jobs.Registry the worker pool needs;
// kept as an interface so this package never imports internal/jobs
// (jobs already imports queue for queue.Handler).
type HandlerSource interface {
	QueueNames() []string
	Lookup(name string) (Handler, int, bool)
}

// WorkerPool runs one polling goroutine per queue name found in a
// HandlerSource, each repeatedly calling Store.Work until stopped.
// Handlers run serially within a worker; different queues run in
// parallel (spec.md §5).
type WorkerPool struct {
	store        *Store
	handlers     HandlerSource
	pollInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool bound to store, dispatching to
// whatever handlers are registered in handlers at Start time.
func NewWorkerPool(store *Store, handlers HandlerSource) *WorkerPool {
	return &WorkerPool{
		store:        store,
		handlers:     handlers,
		pollInterval: defaultPollInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start implements the StartStopManager lifecycle: it spawns one
// worker goroutine per currently-registered queue name.
func (wp *WorkerPool) Start(ctx context.Context) error {
	for _, name := range wp.handlers.QueueNames() {
		wp.wg.Add(1)
		go wp.runQueue(ctx, name)
	}
	return nil
}

// Stop signals every worker to exit and waits for in-flight batches to
// finish.
func (wp *WorkerPool) Stop() error {
	close(wp.stopCh)
	wp.wg.Wait()
	return nil
}

func (wp *WorkerPool) runQueue(ctx context.Context, name string) {
	defer wp.wg.Done()
	log := logging.Ctx(ctx).With().Str("queue", name).Logger()

	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wp.stopCh:
			return
		case <-ticker.C:
			handler, batchSize, ok := wp.handlers.Lookup(name)
			if !ok {
				continue
			}
			if err := wp.store.Work(ctx, name, batchSize, handler); err != nil {
				log.Error().Err(err).Msg("worker pool: fetch/claim failed")
			}
		}
	}
}
