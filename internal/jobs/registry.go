// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package jobs

import (
	"fmt"
	"sync"

	"github.com/sjorge/streamystats/internal/queue"
)

// Registry maps a queue name to its handler plus dispatch options. It
// is the JobRegistry component: a thin indirection so Scheduler and
// QueueStore never need compile-time knowledge of every handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]registeredHandler
}

type registeredHandler struct {
	handler   queue.Handler
	batchSize int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]registeredHandler)}
}

// Register binds handler to queueName with the given batch size. Opaque
// non-goal handlers (embeddings, people-sync, deleted-items
// reconciliation) are registered the same way as first-class ones —
// the registry does not distinguish them.
func (r *Registry) Register(queueName string, batchSize int, handler queue.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[queueName] = registeredHandler{handler: handler, batchSize: batchSize}
}

// Lookup returns the handler and batch size registered for queueName.
func (r *Registry) Lookup(queueName string) (queue.Handler, int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rh, ok := r.handlers[queueName]
	return rh.handler, rh.batchSize, ok
}

// QueueNames returns every registered queue name, used at startup to
// drive one Work() loop per queue.
func (r *Registry) QueueNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}

// ErrNotRegistered is returned by callers that require a handler to
// exist for a queue name that was never Register'd.
func ErrNotRegistered(queueName string) error {
	return fmt.Errorf("jobs: no handler registered for queue %q", queueName)
}
