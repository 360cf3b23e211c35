// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"fmt"
)

// StartStopManager matches the Start/Stop lifecycle pattern used by the
// Scheduler, CronTicker, queue WorkerPool, and SessionPoller.
type StartStopManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// LifecycleService adapts a StartStopManager to suture's Serve pattern:
//  1. Calls Start(ctx) to begin the manager's background work
//  2. Waits for context cancellation
//  3. Calls Stop() for graceful shutdown
//
// If Start() fails, the error is returned immediately, causing suture to
// restart the service according to its backoff policy.
type LifecycleService struct {
	manager StartStopManager
	name    string
}

// NewLifecycleService creates a new supervised lifecycle service wrapper.
func NewLifecycleService(name string, manager StartStopManager) *LifecycleService {
	return &LifecycleService{manager: manager, name: name}
}

// Serve implements suture.Service.
func (s *LifecycleService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}

	return ctx.Err()
}

// String implements fmt.Stringer for logging; suture uses this to identify
// the service in log messages.
func (s *LifecycleService) String() string {
	return s.name
}
