// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apperr defines the closed error taxonomy every subsystem
// classifies failures into, so callers branch on errors.Is rather than
// string matching or ad-hoc error types.
package apperr

import "errors"

var (
	// ErrTransientUpstream marks a UMS failure expected to clear on its own:
	// HTTP timeout, 5xx, DNS failure. Recorded as per-server backoff.
	ErrTransientUpstream = errors.New("transient upstream error")

	// ErrPersistentUpstream marks a UMS failure that will not clear without
	// operator action: 401, 403, 404. Surfaced via servers.syncError.
	ErrPersistentUpstream = errors.New("persistent upstream error")

	// ErrValidation marks a contract violation rejected at the boundary:
	// missing user, unknown jobKey, invalid cron expression. Never enters
	// the queue.
	ErrValidation = errors.New("validation error")

	// ErrQueueInternal marks a retryable handler failure. Consumes one
	// retry slot; exhausted retries become JobStateFailed.
	ErrQueueInternal = errors.New("queue handler error")

	// ErrDBStall marks a statement-timeout or transaction-conflict abort.
	ErrDBStall = errors.New("database stall")

	// ErrFinalizeFailed marks a failed session-finalize write. Never
	// retried: the idempotent composite id already guarantees uniqueness,
	// and retrying risks double-counting duration if the partial insert
	// succeeded.
	ErrFinalizeFailed = errors.New("session finalize failed")

	// ErrFatalSchema marks an incompatible queue schema detected on open.
	// The queue schema is operational state, not durable user data: the
	// caller drops and recreates it.
	ErrFatalSchema = errors.New("incompatible queue schema")

	// ErrSingletonCollision marks a send() rejected because a non-terminal
	// job already holds the same (queueName, singletonKey).
	ErrSingletonCollision = errors.New("singleton key collision")

	// ErrCancelled marks a context cancellation, distinguished from
	// ErrTransientUpstream: cancellations are logged as info and never
	// count toward backoff.
	ErrCancelled = errors.New("operation cancelled")
)

// Classify wraps err with the given taxonomy sentinel, preserving the
// original error for errors.Unwrap/errors.As.
func Classify(sentinel, err error) error {
	if err == nil {
		return nil
	}
	return &classified{sentinel: sentinel, cause: err}
}

type classified struct {
	sentinel error
	cause    error
}

func (c *classified) Error() string { return c.sentinel.Error() + ": " + c.cause.Error() }
func (c *classified) Is(target error) bool {
	return target == c.sentinel
}
func (c *classified) Unwrap() error { return c.cause }
