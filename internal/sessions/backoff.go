// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package sessions

import "time"

// backoffBase/backoffGrowth/backoffCap implement spec.md §4.4's per-server
// backoff policy: a server whose sessions-list call keeps failing is
// polled less and less often, capped at 2 minutes, and resumes its normal
// cadence the instant a poll succeeds.
const (
	backoffBase   = 10 * time.Second
	backoffGrowth = 1.5
	backoffCap    = 2 * time.Minute
)

// serverBackoff tracks one server's consecutive-failure streak and the
// earliest time it should be polled again.
type serverBackoff struct {
	consecutiveFailures int
	nextAttemptAt       time.Time
	lastSuccessAt       time.Time
}

// blocked reports whether now is still within this server's backoff window.
func (b *serverBackoff) blocked(now time.Time) bool {
	return now.Before(b.nextAttemptAt)
}

// recordFailure extends the backoff window exponentially from backoffBase,
// capped at backoffCap.
func (b *serverBackoff) recordFailure(now time.Time) {
	b.consecutiveFailures++
	delay := backoffBase
	for i := 1; i < b.consecutiveFailures; i++ {
		delay = time.Duration(float64(delay) * backoffGrowth)
		if delay >= backoffCap {
			delay = backoffCap
			break
		}
	}
	b.nextAttemptAt = now.Add(delay)
}

// recordSuccess clears the failure streak and marks the server healthy.
func (b *serverBackoff) recordSuccess(now time.Time) {
	b.consecutiveFailures = 0
	b.nextAttemptAt = time.Time{}
	b.lastSuccessAt = now
}
