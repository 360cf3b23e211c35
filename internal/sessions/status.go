// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package sessions

import "time"

// unhealthyFailureThreshold/unhealthyStaleness implement the
// ComputeServerStatus health rule (spec.md §12): a server is unhealthy
// once its poll failure streak reaches 10 in a row, or once 5 minutes
// have passed since its last successful poll.
const (
	unhealthyFailureThreshold = 10
	unhealthyStaleness        = 5 * time.Minute
)

// ServerStatus is one server's poller health as reported to the admin
// shell's server-status endpoint.
type ServerStatus struct {
	ServerID            int64     `json:"serverId"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastSuccessAt       time.Time `json:"lastSuccessAt"`
	TrackedSessionCount int       `json:"trackedSessionCount"`
	Healthy             bool      `json:"healthy"`
}

// Status returns a point-in-time health snapshot for every server the
// poller currently tracks backoff state for.
func (p *Poller) Status() []ServerStatus {
	now := p.now()

	p.backoffMu.Lock()
	serverIDs := make([]int64, 0, len(p.backoff))
	for id := range p.backoff {
		serverIDs = append(serverIDs, id)
	}
	snapshot := make(map[int64]serverBackoff, len(p.backoff))
	for id, b := range p.backoff {
		snapshot[id] = *b
	}
	p.backoffMu.Unlock()

	p.trackedMu.Lock()
	counts := make(map[int64]int, len(p.tracked))
	for id, sessions := range p.tracked {
		counts[id] = len(sessions)
	}
	p.trackedMu.Unlock()

	result := make([]ServerStatus, 0, len(serverIDs))
	for _, id := range serverIDs {
		b := snapshot[id]
		result = append(result, ServerStatus{
			ServerID:            id,
			ConsecutiveFailures: b.consecutiveFailures,
			LastSuccessAt:       b.lastSuccessAt,
			TrackedSessionCount: counts[id],
			Healthy:             isHealthy(b, now),
		})
	}
	return result
}

func isHealthy(b serverBackoff, now time.Time) bool {
	if b.consecutiveFailures >= unhealthyFailureThreshold {
		return false
	}
	if b.lastSuccessAt.IsZero() {
		return true // never polled yet, not unhealthy
	}
	return now.Sub(b.lastSuccessAt) < unhealthyStaleness
}
