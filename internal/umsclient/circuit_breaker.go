// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package umsclient

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/sjorge/streamystats/internal/logging"
	"github.com/sjorge/streamystats/internal/metrics"
	"github.com/sjorge/streamystats/internal/models"
)

const (
	breakerInterval = time.Minute
	breakerTimeout  = 2 * time.Minute
)

// CircuitBreakerClient wraps a Client so a single unreachable UMS
// cannot cascade into every SessionPoller tick or queue worker that
// talks to it: after a sustained failure rate the breaker opens and
// calls fail fast instead of piling up timeouts.
//
// Settings: 3 concurrent half-open probes, a 1-minute measurement
// window, 2-minute open timeout, tripping at >=60% failures with
// >=10 requests.
type CircuitBreakerClient struct {
	client Client
	cb     *gobreaker.CircuitBreaker[any]
	name   string
}

// NewCircuitBreakerClient wraps client for the named server.
func NewCircuitBreakerClient(name string, client Client) *CircuitBreakerClient {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(breakerName string, from, to gobreaker.State) {
			logging.Logger().Info().Str("server", breakerName).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(stateToFloat(to))
		},
	})

	return &CircuitBreakerClient{client: client, cb: cb, name: name}
}

var _ Client = (*CircuitBreakerClient)(nil)

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// SystemInfo implements Client.
func (c *CircuitBreakerClient) SystemInfo(ctx context.Context, opts RequestOptions) (*models.SystemInfo, error) {
	v, err := c.cb.Execute(func() (any, error) { return c.client.SystemInfo(ctx, opts) })
	if err != nil {
		return nil, err
	}
	return v.(*models.SystemInfo), nil
}

// Sessions implements Client.
func (c *CircuitBreakerClient) Sessions(ctx context.Context, opts RequestOptions) ([]models.Session, error) {
	v, err := c.cb.Execute(func() (any, error) { return c.client.Sessions(ctx, opts) })
	if err != nil {
		return nil, err
	}
	return v.([]models.Session), nil
}

// Activities implements Client.
func (c *CircuitBreakerClient) Activities(ctx context.Context, startIndex, limit int, opts RequestOptions) ([]models.ActivityEntry, error) {
	v, err := c.cb.Execute(func() (any, error) { return c.client.Activities(ctx, startIndex, limit, opts) })
	if err != nil {
		return nil, err
	}
	return v.([]models.ActivityEntry), nil
}

// Ping implements Client.
func (c *CircuitBreakerClient) Ping(ctx context.Context) error {
	_, err := c.cb.Execute(func() (any, error) { return nil, c.client.Ping(ctx) })
	return err
}
