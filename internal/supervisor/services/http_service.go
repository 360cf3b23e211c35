// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sjorge/streamystats/internal/logging"
)

// HTTPServer matches *http.Server's lifecycle methods, letting
// HTTPServerService wrap it without a direct net/http dependency in
// its test surface.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// SubscriberCounter reports how many SSE clients are currently
// attached to the admin/event stream, satisfied by *events.Bus.
// Importing events directly here would pull the SSE fan-out hub into
// the generic supervisor package, so the service only depends on the
// one method it needs.
type SubscriberCounter interface {
	SubscriberCount() int
}

// HTTPServerService adapts an HTTPServer's blocking ListenAndServe
// into suture's context-aware Serve contract: start it in a goroutine,
// wait for either an error or ctx cancellation, then call Shutdown with
// a fresh timeout context. If sseSubscribers is non-nil, the number of
// open SSE connections is logged at the moment shutdown begins, since
// those are the longest-lived requests the deadline has to cut short.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	name            string
	sseSubscribers  SubscriberCounter
}

// NewHTTPServerService wraps server. shutdownTimeout bounds how long
// in-flight connections (including open SSE streams) get to drain.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout, name: "http-server"}
}

// WithSSESubscriberCounter attaches a subscriber counter the service
// logs from when shutdown begins, and returns h for chaining.
func (h *HTTPServerService) WithSSESubscriberCounter(counter SubscriberCounter) *HTTPServerService {
	h.sseSubscribers = counter
	return h
}

// Serve implements suture.Service.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		if h.sseSubscribers != nil {
			logging.Logger().Info().Int("sseSubscribers", h.sseSubscribers.SubscriberCount()).
				Msg("http server shutting down, cutting open SSE streams")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer; suture uses this to identify the
// service in log messages.
func (h *HTTPServerService) String() string {
	return h.name
}
