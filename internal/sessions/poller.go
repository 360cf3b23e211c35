// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sjorge/streamystats/internal/database"
	"github.com/sjorge/streamystats/internal/jobs"
	"github.com/sjorge/streamystats/internal/logging"
	"github.com/sjorge/streamystats/internal/metrics"
	"github.com/sjorge/streamystats/internal/models"
	"github.com/sjorge/streamystats/internal/umsclient"
)

// watchdogThreshold is how long a single tick may run before the
// poller logs a stuck-tick warning (spec.md §4.4); the tick itself is
// never force-cancelled, since aborting network I/O mid-flight would
// leave TrackedSession state ambiguous.
const watchdogThreshold = 5 * time.Minute

// shutdownGrace bounds how long Stop waits for an in-flight tick to
// finish naturally before finalizing whatever is left in memory.
const shutdownGrace = 15 * time.Second

// Config tunes Poller's cadence, per-request HTTP behavior, and fan-out
// width (spec.md §6 session_poll.*).
type Config struct {
	Interval    time.Duration
	Concurrency int
	RequestOpts umsclient.RequestOptions
}

// clientEntry caches a server's wrapped UMS client across ticks so the
// circuit breaker's failure-rate window survives restarts of the poll
// loop (it must NOT survive a credential/URL change, hence the
// fingerprint check in clientFor).
type clientEntry struct {
	client umsclient.Client
	url    string
	apiKey string
}

// Poller is SessionPoller: it ticks every server on Config.Interval,
// fetches currently-playing sessions, drives each one's TrackedSession
// through the state machine, and persists both the live snapshot and
// any sessions that finalized this tick (spec.md §3, §4.4).
type Poller struct {
	db     *database.DB
	policy jobs.Policy
	cfg    Config

	newClient func(baseURL, apiKey string) umsclient.Client

	clientsMu sync.Mutex
	clients   map[int64]*clientEntry

	trackedMu sync.Mutex
	tracked   map[int64]map[string]*models.TrackedSession

	backoffMu sync.Mutex
	backoff   map[int64]*serverBackoff

	tickMu      sync.Mutex
	tickRunning bool
	tickStarted time.Time

	runningMu sync.Mutex
	running   bool

	now    func() time.Time
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Poller. policy is consulted each tick so a server with
// session-polling disabled via a per-server override is skipped
// without needing its own restart (spec.md §9).
func New(db *database.DB, policy jobs.Policy, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	return &Poller{
		db:        db,
		policy:    policy,
		cfg:       cfg,
		newClient: func(baseURL, apiKey string) umsclient.Client { return umsclient.NewJellyfinClient(baseURL, apiKey) },
		clients:   make(map[int64]*clientEntry),
		tracked:   make(map[int64]map[string]*models.TrackedSession),
		backoff:   make(map[int64]*serverBackoff),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start implements the StartStopManager lifecycle: it restores tracked
// sessions for every pollable server from active_sessions, then begins
// the tick loop.
func (p *Poller) Start(ctx context.Context) error {
	servers, err := listPollableServers(ctx, p.db)
	if err != nil {
		return fmt.Errorf("session poller startup: %w", err)
	}
	for _, s := range servers {
		restored, err := loadActiveSessions(ctx, p.db, s.ID)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("serverId", s.ID).
				Msg("failed to restore active sessions, starting with an empty tracked map")
			restored = make(map[string]*models.TrackedSession)
		}
		p.trackedMu.Lock()
		p.tracked[s.ID] = restored
		p.trackedMu.Unlock()
	}

	p.runningMu.Lock()
	p.running = true
	p.runningMu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)
	return nil
}

// Running reports whether the tick loop is currently active, consulted
// by the /server-status aggregate's "non-running session poller" check
// (spec.md §12).
func (p *Poller) Running() bool {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()
	return p.running
}

// Stop signals the tick loop to exit, waits up to shutdownGrace for an
// in-flight tick to finish, then finalizes every still-tracked session
// so no watch time observed before shutdown is lost (spec.md §4.4
// shutdown sequence).
func (p *Poller) Stop() error {
	p.runningMu.Lock()
	p.running = false
	p.runningMu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logging.Logger().Warn().Msg("session poller: tick still running at shutdown, finalizing in place")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	p.finalizeAllOnShutdown(ctx)
	return nil
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick implements spec.md §4.4's per-tick cycle across every pollable
// server, bounded to Config.Concurrency concurrent upstream calls. A
// tick still in flight when the next one is due is skipped rather than
// overlapped (the watchdog logs if this persists).
func (p *Poller) tick(ctx context.Context) {
	now := p.now()

	p.tickMu.Lock()
	if p.tickRunning {
		stuckFor := now.Sub(p.tickStarted)
		p.tickMu.Unlock()
		if stuckFor >= watchdogThreshold {
			logging.Ctx(ctx).Warn().Dur("stuckFor", stuckFor).
				Msg("session poller: previous tick still running past the watchdog threshold, skipping this tick")
		}
		return
	}
	p.tickRunning = true
	p.tickStarted = now
	p.tickMu.Unlock()

	defer func() {
		p.tickMu.Lock()
		p.tickRunning = false
		p.tickMu.Unlock()
	}()

	servers, err := listPollableServers(ctx, p.db)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("session poller: failed to list pollable servers")
		return
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, s := range servers {
		s := s
		g.Go(func() error {
			p.pollServer(ctx, s)
			return nil
		})
	}
	_ = g.Wait()
}

// pollServer runs one server's poll-reconcile-persist cycle, updating
// its backoff state on success/failure. Errors never propagate to the
// caller: one server's failure must not affect any other (spec.md §9).
func (p *Poller) pollServer(ctx context.Context, s models.Server) {
	now := p.now()

	if !p.policy.IsEnabled(s.ID, jobs.JobSessionPolling) {
		return
	}

	p.backoffMu.Lock()
	b, ok := p.backoff[s.ID]
	if !ok {
		b = &serverBackoff{}
		p.backoff[s.ID] = b
	}
	blocked := b.blocked(now)
	p.backoffMu.Unlock()
	if blocked {
		return
	}

	timer := time.Now()
	upstream, err := p.clientFor(s).Sessions(ctx, p.cfg.RequestOpts)
	metrics.SessionPollTickDuration.WithLabelValues(s.Name).Observe(time.Since(timer).Seconds())

	p.backoffMu.Lock()
	if err != nil {
		b.recordFailure(now)
	} else {
		b.recordSuccess(now)
	}
	metrics.SessionPollConsecutiveFailures.WithLabelValues(s.Name).Set(float64(b.consecutiveFailures))
	p.backoffMu.Unlock()

	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Int64("serverId", s.ID).Str("server", s.Name).
			Msg("session poller: failed to list upstream sessions")
		return
	}

	p.reconcileAndPersist(ctx, s, upstream, now)
}

// reconcileAndPersist drives one server's tracked map through the
// state machine and writes the result: every surviving TrackedSession
// is upserted into active_sessions, and every finalized session is
// appended to the sessions history table in one transaction.
func (p *Poller) reconcileAndPersist(ctx context.Context, s models.Server, upstream []models.Session, now time.Time) {
	serverID := s.ID

	p.trackedMu.Lock()
	current := p.tracked[serverID]
	if current == nil {
		current = make(map[string]*models.TrackedSession)
	}
	p.trackedMu.Unlock()

	result := reconcileServer(current, upstream, now)
	// reconcileServer has no notion of which server it's reconciling for
	// (it only sees one server's session map at a time); stamp it here
	// so IdempotentID and persistence both see the right value.
	for _, t := range result.tracked {
		t.ServerID = serverID
	}

	if err := persistFinalizedSessions(ctx, p.db, serverID, result.finalized); err != nil {
		logging.Ctx(ctx).Error().Err(err).Int64("serverId", serverID).
			Msg("session poller: failed to persist finalized sessions")
	}
	metrics.SessionsFinalizedTotal.WithLabelValues(s.Name).Add(float64(len(result.finalized)))

	for _, t := range result.tracked {
		if err := saveActiveSession(ctx, p.db, t, now); err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("serverId", serverID).Str("sessionKey", t.SessionKey).
				Msg("session poller: failed to persist active session")
		}
	}

	p.trackedMu.Lock()
	p.tracked[serverID] = result.tracked
	p.trackedMu.Unlock()
}

// clientFor returns the cached, circuit-breaker-wrapped client for s,
// rebuilding it only if the server's URL or API key changed since it
// was last cached.
func (p *Poller) clientFor(s models.Server) umsclient.Client {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()

	if e, ok := p.clients[s.ID]; ok && e.url == s.URL && e.apiKey == s.APIKey {
		return e.client
	}

	wrapped := umsclient.NewCircuitBreakerClient(s.Name, p.newClient(s.URL, s.APIKey))
	p.clients[s.ID] = &clientEntry{client: wrapped, url: s.URL, apiKey: s.APIKey}
	return wrapped
}

// finalizeAllOnShutdown converts every still-tracked session across
// every server into a PlaybackSession as of now, persists them, and
// clears the in-memory and active_sessions state, so a clean shutdown
// never leaves orphaned active_sessions rows behind.
func (p *Poller) finalizeAllOnShutdown(ctx context.Context) {
	now := p.now()

	p.trackedMu.Lock()
	byServer := p.tracked
	p.tracked = make(map[int64]map[string]*models.TrackedSession)
	p.trackedMu.Unlock()

	for serverID, sessionsByKey := range byServer {
		var finalized []models.PlaybackSession
		for _, t := range sessionsByKey {
			if pb := finalize(t, now, marshalTracked(t)); pb != nil {
				finalized = append(finalized, *pb)
			}
		}
		if err := persistFinalizedSessions(ctx, p.db, serverID, finalized); err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("serverId", serverID).
				Msg("session poller: failed to persist sessions finalized at shutdown")
			continue
		}
		for key := range sessionsByKey {
			if err := deleteActiveSession(ctx, p.db, serverID, key); err != nil {
				logging.Ctx(ctx).Error().Err(err).Int64("serverId", serverID).Str("sessionKey", key).
					Msg("session poller: failed to clear active session at shutdown")
			}
		}
	}
}
