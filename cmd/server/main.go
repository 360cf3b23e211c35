// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command server wires up and runs the ingestion core: it loads
// configuration, opens the database, runs migrations, constructs every
// long-lived component (QueueStore, Scheduler, MaintenanceWorker,
// SessionPoller, the QueueStore worker pool, the admin/SSE HTTP shell),
// and supervises them under a single process tree until a shutdown
// signal arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sjorge/streamystats/internal/activity"
	"github.com/sjorge/streamystats/internal/api"
	"github.com/sjorge/streamystats/internal/config"
	"github.com/sjorge/streamystats/internal/database"
	"github.com/sjorge/streamystats/internal/events"
	"github.com/sjorge/streamystats/internal/geo"
	"github.com/sjorge/streamystats/internal/jobs"
	"github.com/sjorge/streamystats/internal/logging"
	"github.com/sjorge/streamystats/internal/maintenance"
	"github.com/sjorge/streamystats/internal/models"
	"github.com/sjorge/streamystats/internal/queue"
	"github.com/sjorge/streamystats/internal/scheduler"
	"github.com/sjorge/streamystats/internal/security"
	"github.com/sjorge/streamystats/internal/sessions"
	"github.com/sjorge/streamystats/internal/supervisor"
	"github.com/sjorge/streamystats/internal/supervisor/services"
	"github.com/sjorge/streamystats/internal/umsclient"
)

func main() {
	if err := run(); err != nil {
		logging.Logger().Fatal().Err(err).Msg("server exited with error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	if cfg.Logging.Pretty {
		logCfg.Format = "console"
	}
	logging.Init(logCfg)
	log := logging.Logger()

	if err := database.Migrate(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store := queue.New(db)
	if err := createQueues(ctx, store); err != nil {
		return fmt.Errorf("create queues: %w", err)
	}

	bus := events.NewBus()
	publisher := events.NewPublisher(bus)

	sched := scheduler.New(db, store, cfg.Scheduler.SkipStartupFullSync)

	maintenanceWorker := maintenance.New(db, store, nil)

	registry := jobs.NewRegistry()
	registerHandlers(registry, db, store, publisher, cfg, maintenanceWorker)

	cronTicker := queue.NewCronTicker(store)
	workerPool := queue.NewWorkerPool(store, registry)

	poller := sessions.New(db, sched, sessions.Config{
		Interval:    time.Duration(cfg.SessionPoll.IntervalMS) * time.Millisecond,
		Concurrency: cfg.SessionPoll.ServerConcurrency,
		RequestOpts: umsclient.RequestOptions{
			TimeoutMS: cfg.SessionPoll.ServerTimeoutMS,
			Retries:   cfg.SessionPoll.ServerRetries,
		},
	})

	handler := api.NewHandler(db, store, sched, sched, poller, bus)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: api.NewRouter(handler),
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("build supervisor tree: %w", err)
	}

	tree.AddOrchestrationService(services.NewLifecycleService("scheduler", sched))
	tree.AddOrchestrationService(services.NewLifecycleService("cron-ticker", cronTicker))
	tree.AddOrchestrationService(services.NewLifecycleService("queue-worker-pool", workerPool))
	tree.AddPollingService(services.NewLifecycleService("session-poller", poller))
	tree.AddAPIService(services.NewHTTPServerService(httpServer, 15*time.Second).WithSSESubscriberCounter(bus))

	log.Info().Str("addr", httpServer.Addr).Msg("ingestion core starting")

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, waiting for supervisor tree to drain")
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("supervisor tree exited with error")
		}
	}

	for err := range errCh {
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			log.Warn().Str("service", svc.Name).Msg("service failed to stop within shutdown timeout")
		}
	}

	return nil
}

// createQueues registers every catalog queue with QueueStore, plus the
// admin-triggered-only queues that have no cron schedule of their own.
func createQueues(ctx context.Context, store *queue.Store) error {
	defaults := queue.QueueDefaults{RetryLimit: 1, RetryDelay: 60, RetentionSeconds: 7 * 24 * 3600}

	names := jobs.CronJobKeys()
	queueNames := make(map[string]struct{}, len(names)+2)
	for _, key := range names {
		queueNames[jobs.Catalog[key].QueueName] = struct{}{}
	}
	queueNames[jobs.Catalog[jobs.JobSchedulerMaintenance].QueueName] = struct{}{}
	queueNames["backfill-jellyfin-ids"] = struct{}{}
	queueNames["backfill-activity-locations"] = struct{}{}

	for name := range queueNames {
		if err := store.CreateQueue(ctx, name, defaults); err != nil {
			return err
		}
	}
	return nil
}

// registerHandlers binds every catalog queue name to its handler.
// Recent-items, user, people, embeddings, and full sync stay as no-ops:
// their upstream sync logic lives outside this core's scope, but the
// queues still need a registered handler or the worker pool's Lookup
// would leave them stuck queued forever.
func registerHandlers(registry *jobs.Registry, db *database.DB, store *queue.Store, publisher *events.Publisher, cfg *config.Config, maintenanceWorker *maintenance.Worker) {
	ingestor := activity.New(db, func(s models.Server) umsclient.Client {
		return umsclient.NewCircuitBreakerClient(s.Name, umsclient.NewJellyfinClient(s.URL, s.APIKey))
	})
	provider := geo.NewProvider(cfg.GeoIP)
	pipeline := geo.New(db, provider, publisher)
	secJob := security.New(ingestor, pipeline, publisher)

	registry.Register(jobs.Catalog[jobs.JobActivitySync].QueueName, 10, ingestor.Handle)
	registry.Register(jobs.Catalog[jobs.JobGeolocationSync].QueueName, 10, pipeline.HandleGeolocate)
	registry.Register(jobs.Catalog[jobs.JobFingerprintSync].QueueName, 1, pipeline.HandleCalculateFingerprints)
	registry.Register(jobs.Catalog[jobs.JobSecuritySync].QueueName, 1, secJob.Handle)
	registry.Register(jobs.Catalog[jobs.JobSchedulerMaintenance].QueueName, 1, maintenanceWorker.Handle)
	registry.Register("backfill-activity-locations", 1, pipeline.HandleBackfill)

	noop := func(ctx context.Context, job models.Job) error { return nil }
	registry.Register(jobs.Catalog[jobs.JobRecentItemsSync].QueueName, 10, noop)
	registry.Register(jobs.Catalog[jobs.JobUserSync].QueueName, 10, noop)
	registry.Register(jobs.Catalog[jobs.JobPeopleSync].QueueName, 1, noop)
	registry.Register(jobs.Catalog[jobs.JobEmbeddingsSync].QueueName, 1, noop)
	registry.Register(jobs.Catalog[jobs.JobFullSync].QueueName, 1, noop)
	registry.Register("backfill-jellyfin-ids", 1, noop)
}

