// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package main is the entry point for the Reportus API server.
//
// The server owns the control plane: the REST API, the schedule scanner
// that turns due cron schedules into queued execution tasks, the burst
// counter sync, and the retention sweeper. Report execution itself runs
// on workers (cmd/worker) pulling from the JetStream task queue.
//
// Components start in the following order:
//
//  1. Configuration: layered Koanf v2 sources (env vars over config file
//     over built-in defaults)
//  2. Database: PostgreSQL via pgx stdlib, goose migrations on startup
//     when DATABASE_AUTO_MIGRATE is set
//  3. Redis: scan lock, burst counters, and the result cache; optional,
//     everything degrades gracefully without it
//  4. NATS: JetStream task queue, either an external cluster (NATS_URL)
//     or an embedded server (NATS_EMBEDDED_SERVER=true)
//  5. Supervisor tree: suture v4 restarts crashed services with backoff
//
// Embedded NATS binds a random localhost port, so it is a single-node
// deployment mode: the server then also runs the task consumer
// in-process and no separate worker is needed.
//
// The scheduler loop is enabled by default and switched off with
// SCHEDULER_ENABLED=false on replicas that should only serve the API.
// The Redis scan lock makes running it everywhere safe; exactly one
// replica wins each scan.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/reportus/internal/api"
	"github.com/tomtom215/reportus/internal/audit"
	"github.com/tomtom215/reportus/internal/blob"
	"github.com/tomtom215/reportus/internal/burst"
	"github.com/tomtom215/reportus/internal/config"
	"github.com/tomtom215/reportus/internal/database"
	"github.com/tomtom215/reportus/internal/delivery"
	"github.com/tomtom215/reportus/internal/logging"
	"github.com/tomtom215/reportus/internal/pipeline"
	"github.com/tomtom215/reportus/internal/queue"
	"github.com/tomtom215/reportus/internal/render"
	"github.com/tomtom215/reportus/internal/reportcache"
	"github.com/tomtom215/reportus/internal/retention"
	"github.com/tomtom215/reportus/internal/scheduler"
	"github.com/tomtom215/reportus/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Bool("embedded_queue", cfg.NATS.EmbeddedServer).
		Msg("Starting Reportus server")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(); err != nil {
			logging.Fatal().Err(err).Msg("Failed to run database migrations")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := newRedisClient(ctx, &cfg.Redis)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	blobs := newBlobStore(ctx, &cfg.Blob)

	// Embedded NATS binds a random localhost port; only this process can
	// reach it, so single-node mode also hosts the consumer below.
	var msgServer *queue.EmbeddedServer
	natsURL := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		msgServer, err = queue.NewEmbeddedServer(cfg.NATS.StoreDir)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded queue server")
		}
		natsURL = msgServer.ClientURL()
	}

	q, err := queue.Connect(natsURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer q.Close()
	if err := q.EnsureStream(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to ensure queue streams")
	}

	limiter := burst.New(redisClient, cfg.Burst.TenantLimit, cfg.Burst.GlobalLimit)

	var cacheClient *redis.Client
	if cfg.Cache.Enabled {
		cacheClient = redisClient
	}
	cache := reportcache.New(cacheClient)

	auditor := audit.NewRecorder(db)
	schedules := scheduler.NewService(db)

	tokens, err := api.NewTokenManager(cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize token verification")
	}

	handler := api.NewHandler(api.HandlerDeps{
		Store:     db,
		Schedules: schedules,
		Auditor:   auditor,
		Cache:     cache,
		Limiter:   limiter,
		Publisher: q,
		Blobs:     blobs,
	}, cfg.API, cfg.Blob.SignedURLTTL)

	health := api.NewHealthHandler(map[string]api.Pinger{
		"database": api.PingFunc(db.Ping),
		"redis": api.PingFunc(func(ctx context.Context) error {
			if redisClient == nil {
				return nil
			}
			return redisClient.Ping(ctx).Err()
		}),
	})

	router := api.NewRouter(handler, health, tokens, cfg.Security)
	server := api.NewServer(router, cfg.Server)

	lock := scheduler.NewScanLock(redisClient, cfg.Scheduler.LockKey, cfg.Scheduler.LockTTL)
	scanner := scheduler.NewScanner(db, q, limiter, lock, cfg.Scheduler)
	counterSync := burst.NewSyncRunner(limiter, db, cfg.Burst.SyncInterval)
	sweeper := retention.NewSweeper(db, blobs, cfg.Retention)

	treeCfg := supervisor.DefaultTreeConfig()
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	tree.AddSchedulingService(supervisor.NewRunnerService(scanner, "schedule-scanner"))
	tree.AddSchedulingService(supervisor.NewRunnerService(counterSync, "burst-sync"))
	tree.AddSchedulingService(supervisor.NewRunnerService(sweeper, "retention-sweeper"))
	if msgServer != nil {
		tree.AddExecutionService(supervisor.NewMessageServerService(msgServer, treeCfg.ShutdownTimeout))

		sender := delivery.NewEmailSender(cfg.SMTP)
		executor := pipeline.NewExecutor(pipeline.Deps{
			Store:   db,
			Cache:   cache,
			Limiter: limiter,
			Blobs:   blobs,
			Source:  render.NewBreakerDataSource(render.StaticDataSource{}),
			Engine:  render.NewEngine(),
			PDF:     newPDFRenderer(&cfg.Render),
			Sender:  sender,
		}, cfg.Pipeline, cfg.Blob.SignedURLTTL)
		consumer := queue.NewConsumer(q, cfg.NATS, cfg.Pipeline.RetryBackoff, executor.Execute)
		tree.AddExecutionService(supervisor.NewConsumerService(consumer, "task-consumer"))

		notifier := pipeline.NewNotifier(db, blobs, sender, cfg.Blob.SignedURLTTL)
		notifyConsumer := queue.NewNotificationConsumer(q, cfg.NATS, cfg.Pipeline.RetryBackoff, notifier.Handle)
		tree.AddExecutionService(supervisor.NewConsumerService(notifyConsumer, "notify-consumer"))
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, treeCfg.ShutdownTimeout))

	logging.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Supervisor tree starting")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("Supervisor tree failed")
	}
	logging.Info().Msg("Reportus server stopped")
}

// newRedisClient dials Redis and verifies the connection. Redis is
// optional: without it the scan lock, burst counters, and result cache
// all run in their degraded fail-open modes.
func newRedisClient(ctx context.Context, cfg *config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		logging.Warn().Msg("Redis not configured; scan lock, burst limits, and cache disabled")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logging.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unreachable at startup (will retry)")
	}
	return client
}

// newBlobStore opens the artifact store. Without a bucket configured it
// falls back to the in-memory store, which only suits development: blobs
// vanish on restart and workers cannot share them.
func newBlobStore(ctx context.Context, cfg *config.BlobConfig) blob.Store {
	if cfg.Bucket == "" {
		logging.Warn().Msg("Blob storage not configured; artifacts held in memory")
		return blob.NewMemoryStore()
	}
	store, err := blob.NewS3Store(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize blob storage")
	}
	return store
}

func newPDFRenderer(cfg *config.RenderConfig) render.PDFRenderer {
	if cfg.PDFCommand == "" {
		logging.Warn().Msg("No PDF command configured; PDF output disabled")
		return render.StubRenderer{}
	}
	return render.NewCommandRenderer(cfg.PDFCommand, cfg.PDFTimeout)
}
