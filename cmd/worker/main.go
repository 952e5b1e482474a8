// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package main is the entry point for the Reportus worker.
//
// A worker pulls execution tasks from the JetStream queue and runs the
// report pipeline: fetch data, render the template, convert to PDF when
// requested, store the artifact, deliver it. Workers are stateless and
// horizontally scalable; the queue's durable consumer spreads tasks
// across however many are running.
//
// Workers share the server's configuration surface. They never run
// migrations; the server owns schema changes.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

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
		Int("worker_count", cfg.NATS.WorkerCount).
		Msg("Starting Reportus worker")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := newRedisClient(ctx, &cfg.Redis)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	blobs := newBlobStore(ctx, &cfg.Blob)

	q, err := queue.Connect(cfg.NATS.URL)
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
	notifier := pipeline.NewNotifier(db, blobs, sender, cfg.Blob.SignedURLTTL)
	notifyConsumer := queue.NewNotificationConsumer(q, cfg.NATS, cfg.Pipeline.RetryBackoff, notifier.Handle)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddExecutionService(supervisor.NewConsumerService(consumer, "task-consumer"))
	tree.AddExecutionService(supervisor.NewConsumerService(notifyConsumer, "notify-consumer"))

	logging.Info().Msg("Supervisor tree starting")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("Supervisor tree failed")
	}
	logging.Info().Msg("Reportus worker stopped")
}

// newRedisClient dials Redis and verifies the connection. Without Redis
// the burst counters and the result cache run in their fail-open modes.
func newRedisClient(ctx context.Context, cfg *config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		logging.Warn().Msg("Redis not configured; burst limits and cache disabled")
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
