// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// consumer.go - Durable task consumer
//
// Workers share one durable pull consumer, so tasks are load-balanced and
// survive worker restarts. Retry pacing is linear: the Nth redelivery
// waits N times the base backoff. Exhausted or terminally failed tasks
// are terminated, which the pipeline has already recorded as a failed run.

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/tomtom215/reportus/internal/config"
	"github.com/tomtom215/reportus/internal/logging"
	"github.com/tomtom215/reportus/internal/metrics"
	"github.com/tomtom215/reportus/internal/models"
)

// Disposition tells the consumer what to do with a handled task.
type Disposition int

const (
	// Done acknowledges the task.
	Done Disposition = iota
	// Retry redelivers the task after a backoff.
	Retry
	// Terminate drops the task without redelivery.
	Terminate
)

// TaskHandler processes one task and reports its disposition. attempt is
// the 1-based delivery count, so the handler can fail a run terminally
// once its retry budget is spent.
type TaskHandler func(ctx context.Context, task models.TaskDescriptor, attempt int) Disposition

// Consumer pulls execution tasks from the report stream and dispatches
// them to a handler.
type Consumer struct {
	queue        *Queue
	cfg          config.NATSConfig
	retryBackoff time.Duration
	handler      TaskHandler
	logger       zerolog.Logger

	consumeCtx jetstream.ConsumeContext
}

// NewConsumer creates a consumer over an established queue connection.
func NewConsumer(q *Queue, cfg config.NATSConfig, retryBackoff time.Duration, handler TaskHandler) *Consumer {
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 4
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 10 * time.Minute
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if retryBackoff <= 0 {
		retryBackoff = time.Minute
	}
	return &Consumer{
		queue:        q,
		cfg:          cfg,
		retryBackoff: retryBackoff,
		handler:      handler,
		logger:       logging.WithComponent("queue-consumer"),
	}
}

// Start provisions the durable consumer and begins dispatching tasks.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.queue.js.CreateOrUpdateConsumer(ctx, ReportStream, jetstream.ConsumerConfig{
		Durable:       c.cfg.DurableName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.cfg.MaxDeliver,
		AckWait:       c.cfg.AckWait,
		FilterSubject: reportSubject,
		MaxAckPending: c.cfg.WorkerCount,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	cc, err := consumer.Consume(c.dispatch,
		jetstream.PullMaxMessages(c.cfg.WorkerCount),
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	c.consumeCtx = cc

	c.logger.Info().
		Str("durable", c.cfg.DurableName).
		Int("max_deliver", c.cfg.MaxDeliver).
		Int("workers", c.cfg.WorkerCount).
		Msg("Task consumer started")
	return nil
}

// Stop halts dispatching. In-flight handlers finish first.
func (c *Consumer) Stop() {
	if c.consumeCtx != nil {
		c.consumeCtx.Drain()
		c.consumeCtx = nil
	}
}

// dispatch handles one delivery.
func (c *Consumer) dispatch(msg jetstream.Msg) {
	var task models.TaskDescriptor
	if err := json.Unmarshal(msg.Data(), &task); err != nil {
		c.logger.Error().Err(err).Msg("Undecodable task payload, terminating")
		c.terminate(msg)
		return
	}

	logger := c.logger.With().
		Str("task_id", task.TaskID).
		Str("run_id", task.ExecutionRunID).
		Logger()

	deliveries := uint64(1)
	if meta, err := msg.Metadata(); err == nil {
		deliveries = meta.NumDelivered
	}

	switch c.handler(context.Background(), task, int(deliveries)) {
	case Done:
		if err := msg.Ack(); err != nil {
			logger.Warn().Err(err).Msg("Failed to ack task")
			return
		}
		metrics.QueueMessagesConsumed.Inc()

	case Retry:
		if int(deliveries) >= c.cfg.MaxDeliver {
			// The broker would drop it anyway; terminate explicitly so
			// the failure is visible now.
			logger.Warn().Uint64("deliveries", deliveries).Msg("Task retries exhausted")
			c.terminate(msg)
			return
		}
		delay := time.Duration(deliveries) * c.retryBackoff
		logger.Info().Dur("delay", delay).Uint64("deliveries", deliveries).Msg("Task scheduled for retry")
		if err := msg.NakWithDelay(delay); err != nil {
			logger.Warn().Err(err).Msg("Failed to nak task")
		}
		metrics.PipelineRetries.Inc()

	case Terminate:
		c.terminate(msg)
	}
}

func (c *Consumer) terminate(msg jetstream.Msg) {
	if err := msg.Term(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to terminate task")
		return
	}
	metrics.QueueMessagesTerminated.Inc()
}
