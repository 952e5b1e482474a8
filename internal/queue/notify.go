// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// notify.go - Durable share notification consumer
//
// Share notifications ride a separate stream from execution tasks, so a
// backlog of heavy report runs never delays a share email. The consumer
// machinery mirrors the task consumer: durable pull, linear retry
// pacing, explicit termination for undeliverable messages.

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

// notifyAckWait bounds one notification handling attempt. Sending a few
// emails is far quicker than rendering a report.
const notifyAckWait = time.Minute

// NotificationHandler processes one share notification. attempt is the
// 1-based delivery count.
type NotificationHandler func(ctx context.Context, n models.Notification, attempt int) Disposition

// NotificationConsumer pulls share notifications from the notification
// stream and dispatches them to a handler.
type NotificationConsumer struct {
	queue        *Queue
	cfg          config.NATSConfig
	retryBackoff time.Duration
	handler      NotificationHandler
	logger       zerolog.Logger

	consumeCtx jetstream.ConsumeContext
}

// NewNotificationConsumer creates a notification consumer over an
// established queue connection.
func NewNotificationConsumer(q *Queue, cfg config.NATSConfig, retryBackoff time.Duration, handler NotificationHandler) *NotificationConsumer {
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 4
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if retryBackoff <= 0 {
		retryBackoff = time.Minute
	}
	return &NotificationConsumer{
		queue:        q,
		cfg:          cfg,
		retryBackoff: retryBackoff,
		handler:      handler,
		logger:       logging.WithComponent("notify-consumer"),
	}
}

// Start provisions the durable consumer and begins dispatching
// notifications.
func (c *NotificationConsumer) Start(ctx context.Context) error {
	consumer, err := c.queue.js.CreateOrUpdateConsumer(ctx, NotificationStream, jetstream.ConsumerConfig{
		Durable:       c.cfg.DurableName + "-notify",
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.cfg.MaxDeliver,
		AckWait:       notifyAckWait,
		FilterSubject: notifySubject,
		MaxAckPending: c.cfg.WorkerCount,
	})
	if err != nil {
		return fmt.Errorf("create notification consumer: %w", err)
	}

	cc, err := consumer.Consume(c.dispatch,
		jetstream.PullMaxMessages(c.cfg.WorkerCount),
	)
	if err != nil {
		return fmt.Errorf("start consuming notifications: %w", err)
	}
	c.consumeCtx = cc

	c.logger.Info().
		Str("durable", c.cfg.DurableName+"-notify").
		Int("max_deliver", c.cfg.MaxDeliver).
		Msg("Notification consumer started")
	return nil
}

// Stop halts dispatching. In-flight handlers finish first.
func (c *NotificationConsumer) Stop() {
	if c.consumeCtx != nil {
		c.consumeCtx.Drain()
		c.consumeCtx = nil
	}
}

func (c *NotificationConsumer) dispatch(msg jetstream.Msg) {
	var n models.Notification
	if err := json.Unmarshal(msg.Data(), &n); err != nil {
		c.logger.Error().Err(err).Msg("Undecodable notification payload, terminating")
		c.terminate(msg)
		return
	}

	logger := c.logger.With().
		Str("notification_id", n.ID).
		Str("artifact_id", n.ArtifactID).
		Logger()

	deliveries := uint64(1)
	if meta, err := msg.Metadata(); err == nil {
		deliveries = meta.NumDelivered
	}

	switch c.handler(context.Background(), n, int(deliveries)) {
	case Done:
		if err := msg.Ack(); err != nil {
			logger.Warn().Err(err).Msg("Failed to ack notification")
			return
		}
		metrics.QueueMessagesConsumed.Inc()

	case Retry:
		if int(deliveries) >= c.cfg.MaxDeliver {
			logger.Warn().Uint64("deliveries", deliveries).Msg("Notification retries exhausted")
			c.terminate(msg)
			return
		}
		delay := time.Duration(deliveries) * c.retryBackoff
		logger.Info().Dur("delay", delay).Uint64("deliveries", deliveries).Msg("Notification scheduled for retry")
		if err := msg.NakWithDelay(delay); err != nil {
			logger.Warn().Err(err).Msg("Failed to nak notification")
		}

	case Terminate:
		c.terminate(msg)
	}
}

func (c *NotificationConsumer) terminate(msg jetstream.Msg) {
	if err := msg.Term(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to terminate notification")
		return
	}
	metrics.QueueMessagesTerminated.Inc()
}
