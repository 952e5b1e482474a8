// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package queue carries execution tasks from the scheduler to workers over
// NATS JetStream. Tasks are published with the task ID as the message ID,
// so a retried publish inside the duplicate window is dropped by the
// broker instead of producing a second run.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/reportus/internal/logging"
	"github.com/tomtom215/reportus/internal/metrics"
	"github.com/tomtom215/reportus/internal/models"
)

const (
	// ReportStream holds execution tasks awaiting workers.
	ReportStream = "REPORTS"
	// reportSubject is the subject execution tasks are published to.
	reportSubject = "reports.execute"

	// NotificationStream holds share notifications awaiting the notifier.
	NotificationStream = "NOTIFICATIONS"
	// notifySubject is the subject share notifications are published to.
	notifySubject = "notifications.share"

	streamMaxAge    = 24 * time.Hour
	duplicateWindow = 2 * time.Minute
)

// Queue is a JetStream-backed task queue.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials NATS and prepares a JetStream context. The connection
// retries indefinitely in the background once established.
func Connect(url string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &Queue{nc: nc, js: js}, nil
}

// EnsureStream creates or updates the report and notification streams.
func (q *Queue) EnsureStream(ctx context.Context) error {
	if err := q.ensureStream(ctx, ReportStream, "reports.>"); err != nil {
		return err
	}
	return q.ensureStream(ctx, NotificationStream, "notifications.>")
}

func (q *Queue) ensureStream(ctx context.Context, name, subjects string) error {
	cfg := jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{subjects},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		MaxAge:     streamMaxAge,
		Duplicates: duplicateWindow,
		Discard:    jetstream.DiscardOld,
	}

	if _, err := q.js.Stream(ctx, name); err == nil {
		if _, err := q.js.UpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("update stream %s: %w", name, err)
		}
		return nil
	}
	if _, err := q.js.CreateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	return nil
}

// PublishReportTask enqueues one execution task.
func (q *Queue) PublishReportTask(ctx context.Context, task models.TaskDescriptor) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	_, err = q.js.Publish(ctx, reportSubject, payload,
		jetstream.WithMsgID(task.TaskID),
		jetstream.WithRetryAttempts(3),
		jetstream.WithRetryWait(100*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("publish task: %w", err)
	}

	metrics.QueueMessagesPublished.WithLabelValues(ReportStream).Inc()
	logging.Debug().
		Str("task_id", task.TaskID).
		Str("run_id", task.ExecutionRunID).
		Msg("Task published")
	return nil
}

// PublishNotification enqueues one share notification. The notification
// ID doubles as the message ID, deduplicating retried publishes.
func (q *Queue) PublishNotification(ctx context.Context, n models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	_, err = q.js.Publish(ctx, notifySubject, payload,
		jetstream.WithMsgID(n.ID),
		jetstream.WithRetryAttempts(3),
		jetstream.WithRetryWait(100*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	metrics.QueueMessagesPublished.WithLabelValues(NotificationStream).Inc()
	logging.Debug().
		Str("notification_id", n.ID).
		Str("artifact_id", n.ArtifactID).
		Msg("Notification published")
	return nil
}

// Close drains the connection, letting in-flight acks complete.
func (q *Queue) Close() {
	if q.nc == nil {
		return
	}
	if err := q.nc.Drain(); err != nil {
		logging.Warn().Err(err).Msg("NATS drain failed")
		q.nc.Close()
	}
}
