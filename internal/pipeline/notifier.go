// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// notifier.go - Share notification delivery
//
// A share enqueues a notification instead of sending inline, so the API
// answers fast and a flaky SMTP server retries in the background. Like
// scheduled deliveries, a failed send is recorded on the receipt and
// never retried: the artifact exists and the receipt says what happened.

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/reportus/internal/blob"
	"github.com/tomtom215/reportus/internal/database"
	"github.com/tomtom215/reportus/internal/delivery"
	"github.com/tomtom215/reportus/internal/logging"
	"github.com/tomtom215/reportus/internal/metrics"
	"github.com/tomtom215/reportus/internal/models"
	"github.com/tomtom215/reportus/internal/queue"
)

// notifyTimeout bounds one notification handling attempt.
const notifyTimeout = 30 * time.Second

// signedURLShareMargin forces a re-sign when the artifact's stored URL
// would expire before a recipient plausibly opens the email.
const signedURLShareMargin = 5 * time.Minute

// NotifierStore is the persistence surface the notifier needs.
// *database.DB satisfies it.
type NotifierStore interface {
	GetArtifact(ctx context.Context, tenantID, id string) (*models.Artifact, error)
	UpdateArtifactSignedURL(ctx context.Context, tenantID, id, signedURL string, expiresAt time.Time) error
	CreateDeliveryReceipt(ctx context.Context, r *models.DeliveryReceipt) error
	UpdateDeliveryReceiptStatus(ctx context.Context, tenantID, id string, status models.DeliveryStatus, sentAt *time.Time, errMsg string) error
}

// Notifier handles share notifications pulled from the queue.
type Notifier struct {
	store        NotifierStore
	blobs        blob.Store
	sender       delivery.Sender
	signedURLTTL time.Duration

	logger zerolog.Logger
	now    func() time.Time
}

// NewNotifier creates a notifier. signedURLTTL bounds the lifetime of
// re-signed download links.
func NewNotifier(store NotifierStore, blobs blob.Store, sender delivery.Sender, signedURLTTL time.Duration) *Notifier {
	if signedURLTTL <= 0 {
		signedURLTTL = 24 * time.Hour
	}
	return &Notifier{
		store:        store,
		blobs:        blobs,
		sender:       sender,
		signedURLTTL: signedURLTTL,
		logger:       logging.WithComponent("notifier"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one share notification. It satisfies
// queue.NotificationHandler.
func (n *Notifier) Handle(ctx context.Context, notif models.Notification, attempt int) queue.Disposition {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	logger := n.logger.With().
		Str("tenant_id", notif.TenantID).
		Str("artifact_id", notif.ArtifactID).
		Int("attempt", attempt).
		Logger()

	artifact, err := n.store.GetArtifact(ctx, notif.TenantID, notif.ArtifactID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// The artifact was swept by retention between share and
			// delivery. Nothing left to link to.
			logger.Info().Msg("Shared artifact no longer exists, dropping notification")
			return queue.Terminate
		}
		logger.Warn().Err(err).Msg("Artifact lookup failed, will retry")
		return queue.Retry
	}

	if n.signedURLStale(artifact) {
		url, expires, err := n.blobs.SignedURL(ctx, artifact.BlobPath, n.signedURLTTL)
		if err != nil {
			logger.Warn().Err(err).Msg("URL signing failed, will retry")
			return queue.Retry
		}
		if err := n.store.UpdateArtifactSignedURL(ctx, notif.TenantID, artifact.ID, url, expires); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist re-signed URL, will retry")
			return queue.Retry
		}
		artifact.SignedURL = url
		artifact.SignedURLExpiresAt = &expires
	}

	notice := delivery.ShareNotice{
		SharedBy:    notif.SharedBy,
		Message:     notif.Message,
		DownloadURL: artifact.SignedURL,
		FileSize:    artifact.FileSizeBytes,
	}
	if artifact.SignedURLExpiresAt != nil {
		notice.URLExpires = *artifact.SignedURLExpiresAt
	}
	body, err := notice.RenderBody()
	if err != nil {
		logger.Error().Err(err).Msg("Share notice failed to render, terminating")
		return queue.Terminate
	}

	for _, rcpt := range notif.Recipients {
		n.sendOne(ctx, notif, artifact, rcpt, notice.Subject(), body, logger)
	}
	return queue.Done
}

func (n *Notifier) sendOne(ctx context.Context, notif models.Notification, artifact *models.Artifact, rcpt, subject, body string, logger zerolog.Logger) {
	receipt := &models.DeliveryReceipt{
		TenantID:   notif.TenantID,
		ArtifactID: artifact.ID,
		Channel:    models.ChannelEmail,
		Recipient:  rcpt,
	}
	if err := n.store.CreateDeliveryReceipt(ctx, receipt); err != nil {
		logger.Error().Err(err).Str("recipient", rcpt).Msg("Failed to create delivery receipt")
		return
	}

	result := n.sender.Send(ctx, delivery.Message{To: rcpt, Subject: subject, BodyHTML: body})
	if result.Success {
		if err := n.store.UpdateDeliveryReceiptStatus(ctx, notif.TenantID, receipt.ID,
			models.DeliverySent, result.DeliveredAt, ""); err != nil {
			logger.Warn().Err(err).Str("recipient", rcpt).Msg("Failed to record share delivery success")
		}
		metrics.DeliveriesTotal.WithLabelValues(string(models.ChannelEmail), "sent").Inc()
		return
	}

	if err := n.store.UpdateDeliveryReceiptStatus(ctx, notif.TenantID, receipt.ID,
		models.DeliveryFailed, nil, result.ErrorCode+": "+result.ErrorMessage); err != nil {
		logger.Warn().Err(err).Str("recipient", rcpt).Msg("Failed to record share delivery failure")
	}
	metrics.DeliveriesTotal.WithLabelValues(string(models.ChannelEmail), "failed").Inc()
	logger.Warn().
		Str("recipient", rcpt).
		Str("error_code", result.ErrorCode).
		Msg("Share delivery failed")
}

func (n *Notifier) signedURLStale(a *models.Artifact) bool {
	if a.SignedURL == "" || a.SignedURLExpiresAt == nil {
		return true
	}
	return a.SignedURLExpiresAt.Before(n.now().Add(signedURLShareMargin))
}
