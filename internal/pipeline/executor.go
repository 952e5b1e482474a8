// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package pipeline executes one report run end to end:
// fetch -> render -> convert -> store -> deliver.
//
// Execution is idempotent at the run level. The scheduler creates the run
// in pending state before enqueueing; the first delivery of the task
// transitions it to running, and any redelivery that finds the run not
// pending is dropped. Transient failures reset the run to pending and
// request a redelivery; the retry budget exhausting, or a permanent
// failure, marks the run failed.
//
// The burst protection slot reserved at enqueue time is released exactly
// once, when the run reaches a terminal state. The counters' TTL repairs
// any slot leaked by a crash between.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/reportus/internal/blob"
	"github.com/tomtom215/reportus/internal/burst"
	"github.com/tomtom215/reportus/internal/config"
	"github.com/tomtom215/reportus/internal/database"
	"github.com/tomtom215/reportus/internal/daterange"
	"github.com/tomtom215/reportus/internal/delivery"
	"github.com/tomtom215/reportus/internal/logging"
	"github.com/tomtom215/reportus/internal/metrics"
	"github.com/tomtom215/reportus/internal/models"
	"github.com/tomtom215/reportus/internal/queue"
	"github.com/tomtom215/reportus/internal/render"
	"github.com/tomtom215/reportus/internal/reportcache"
)

// Store is the persistence surface the executor needs. *database.DB
// satisfies it.
type Store interface {
	GetReportDefinition(ctx context.Context, tenantID, id string) (*models.ReportDefinition, error)
	StartExecutionRun(ctx context.Context, tenantID, id string, startedAt time.Time) error
	ResetExecutionRun(ctx context.Context, tenantID, id, errMsg string) error
	CompleteExecutionRun(ctx context.Context, tenantID, id string, completedAt time.Time, durationSeconds int) error
	FailExecutionRun(ctx context.Context, tenantID, id string, completedAt time.Time, errMsg string) error
	SetExecutionRunMetadata(ctx context.Context, tenantID, id string, meta models.JSONMap) error
	LastCompletedAt(ctx context.Context, tenantID, scheduleID string) (*time.Time, error)
	CreateArtifact(ctx context.Context, a *models.Artifact) error
	CreateDeliveryReceipt(ctx context.Context, r *models.DeliveryReceipt) error
	UpdateDeliveryReceiptStatus(ctx context.Context, tenantID, id string, status models.DeliveryStatus, sentAt *time.Time, errMsg string) error
}

// Deps bundles the collaborators of an Executor.
type Deps struct {
	Store   Store
	Cache   *reportcache.Cache
	Limiter *burst.Limiter
	Blobs   blob.Store
	Source  render.DataSource
	Engine  *render.Engine
	PDF     render.PDFRenderer
	Sender  delivery.Sender
}

// Executor runs report execution tasks pulled from the queue.
type Executor struct {
	deps Deps

	maxAttempts      int
	executionTimeout time.Duration
	signedURLTTL     time.Duration

	logger zerolog.Logger
	now    func() time.Time
}

// NewExecutor creates an executor. signedURLTTL bounds the lifetime of
// download links issued for new artifacts.
func NewExecutor(deps Deps, cfg config.PipelineConfig, signedURLTTL time.Duration) *Executor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 4
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 5 * time.Minute
	}
	if signedURLTTL <= 0 {
		signedURLTTL = 24 * time.Hour
	}
	return &Executor{
		deps:             deps,
		maxAttempts:      cfg.MaxAttempts,
		executionTimeout: cfg.ExecutionTimeout,
		signedURLTTL:     signedURLTTL,
		logger:           logging.WithComponent("pipeline"),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Execute processes one task delivery. It satisfies queue.TaskHandler.
func (e *Executor) Execute(ctx context.Context, task models.TaskDescriptor, attempt int) queue.Disposition {
	ctx, cancel := context.WithTimeout(ctx, e.executionTimeout)
	defer cancel()

	logger := e.logger.With().
		Str("tenant_id", task.TenantID).
		Str("run_id", task.ExecutionRunID).
		Int("attempt", attempt).
		Logger()

	started := e.now()
	if err := e.deps.Store.StartExecutionRun(ctx, task.TenantID, task.ExecutionRunID, started); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// The run is not pending: either a redelivery of a task another
			// worker already finished, or the run was never created. Drop it.
			logger.Info().Msg("Run not pending, dropping duplicate delivery")
			return queue.Done
		}
		return e.retryOrFail(ctx, task, attempt, logger, fmt.Errorf("start run: %w", err))
	}

	def, err := e.deps.Store.GetReportDefinition(ctx, task.TenantID, task.ReportDefinitionID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return e.fail(ctx, task, logger, fmt.Errorf("report definition %s no longer exists", task.ReportDefinitionID))
		}
		return e.retryOrFail(ctx, task, attempt, logger, fmt.Errorf("load definition: %w", err))
	}

	dr := e.resolveDateRange(ctx, def, task, started)

	cacheKey := ""
	if def.Cacheable() {
		if cacheKey, err = reportcache.Key(def.ID, def.QuerySpec, dr); err != nil {
			logger.Warn().Err(err).Msg("Cache key derivation failed, skipping cache")
			cacheKey = ""
		}
	}

	var payload []byte
	cacheHit := false
	if cacheKey != "" {
		if cached, _, ok := e.deps.Cache.Get(ctx, cacheKey); ok {
			payload = cached
			cacheHit = true
			logger.Debug().Str("cache_key", cacheKey).Msg("Serving run from result cache")
		}
	}

	if !cacheHit {
		payload, err = e.generate(ctx, def, dr)
		if err != nil {
			var perm *permanentError
			if errors.As(err, &perm) {
				return e.fail(ctx, task, logger, err)
			}
			return e.retryOrFail(ctx, task, attempt, logger, err)
		}

		if cacheKey != "" {
			sum := sha256.Sum256(payload)
			e.deps.Cache.Set(ctx, def.ID, cacheKey, payload, reportcache.Meta{
				Format:       def.Format,
				SizeBytes:    int64(len(payload)),
				SourceRunID:  task.ExecutionRunID,
				GeneratedAt:  e.now(),
				ContentHash:  hex.EncodeToString(sum[:]),
				DateRangeKey: dr.String(),
			}, def.CacheTTL())
		}
	}

	artifact, err := e.store(ctx, task, def, payload)
	if err != nil {
		return e.retryOrFail(ctx, task, attempt, logger, err)
	}

	if task.EmailDelivery != nil && len(task.EmailDelivery.Recipients) > 0 {
		e.deliver(ctx, task, def, artifact, logger)
	}

	meta := models.JSONMap{
		"cache_hit":  cacheHit,
		"date_range": dr.String(),
		"range_type": dr.Type,
		"format":     string(def.Format),
	}
	if err := e.deps.Store.SetExecutionRunMetadata(ctx, task.TenantID, task.ExecutionRunID, meta); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run metadata")
	}

	completedAt := e.now()
	duration := int(completedAt.Sub(started).Seconds())
	if err := e.deps.Store.CompleteExecutionRun(ctx, task.TenantID, task.ExecutionRunID, completedAt, duration); err != nil {
		// The artifact exists and deliveries went out; retrying would redo
		// all of it. Log and accept the stuck-running row.
		logger.Error().Err(err).Msg("Failed to mark run completed")
	}
	e.release(ctx, task)

	outcome := "completed"
	if cacheHit {
		outcome = "cached"
	}
	metrics.PipelineExecutions.WithLabelValues(outcome).Inc()
	logger.Info().
		Bool("cache_hit", cacheHit).
		Int("duration_seconds", duration).
		Int64("size_bytes", artifact.FileSizeBytes).
		Msg("Run completed")
	return queue.Done
}

// permanentError marks failures that no retry can fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

// resolveDateRange computes the query window for this run.
func (e *Executor) resolveDateRange(ctx context.Context, def *models.ReportDefinition, task models.TaskDescriptor, now time.Time) daterange.Range {
	if def.DateRangeType == daterange.Incremental && task.ScheduleID != nil {
		last, err := e.deps.Store.LastCompletedAt(ctx, task.TenantID, *task.ScheduleID)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Last completion lookup failed, using first-run window")
			last = nil
		}
		return daterange.IncrementalRange(last, now, daterange.DefaultOverlap)
	}
	rangeType := def.DateRangeType
	if rangeType == "" {
		rangeType = daterange.Last7Days
	}
	return daterange.Calculate(rangeType, now, nil)
}

// generate produces the artifact payload: fetch the data, render it, and
// convert to the definition's output format.
func (e *Executor) generate(ctx context.Context, def *models.ReportDefinition, dr daterange.Range) ([]byte, error) {
	fetchStart := time.Now()
	data, err := e.deps.Source.Fetch(ctx, def.QuerySpec, dr)
	metrics.RecordPipelineStep("fetch", fetchStart)
	if err != nil {
		return nil, fmt.Errorf("fetch report data: %w", err)
	}
	data.Title = def.Name
	data.GeneratedAt = e.now()
	data.DateRange = dr

	switch def.Format {
	case models.FormatCSV:
		renderStart := time.Now()
		payload, err := render.RenderCSV(data)
		metrics.RecordPipelineStep("render", renderStart)
		if err != nil {
			return nil, permanent(fmt.Errorf("render csv: %w", err))
		}
		return payload, nil

	case models.FormatXLSX:
		renderStart := time.Now()
		payload, err := render.RenderXLSX(data)
		metrics.RecordPipelineStep("render", renderStart)
		if err != nil {
			return nil, permanent(fmt.Errorf("render xlsx: %w", err))
		}
		return payload, nil

	case models.FormatPDF:
		renderStart := time.Now()
		html, err := e.deps.Engine.RenderHTML(def.TemplateRef, data)
		metrics.RecordPipelineStep("render", renderStart)
		if err != nil {
			// A template that does not execute will not execute next time
			// either.
			return nil, permanent(fmt.Errorf("render html: %w", err))
		}
		pdfStart := time.Now()
		payload, err := e.deps.PDF.RenderPDF(ctx, html)
		metrics.RecordPipelineStep("pdf", pdfStart)
		if err != nil {
			return nil, fmt.Errorf("convert pdf: %w", err)
		}
		return payload, nil

	default:
		return nil, permanent(fmt.Errorf("unsupported output format %q", def.Format))
	}
}

// store uploads the payload, signs a download URL, and records the
// artifact row.
func (e *Executor) store(ctx context.Context, task models.TaskDescriptor, def *models.ReportDefinition, payload []byte) (*models.Artifact, error) {
	storeStart := time.Now()
	defer metrics.RecordPipelineStep("store", storeStart)

	path := blob.ObjectPath(task.TenantID, task.ExecutionRunID, def.Format)
	obj := blob.Object{
		Data:        payload,
		ContentType: blob.ContentType(def.Format),
		Metadata: map[string]string{
			"tenant_id":            task.TenantID,
			"execution_run_id":     task.ExecutionRunID,
			"report_definition_id": def.ID,
		},
	}
	if err := e.deps.Blobs.Put(ctx, path, obj); err != nil {
		return nil, fmt.Errorf("upload artifact: %w", err)
	}

	url, expires, err := e.deps.Blobs.SignedURL(ctx, path, e.signedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("sign artifact url: %w", err)
	}

	artifact := &models.Artifact{
		TenantID:           task.TenantID,
		ExecutionRunID:     task.ExecutionRunID,
		BlobPath:           path,
		FileSizeBytes:      int64(len(payload)),
		FileFormat:         def.Format,
		SignedURL:          url,
		SignedURLExpiresAt: &expires,
	}
	if err := e.deps.Store.CreateArtifact(ctx, artifact); err != nil {
		return nil, fmt.Errorf("record artifact: %w", err)
	}
	return artifact, nil
}

// deliver emails the download link to each recipient, recording a receipt
// per recipient. Delivery failures never fail the run: the artifact
// exists, and the receipt records what went wrong.
func (e *Executor) deliver(ctx context.Context, task models.TaskDescriptor, def *models.ReportDefinition, artifact *models.Artifact, logger zerolog.Logger) {
	deliverStart := time.Now()
	defer metrics.RecordPipelineStep("deliver", deliverStart)

	cfg := task.EmailDelivery

	notif := delivery.Notification{
		ReportName:  def.Name,
		GeneratedAt: artifact.CreatedAt,
		DownloadURL: artifact.SignedURL,
		FileSize:    artifact.FileSizeBytes,
	}
	if artifact.SignedURLExpiresAt != nil {
		notif.URLExpires = *artifact.SignedURLExpiresAt
	}
	subject := cfg.Subject
	if subject == "" {
		subject = notif.Subject()
	}
	body, err := notif.RenderBody()
	if err != nil {
		logger.Error().Err(err).Msg("Notification body failed to render, skipping delivery")
		return
	}

	for i, rcpt := range cfg.Recipients {
		receipt := &models.DeliveryReceipt{
			TenantID:   task.TenantID,
			ArtifactID: artifact.ID,
			Channel:    models.ChannelEmail,
			Recipient:  rcpt,
		}
		if err := e.deps.Store.CreateDeliveryReceipt(ctx, receipt); err != nil {
			logger.Error().Err(err).Str("recipient", rcpt).Msg("Failed to create delivery receipt")
			continue
		}

		msg := delivery.Message{To: rcpt, Subject: subject, BodyHTML: body}
		// CC and BCC ride with the first recipient's message so they get
		// exactly one copy.
		if i == 0 {
			msg.CC = cfg.CC
			msg.BCC = cfg.BCC
		}

		result := e.deps.Sender.Send(ctx, msg)
		if result.Success {
			if err := e.deps.Store.UpdateDeliveryReceiptStatus(ctx, task.TenantID, receipt.ID,
				models.DeliverySent, result.DeliveredAt, ""); err != nil {
				logger.Warn().Err(err).Str("recipient", rcpt).Msg("Failed to record delivery success")
			}
			metrics.DeliveriesTotal.WithLabelValues(string(models.ChannelEmail), "sent").Inc()
			continue
		}

		if err := e.deps.Store.UpdateDeliveryReceiptStatus(ctx, task.TenantID, receipt.ID,
			models.DeliveryFailed, nil, result.ErrorCode+": "+result.ErrorMessage); err != nil {
			logger.Warn().Err(err).Str("recipient", rcpt).Msg("Failed to record delivery failure")
		}
		metrics.DeliveriesTotal.WithLabelValues(string(models.ChannelEmail), "failed").Inc()
		logger.Warn().
			Str("recipient", rcpt).
			Str("error_code", result.ErrorCode).
			Bool("transient", result.IsTransient).
			Msg("Delivery failed")
	}
}

// retryOrFail requests a redelivery after a transient failure, or fails
// the run when the retry budget is spent.
func (e *Executor) retryOrFail(ctx context.Context, task models.TaskDescriptor, attempt int, logger zerolog.Logger, cause error) queue.Disposition {
	if attempt >= e.maxAttempts {
		return e.fail(ctx, task, logger, fmt.Errorf("retries exhausted after %d attempts: %w", attempt, cause))
	}

	if err := e.deps.Store.ResetExecutionRun(ctx, task.TenantID, task.ExecutionRunID, cause.Error()); err != nil {
		// If the run cannot go back to pending, a redelivery would be
		// dropped as a duplicate. Fail now instead of losing it silently.
		logger.Error().Err(err).Msg("Failed to reset run for retry")
		return e.fail(ctx, task, logger, cause)
	}

	logger.Warn().Err(cause).Msg("Transient failure, run reset for retry")
	return queue.Retry
}

// fail marks the run failed, releases the burst slot, and terminates the
// task.
func (e *Executor) fail(ctx context.Context, task models.TaskDescriptor, logger zerolog.Logger, cause error) queue.Disposition {
	if err := e.deps.Store.FailExecutionRun(ctx, task.TenantID, task.ExecutionRunID, e.now(), cause.Error()); err != nil {
		logger.Error().Err(err).Msg("Failed to mark run failed")
	}
	e.release(ctx, task)
	metrics.PipelineExecutions.WithLabelValues("failed").Inc()
	logger.Error().Err(cause).Msg("Run failed")
	return queue.Terminate
}

func (e *Executor) release(ctx context.Context, task models.TaskDescriptor) {
	if e.deps.Limiter != nil {
		e.deps.Limiter.Release(ctx, task.TenantID)
	}
}
