// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tomtom215/reportus/internal/audit"
	"github.com/tomtom215/reportus/internal/blob"
	"github.com/tomtom215/reportus/internal/burst"
	"github.com/tomtom215/reportus/internal/config"
	"github.com/tomtom215/reportus/internal/database"
	"github.com/tomtom215/reportus/internal/models"
	"github.com/tomtom215/reportus/internal/reportcache"
	"github.com/tomtom215/reportus/internal/scheduler"
)

// Store defines the repository operations the handlers call directly.
// Schedule operations go through the scheduler service instead, which
// owns cron validation and quota enforcement. *database.DB satisfies it.
type Store interface {
	CreateReportDefinition(ctx context.Context, d *models.ReportDefinition) error
	GetReportDefinition(ctx context.Context, tenantID, id string) (*models.ReportDefinition, error)
	UpdateReportDefinition(ctx context.Context, d *models.ReportDefinition) error
	ListReportDefinitions(ctx context.Context, tenantID string, limit int, cursor string) ([]models.ReportDefinition, string, error)

	CreateExecutionRun(ctx context.Context, r *models.ExecutionRun) error
	GetExecutionRun(ctx context.Context, tenantID, id string) (*models.ExecutionRun, error)
	ListExecutionRuns(ctx context.Context, tenantID, scheduleID string, limit int, cursor string) ([]models.ExecutionRun, string, error)
	FailExecutionRun(ctx context.Context, tenantID, id string, completedAt time.Time, errMsg string) error

	GetArtifact(ctx context.Context, tenantID, id string) (*models.Artifact, error)
	GetArtifactByRunID(ctx context.Context, tenantID, runID string) (*models.Artifact, error)
	UpdateArtifactSignedURL(ctx context.Context, tenantID, id, signedURL string, expiresAt time.Time) error
	ListDeliveryReceipts(ctx context.Context, tenantID, artifactID string) ([]models.DeliveryReceipt, error)
}

// Publisher enqueues execution tasks and share notifications.
// *queue.Queue satisfies it.
type Publisher interface {
	PublishReportTask(ctx context.Context, task models.TaskDescriptor) error
	PublishNotification(ctx context.Context, n models.Notification) error
}

// Handler holds the dependencies shared by all endpoint handlers.
type Handler struct {
	store     Store
	schedules *scheduler.Service
	auditor   *audit.Recorder
	cache     *reportcache.Cache
	limiter   *burst.Limiter
	publisher Publisher
	blobs     blob.Store

	apiCfg       config.APIConfig
	signedURLTTL time.Duration

	rw  *ResponseWriter
	now func() time.Time
}

// HandlerDeps bundles the Handler's collaborators.
type HandlerDeps struct {
	Store     Store
	Schedules *scheduler.Service
	Auditor   *audit.Recorder
	Cache     *reportcache.Cache
	Limiter   *burst.Limiter
	Publisher Publisher
	Blobs     blob.Store
}

// NewHandler creates the endpoint handler set.
func NewHandler(deps HandlerDeps, apiCfg config.APIConfig, signedURLTTL time.Duration) *Handler {
	if signedURLTTL <= 0 {
		signedURLTTL = 24 * time.Hour
	}
	return &Handler{
		store:        deps.Store,
		schedules:    deps.Schedules,
		auditor:      deps.Auditor,
		cache:        deps.Cache,
		limiter:      deps.Limiter,
		publisher:    deps.Publisher,
		blobs:        deps.Blobs,
		apiCfg:       apiCfg,
		signedURLTTL: signedURLTTL,
		rw:           NewResponseWriter(),
		now:          time.Now,
	}
}

// writeScheduleError maps a scheduler service error onto the response
// envelope. Unclassified errors are internal.
func (h *Handler) writeScheduleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case scheduler.IsKind(err, scheduler.KindNotFound):
		h.rw.NotFound(w, r, "Schedule or referenced resource not found")
	case scheduler.IsKind(err, scheduler.KindInvalidCron):
		h.rw.BadRequestCode(w, r, ErrCodeInvalidCron, "Cron expression is invalid or never fires")
	case scheduler.IsKind(err, scheduler.KindInvalidTimezone):
		h.rw.BadRequestCode(w, r, ErrCodeInvalidTimezone, "Timezone is not a recognized IANA zone")
	case scheduler.IsKind(err, scheduler.KindQuotaExceeded):
		h.rw.BadRequestCode(w, r, ErrCodeQuotaExceeded, "Active schedule quota for the tenant's tier is exhausted")
	default:
		h.rw.InternalError(w, r, err)
	}
}

// writeStoreError maps a repository error onto the response envelope.
func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFoundMsg string) {
	if errors.Is(err, database.ErrNotFound) {
		h.rw.NotFound(w, r, notFoundMsg)
		return
	}
	h.rw.InternalError(w, r, err)
}

// pagination builds the pagination metadata for one returned page.
func pagination(count, limit int, nextCursor string) *PaginationMeta {
	return &PaginationMeta{
		Count:      count,
		Limit:      limit,
		HasMore:    nextCursor != "",
		NextCursor: nextCursor,
	}
}

// tenantID returns the authenticated tenant for the request. The
// authentication middleware guarantees it is set on every routed request.
func tenantID(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return claims.TenantID
	}
	return ""
}

// userID returns the authenticated user for the request.
func userID(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return claims.Subject
	}
	return ""
}
