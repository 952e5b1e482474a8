// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tomtom215/reportus/internal/audit"
	"github.com/tomtom215/reportus/internal/models"
)

// signedURLRefreshMargin forces a refresh when the remaining validity of
// a signed URL is too short for a client to reasonably use it.
const signedURLRefreshMargin = 5 * time.Minute

// GetArtifact handles GET /v1/artifacts/{id} and records a viewed
// audit event.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.store.GetArtifact(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, r, err, "Artifact not found")
		return
	}

	h.auditor.Record(r.Context(), artifact.TenantID, userID(r),
		models.AuditReportViewed, audit.ResourceArtifact, artifact.ID, nil)
	h.rw.Success(w, r, artifact)
}

// GetRunArtifact handles GET /v1/runs/{id}/artifact, resolving the
// artifact a completed run produced.
func (h *Handler) GetRunArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.store.GetArtifactByRunID(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, r, err, "Run has no artifact")
		return
	}
	h.rw.Success(w, r, artifact)
}

// DownloadArtifact handles POST /v1/artifacts/{id}/download. It
// returns the artifact with a signed URL guaranteed to be usable,
// re-signing when the stored one is missing or close to expiry, and
// records a downloaded audit event.
func (h *Handler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	artifact, err := h.store.GetArtifact(r.Context(), tenant, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, r, err, "Artifact not found")
		return
	}

	if h.signedURLStale(artifact) {
		url, expiresAt, err := h.blobs.SignedURL(r.Context(), artifact.BlobPath, h.signedURLTTL)
		if err != nil {
			h.rw.InternalError(w, r, err)
			return
		}
		if err := h.store.UpdateArtifactSignedURL(r.Context(), tenant, artifact.ID, url, expiresAt); err != nil {
			h.rw.InternalError(w, r, err)
			return
		}
		artifact.SignedURL = url
		artifact.SignedURLExpiresAt = &expiresAt
	}

	h.auditor.Record(r.Context(), tenant, userID(r),
		models.AuditReportDownloaded, audit.ResourceArtifact, artifact.ID,
		models.JSONMap{
			"blob_path":  artifact.BlobPath,
			"expires_at": artifact.SignedURLExpiresAt,
		})
	h.rw.Success(w, r, artifact)
}

func (h *Handler) signedURLStale(a *models.Artifact) bool {
	if a.SignedURL == "" || a.SignedURLExpiresAt == nil {
		return true
	}
	return a.SignedURLExpiresAt.Before(h.now().UTC().Add(signedURLRefreshMargin))
}

// ShareArtifact handles POST /v1/artifacts/{id}/share. It enqueues a
// share notification for the recipients and records a shared audit
// event; the actual emails go out asynchronously, so the response is a
// 202 with the enqueued notification.
func (h *Handler) ShareArtifact(w http.ResponseWriter, r *http.Request) {
	var req ShareArtifactRequest
	if !decodeJSON(h.rw, w, r, &req) {
		return
	}
	tenant := tenantID(r)

	artifact, err := h.store.GetArtifact(r.Context(), tenant, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, r, err, "Artifact not found")
		return
	}

	notification := models.Notification{
		ID:         uuid.New().String(),
		TenantID:   tenant,
		ArtifactID: artifact.ID,
		SharedBy:   userID(r),
		Recipients: req.Recipients,
		Message:    req.Message,
		EnqueuedAt: h.now().UTC(),
	}
	if err := h.publisher.PublishNotification(r.Context(), notification); err != nil {
		h.rw.InternalError(w, r, err)
		return
	}

	h.auditor.Record(r.Context(), tenant, userID(r),
		models.AuditReportShared, audit.ResourceArtifact, artifact.ID,
		models.JSONMap{
			"recipients": req.Recipients,
			"channel":    string(models.ChannelEmail),
		})
	h.rw.Accepted(w, r, notification)
}

// ListArtifactDeliveries handles GET /v1/artifacts/{id}/deliveries,
// returning the delivery receipts for one artifact.
func (h *Handler) ListArtifactDeliveries(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.store.ListDeliveryReceipts(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.rw.InternalError(w, r, err)
		return
	}
	h.rw.Success(w, r, receipts)
}
