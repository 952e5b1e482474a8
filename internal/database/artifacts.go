// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// artifacts.go - Artifact and delivery receipt repositories

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/reportus/internal/models"
)

const artifactColumns = `
	id, tenant_id, execution_run_id, blob_path, file_size_bytes,
	file_format, signed_url, signed_url_expires_at, created_at`

// CreateArtifact inserts the artifact row for a completed run. The unique
// constraint on execution_run_id enforces at most one artifact per run.
func (db *DB) CreateArtifact(ctx context.Context, a *models.Artifact) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO artifact (
			id, tenant_id, execution_run_id, blob_path, file_size_bytes,
			file_format, signed_url, signed_url_expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := db.conn.ExecContext(ctx, query,
		a.ID,
		a.TenantID,
		a.ExecutionRunID,
		a.BlobPath,
		a.FileSizeBytes,
		string(a.FileFormat),
		nullableString(a.SignedURL),
		nullableTime(a.SignedURLExpiresAt),
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert artifact: %w", err)
	}
	return nil
}

// GetArtifact retrieves an artifact by ID within a tenant.
func (db *DB) GetArtifact(ctx context.Context, tenantID, id string) (*models.Artifact, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT` + artifactColumns + ` FROM artifact WHERE tenant_id = $1 AND id = $2`
	return scanArtifact(db.conn.QueryRowContext(ctx, query, tenantID, id))
}

// GetArtifactByRunID retrieves the artifact produced by an execution run.
func (db *DB) GetArtifactByRunID(ctx context.Context, tenantID, runID string) (*models.Artifact, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT` + artifactColumns + ` FROM artifact WHERE tenant_id = $1 AND execution_run_id = $2`
	return scanArtifact(db.conn.QueryRowContext(ctx, query, tenantID, runID))
}

// UpdateArtifactSignedURL stores a freshly issued signed URL and its expiry.
func (db *DB) UpdateArtifactSignedURL(ctx context.Context, tenantID, id, signedURL string, expiresAt time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE artifact SET signed_url = $1, signed_url_expires_at = $2
		WHERE tenant_id = $3 AND id = $4`,
		signedURL, expiresAt.UTC(), tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to update artifact signed url: %w", err)
	}
	return requireRowAffected(res)
}

// CountArtifactsBefore returns the count and aggregate size of artifacts
// created before the cutoff, for retention dry runs.
func (db *DB) CountArtifactsBefore(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count, bytes int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(file_size_bytes), 0) FROM artifact WHERE created_at < $1`,
		cutoff.UTC()).Scan(&count, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count expired artifacts: %w", err)
	}
	return count, bytes, nil
}

// ListArtifactsBefore returns up to limit artifacts created before the
// cutoff, across all tenants. The retention sweeper deletes the blobs
// first, then the rows.
func (db *DB) ListArtifactsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Artifact, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT` + artifactColumns + `
		FROM artifact WHERE created_at < $1
		ORDER BY created_at ASC LIMIT $2`

	rows, err := db.conn.QueryContext(ctx, query, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, *a)
	}
	return artifacts, rows.Err()
}

// DeleteArtifacts removes artifact rows by ID. Delivery receipts cascade.
func (db *DB) DeleteArtifacts(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	args := make([]any, len(ids))
	placeholders := ""
	for i, id := range ids {
		args[i] = id
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
	}

	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM artifact WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete artifacts: %w", err)
	}
	return res.RowsAffected()
}

// scanArtifact scans an artifact from a row scanner.
func scanArtifact(row rowScanner) (*models.Artifact, error) {
	var a models.Artifact
	var signedURL sql.NullString
	var expiresAt sql.NullTime

	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.ExecutionRunID,
		&a.BlobPath,
		&a.FileSizeBytes,
		&a.FileFormat,
		&signedURL,
		&expiresAt,
		&a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan artifact: %w", err)
	}

	a.SignedURL = signedURL.String
	a.SignedURLExpiresAt = timePtr(expiresAt)
	return &a, nil
}

// ============================================================================
// Delivery receipts
// ============================================================================

const deliveryReceiptColumns = `
	id, tenant_id, artifact_id, channel, recipient, status,
	sent_at, error_message, created_at`

// CreateDeliveryReceipt inserts a receipt in pending state. Receipts are
// unique per (artifact, recipient): redelivering to the same recipient
// resets the existing row instead of adding a second one, and r.ID is
// rewritten to the stored row's id.
func (db *DB) CreateDeliveryReceipt(ctx context.Context, r *models.DeliveryReceipt) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = models.DeliveryPending
	}
	r.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO delivery_receipt (
			id, tenant_id, artifact_id, channel, recipient, status,
			sent_at, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (artifact_id, recipient) DO UPDATE SET
			channel = EXCLUDED.channel,
			status = EXCLUDED.status,
			sent_at = EXCLUDED.sent_at,
			error_message = EXCLUDED.error_message
		RETURNING id
	`
	err := db.conn.QueryRowContext(ctx, query,
		r.ID,
		r.TenantID,
		r.ArtifactID,
		string(r.Channel),
		r.Recipient,
		string(r.Status),
		nullableTime(r.SentAt),
		nullableString(r.ErrorMessage),
		r.CreatedAt,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("failed to insert delivery receipt: %w", err)
	}
	return nil
}

// UpdateDeliveryReceiptStatus records the outcome of a delivery attempt.
func (db *DB) UpdateDeliveryReceiptStatus(ctx context.Context, tenantID, id string, status models.DeliveryStatus, sentAt *time.Time, errMsg string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE delivery_receipt SET status = $1, sent_at = $2, error_message = $3
		WHERE tenant_id = $4 AND id = $5`,
		string(status), nullableTime(sentAt), nullableString(truncateError(errMsg)), tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to update delivery receipt: %w", err)
	}
	return requireRowAffected(res)
}

// ListDeliveryReceipts returns all receipts for an artifact.
func (db *DB) ListDeliveryReceipts(ctx context.Context, tenantID, artifactID string) ([]models.DeliveryReceipt, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT` + deliveryReceiptColumns + `
		FROM delivery_receipt WHERE tenant_id = $1 AND artifact_id = $2
		ORDER BY created_at ASC`

	rows, err := db.conn.QueryContext(ctx, query, tenantID, artifactID)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.DeliveryReceipt
	for rows.Next() {
		var r models.DeliveryReceipt
		var sentAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(
			&r.ID,
			&r.TenantID,
			&r.ArtifactID,
			&r.Channel,
			&r.Recipient,
			&r.Status,
			&sentAt,
			&errMsg,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery receipt: %w", err)
		}
		r.SentAt = timePtr(sentAt)
		r.ErrorMessage = errMsg.String
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}
