// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// reports.go - Tenant reads and report definition repository

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

// GetTenant retrieves a tenant by ID.
func (db *DB) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var t models.Tenant
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, tier, is_active, created_at FROM tenant WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Tier, &t.IsActive, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	return &t, nil
}

const reportDefinitionColumns = `
	id, tenant_id, name, description, query_spec, template_ref,
	output_format, cache_ttl_seconds, date_range_type,
	created_by, created_at, updated_at`

// CreateReportDefinition inserts a new report definition.
func (db *DB) CreateReportDefinition(ctx context.Context, d *models.ReportDefinition) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	queryJSON, err := d.QuerySpec.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal query_spec: %w", err)
	}
	if queryJSON == nil {
		queryJSON = []byte("{}")
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	query := `
		INSERT INTO report_definition (
			id, tenant_id, name, description, query_spec, template_ref,
			output_format, cache_ttl_seconds, date_range_type,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = db.conn.ExecContext(ctx, query,
		d.ID,
		d.TenantID,
		d.Name,
		nullableString(d.Description),
		string(queryJSON),
		d.TemplateRef,
		string(d.Format),
		d.CacheTTLSeconds,
		nullableString(d.DateRangeType),
		d.CreatedBy,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report definition: %w", err)
	}
	return nil
}

// GetReportDefinition retrieves a report definition by ID within a tenant.
func (db *DB) GetReportDefinition(ctx context.Context, tenantID, id string) (*models.ReportDefinition, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT` + reportDefinitionColumns + ` FROM report_definition WHERE tenant_id = $1 AND id = $2`
	return scanReportDefinition(db.conn.QueryRowContext(ctx, query, tenantID, id))
}

// UpdateReportDefinition persists mutable definition fields. Callers
// invalidate cached results derived from the definition afterwards.
func (db *DB) UpdateReportDefinition(ctx context.Context, d *models.ReportDefinition) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	queryJSON, err := d.QuerySpec.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal query_spec: %w", err)
	}
	if queryJSON == nil {
		queryJSON = []byte("{}")
	}

	d.UpdatedAt = time.Now().UTC()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE report_definition SET
			name = $1, description = $2, query_spec = $3, template_ref = $4,
			output_format = $5, cache_ttl_seconds = $6, date_range_type = $7,
			updated_at = $8
		WHERE tenant_id = $9 AND id = $10`,
		d.Name,
		nullableString(d.Description),
		string(queryJSON),
		d.TemplateRef,
		string(d.Format),
		d.CacheTTLSeconds,
		nullableString(d.DateRangeType),
		d.UpdatedAt,
		d.TenantID,
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update report definition: %w", err)
	}
	return requireRowAffected(res)
}

// ListReportDefinitions returns one page of a tenant's report definitions
// ordered by (created_at DESC, id DESC).
func (db *DB) ListReportDefinitions(ctx context.Context, tenantID string, limit int, cursorToken string) ([]models.ReportDefinition, string, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT` + reportDefinitionColumns + ` FROM report_definition WHERE tenant_id = $1`
	args := []any{tenantID}

	if c, ok := DecodeCursor(cursorToken); ok {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, c.CreatedAt, c.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit+1)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query report definitions: %w", err)
	}
	defer rows.Close()

	defs := make([]models.ReportDefinition, 0, limit)
	for rows.Next() {
		d, err := scanReportDefinition(rows)
		if err != nil {
			return nil, "", err
		}
		defs = append(defs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(defs) > limit {
		defs = defs[:limit]
		last := defs[limit-1]
		next = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return defs, next, nil
}

// scanReportDefinition scans a report definition from a row scanner.
func scanReportDefinition(row rowScanner) (*models.ReportDefinition, error) {
	var d models.ReportDefinition
	var description, dateRangeType sql.NullString
	var queryJSON []byte

	err := row.Scan(
		&d.ID,
		&d.TenantID,
		&d.Name,
		&description,
		&queryJSON,
		&d.TemplateRef,
		&d.Format,
		&d.CacheTTLSeconds,
		&dateRangeType,
		&d.CreatedBy,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan report definition: %w", err)
	}

	d.Description = description.String
	d.DateRangeType = dateRangeType.String

	spec, err := models.UnmarshalJSONMap(queryJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query_spec: %w", err)
	}
	d.QuerySpec = spec

	return &d, nil
}
