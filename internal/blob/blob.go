// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package blob stores rendered report artifacts in S3-compatible object
// storage and issues time-limited signed download URLs. Objects are keyed
// tenant-first so a tenant's artifacts can be enumerated and purged by
// prefix.
package blob

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/reportus/internal/models"
)

// Object is an artifact payload plus its descriptive metadata.
type Object struct {
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

// Store is the artifact storage interface. S3Store is the production
// implementation; MemoryStore backs tests and local development.
type Store interface {
	Put(ctx context.Context, path string, obj Object) error
	Get(ctx context.Context, path string) (*Object, error)
	Delete(ctx context.Context, path string) error
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, time.Time, error)
}

// ObjectPath builds the canonical storage key for a run's artifact.
func ObjectPath(tenantID, runID string, format models.OutputFormat) string {
	return fmt.Sprintf("%s/%s/report_%s.%s", tenantID, runID, runID, format)
}

// ContentType maps an output format to its MIME type.
func ContentType(format models.OutputFormat) string {
	switch format {
	case models.FormatPDF:
		return "application/pdf"
	case models.FormatCSV:
		return "text/csv"
	case models.FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
