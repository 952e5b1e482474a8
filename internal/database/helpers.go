// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package database

import (
	"database/sql"
	"fmt"
	"time"
)

// rowScanner abstracts *sql.Row and *sql.Rows so scan helpers serve both
// single-row and multi-row queries.
type rowScanner interface {
	Scan(dest ...any) error
}

// nullableTime converts an optional timestamp to a bindable value,
// normalizing to UTC.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// nullableString binds empty strings as NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timePtr converts a scanned nullable timestamp back to a pointer, in UTC.
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// requireRowAffected maps zero-row updates and deletes to ErrNotFound.
func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
