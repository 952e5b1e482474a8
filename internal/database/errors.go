// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package database

import (
	"errors"
	"io"
)

// ErrNotFound is returned when a requested row does not exist or belongs to
// a different tenant. Callers must not be able to distinguish the two cases.
var ErrNotFound = errors.New("not found")

// closeQuietly closes a resource and explicitly ignores any error.
// Use this for cleanup operations in error paths where Close() errors are
// not actionable. Satisfies errcheck by acknowledging the ignored error.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close() // cleanup is best-effort
	}
}

// truncateError caps stored error messages so a pathological upstream error
// cannot bloat the execution_runs table.
const maxErrorLen = 1000

func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
