// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package scheduler

import (
	"errors"
	"fmt"
)

// Kind classifies schedule management failures so the HTTP layer can map
// them to response codes without string matching.
type Kind string

const (
	KindInvalidCron     Kind = "invalid_cron"
	KindInvalidTimezone Kind = "invalid_timezone"
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindNotFound        Kind = "not_found"
)

// Error is a classified schedule management failure.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// IsKind reports whether err is a scheduler Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == kind
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}
