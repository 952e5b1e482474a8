// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Context keys for logging.
type contextKey string

const (
	// requestIDKey is the context key for HTTP request IDs.
	requestIDKey contextKey = "request_id"

	// tenantIDKey is the context key for the authenticated tenant.
	tenantIDKey contextKey = "tenant_id"
)

// GenerateRequestID creates a new unique request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithRequestID returns a new context with the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithTenantID returns a new context with the given tenant ID.
// Set by the auth middleware after token validation.
func ContextWithTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

// TenantIDFromContext retrieves the tenant ID from context.
// Returns empty string if not present.
func TenantIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(tenantIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns a logger with context values (request_id, tenant_id)
// automatically added. This is the recommended way to log in handlers,
// services, and workers.
//
//	logging.Ctx(ctx).Info().Msg("schedule created")
func Ctx(ctx context.Context) *zerolog.Logger {
	contextLogger := Logger().With().Logger()

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		contextLogger = contextLogger.With().Str("request_id", requestID).Logger()
	}
	if tenantID := TenantIDFromContext(ctx); tenantID != "" {
		contextLogger = contextLogger.With().Str("tenant_id", tenantID).Logger()
	}

	return &contextLogger
}

// WithComponent creates a child logger with a component field.
//
//	loopLogger := logging.WithComponent("scheduler_loop")
func WithComponent(component string) zerolog.Logger {
	return With().Str("component", component).Logger()
}
