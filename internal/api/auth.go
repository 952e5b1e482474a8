// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/reportus/internal/config"
	"github.com/tomtom215/reportus/internal/logging"
)

// Claims are the JWT claims the API trusts. The tenant ID scopes every
// repository call for the request; the subject identifies the user for
// audit events.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies the HS256 bearer tokens issued by the
// external identity provider. Both sides share the configured secret.
type TokenManager struct {
	secret []byte
}

// NewTokenManager creates a token manager. The secret must be non-empty;
// an unauthenticated API is never a valid deployment.
func NewTokenManager(cfg config.SecurityConfig) (*TokenManager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is not configured")
	}
	return &TokenManager{secret: []byte(cfg.JWTSecret)}, nil
}

// Generate signs a token for the given tenant and user. Used by tests and
// by operator tooling; production tokens come from the identity provider.
func (m *TokenManager) Generate(tenantID, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses and validates a token string.
func (m *TokenManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("token carries no tenant")
	}
	return claims, nil
}

type claimsContextKey struct{}

// ClaimsFromContext returns the verified claims for the request, or nil
// outside an authenticated handler.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*Claims)
	return claims
}

// Authenticate verifies the Bearer token and stashes the claims and
// tenant ID in the request context. Requests without a valid token never
// reach a handler.
func (m *TokenManager) Authenticate(rw *ResponseWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				rw.Unauthorized(w, r, "Missing Authorization header")
				return
			}
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				rw.Unauthorized(w, r, "Authorization header must use the Bearer scheme")
				return
			}

			claims, err := m.Verify(tokenString)
			if err != nil {
				logging.Ctx(r.Context()).Debug().Err(err).Msg("Token verification failed")
				rw.Unauthorized(w, r, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			ctx = logging.ContextWithTenantID(ctx, claims.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
