// Package auth provides JWT-based authentication for hourglass-engine.
// Tokens carry the tenant in the "tid" claim; every authenticated request
// resolves to exactly one tenant.
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

// Claims represents the JWT claims structure for tenant tokens.
// It embeds RegisteredClaims for standard JWT fields (sub, iss, exp, etc.)
// and adds the tenant context.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid,omitempty"`   // Tenant UUID
	Email    string `json:"email,omitempty"` // User email address
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetTenantIDFromContext extracts the tenant ID from JWT claims in the
// context. Returns uuid.Nil if not authenticated or claims are missing.
func GetTenantIDFromContext(ctx context.Context) uuid.UUID {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil || claims.TenantID == "" {
		return uuid.Nil
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return uuid.Nil
	}
	return tenantID
}

// RequireTenantIDFromContext extracts the tenant ID from context and returns
// an error if not found.
func RequireTenantIDFromContext(ctx context.Context) (uuid.UUID, error) {
	tenantID := GetTenantIDFromContext(ctx)
	if tenantID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("authentication required: no tenant in context")
	}
	return tenantID, nil
}
