package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/auth"
	"github.com/hourglass-hq/hourglass-engine/pkg/database"
)

// TenantMiddleware is a function that wraps a handler with tenant context.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// NewTenantScopeMiddleware builds a TenantMiddleware that opens a
// tenant-scoped database connection for the authenticated tenant. The scope
// is released when the handler returns.
func NewTenantScopeMiddleware(db *database.DB, logger *zap.Logger) TenantMiddleware {
	provider := database.NewTenantScopeProvider(db)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := auth.RequireTenantIDFromContext(r.Context())
			if err != nil {
				if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
					logger.Error("Failed to write error response", zap.Error(err))
				}
				return
			}

			ctx, cleanup, err := provider.WithTenantScope(r.Context(), tenantID)
			if err != nil {
				logger.Error("Failed to open tenant scope",
					zap.String("tenant_id", tenantID.String()),
					zap.Error(err))
				if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to open tenant scope"); err != nil {
					logger.Error("Failed to write error response", zap.Error(err))
				}
				return
			}
			defer cleanup()

			next(w, r.WithContext(ctx))
		}
	}
}
