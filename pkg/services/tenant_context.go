// Package services contains the business logic between handlers and
// repositories.
package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/hourglass-hq/hourglass-engine/pkg/database"
)

// TenantContextFunc creates a tenant-scoped context for background work that
// runs outside an HTTP request, such as sync tasks. The cleanup function
// releases the scoped connection.
type TenantContextFunc func(ctx context.Context, tenantID uuid.UUID) (context.Context, func(), error)

// NewTenantContextFunc creates a TenantContextFunc that uses the given database.
func NewTenantContextFunc(db *database.DB) TenantContextFunc {
	provider := database.NewTenantScopeProvider(db)
	return provider.WithTenantScope
}
