// Package repositories contains the PostgreSQL data access layer.
// All tenant-scoped repositories read the connection from the TenantScope in
// the context; row-level security enforces isolation below the SQL.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
	"github.com/hourglass-hq/hourglass-engine/pkg/database"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
)

// TenantRepository defines the interface for tenant data access.
type TenantRepository interface {
	// Create inserts a new tenant. Returns ErrConflict if the name is taken.
	Create(ctx context.Context, tenant *models.Tenant) error

	// GetByID retrieves a tenant by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)

	// UpdateDailyWorkingHours changes the expected-hours baseline.
	UpdateDailyWorkingHours(ctx context.Context, id uuid.UUID, hours float64) error
}

type tenantRepository struct {
	db *database.DB
}

// NewTenantRepository creates a new tenant repository. Tenant rows sit above
// the RLS boundary, so this repository talks to the pool directly.
func NewTenantRepository(db *database.DB) TenantRepository {
	return &tenantRepository{db: db}
}

func (r *tenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	now := time.Now()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now

	query := `
		INSERT INTO tenants (name, daily_working_hours, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err := r.db.Pool.QueryRow(ctx, query,
		tenant.Name,
		tenant.DailyWorkingHours,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	).Scan(&tenant.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	return nil
}

func (r *tenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	query := `
		SELECT id, name, daily_working_hours, created_at, updated_at
		FROM tenants
		WHERE id = $1`

	var t models.Tenant
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.Name,
		&t.DailyWorkingHours,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return &t, nil
}

func (r *tenantRepository) UpdateDailyWorkingHours(ctx context.Context, id uuid.UUID, hours float64) error {
	query := `UPDATE tenants SET daily_working_hours = $2, updated_at = $3 WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id, hours, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

var _ TenantRepository = (*tenantRepository)(nil)
