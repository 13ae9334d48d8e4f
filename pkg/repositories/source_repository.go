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

// SourceRepository defines the interface for source configuration access.
type SourceRepository interface {
	// Create inserts a new source. Returns ErrConflict if the name is taken
	// within the tenant.
	Create(ctx context.Context, source *models.Source) error

	// GetByID retrieves a source by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Source, error)

	// List retrieves all sources for the tenant, newest first.
	List(ctx context.Context) ([]*models.Source, error)

	// ListActive retrieves sources with active = true.
	ListActive(ctx context.Context) ([]*models.Source, error)

	// Update modifies an existing source. An empty APIToken keeps the stored
	// token.
	Update(ctx context.Context, source *models.Source) error

	// Delete removes a source and cascades to its worklogs and sync runs.
	Delete(ctx context.Context, id uuid.UUID) error
}

type sourceRepository struct{}

// NewSourceRepository creates a new source repository.
func NewSourceRepository() SourceRepository {
	return &sourceRepository{}
}

const sourceColumns = `id, tenant_id, name, url, auth_email, api_token, api_profile, active, created_at, updated_at`

func scanSource(row pgx.Row) (*models.Source, error) {
	var s models.Source
	err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.Name,
		&s.URL,
		&s.AuthEmail,
		&s.APIToken,
		&s.APIProfile,
		&s.Active,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sourceRepository) Create(ctx context.Context, source *models.Source) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	now := time.Now()
	source.CreatedAt = now
	source.UpdatedAt = now

	query := `
		INSERT INTO sources (tenant_id, name, url, auth_email, api_token, api_profile, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := scope.Conn.QueryRow(ctx, query,
		source.TenantID,
		source.Name,
		source.URL,
		source.AuthEmail,
		source.APIToken,
		source.APIProfile,
		source.Active,
		source.CreatedAt,
		source.UpdatedAt,
	).Scan(&source.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create source: %w", err)
	}

	return nil
}

func (r *sourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`

	source, err := scanSource(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	return source, nil
}

func (r *sourceRepository) List(ctx context.Context) ([]*models.Source, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY created_at DESC`)
}

func (r *sourceRepository) ListActive(ctx context.Context) ([]*models.Source, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM sources WHERE active ORDER BY created_at DESC`)
}

func (r *sourceRepository) list(ctx context.Context, query string) ([]*models.Source, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}

	return sources, nil
}

func (r *sourceRepository) Update(ctx context.Context, source *models.Source) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	source.UpdatedAt = time.Now()

	// COALESCE keeps the stored token when the caller leaves it blank, so
	// updates do not have to round-trip the secret.
	query := `
		UPDATE sources
		SET name = $2, url = $3, auth_email = $4,
		    api_token = COALESCE(NULLIF($5, ''), api_token),
		    api_profile = $6, active = $7, updated_at = $8
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query,
		source.ID,
		source.Name,
		source.URL,
		source.AuthEmail,
		source.APIToken,
		source.APIProfile,
		source.Active,
		source.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update source: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *sourceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

var _ SourceRepository = (*sourceRepository)(nil)
