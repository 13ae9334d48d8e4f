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

// ClientRepository defines the interface for billing client, project and
// mapping access.
type ClientRepository interface {
	// CreateClient inserts a new client. Returns ErrConflict on a duplicate
	// name within the tenant.
	CreateClient(ctx context.Context, client *models.Client) error

	// GetClient retrieves a client by ID.
	GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error)

	// ListClients retrieves all clients for the tenant.
	ListClients(ctx context.Context) ([]*models.Client, error)

	// UpdateClient modifies a client.
	UpdateClient(ctx context.Context, client *models.Client) error

	// DeleteClient removes a client and cascades to its projects.
	DeleteClient(ctx context.Context, id uuid.UUID) error

	// CreateProject inserts a project with its mappings atomically.
	CreateProject(ctx context.Context, project *models.ClientProject) error

	// GetProject retrieves a project with its mappings.
	GetProject(ctx context.Context, id uuid.UUID) (*models.ClientProject, error)

	// ListProjects retrieves a client's projects with mappings.
	ListProjects(ctx context.Context, clientID uuid.UUID) ([]*models.ClientProject, error)

	// ReplaceMappings swaps a project's source mappings atomically.
	ReplaceMappings(ctx context.Context, projectID uuid.UUID, mappings []models.ProjectMapping) error

	// DeleteProject removes a project.
	DeleteProject(ctx context.Context, id uuid.UUID) error
}

type clientRepository struct{}

// NewClientRepository creates a new client repository.
func NewClientRepository() ClientRepository {
	return &clientRepository{}
}

func (r *clientRepository) CreateClient(ctx context.Context, client *models.Client) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	now := time.Now()
	client.CreatedAt = now
	client.UpdatedAt = now

	query := `
		INSERT INTO clients (tenant_id, name, currency, default_rate, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := scope.Conn.QueryRow(ctx, query,
		client.TenantID, client.Name, client.Currency, client.DefaultRate,
		client.CreatedAt, client.UpdatedAt,
	).Scan(&client.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create client: %w", err)
	}

	return nil
}

func (r *clientRepository) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT id, tenant_id, name, currency, default_rate, created_at, updated_at
		FROM clients WHERE id = $1`

	var c models.Client
	err := scope.Conn.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Currency, &c.DefaultRate,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	return &c, nil
}

func (r *clientRepository) ListClients(ctx context.Context) ([]*models.Client, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT id, tenant_id, name, currency, default_rate, created_at, updated_at
		FROM clients ORDER BY name`

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		var c models.Client
		err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Currency, &c.DefaultRate,
			&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clients: %w", err)
	}

	return clients, nil
}

func (r *clientRepository) UpdateClient(ctx context.Context, client *models.Client) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	client.UpdatedAt = time.Now()

	query := `
		UPDATE clients
		SET name = $2, currency = $3, default_rate = $4, updated_at = $5
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query,
		client.ID, client.Name, client.Currency, client.DefaultRate, client.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update client: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *clientRepository) DeleteClient(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *clientRepository) CreateProject(ctx context.Context, project *models.ClientProject) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	project.CreatedAt = time.Now()

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	err = tx.QueryRow(ctx,
		`INSERT INTO client_projects (tenant_id, client_id, name, default_rate, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		project.TenantID, project.ClientID, project.Name, project.DefaultRate, project.CreatedAt,
	).Scan(&project.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create project: %w", err)
	}

	for i := range project.Mappings {
		m := &project.Mappings[i]
		m.ProjectID = project.ID
		err := tx.QueryRow(ctx,
			`INSERT INTO project_mappings (tenant_id, project_id, source_id, target_prefix)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			project.TenantID, m.ProjectID, m.SourceID, m.TargetPrefix,
		).Scan(&m.ID)
		if err != nil {
			return fmt.Errorf("failed to create project mapping: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *clientRepository) GetProject(ctx context.Context, id uuid.UUID) (*models.ClientProject, error) {
	projects, err := r.queryProjects(ctx, `WHERE p.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return projects[0], nil
}

func (r *clientRepository) ListProjects(ctx context.Context, clientID uuid.UUID) ([]*models.ClientProject, error) {
	return r.queryProjects(ctx, `WHERE p.client_id = $1`, clientID)
}

func (r *clientRepository) queryProjects(ctx context.Context, where string, args ...any) ([]*models.ClientProject, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT p.id, p.tenant_id, p.client_id, p.name, p.default_rate, p.created_at,
		       m.id, m.source_id, m.target_prefix
		FROM client_projects p
		LEFT JOIN project_mappings m ON m.project_id = p.id
		` + where + `
		ORDER BY p.created_at, m.target_prefix`

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*models.ClientProject)
	var ordered []*models.ClientProject
	for rows.Next() {
		var (
			p            models.ClientProject
			mappingID    *uuid.UUID
			sourceID     *uuid.UUID
			targetPrefix *string
		)
		err := rows.Scan(&p.ID, &p.TenantID, &p.ClientID, &p.Name, &p.DefaultRate, &p.CreatedAt,
			&mappingID, &sourceID, &targetPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		project, seen := byID[p.ID]
		if !seen {
			project = &p
			byID[p.ID] = project
			ordered = append(ordered, project)
		}
		if mappingID != nil {
			project.Mappings = append(project.Mappings, models.ProjectMapping{
				ID:           *mappingID,
				ProjectID:    project.ID,
				SourceID:     *sourceID,
				TargetPrefix: *targetPrefix,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	return ordered, nil
}

func (r *clientRepository) ReplaceMappings(ctx context.Context, projectID uuid.UUID, mappings []models.ProjectMapping) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	var tenantID uuid.UUID
	err := scope.Conn.QueryRow(ctx,
		`SELECT tenant_id FROM client_projects WHERE id = $1`, projectID).Scan(&tenantID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to get project: %w", err)
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if _, err := tx.Exec(ctx, `DELETE FROM project_mappings WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("failed to clear project mappings: %w", err)
	}
	for _, m := range mappings {
		_, err := tx.Exec(ctx,
			`INSERT INTO project_mappings (tenant_id, project_id, source_id, target_prefix)
			 VALUES ($1, $2, $3, $4)`,
			tenantID, projectID, m.SourceID, m.TargetPrefix)
		if err != nil {
			return fmt.Errorf("failed to create project mapping: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *clientRepository) DeleteProject(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM client_projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

var _ ClientRepository = (*clientRepository)(nil)
