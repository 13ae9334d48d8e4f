package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
	"github.com/hourglass-hq/hourglass-engine/pkg/database"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
)

// GroupMembership maps a source to its group role, used by the reconciliation
// layer to decide which sources count in aggregate views.
type GroupMembership struct {
	GroupID  uuid.UUID
	SourceID uuid.UUID
	Primary  bool
}

// SourceGroupRepository defines the interface for complementary source group
// access.
type SourceGroupRepository interface {
	// Create inserts a group with its members atomically. Returns
	// ErrSourceGrouped if any member already belongs to a group, ErrConflict
	// if the group name is taken.
	Create(ctx context.Context, group *models.SourceGroup) error

	// GetByID retrieves a group with its members.
	GetByID(ctx context.Context, id uuid.UUID) (*models.SourceGroup, error)

	// List retrieves all groups for the tenant.
	List(ctx context.Context) ([]*models.SourceGroup, error)

	// Memberships returns the group membership of every grouped source.
	Memberships(ctx context.Context) ([]GroupMembership, error)

	// Delete removes a group. Member sources are ungrouped, not deleted.
	Delete(ctx context.Context, id uuid.UUID) error
}

type sourceGroupRepository struct{}

// NewSourceGroupRepository creates a new source group repository.
func NewSourceGroupRepository() SourceGroupRepository {
	return &sourceGroupRepository{}
}

func (r *sourceGroupRepository) Create(ctx context.Context, group *models.SourceGroup) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	group.CreatedAt = time.Now()

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	err = tx.QueryRow(ctx,
		`INSERT INTO source_groups (tenant_id, name, created_at) VALUES ($1, $2, $3) RETURNING id`,
		group.TenantID, group.Name, group.CreatedAt,
	).Scan(&group.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create source group: %w", err)
	}

	memberQuery := `
		INSERT INTO source_group_members (source_id, group_id, tenant_id, role)
		VALUES ($1, $2, $3, $4)`

	insertMember := func(sourceID uuid.UUID, role string) error {
		_, err := tx.Exec(ctx, memberQuery, sourceID, group.ID, group.TenantID, role)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// source_id is the primary key: a second membership means the
				// source is already grouped.
				return apperrors.ErrSourceGrouped
			}
			return fmt.Errorf("failed to add group member: %w", err)
		}
		return nil
	}

	if err := insertMember(group.PrimarySourceID, "primary"); err != nil {
		return err
	}
	for _, id := range group.SecondaryIDs {
		if err := insertMember(id, "secondary"); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *sourceGroupRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SourceGroup, error) {
	groups, err := r.query(ctx, `WHERE g.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return groups[0], nil
}

func (r *sourceGroupRepository) List(ctx context.Context) ([]*models.SourceGroup, error) {
	return r.query(ctx, ``)
}

func (r *sourceGroupRepository) query(ctx context.Context, where string, args ...any) ([]*models.SourceGroup, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT g.id, g.tenant_id, g.name, g.created_at, m.source_id, m.role
		FROM source_groups g
		JOIN source_group_members m ON m.group_id = g.id
		` + where + `
		ORDER BY g.created_at, m.role`

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list source groups: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*models.SourceGroup)
	var ordered []*models.SourceGroup
	for rows.Next() {
		var (
			g        models.SourceGroup
			sourceID uuid.UUID
			role     string
		)
		if err := rows.Scan(&g.ID, &g.TenantID, &g.Name, &g.CreatedAt, &sourceID, &role); err != nil {
			return nil, fmt.Errorf("failed to scan source group: %w", err)
		}
		group, seen := byID[g.ID]
		if !seen {
			group = &g
			byID[g.ID] = group
			ordered = append(ordered, group)
		}
		if role == "primary" {
			group.PrimarySourceID = sourceID
		} else {
			group.SecondaryIDs = append(group.SecondaryIDs, sourceID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source groups: %w", err)
	}

	return ordered, nil
}

func (r *sourceGroupRepository) Memberships(ctx context.Context) ([]GroupMembership, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT group_id, source_id, role = 'primary' FROM source_group_members`)
	if err != nil {
		return nil, fmt.Errorf("failed to list group memberships: %w", err)
	}
	defer rows.Close()

	var memberships []GroupMembership
	for rows.Next() {
		var m GroupMembership
		if err := rows.Scan(&m.GroupID, &m.SourceID, &m.Primary); err != nil {
			return nil, fmt.Errorf("failed to scan group membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group memberships: %w", err)
	}

	return memberships, nil
}

func (r *sourceGroupRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM source_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete source group: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

var _ SourceGroupRepository = (*sourceGroupRepository)(nil)
