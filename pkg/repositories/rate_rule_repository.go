package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
	"github.com/hourglass-hq/hourglass-engine/pkg/database"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
)

// RateRuleRepository defines the interface for rate rule access.
type RateRuleRepository interface {
	// Upsert writes a rule, replacing an existing rule with the same
	// (kind, key, client, project) coordinates.
	Upsert(ctx context.Context, rule *models.RateRule) error

	// List retrieves all rules for the tenant.
	List(ctx context.Context) ([]*models.RateRule, error)

	// Delete removes a rule by ID.
	Delete(ctx context.Context, id uuid.UUID) error
}

type rateRuleRepository struct{}

// NewRateRuleRepository creates a new rate rule repository.
func NewRateRuleRepository() RateRuleRepository {
	return &rateRuleRepository{}
}

func (r *rateRuleRepository) Upsert(ctx context.Context, rule *models.RateRule) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	rule.CreatedAt = time.Now()

	// The unique index coalesces NULL ids, so the conflict target must too.
	query := `
		INSERT INTO rate_rules (tenant_id, kind, key, client_id, project_id, rate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, kind, key,
			COALESCE(client_id, '00000000-0000-0000-0000-000000000000'::uuid),
			COALESCE(project_id, '00000000-0000-0000-0000-000000000000'::uuid))
		DO UPDATE SET rate = EXCLUDED.rate
		RETURNING id`

	err := scope.Conn.QueryRow(ctx, query,
		rule.TenantID, rule.Kind, rule.Key, rule.ClientID, rule.ProjectID,
		rule.Rate, rule.CreatedAt,
	).Scan(&rule.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert rate rule: %w", err)
	}

	return nil
}

func (r *rateRuleRepository) List(ctx context.Context) ([]*models.RateRule, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT id, tenant_id, kind, key, client_id, project_id, rate, created_at
		FROM rate_rules`

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rate rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.RateRule
	for rows.Next() {
		var rr models.RateRule
		err := rows.Scan(&rr.ID, &rr.TenantID, &rr.Kind, &rr.Key,
			&rr.ClientID, &rr.ProjectID, &rr.Rate, &rr.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rate rule: %w", err)
		}
		rules = append(rules, &rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rate rules: %w", err)
	}

	return rules, nil
}

func (r *rateRuleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM rate_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rate rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

var _ RateRuleRepository = (*rateRuleRepository)(nil)
