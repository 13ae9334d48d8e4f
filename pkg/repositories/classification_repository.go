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

// ClassificationRepository defines the interface for worklog classification
// access. Worklogs without a classification row are billable by default.
type ClassificationRepository interface {
	// Upsert writes a classification, replacing any existing one for the
	// worklog.
	Upsert(ctx context.Context, c *models.WorklogClassification) error

	// GetByWorklogIDs retrieves classifications keyed by worklog ID.
	GetByWorklogIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.WorklogClassification, error)

	// Delete removes a classification, restoring the billable default.
	Delete(ctx context.Context, worklogID uuid.UUID) error
}

type classificationRepository struct{}

// NewClassificationRepository creates a new classification repository.
func NewClassificationRepository() ClassificationRepository {
	return &classificationRepository{}
}

func (r *classificationRepository) Upsert(ctx context.Context, c *models.WorklogClassification) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	c.UpdatedAt = time.Now()

	query := `
		INSERT INTO worklog_classifications (worklog_id, tenant_id, billable, override_rate, note, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (worklog_id) DO UPDATE SET
			billable = EXCLUDED.billable,
			override_rate = EXCLUDED.override_rate,
			note = EXCLUDED.note,
			updated_at = EXCLUDED.updated_at`

	_, err := scope.Conn.Exec(ctx, query,
		c.WorklogID, c.TenantID, c.Billable, c.OverrideRate, c.Note, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert classification: %w", err)
	}

	return nil
}

func (r *classificationRepository) GetByWorklogIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.WorklogClassification, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}
	if len(ids) == 0 {
		return map[uuid.UUID]*models.WorklogClassification{}, nil
	}

	query := `
		SELECT worklog_id, tenant_id, billable, override_rate, note, updated_at
		FROM worklog_classifications
		WHERE worklog_id = ANY($1)`

	rows, err := scope.Conn.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get classifications: %w", err)
	}
	defer rows.Close()

	classifications := make(map[uuid.UUID]*models.WorklogClassification)
	for rows.Next() {
		var c models.WorklogClassification
		if err := rows.Scan(&c.WorklogID, &c.TenantID, &c.Billable, &c.OverrideRate, &c.Note, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan classification: %w", err)
		}
		classifications[c.WorklogID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating classifications: %w", err)
	}

	return classifications, nil
}

func (r *classificationRepository) Delete(ctx context.Context, worklogID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	result, err := scope.Conn.Exec(ctx,
		`DELETE FROM worklog_classifications WHERE worklog_id = $1`, worklogID)
	if err != nil {
		return fmt.Errorf("failed to delete classification: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

var _ ClassificationRepository = (*classificationRepository)(nil)
