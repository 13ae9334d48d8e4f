package repositories

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
	"github.com/hourglass-hq/hourglass-engine/pkg/database"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
)

// WorklogFilter narrows worklog queries. Zero values mean "no constraint".
// SourceIDs is populated by the reconciliation layer; an explicit empty
// non-nil slice matches nothing.
type WorklogFilter struct {
	From         time.Time
	To           time.Time
	SourceIDs    []uuid.UUID
	AuthorEmail  string
	TargetPrefix string
}

// UpsertResult separates new rows from refreshed ones so sync runs can report
// both counts.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// WorklogStats summarizes a source's stored worklogs.
type WorklogStats struct {
	Count        int64
	TotalSeconds int64
	EarliestAt   *time.Time
	LatestAt     *time.Time
}

// WorklogRepository defines the interface for canonical worklog storage.
type WorklogRepository interface {
	// UpsertBatch writes a batch of records idempotently. Re-ingesting an
	// (tenant, source, external id) triple updates the row in place.
	UpsertBatch(ctx context.Context, records []*models.WorklogRecord) (UpsertResult, error)

	// List retrieves worklogs matching the filter, ordered by start time.
	List(ctx context.Context, filter WorklogFilter) ([]*models.WorklogRecord, error)

	// GetByID retrieves a single worklog.
	GetByID(ctx context.Context, id uuid.UUID) (*models.WorklogRecord, error)

	// DeleteBySourceRange removes a source's worklogs inside a period.
	// Supports re-sync-from-scratch of a corrupted window.
	DeleteBySourceRange(ctx context.Context, sourceID uuid.UUID, from, to time.Time) (int64, error)

	// Stats summarizes a source's stored worklogs (count, total duration,
	// covered date range).
	Stats(ctx context.Context, sourceID uuid.UUID) (WorklogStats, error)
}

type worklogRepository struct{}

// NewWorklogRepository creates a new worklog repository.
func NewWorklogRepository() WorklogRepository {
	return &worklogRepository{}
}

const worklogColumns = `id, tenant_id, source_id, external_id, author_email, author_name,
	target_key, target_summary, container_key, container_name,
	started_at, duration_seconds, comment, synced_at`

func scanWorklog(row pgx.Row) (*models.WorklogRecord, error) {
	var w models.WorklogRecord
	err := row.Scan(
		&w.ID,
		&w.TenantID,
		&w.SourceID,
		&w.ExternalID,
		&w.AuthorEmail,
		&w.AuthorName,
		&w.TargetKey,
		&w.TargetSummary,
		&w.ContainerKey,
		&w.ContainerName,
		&w.StartedAt,
		&w.DurationSeconds,
		&w.Comment,
		&w.SyncedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *worklogRepository) UpsertBatch(ctx context.Context, records []*models.WorklogRecord) (UpsertResult, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return UpsertResult{}, apperrors.ErrNoTenantScope
	}
	if len(records) == 0 {
		return UpsertResult{}, nil
	}

	// xmax = 0 distinguishes a fresh insert from a conflict-update.
	query := `
		INSERT INTO worklogs (tenant_id, source_id, external_id, author_email, author_name,
			target_key, target_summary, container_key, container_name,
			started_at, duration_seconds, comment, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tenant_id, source_id, external_id) DO UPDATE SET
			author_email = EXCLUDED.author_email,
			author_name = EXCLUDED.author_name,
			target_key = EXCLUDED.target_key,
			target_summary = EXCLUDED.target_summary,
			container_key = EXCLUDED.container_key,
			container_name = EXCLUDED.container_name,
			started_at = EXCLUDED.started_at,
			duration_seconds = EXCLUDED.duration_seconds,
			comment = EXCLUDED.comment,
			synced_at = EXCLUDED.synced_at
		RETURNING id, (xmax = 0) AS inserted`

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	now := time.Now()
	var result UpsertResult
	for _, rec := range records {
		rec.SyncedAt = now
		var inserted bool
		err := tx.QueryRow(ctx, query,
			rec.TenantID,
			rec.SourceID,
			rec.ExternalID,
			rec.AuthorEmail,
			rec.AuthorName,
			rec.TargetKey,
			rec.TargetSummary,
			rec.ContainerKey,
			rec.ContainerName,
			rec.StartedAt,
			rec.DurationSeconds,
			rec.Comment,
			rec.SyncedAt,
		).Scan(&rec.ID, &inserted)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("failed to upsert worklog %s: %w", rec.ExternalID, err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

func (r *worklogRepository) List(ctx context.Context, filter WorklogFilter) ([]*models.WorklogRecord, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if !filter.From.IsZero() {
		conds = append(conds, "started_at >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "started_at < "+arg(filter.To))
	}
	if filter.SourceIDs != nil {
		conds = append(conds, "source_id = ANY("+arg(filter.SourceIDs)+")")
	}
	if filter.AuthorEmail != "" {
		conds = append(conds, "author_email = "+arg(filter.AuthorEmail))
	}
	if filter.TargetPrefix != "" {
		conds = append(conds, "target_key LIKE "+arg(filter.TargetPrefix+"-%"))
	}

	query := `SELECT ` + worklogColumns + ` FROM worklogs`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY started_at, id`

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list worklogs: %w", err)
	}
	defer rows.Close()

	var worklogs []*models.WorklogRecord
	for rows.Next() {
		w, err := scanWorklog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worklog: %w", err)
		}
		worklogs = append(worklogs, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating worklogs: %w", err)
	}

	return worklogs, nil
}

func (r *worklogRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WorklogRecord, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `SELECT ` + worklogColumns + ` FROM worklogs WHERE id = $1`

	w, err := scanWorklog(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get worklog: %w", err)
	}

	return w, nil
}

func (r *worklogRepository) DeleteBySourceRange(ctx context.Context, sourceID uuid.UUID, from, to time.Time) (int64, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, apperrors.ErrNoTenantScope
	}

	result, err := scope.Conn.Exec(ctx,
		`DELETE FROM worklogs WHERE source_id = $1 AND started_at >= $2 AND started_at < $3`,
		sourceID, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to delete worklogs: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *worklogRepository) Stats(ctx context.Context, sourceID uuid.UUID) (WorklogStats, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return WorklogStats{}, apperrors.ErrNoTenantScope
	}

	var stats WorklogStats
	err := scope.Conn.QueryRow(ctx,
		`SELECT count(*), coalesce(sum(duration_seconds), 0), min(started_at), max(started_at)
		 FROM worklogs WHERE source_id = $1`,
		sourceID).Scan(&stats.Count, &stats.TotalSeconds, &stats.EarliestAt, &stats.LatestAt)
	if err != nil {
		return WorklogStats{}, fmt.Errorf("failed to aggregate worklog stats: %w", err)
	}

	return stats, nil
}

var _ WorklogRepository = (*worklogRepository)(nil)
