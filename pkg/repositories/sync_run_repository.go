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

// SyncRunRepository defines the interface for sync run persistence.
//
// A RUNNING row is the cross-process lock for its (tenant, source) pair. The
// partial unique index makes Acquire race-free: two concurrent attempts
// resolve to exactly one RUNNING row without advisory locks or coordination
// outside the database.
type SyncRunRepository interface {
	// Acquire inserts a RUNNING run, taking the source's sync lock.
	// Returns ErrSyncInProgress if a RUNNING run already exists.
	Acquire(ctx context.Context, run *models.SyncRun) error

	// Heartbeat refreshes the liveness timestamp of a RUNNING run and
	// returns whether cancellation was requested since the last beat.
	Heartbeat(ctx context.Context, id uuid.UUID) (cancelRequested bool, err error)

	// UpdateProgress persists counters and per-batch results mid-run.
	UpdateProgress(ctx context.Context, run *models.SyncRun) error

	// Close moves a RUNNING run to a terminal status and releases the lock.
	// Closing an already-terminal run is a no-op, which makes crash recovery
	// and cancellation races safe to replay.
	Close(ctx context.Context, run *models.SyncRun, status models.SyncRunStatus, runErr error) error

	// RequestCancel flags a RUNNING run for cooperative cancellation.
	// Returns ErrRunNotCancelable if the run is already terminal.
	RequestCancel(ctx context.Context, id uuid.UUID) error

	// GetByID retrieves a run.
	GetByID(ctx context.Context, id uuid.UUID) (*models.SyncRun, error)

	// ListBySource retrieves a source's runs, newest first.
	ListBySource(ctx context.Context, sourceID uuid.UUID, limit int) ([]*models.SyncRun, error)

	// SweepStale fails RUNNING runs whose heartbeat is older than the
	// threshold. Crashed processes leave such rows behind; sweeping them
	// releases the lock. Operates across tenants.
	SweepStale(ctx context.Context, db *database.DB, threshold time.Duration) (int64, error)
}

type syncRunRepository struct{}

// NewSyncRunRepository creates a new sync run repository.
func NewSyncRunRepository() SyncRunRepository {
	return &syncRunRepository{}
}

const syncRunColumns = `id, tenant_id, source_id, period_start, period_end, status,
	records_processed, records_inserted, records_updated, skipped_batches,
	batches, cancel_requested, error, started_at, heartbeat_at, completed_at`

func scanSyncRun(row pgx.Row) (*models.SyncRun, error) {
	var run models.SyncRun
	err := row.Scan(
		&run.ID,
		&run.TenantID,
		&run.SourceID,
		&run.PeriodStart,
		&run.PeriodEnd,
		&run.Status,
		&run.RecordsProcessed,
		&run.RecordsInserted,
		&run.RecordsUpdated,
		&run.SkippedBatches,
		&run.Batches,
		&run.CancelRequested,
		&run.Error,
		&run.StartedAt,
		&run.HeartbeatAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *syncRunRepository) Acquire(ctx context.Context, run *models.SyncRun) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	now := time.Now()
	run.Status = models.SyncRunning
	run.StartedAt = now
	run.HeartbeatAt = now
	if run.Batches == nil {
		run.Batches = models.BatchResults{}
	}

	query := `
		INSERT INTO sync_runs (tenant_id, source_id, period_start, period_end, status,
			batches, started_at, heartbeat_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := scope.Conn.QueryRow(ctx, query,
		run.TenantID,
		run.SourceID,
		run.PeriodStart,
		run.PeriodEnd,
		run.Status,
		run.Batches,
		run.StartedAt,
		run.HeartbeatAt,
	).Scan(&run.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrSyncInProgress
		}
		return fmt.Errorf("failed to acquire sync run: %w", err)
	}

	return nil
}

func (r *syncRunRepository) Heartbeat(ctx context.Context, id uuid.UUID) (bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, apperrors.ErrNoTenantScope
	}

	var cancelRequested bool
	err := scope.Conn.QueryRow(ctx, `
		UPDATE sync_runs SET heartbeat_at = $2
		WHERE id = $1 AND status = $3
		RETURNING cancel_requested`,
		id, time.Now(), models.SyncRunning,
	).Scan(&cancelRequested)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, apperrors.ErrNotFound
		}
		return false, fmt.Errorf("failed to heartbeat sync run: %w", err)
	}

	return cancelRequested, nil
}

func (r *syncRunRepository) UpdateProgress(ctx context.Context, run *models.SyncRun) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	query := `
		UPDATE sync_runs
		SET records_processed = $2, records_inserted = $3, records_updated = $4,
		    skipped_batches = $5, batches = $6, heartbeat_at = $7
		WHERE id = $1 AND status = $8`

	_, err := scope.Conn.Exec(ctx, query,
		run.ID,
		run.RecordsProcessed,
		run.RecordsInserted,
		run.RecordsUpdated,
		run.SkippedBatches,
		run.Batches,
		time.Now(),
		models.SyncRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync run progress: %w", err)
	}

	return nil
}

func (r *syncRunRepository) Close(ctx context.Context, run *models.SyncRun, status models.SyncRunStatus, runErr error) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}
	if !status.Terminal() {
		return fmt.Errorf("cannot close sync run with non-terminal status %q", status)
	}

	var errText *string
	if runErr != nil {
		s := runErr.Error()
		errText = &s
	}
	now := time.Now()

	// The status guard makes Close idempotent: only the RUNNING row moves.
	query := `
		UPDATE sync_runs
		SET status = $2, records_processed = $3, records_inserted = $4,
		    records_updated = $5, skipped_batches = $6, batches = $7,
		    error = $8, completed_at = $9
		WHERE id = $1 AND status = $10`

	_, err := scope.Conn.Exec(ctx, query,
		run.ID,
		status,
		run.RecordsProcessed,
		run.RecordsInserted,
		run.RecordsUpdated,
		run.SkippedBatches,
		run.Batches,
		errText,
		now,
		models.SyncRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to close sync run: %w", err)
	}

	run.Status = status
	run.Error = errText
	run.CompletedAt = &now

	return nil
}

func (r *syncRunRepository) RequestCancel(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	result, err := scope.Conn.Exec(ctx,
		`UPDATE sync_runs SET cancel_requested = TRUE WHERE id = $1 AND status = $2`,
		id, models.SyncRunning)
	if err != nil {
		return fmt.Errorf("failed to request sync cancellation: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		err := scope.Conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sync_runs WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check sync run: %w", err)
		}
		if !exists {
			return apperrors.ErrNotFound
		}
		return apperrors.ErrRunNotCancelable
	}

	return nil
}

func (r *syncRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	run, err := scanSyncRun(scope.Conn.QueryRow(ctx,
		`SELECT `+syncRunColumns+` FROM sync_runs WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}

	return run, nil
}

func (r *syncRunRepository) ListBySource(ctx context.Context, sourceID uuid.UUID, limit int) ([]*models.SyncRun, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT `+syncRunColumns+` FROM sync_runs WHERE source_id = $1 ORDER BY started_at DESC LIMIT $2`,
		sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}

	return runs, nil
}

func (r *syncRunRepository) SweepStale(ctx context.Context, db *database.DB, threshold time.Duration) (int64, error) {
	// The sweeper runs without a tenant scope: a crashed process cannot be
	// relied on to know which tenants it was serving.
	scope, err := db.WithoutTenant(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer scope.Close()

	cutoff := time.Now().Add(-threshold)
	result, err := scope.Conn.Exec(ctx, `
		UPDATE sync_runs
		SET status = $1, error = 'reclaimed: heartbeat expired', completed_at = now()
		WHERE status = $2 AND heartbeat_at < $3`,
		models.SyncFailed, models.SyncRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale sync runs: %w", err)
	}

	return result.RowsAffected(), nil
}

var _ SyncRunRepository = (*syncRunRepository)(nil)
