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

// InvoiceRepository defines the interface for invoice persistence.
// Line items are written once at creation; only the status (and its
// timestamp) is mutable afterwards.
type InvoiceRepository interface {
	// Create persists an invoice with its lines atomically and assigns the
	// next per-tenant invoice number.
	Create(ctx context.Context, invoice *models.Invoice) error

	// GetByID retrieves an invoice with its lines.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)

	// List retrieves the tenant's invoices without lines, newest first.
	List(ctx context.Context) ([]*models.Invoice, error)

	// Transition moves an invoice to the next status. The current status is
	// re-read inside the transaction, so a concurrent transition loses with
	// InvalidStateError rather than silently double-applying.
	Transition(ctx context.Context, id uuid.UUID, next models.InvoiceStatus) (*models.Invoice, error)

	// Delete removes a DRAFT invoice. Issued invoices are immutable.
	Delete(ctx context.Context, id uuid.UUID) error
}

type invoiceRepository struct{}

// NewInvoiceRepository creates a new invoice repository.
func NewInvoiceRepository() InvoiceRepository {
	return &invoiceRepository{}
}

const invoiceColumns = `id, tenant_id, client_id, project_id, number, period_start, period_end,
	currency, status, subtotal, taxes, total, notes, created_at, issued_at, paid_at`

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var inv models.Invoice
	err := row.Scan(
		&inv.ID,
		&inv.TenantID,
		&inv.ClientID,
		&inv.ProjectID,
		&inv.Number,
		&inv.PeriodStart,
		&inv.PeriodEnd,
		&inv.Currency,
		&inv.Status,
		&inv.Subtotal,
		&inv.Taxes,
		&inv.Total,
		&inv.Notes,
		&inv.CreatedAt,
		&inv.IssuedAt,
		&inv.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepository) Create(ctx context.Context, invoice *models.Invoice) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	invoice.Status = models.InvoiceDraft
	invoice.CreatedAt = time.Now()

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	// Numbers are allocated inside the transaction; the unique index on
	// (tenant_id, number) catches a concurrent allocation.
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(number), 0) + 1 FROM invoices WHERE tenant_id = $1`,
		invoice.TenantID,
	).Scan(&invoice.Number)
	if err != nil {
		return fmt.Errorf("failed to allocate invoice number: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO invoices (tenant_id, client_id, project_id, number, period_start, period_end,
			currency, status, subtotal, taxes, total, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		invoice.TenantID, invoice.ClientID, invoice.ProjectID, invoice.Number,
		invoice.PeriodStart, invoice.PeriodEnd, invoice.Currency, invoice.Status,
		invoice.Subtotal, invoice.Taxes, invoice.Total, invoice.Notes, invoice.CreatedAt,
	).Scan(&invoice.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	for i := range invoice.LineItems {
		line := &invoice.LineItems[i]
		line.InvoiceID = invoice.ID
		line.SortOrder = i
		err := tx.QueryRow(ctx, `
			INSERT INTO invoice_lines (tenant_id, invoice_id, description, hours, rate, amount, group_key, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			invoice.TenantID, line.InvoiceID, line.Description,
			line.Hours, line.Rate, line.Amount, line.GroupKey, line.SortOrder,
		).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("failed to create invoice line: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *invoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	invoice, err := scanInvoice(scope.Conn.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, invoice_id, description, hours, rate, amount, group_key, sort_order
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY sort_order`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line models.InvoiceLine
		err := rows.Scan(&line.ID, &line.InvoiceID, &line.Description,
			&line.Hours, &line.Rate, &line.Amount, &line.GroupKey, &line.SortOrder)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		invoice.LineItems = append(invoice.LineItems, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoice lines: %w", err)
	}

	return invoice, nil
}

func (r *invoiceRepository) List(ctx context.Context) ([]*models.Invoice, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices ORDER BY number DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoices: %w", err)
	}

	return invoices, nil
}

func (r *invoiceRepository) Transition(ctx context.Context, id uuid.UUID, next models.InvoiceStatus) (*models.Invoice, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	var current models.InvoiceStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM invoices WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invoice status: %w", err)
	}

	if !current.CanTransitionTo(next) {
		required := models.InvoiceDraft
		if next == models.InvoicePaid {
			required = models.InvoiceIssued
		}
		return nil, &apperrors.InvalidStateError{
			Entity:   "invoice",
			Current:  string(current),
			Required: string(required),
		}
	}

	now := time.Now()
	var query string
	switch next {
	case models.InvoiceIssued:
		query = `UPDATE invoices SET status = $2, issued_at = $3 WHERE id = $1`
	case models.InvoicePaid:
		query = `UPDATE invoices SET status = $2, paid_at = $3 WHERE id = $1`
	default:
		return nil, fmt.Errorf("unsupported transition target %q", next)
	}

	if _, err := tx.Exec(ctx, query, id, next, now); err != nil {
		return nil, fmt.Errorf("failed to transition invoice: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return r.GetByID(ctx, id)
}

func (r *invoiceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	result, err := scope.Conn.Exec(ctx,
		`DELETE FROM invoices WHERE id = $1 AND status = $2`, id, models.InvoiceDraft)
	if err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Either missing or no longer a draft; distinguish for the caller.
		var status models.InvoiceStatus
		err := scope.Conn.QueryRow(ctx, `SELECT status FROM invoices WHERE id = $1`, id).Scan(&status)
		if err == pgx.ErrNoRows {
			return apperrors.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check invoice status: %w", err)
		}
		return &apperrors.InvalidStateError{
			Entity:   "invoice",
			Current:  string(status),
			Required: string(models.InvoiceDraft),
		}
	}

	return nil
}

var _ InvoiceRepository = (*invoiceRepository)(nil)
