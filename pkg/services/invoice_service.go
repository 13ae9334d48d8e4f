package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/repositories"
)

// PreviewRequest scopes an invoice preview computation. ProjectID narrows
// the preview to one project; when nil all of the client's projects are
// billed together.
type PreviewRequest struct {
	ClientID    uuid.UUID
	ProjectID   *uuid.UUID
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// InvoiceService computes previews and drives the invoice lifecycle
// DRAFT -> ISSUED -> PAID.
type InvoiceService interface {
	// GeneratePreview computes unsaved line items for a client and period.
	// Pure read: nothing is persisted.
	GeneratePreview(ctx context.Context, req PreviewRequest) (*models.InvoicePreview, error)

	// CreateInvoice persists a preview snapshot as a DRAFT invoice.
	CreateInvoice(ctx context.Context, preview *models.InvoicePreview) (*models.Invoice, error)

	// Issue moves a DRAFT invoice to ISSUED, freezing its line items.
	Issue(ctx context.Context, id uuid.UUID) (*models.Invoice, error)

	// MarkPaid moves an ISSUED invoice to PAID.
	MarkPaid(ctx context.Context, id uuid.UUID) (*models.Invoice, error)

	// GetInvoice retrieves an invoice with its lines.
	GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error)

	// ListInvoices retrieves the tenant's invoices.
	ListInvoices(ctx context.Context) ([]*models.Invoice, error)

	// DeleteInvoice removes a DRAFT invoice.
	DeleteInvoice(ctx context.Context, id uuid.UUID) error

	// ExportCSV writes the invoice's lines as a tabular document. Output is
	// byte-identical for the same invoice state.
	ExportCSV(ctx context.Context, id uuid.UUID, w io.Writer) error
}

type invoiceService struct {
	invoiceRepo        repositories.InvoiceRepository
	clientRepo         repositories.ClientRepository
	classificationRepo repositories.ClassificationRepository
	reconciliation     ReconciliationService
	rates              RateService
	logger             *zap.Logger
}

// NewInvoiceService creates a new invoice service.
func NewInvoiceService(
	invoiceRepo repositories.InvoiceRepository,
	clientRepo repositories.ClientRepository,
	classificationRepo repositories.ClassificationRepository,
	reconciliation ReconciliationService,
	rates RateService,
	logger *zap.Logger,
) InvoiceService {
	return &invoiceService{
		invoiceRepo:        invoiceRepo,
		clientRepo:         clientRepo,
		classificationRepo: classificationRepo,
		reconciliation:     reconciliation,
		rates:              rates,
		logger:             logger.Named("invoice-service"),
	}
}

var _ InvoiceService = (*invoiceService)(nil)

func (s *invoiceService) GeneratePreview(ctx context.Context, req PreviewRequest) (*models.InvoicePreview, error) {
	if !req.PeriodStart.Before(req.PeriodEnd) {
		return nil, fmt.Errorf("%w: period start must precede period end", apperrors.ErrInvalidInput)
	}

	client, err := s.clientRepo.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	resolver, err := s.rates.Resolver(ctx)
	if err != nil {
		return nil, err
	}

	worklogs, err := s.reconciliation.ResolveWorklogs(ctx, req.PeriodStart, req.PeriodEnd, AggregateScope)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(worklogs))
	for i, w := range worklogs {
		ids[i] = w.ID
	}
	classifications, err := s.classificationRepo.GetByWorklogIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	preview := &models.InvoicePreview{
		ClientID:    req.ClientID,
		ProjectID:   req.ProjectID,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		Currency:    client.Currency,
		GroupBy:     "container",
	}

	type lineAccum struct {
		description string
		seconds     int
		rate        decimal.Decimal
	}
	groups := make(map[string]*lineAccum)

	for _, w := range worklogs {
		project := resolver.ProjectFor(w)
		if project == nil || project.ClientID != req.ClientID {
			continue
		}
		if req.ProjectID != nil && project.ID != *req.ProjectID {
			continue
		}

		class := classifications[w.ID]
		rate := resolver.Resolve(w, class)
		hours := decimal.NewFromInt(int64(w.DurationSeconds)).Div(decimal.NewFromInt(3600))

		if class != nil && !class.Billable {
			preview.NonBillableHours = preview.NonBillableHours.Add(hours)
			continue
		}
		preview.BillableHours = preview.BillableHours.Add(hours)

		// Lines group by container when the source reported one, otherwise
		// by target. Work at different rates never shares a line.
		groupKey := w.TargetKey
		description := w.TargetSummary
		if w.ContainerKey != nil && *w.ContainerKey != "" {
			groupKey = *w.ContainerKey
			if w.ContainerName != nil && *w.ContainerName != "" {
				description = *w.ContainerName
			} else {
				description = *w.ContainerKey
			}
		}
		if description == "" {
			description = groupKey
		}
		key := groupKey + "\x00" + rate.String()

		acc, ok := groups[key]
		if !ok {
			acc = &lineAccum{description: description, rate: rate}
			groups[key] = acc
		}
		acc.seconds += w.DurationSeconds
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i, k := range keys {
		acc := groups[k]
		hours := decimal.NewFromInt(int64(acc.seconds)).Div(decimal.NewFromInt(3600))
		// Rounding happens once, at the line-item boundary.
		amount := acc.rate.Mul(hours).Round(2)
		preview.LineItems = append(preview.LineItems, models.InvoiceLine{
			Description: acc.description,
			Hours:       hours.Round(2),
			Rate:        acc.rate,
			Amount:      amount,
			GroupKey:    k,
			SortOrder:   i,
		})
		preview.Subtotal = preview.Subtotal.Add(amount)
	}

	return preview, nil
}

func (s *invoiceService) CreateInvoice(ctx context.Context, preview *models.InvoicePreview) (*models.Invoice, error) {
	if len(preview.LineItems) == 0 {
		return nil, fmt.Errorf("%w: preview has no line items", apperrors.ErrInvalidInput)
	}

	invoice := &models.Invoice{
		ClientID:    preview.ClientID,
		ProjectID:   preview.ProjectID,
		PeriodStart: preview.PeriodStart,
		PeriodEnd:   preview.PeriodEnd,
		Currency:    preview.Currency,
		Status:      models.InvoiceDraft,
		Subtotal:    preview.Subtotal,
		Total:       preview.Subtotal,
		LineItems:   preview.LineItems,
	}

	if err := s.invoiceRepo.Create(ctx, invoice); err != nil {
		return nil, err
	}

	s.logger.Info("invoice created",
		zap.String("invoice_id", invoice.ID.String()),
		zap.Int("number", invoice.Number),
		zap.Int("lines", len(invoice.LineItems)))

	return invoice, nil
}

func (s *invoiceService) Issue(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return s.invoiceRepo.Transition(ctx, id, models.InvoiceIssued)
}

func (s *invoiceService) MarkPaid(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return s.invoiceRepo.Transition(ctx, id, models.InvoicePaid)
}

func (s *invoiceService) GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return s.invoiceRepo.GetByID(ctx, id)
}

func (s *invoiceService) ListInvoices(ctx context.Context) ([]*models.Invoice, error) {
	return s.invoiceRepo.List(ctx)
}

func (s *invoiceService) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	return s.invoiceRepo.Delete(ctx, id)
}

// ExportCSV emits description, hours, rate, amount rows in line order.
// Lines are stored with a fixed sort order and decimals render with a fixed
// scale, so repeated exports of the same invoice state are byte-identical.
func (s *invoiceService) ExportCSV(ctx context.Context, id uuid.UUID, w io.Writer) error {
	invoice, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"description", "hours", "rate", "amount"}); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, line := range invoice.LineItems {
		record := []string{
			line.Description,
			line.Hours.StringFixed(2),
			line.Rate.StringFixed(2),
			line.Amount.StringFixed(2),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv line: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
