//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/testhelpers"
)

func createTestClient(t *testing.T, ctx context.Context, tenantID uuid.UUID) *models.Client {
	t.Helper()

	client := &models.Client{
		TenantID: tenantID,
		Name:     "client-" + uuid.NewString(),
		Currency: "EUR",
	}
	if err := NewClientRepository().CreateClient(ctx, client); err != nil {
		t.Fatalf("Failed to create test client: %v", err)
	}
	return client
}

func testInvoice(tenantID, clientID uuid.UUID) *models.Invoice {
	hours := decimal.NewFromFloat(10.5)
	rate := decimal.NewFromInt(90)
	amount := hours.Mul(rate)
	return &models.Invoice{
		TenantID:    tenantID,
		ClientID:    clientID,
		PeriodStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Currency:    "EUR",
		Subtotal:    amount,
		Taxes:       decimal.Zero,
		Total:       amount,
		LineItems: []models.InvoiceLine{
			{Description: "Development", Hours: hours, Rate: rate, Amount: amount, GroupKey: "PROJ"},
		},
	}
}

func TestInvoiceRepository_CreateAssignsSequentialNumbers(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	tenantID := createTestTenant(t, engineDB)
	ctx, cleanup := tenantContext(t, engineDB, tenantID)
	defer cleanup()

	client := createTestClient(t, ctx, tenantID)
	repo := NewInvoiceRepository()

	first := testInvoice(tenantID, client.ID)
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second := testInvoice(tenantID, client.ID)
	if err := repo.Create(ctx, second); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if first.Number != 1 || second.Number != 2 {
		t.Errorf("expected numbers 1 and 2, got %d and %d", first.Number, second.Number)
	}
	if first.Status != models.InvoiceDraft {
		t.Errorf("new invoice must be DRAFT, got %s", first.Status)
	}

	got, err := repo.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got.LineItems) != 1 {
		t.Fatalf("expected 1 line item, got %d", len(got.LineItems))
	}
	if !got.LineItems[0].Amount.Equal(decimal.NewFromFloat(945)) {
		t.Errorf("expected amount 945, got %s", got.LineItems[0].Amount)
	}
}

func TestInvoiceRepository_TransitionGuards(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	tenantID := createTestTenant(t, engineDB)
	ctx, cleanup := tenantContext(t, engineDB, tenantID)
	defer cleanup()

	client := createTestClient(t, ctx, tenantID)
	repo := NewInvoiceRepository()

	invoice := testInvoice(tenantID, client.ID)
	if err := repo.Create(ctx, invoice); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// DRAFT cannot jump straight to PAID.
	if _, err := repo.Transition(ctx, invoice.ID, models.InvoicePaid); !apperrors.IsInvalidState(err) {
		t.Fatalf("expected InvalidStateError for DRAFT -> PAID, got %v", err)
	}

	issued, err := repo.Transition(ctx, invoice.ID, models.InvoiceIssued)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if issued.Status != models.InvoiceIssued || issued.IssuedAt == nil {
		t.Errorf("issued invoice must carry status and timestamp: %+v", issued)
	}

	// Re-issuing is rejected, the state machine has no self-loops.
	if _, err := repo.Transition(ctx, invoice.ID, models.InvoiceIssued); !apperrors.IsInvalidState(err) {
		t.Errorf("expected InvalidStateError for repeat issue, got %v", err)
	}

	paid, err := repo.Transition(ctx, invoice.ID, models.InvoicePaid)
	if err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}
	if paid.Status != models.InvoicePaid || paid.PaidAt == nil {
		t.Errorf("paid invoice must carry status and timestamp: %+v", paid)
	}

	// Issued invoices are immutable, deletion only works on drafts.
	if err := repo.Delete(ctx, invoice.ID); !apperrors.IsInvalidState(err) {
		t.Errorf("expected InvalidStateError deleting a paid invoice, got %v", err)
	}
}
