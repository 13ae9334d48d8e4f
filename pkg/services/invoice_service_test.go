package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
)

type invoiceFixture struct {
	svc                InvoiceService
	invoiceRepo        *mockInvoiceRepo
	classificationRepo *mockClassificationRepo
	worklogRepo        *mockWorklogRepo
	tenantID           uuid.UUID
	sourceID           uuid.UUID
	client             *models.Client
	project            *models.ClientProject
}

// newInvoiceFixture wires one client with a project billed at 90/h through
// a project default rule.
func newInvoiceFixture(t *testing.T) *invoiceFixture {
	t.Helper()
	ctx := context.Background()

	tenantID := uuid.New()
	sourceRepo := newMockSourceRepo()
	source := sourceRepo.add(&models.Source{TenantID: tenantID, Name: "jira", Active: true})

	clientRepo := newMockClientRepo()
	client := &models.Client{TenantID: tenantID, Name: "Acme", Currency: "EUR"}
	require.NoError(t, clientRepo.CreateClient(ctx, client))

	project := &models.ClientProject{
		TenantID: tenantID,
		ClientID: client.ID,
		Name:     "Platform",
		Mappings: []models.ProjectMapping{{SourceID: source.ID, TargetPrefix: "PROJ"}},
	}
	require.NoError(t, clientRepo.CreateProject(ctx, project))

	ruleRepo := newMockRuleRepo()
	rates := NewRateService(ruleRepo, clientRepo, zap.NewNop())
	require.NoError(t, rates.UpsertRule(ctx, &models.RateRule{
		TenantID:  tenantID,
		Kind:      models.RateRuleProjectDefault,
		ProjectID: &project.ID,
		Rate:      decimal.NewFromInt(90),
	}))

	worklogRepo := newMockWorklogRepo()
	reconciliation := NewReconciliationService(sourceRepo, newMockGroupRepo(), worklogRepo, zap.NewNop())

	invoiceRepo := newMockInvoiceRepo()
	classificationRepo := newMockClassificationRepo()

	svc := NewInvoiceService(invoiceRepo, clientRepo, classificationRepo,
		reconciliation, rates, zap.NewNop())

	return &invoiceFixture{
		svc:                svc,
		invoiceRepo:        invoiceRepo,
		classificationRepo: classificationRepo,
		worklogRepo:        worklogRepo,
		tenantID:           tenantID,
		sourceID:           source.ID,
		client:             client,
		project:            project,
	}
}

func (f *invoiceFixture) seed(t *testing.T, externalID, targetKey string, containerKey string, seconds int) *models.WorklogRecord {
	t.Helper()
	rec := &models.WorklogRecord{
		TenantID:        f.tenantID,
		SourceID:        f.sourceID,
		ExternalID:      externalID,
		AuthorEmail:     "dev@example.com",
		TargetKey:       targetKey,
		TargetSummary:   targetKey + " work",
		StartedAt:       time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		DurationSeconds: seconds,
	}
	if containerKey != "" {
		rec.ContainerKey = &containerKey
	}
	_, err := f.worklogRepo.UpsertBatch(context.Background(), []*models.WorklogRecord{rec})
	require.NoError(t, err)
	return rec
}

func (f *invoiceFixture) period() PreviewRequest {
	return PreviewRequest{
		ClientID:    f.client.ID,
		PeriodStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestInvoice_PreviewGroupsByContainer(t *testing.T) {
	f := newInvoiceFixture(t)
	f.seed(t, "w-1", "PROJ-1", "EPIC-1", 3600)
	f.seed(t, "w-2", "PROJ-2", "EPIC-1", 5400)
	f.seed(t, "w-3", "PROJ-3", "", 1800)

	preview, err := f.svc.GeneratePreview(context.Background(), f.period())
	require.NoError(t, err)

	require.Len(t, preview.LineItems, 2)

	// EPIC-1 sorts before PROJ-3.
	epic := preview.LineItems[0]
	assert.Equal(t, "EPIC-1", epic.Description)
	assert.Equal(t, "2.50", epic.Hours.StringFixed(2))
	assert.Equal(t, "225.00", epic.Amount.StringFixed(2))

	single := preview.LineItems[1]
	assert.Equal(t, "PROJ-3 work", single.Description)
	assert.Equal(t, "45.00", single.Amount.StringFixed(2))

	assert.Equal(t, "270.00", preview.Subtotal.StringFixed(2))
	assert.Equal(t, "3.00", preview.BillableHours.StringFixed(2))
}

// Rounding happens once per line: 100 records of 1 minute at 90/h make one
// line of 90 * (100/60) = 150.00, not 100 rounded minute amounts.
func TestInvoice_PreviewRoundsAtLineBoundaryOnly(t *testing.T) {
	f := newInvoiceFixture(t)
	for i := 0; i < 100; i++ {
		f.seed(t, uuid.NewString(), "PROJ-1", "EPIC-1", 60)
	}

	preview, err := f.svc.GeneratePreview(context.Background(), f.period())
	require.NoError(t, err)

	require.Len(t, preview.LineItems, 1)
	assert.Equal(t, "150.00", preview.LineItems[0].Amount.StringFixed(2))
}

func TestInvoice_PreviewExcludesNonBillable(t *testing.T) {
	f := newInvoiceFixture(t)
	f.seed(t, "w-1", "PROJ-1", "", 3600)
	excluded := f.seed(t, "w-2", "PROJ-2", "", 7200)

	require.NoError(t, f.classificationRepo.Upsert(context.Background(), &models.WorklogClassification{
		WorklogID: excluded.ID,
		TenantID:  f.tenantID,
		Billable:  false,
	}))

	preview, err := f.svc.GeneratePreview(context.Background(), f.period())
	require.NoError(t, err)

	assert.Equal(t, "90.00", preview.Subtotal.StringFixed(2))
	assert.Equal(t, "1.00", preview.BillableHours.StringFixed(2))
	assert.Equal(t, "2.00", preview.NonBillableHours.StringFixed(2))
}

func TestInvoice_PreviewIgnoresOtherClientsWork(t *testing.T) {
	f := newInvoiceFixture(t)
	f.seed(t, "w-1", "PROJ-1", "", 3600)
	f.seed(t, "w-2", "OTHER-1", "", 3600) // no mapping matches

	preview, err := f.svc.GeneratePreview(context.Background(), f.period())
	require.NoError(t, err)

	require.Len(t, preview.LineItems, 1)
	assert.Equal(t, "90.00", preview.Subtotal.StringFixed(2))
}

func TestInvoice_LifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	f := newInvoiceFixture(t)
	f.seed(t, "w-1", "PROJ-1", "", 3600)

	preview, err := f.svc.GeneratePreview(ctx, f.period())
	require.NoError(t, err)

	invoice, err := f.svc.CreateInvoice(ctx, preview)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceDraft, invoice.Status)
	assert.Equal(t, 1, invoice.Number)

	// DRAFT cannot skip to PAID.
	_, err = f.svc.MarkPaid(ctx, invoice.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidState(err))

	issued, err := f.svc.Issue(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceIssued, issued.Status)
	assert.NotNil(t, issued.IssuedAt)

	// Issuing twice is rejected.
	_, err = f.svc.Issue(ctx, invoice.ID)
	assert.True(t, apperrors.IsInvalidState(err))

	paid, err := f.svc.MarkPaid(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoicePaid, paid.Status)

	// No rewinds from PAID.
	_, err = f.svc.Issue(ctx, invoice.ID)
	assert.True(t, apperrors.IsInvalidState(err))

	err = f.svc.DeleteInvoice(ctx, invoice.ID)
	assert.True(t, apperrors.IsInvalidState(err))
}

func TestInvoice_CreateRejectsEmptyPreview(t *testing.T) {
	f := newInvoiceFixture(t)

	_, err := f.svc.CreateInvoice(context.Background(), &models.InvoicePreview{ClientID: f.client.ID})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestInvoice_ExportCSVIsByteIdentical(t *testing.T) {
	ctx := context.Background()
	f := newInvoiceFixture(t)
	f.seed(t, "w-1", "PROJ-1", "EPIC-1", 3600)
	f.seed(t, "w-2", "PROJ-9", "", 5400)

	preview, err := f.svc.GeneratePreview(ctx, f.period())
	require.NoError(t, err)
	invoice, err := f.svc.CreateInvoice(ctx, preview)
	require.NoError(t, err)

	var first, second bytes.Buffer
	require.NoError(t, f.svc.ExportCSV(ctx, invoice.ID, &first))
	require.NoError(t, f.svc.ExportCSV(ctx, invoice.ID, &second))

	assert.Equal(t, first.Bytes(), second.Bytes())
	assert.Equal(t,
		"description,hours,rate,amount\n"+
			"EPIC-1,1.00,90.00,90.00\n"+
			"PROJ-9 work,1.50,90.00,135.00\n",
		first.String())
}
