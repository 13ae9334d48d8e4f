package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"

	"github.com/hourglass-hq/hourglass-engine/pkg/auth"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/services"
)

// requestWithTenant builds a request carrying tenant claims, matching what
// the auth middleware would have installed.
func requestWithTenant(method, target string, body io.Reader, tenantID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, body)
	claims := &auth.Claims{TenantID: tenantID.String()}
	ctx := context.WithValue(req.Context(), auth.ClaimsKey, claims)
	return req.WithContext(ctx)
}

// mockSourceService is a configurable mock for handler tests. Every method
// fails with err when it is set.
type mockSourceService struct {
	source  *models.Source
	sources []*models.Source
	group   *models.SourceGroup
	groups  []*models.SourceGroup
	err     error

	created      *models.Source
	createdGroup *models.SourceGroup
	deletedID    uuid.UUID
	testedID     uuid.UUID
}

func (m *mockSourceService) CreateSource(ctx context.Context, source *models.Source) error {
	if m.err != nil {
		return m.err
	}
	source.ID = uuid.New()
	m.created = source
	return nil
}

func (m *mockSourceService) GetSource(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.source != nil {
		return m.source, nil
	}
	return &models.Source{ID: id, Name: "Test Source", APIProfile: models.APIProfileRangeQuery, Active: true}, nil
}

func (m *mockSourceService) ListSources(ctx context.Context) ([]*models.Source, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.sources, nil
}

func (m *mockSourceService) UpdateSource(ctx context.Context, source *models.Source) error {
	if m.err != nil {
		return m.err
	}
	m.source = source
	return nil
}

func (m *mockSourceService) DeleteSource(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.deletedID = id
	return nil
}

func (m *mockSourceService) TestConnection(ctx context.Context, id uuid.UUID) error {
	m.testedID = id
	return m.err
}

func (m *mockSourceService) CreateGroup(ctx context.Context, group *models.SourceGroup) error {
	if m.err != nil {
		return m.err
	}
	group.ID = uuid.New()
	m.createdGroup = group
	return nil
}

func (m *mockSourceService) ListGroups(ctx context.Context) ([]*models.SourceGroup, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.groups, nil
}

func (m *mockSourceService) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.deletedID = id
	return nil
}

// mockSyncService records the start parameters for assertion.
type mockSyncService struct {
	run      *models.SyncRun
	runs     []*models.SyncRun
	statuses []*services.SourceDataStatus
	err      error

	startedTenant uuid.UUID
	startedSource uuid.UUID
	startedFrom   time.Time
	startedTo     time.Time
	canceledID    uuid.UUID
}

func (m *mockSyncService) StartSync(ctx context.Context, tenantID, sourceID uuid.UUID, from, to time.Time) (*models.SyncRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.startedTenant = tenantID
	m.startedSource = sourceID
	m.startedFrom = from
	m.startedTo = to
	if m.run != nil {
		return m.run, nil
	}
	return &models.SyncRun{
		ID:          uuid.New(),
		TenantID:    tenantID,
		SourceID:    sourceID,
		PeriodStart: from,
		PeriodEnd:   to,
		Status:      models.SyncRunning,
		StartedAt:   time.Now(),
	}, nil
}

func (m *mockSyncService) GetRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.run != nil {
		return m.run, nil
	}
	return &models.SyncRun{ID: id, Status: models.SyncCompleted}, nil
}

func (m *mockSyncService) ListRuns(ctx context.Context, sourceID uuid.UUID, limit int) ([]*models.SyncRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.runs, nil
}

func (m *mockSyncService) RequestCancel(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.canceledID = id
	return nil
}

func (m *mockSyncService) DataStatus(ctx context.Context) ([]*services.SourceDataStatus, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.statuses, nil
}

// mockRateService returns canned rules.
type mockRateService struct {
	rules []*models.RateRule
	err   error

	upserted  *models.RateRule
	deletedID uuid.UUID
}

func (m *mockRateService) UpsertRule(ctx context.Context, rule *models.RateRule) error {
	if m.err != nil {
		return m.err
	}
	rule.ID = uuid.New()
	m.upserted = rule
	return nil
}

func (m *mockRateService) ListRules(ctx context.Context) ([]*models.RateRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.rules, nil
}

func (m *mockRateService) DeleteRule(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.deletedID = id
	return nil
}

func (m *mockRateService) Resolver(ctx context.Context) (*services.RateResolver, error) {
	return nil, m.err
}

// mockInvoiceService returns canned invoices and previews, and writes a
// fixed CSV body on export.
type mockInvoiceService struct {
	preview  *models.InvoicePreview
	invoice  *models.Invoice
	invoices []*models.Invoice
	csvBody  string
	err      error

	previewReq services.PreviewRequest
	issuedID   uuid.UUID
	paidID     uuid.UUID
	deletedID  uuid.UUID
}

func (m *mockInvoiceService) GeneratePreview(ctx context.Context, req services.PreviewRequest) (*models.InvoicePreview, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.previewReq = req
	if m.preview != nil {
		return m.preview, nil
	}
	return &models.InvoicePreview{ClientID: req.ClientID, PeriodStart: req.PeriodStart, PeriodEnd: req.PeriodEnd}, nil
}

func (m *mockInvoiceService) CreateInvoice(ctx context.Context, preview *models.InvoicePreview) (*models.Invoice, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.invoice != nil {
		return m.invoice, nil
	}
	return &models.Invoice{ID: uuid.New(), ClientID: preview.ClientID, Number: 1, Status: models.InvoiceDraft}, nil
}

func (m *mockInvoiceService) Issue(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.issuedID = id
	return &models.Invoice{ID: id, Status: models.InvoiceIssued}, nil
}

func (m *mockInvoiceService) MarkPaid(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.paidID = id
	return &models.Invoice{ID: id, Status: models.InvoicePaid}, nil
}

func (m *mockInvoiceService) GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.invoice != nil {
		return m.invoice, nil
	}
	return &models.Invoice{ID: id, Number: 7, Status: models.InvoiceDraft}, nil
}

func (m *mockInvoiceService) ListInvoices(ctx context.Context) ([]*models.Invoice, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.invoices, nil
}

func (m *mockInvoiceService) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.deletedID = id
	return nil
}

func (m *mockInvoiceService) ExportCSV(ctx context.Context, id uuid.UUID, w io.Writer) error {
	if m.err != nil {
		return m.err
	}
	_, err := io.WriteString(w, m.csvBody)
	return err
}

// mockBillingService is a configurable mock for billing handler tests.
type mockBillingService struct {
	client   *models.Client
	clients  []*models.Client
	project  *models.ClientProject
	projects []*models.ClientProject
	err      error

	classified *models.WorklogClassification
	clearedID  uuid.UUID
}

func (m *mockBillingService) CreateClient(ctx context.Context, client *models.Client) error {
	if m.err != nil {
		return m.err
	}
	client.ID = uuid.New()
	m.client = client
	return nil
}

func (m *mockBillingService) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.client != nil {
		return m.client, nil
	}
	return &models.Client{ID: id, Name: "Acme", Currency: "EUR"}, nil
}

func (m *mockBillingService) ListClients(ctx context.Context) ([]*models.Client, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.clients, nil
}

func (m *mockBillingService) UpdateClient(ctx context.Context, client *models.Client) error {
	if m.err != nil {
		return m.err
	}
	m.client = client
	return nil
}

func (m *mockBillingService) DeleteClient(ctx context.Context, id uuid.UUID) error {
	return m.err
}

func (m *mockBillingService) CreateProject(ctx context.Context, project *models.ClientProject) error {
	if m.err != nil {
		return m.err
	}
	project.ID = uuid.New()
	m.project = project
	return nil
}

func (m *mockBillingService) GetProject(ctx context.Context, id uuid.UUID) (*models.ClientProject, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.project != nil {
		return m.project, nil
	}
	return &models.ClientProject{ID: id, Name: "Platform"}, nil
}

func (m *mockBillingService) ListProjects(ctx context.Context, clientID uuid.UUID) ([]*models.ClientProject, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.projects, nil
}

func (m *mockBillingService) ReplaceMappings(ctx context.Context, projectID uuid.UUID, mappings []models.ProjectMapping) error {
	if m.err != nil {
		return m.err
	}
	if m.project != nil {
		m.project.Mappings = mappings
	}
	return nil
}

func (m *mockBillingService) DeleteProject(ctx context.Context, id uuid.UUID) error {
	return m.err
}

func (m *mockBillingService) ClassifyWorklog(ctx context.Context, c *models.WorklogClassification) error {
	if m.err != nil {
		return m.err
	}
	m.classified = c
	return nil
}

func (m *mockBillingService) ClearClassification(ctx context.Context, worklogID uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.clearedID = worklogID
	return nil
}

// mockReportService records the requested scope.
type mockReportService struct {
	report *services.PeriodReport
	err    error

	scope services.ViewScope
	from  time.Time
	to    time.Time
}

func (m *mockReportService) PeriodReport(ctx context.Context, tenantID uuid.UUID, from, to time.Time, scope services.ViewScope) (*services.PeriodReport, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.scope = scope
	m.from = from
	m.to = to
	if m.report != nil {
		return m.report, nil
	}
	return &services.PeriodReport{}, nil
}
