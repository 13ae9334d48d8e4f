package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
	"github.com/hourglass-hq/hourglass-engine/pkg/database"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/repositories"
)

// mockSourceRepo implements repositories.SourceRepository for testing.
type mockSourceRepo struct {
	sources map[uuid.UUID]*models.Source
}

func newMockSourceRepo() *mockSourceRepo {
	return &mockSourceRepo{sources: make(map[uuid.UUID]*models.Source)}
}

func (m *mockSourceRepo) add(source *models.Source) *models.Source {
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	m.sources[source.ID] = source
	return source
}

func (m *mockSourceRepo) Create(_ context.Context, source *models.Source) error {
	for _, s := range m.sources {
		if s.Name == source.Name {
			return apperrors.ErrConflict
		}
	}
	m.add(source)
	return nil
}

func (m *mockSourceRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Source, error) {
	s, ok := m.sources[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return s, nil
}

func (m *mockSourceRepo) List(_ context.Context) ([]*models.Source, error) {
	result := make([]*models.Source, 0, len(m.sources))
	for _, s := range m.sources {
		result = append(result, s)
	}
	return result, nil
}

func (m *mockSourceRepo) ListActive(ctx context.Context) ([]*models.Source, error) {
	all, _ := m.List(ctx)
	var result []*models.Source
	for _, s := range all {
		if s.Active {
			result = append(result, s)
		}
	}
	return result, nil
}

func (m *mockSourceRepo) Update(_ context.Context, source *models.Source) error {
	if _, ok := m.sources[source.ID]; !ok {
		return apperrors.ErrNotFound
	}
	m.sources[source.ID] = source
	return nil
}

func (m *mockSourceRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.sources[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.sources, id)
	return nil
}

// mockGroupRepo implements repositories.SourceGroupRepository for testing.
type mockGroupRepo struct {
	groups map[uuid.UUID]*models.SourceGroup
}

func newMockGroupRepo() *mockGroupRepo {
	return &mockGroupRepo{groups: make(map[uuid.UUID]*models.SourceGroup)}
}

func (m *mockGroupRepo) Create(_ context.Context, group *models.SourceGroup) error {
	grouped := make(map[uuid.UUID]bool)
	for _, g := range m.groups {
		grouped[g.PrimarySourceID] = true
		for _, id := range g.SecondaryIDs {
			grouped[id] = true
		}
	}
	if grouped[group.PrimarySourceID] {
		return apperrors.ErrSourceGrouped
	}
	for _, id := range group.SecondaryIDs {
		if grouped[id] {
			return apperrors.ErrSourceGrouped
		}
	}
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	m.groups[group.ID] = group
	return nil
}

func (m *mockGroupRepo) GetByID(_ context.Context, id uuid.UUID) (*models.SourceGroup, error) {
	g, ok := m.groups[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return g, nil
}

func (m *mockGroupRepo) List(_ context.Context) ([]*models.SourceGroup, error) {
	result := make([]*models.SourceGroup, 0, len(m.groups))
	for _, g := range m.groups {
		result = append(result, g)
	}
	return result, nil
}

func (m *mockGroupRepo) Memberships(_ context.Context) ([]repositories.GroupMembership, error) {
	var result []repositories.GroupMembership
	for _, g := range m.groups {
		result = append(result, repositories.GroupMembership{
			GroupID:  g.ID,
			SourceID: g.PrimarySourceID,
			Primary:  true,
		})
		for _, id := range g.SecondaryIDs {
			result = append(result, repositories.GroupMembership{
				GroupID:  g.ID,
				SourceID: id,
			})
		}
	}
	return result, nil
}

func (m *mockGroupRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.groups[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.groups, id)
	return nil
}

// mockWorklogRepo implements repositories.WorklogRepository for testing.
// upsertErrs scripts per-call failures: call n fails with upsertErrs[n].
type mockWorklogRepo struct {
	mu          sync.Mutex
	logs        []*models.WorklogRecord
	upsertCalls int
	upsertErrs  map[int]error
}

func newMockWorklogRepo() *mockWorklogRepo {
	return &mockWorklogRepo{upsertErrs: make(map[int]error)}
}

func (m *mockWorklogRepo) UpsertBatch(_ context.Context, records []*models.WorklogRecord) (repositories.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.upsertCalls
	m.upsertCalls++
	if err, ok := m.upsertErrs[call]; ok {
		return repositories.UpsertResult{}, err
	}

	var result repositories.UpsertResult
	for _, rec := range records {
		updated := false
		for i, existing := range m.logs {
			if existing.TenantID == rec.TenantID &&
				existing.SourceID == rec.SourceID &&
				existing.ExternalID == rec.ExternalID {
				rec.ID = existing.ID
				m.logs[i] = rec
				updated = true
				break
			}
		}
		if updated {
			result.Updated++
			continue
		}
		rec.ID = uuid.New()
		m.logs = append(m.logs, rec)
		result.Inserted++
	}
	return result, nil
}

func (m *mockWorklogRepo) List(_ context.Context, filter repositories.WorklogFilter) ([]*models.WorklogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := map[uuid.UUID]bool{}
	if filter.SourceIDs != nil {
		for _, id := range filter.SourceIDs {
			allowed[id] = true
		}
	}

	var result []*models.WorklogRecord
	for _, w := range m.logs {
		if !filter.From.IsZero() && w.StartedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !w.StartedAt.Before(filter.To) {
			continue
		}
		if filter.SourceIDs != nil && !allowed[w.SourceID] {
			continue
		}
		if filter.AuthorEmail != "" && w.AuthorEmail != filter.AuthorEmail {
			continue
		}
		if filter.TargetPrefix != "" && !strings.HasPrefix(w.TargetKey, filter.TargetPrefix+"-") {
			continue
		}
		result = append(result, w)
	}
	return result, nil
}

func (m *mockWorklogRepo) GetByID(_ context.Context, id uuid.UUID) (*models.WorklogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.logs {
		if w.ID == id {
			return w, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockWorklogRepo) DeleteBySourceRange(_ context.Context, sourceID uuid.UUID, from, to time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*models.WorklogRecord
	var deleted int64
	for _, w := range m.logs {
		if w.SourceID == sourceID && !w.StartedAt.Before(from) && w.StartedAt.Before(to) {
			deleted++
			continue
		}
		kept = append(kept, w)
	}
	m.logs = kept
	return deleted, nil
}

func (m *mockWorklogRepo) Stats(_ context.Context, sourceID uuid.UUID) (repositories.WorklogStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats repositories.WorklogStats
	for _, w := range m.logs {
		if w.SourceID != sourceID {
			continue
		}
		stats.Count++
		stats.TotalSeconds += int64(w.DurationSeconds)
		started := w.StartedAt
		if stats.EarliestAt == nil || started.Before(*stats.EarliestAt) {
			stats.EarliestAt = &started
		}
		if stats.LatestAt == nil || started.After(*stats.LatestAt) {
			stats.LatestAt = &started
		}
	}
	return stats, nil
}

// mockRunRepo implements repositories.SyncRunRepository for testing.
type mockRunRepo struct {
	mu             sync.Mutex
	runs           map[uuid.UUID]*models.SyncRun
	sweeps         int
	sweepReclaimed int64
}

func newMockRunRepo() *mockRunRepo {
	return &mockRunRepo{runs: make(map[uuid.UUID]*models.SyncRun)}
}

func (m *mockRunRepo) Acquire(_ context.Context, run *models.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.TenantID == run.TenantID && r.SourceID == run.SourceID && r.Status == models.SyncRunning {
			return apperrors.ErrSyncInProgress
		}
	}
	run.ID = uuid.New()
	run.Status = models.SyncRunning
	run.StartedAt = time.Now()
	run.HeartbeatAt = run.StartedAt
	stored := *run
	m.runs[run.ID] = &stored
	return nil
}

func (m *mockRunRepo) Heartbeat(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok || r.Status != models.SyncRunning {
		return false, apperrors.ErrNotFound
	}
	r.HeartbeatAt = time.Now()
	return r.CancelRequested, nil
}

func (m *mockRunRepo) UpdateProgress(_ context.Context, run *models.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[run.ID]
	if !ok || r.Status != models.SyncRunning {
		return nil
	}
	r.RecordsProcessed = run.RecordsProcessed
	r.RecordsInserted = run.RecordsInserted
	r.RecordsUpdated = run.RecordsUpdated
	r.SkippedBatches = run.SkippedBatches
	r.Batches = append(models.BatchResults{}, run.Batches...)
	return nil
}

func (m *mockRunRepo) Close(_ context.Context, run *models.SyncRun, status models.SyncRunStatus, runErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[run.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if r.Status != models.SyncRunning {
		return nil
	}
	now := time.Now()
	r.Status = status
	r.RecordsProcessed = run.RecordsProcessed
	r.RecordsInserted = run.RecordsInserted
	r.RecordsUpdated = run.RecordsUpdated
	r.SkippedBatches = run.SkippedBatches
	r.Batches = append(models.BatchResults{}, run.Batches...)
	r.CompletedAt = &now
	if runErr != nil {
		msg := runErr.Error()
		r.Error = &msg
	}
	run.Status = status
	run.CompletedAt = &now
	run.Error = r.Error
	return nil
}

func (m *mockRunRepo) RequestCancel(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if r.Status != models.SyncRunning {
		return apperrors.ErrRunNotCancelable
	}
	r.CancelRequested = true
	return nil
}

func (m *mockRunRepo) GetByID(_ context.Context, id uuid.UUID) (*models.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (m *mockRunRepo) ListBySource(_ context.Context, sourceID uuid.UUID, _ int) ([]*models.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.SyncRun
	for _, r := range m.runs {
		if r.SourceID == sourceID {
			copied := *r
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *mockRunRepo) SweepStale(_ context.Context, _ *database.DB, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps++
	return m.sweepReclaimed, nil
}

func (m *mockRunRepo) sweepCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweeps
}

// mockClientRepo implements repositories.ClientRepository for testing.
type mockClientRepo struct {
	clients  map[uuid.UUID]*models.Client
	projects map[uuid.UUID]*models.ClientProject
}

func newMockClientRepo() *mockClientRepo {
	return &mockClientRepo{
		clients:  make(map[uuid.UUID]*models.Client),
		projects: make(map[uuid.UUID]*models.ClientProject),
	}
}

func (m *mockClientRepo) CreateClient(_ context.Context, client *models.Client) error {
	if client.ID == uuid.Nil {
		client.ID = uuid.New()
	}
	m.clients[client.ID] = client
	return nil
}

func (m *mockClientRepo) GetClient(_ context.Context, id uuid.UUID) (*models.Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return c, nil
}

func (m *mockClientRepo) ListClients(_ context.Context) ([]*models.Client, error) {
	result := make([]*models.Client, 0, len(m.clients))
	for _, c := range m.clients {
		result = append(result, c)
	}
	return result, nil
}

func (m *mockClientRepo) UpdateClient(_ context.Context, client *models.Client) error {
	if _, ok := m.clients[client.ID]; !ok {
		return apperrors.ErrNotFound
	}
	m.clients[client.ID] = client
	return nil
}

func (m *mockClientRepo) DeleteClient(_ context.Context, id uuid.UUID) error {
	if _, ok := m.clients[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.clients, id)
	for pid, p := range m.projects {
		if p.ClientID == id {
			delete(m.projects, pid)
		}
	}
	return nil
}

func (m *mockClientRepo) CreateProject(_ context.Context, project *models.ClientProject) error {
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	for i := range project.Mappings {
		if project.Mappings[i].ID == uuid.Nil {
			project.Mappings[i].ID = uuid.New()
		}
		project.Mappings[i].ProjectID = project.ID
	}
	m.projects[project.ID] = project
	return nil
}

func (m *mockClientRepo) GetProject(_ context.Context, id uuid.UUID) (*models.ClientProject, error) {
	p, ok := m.projects[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return p, nil
}

func (m *mockClientRepo) ListProjects(_ context.Context, clientID uuid.UUID) ([]*models.ClientProject, error) {
	var result []*models.ClientProject
	for _, p := range m.projects {
		if p.ClientID == clientID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *mockClientRepo) ReplaceMappings(_ context.Context, projectID uuid.UUID, mappings []models.ProjectMapping) error {
	p, ok := m.projects[projectID]
	if !ok {
		return apperrors.ErrNotFound
	}
	p.Mappings = mappings
	return nil
}

func (m *mockClientRepo) DeleteProject(_ context.Context, id uuid.UUID) error {
	if _, ok := m.projects[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.projects, id)
	return nil
}

// mockClassificationRepo implements repositories.ClassificationRepository
// for testing.
type mockClassificationRepo struct {
	classifications map[uuid.UUID]*models.WorklogClassification
}

func newMockClassificationRepo() *mockClassificationRepo {
	return &mockClassificationRepo{classifications: make(map[uuid.UUID]*models.WorklogClassification)}
}

func (m *mockClassificationRepo) Upsert(_ context.Context, c *models.WorklogClassification) error {
	m.classifications[c.WorklogID] = c
	return nil
}

func (m *mockClassificationRepo) GetByWorklogIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.WorklogClassification, error) {
	result := make(map[uuid.UUID]*models.WorklogClassification)
	for _, id := range ids {
		if c, ok := m.classifications[id]; ok {
			result[id] = c
		}
	}
	return result, nil
}

func (m *mockClassificationRepo) Delete(_ context.Context, worklogID uuid.UUID) error {
	if _, ok := m.classifications[worklogID]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.classifications, worklogID)
	return nil
}

// mockRuleRepo implements repositories.RateRuleRepository for testing.
type mockRuleRepo struct {
	rules map[uuid.UUID]*models.RateRule
}

func newMockRuleRepo() *mockRuleRepo {
	return &mockRuleRepo{rules: make(map[uuid.UUID]*models.RateRule)}
}

func (m *mockRuleRepo) Upsert(_ context.Context, rule *models.RateRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	m.rules[rule.ID] = rule
	return nil
}

func (m *mockRuleRepo) List(_ context.Context) ([]*models.RateRule, error) {
	result := make([]*models.RateRule, 0, len(m.rules))
	for _, r := range m.rules {
		result = append(result, r)
	}
	return result, nil
}

func (m *mockRuleRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.rules[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

// mockInvoiceRepo implements repositories.InvoiceRepository for testing.
type mockInvoiceRepo struct {
	invoices   map[uuid.UUID]*models.Invoice
	nextNumber int
}

func newMockInvoiceRepo() *mockInvoiceRepo {
	return &mockInvoiceRepo{invoices: make(map[uuid.UUID]*models.Invoice), nextNumber: 1}
}

func (m *mockInvoiceRepo) Create(_ context.Context, invoice *models.Invoice) error {
	invoice.ID = uuid.New()
	invoice.Number = m.nextNumber
	m.nextNumber++
	invoice.Status = models.InvoiceDraft
	invoice.CreatedAt = time.Now()
	for i := range invoice.LineItems {
		invoice.LineItems[i].ID = uuid.New()
		invoice.LineItems[i].InvoiceID = invoice.ID
	}
	m.invoices[invoice.ID] = invoice
	return nil
}

func (m *mockInvoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return inv, nil
}

func (m *mockInvoiceRepo) List(_ context.Context) ([]*models.Invoice, error) {
	result := make([]*models.Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		result = append(result, inv)
	}
	return result, nil
}

func (m *mockInvoiceRepo) Transition(_ context.Context, id uuid.UUID, next models.InvoiceStatus) (*models.Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if !inv.Status.CanTransitionTo(next) {
		return nil, &apperrors.InvalidStateError{
			Entity:   "invoice",
			Current:  string(inv.Status),
			Required: string(models.InvoiceDraft),
		}
	}
	now := time.Now()
	inv.Status = next
	switch next {
	case models.InvoiceIssued:
		inv.IssuedAt = &now
	case models.InvoicePaid:
		inv.PaidAt = &now
	}
	return inv, nil
}

func (m *mockInvoiceRepo) Delete(_ context.Context, id uuid.UUID) error {
	inv, ok := m.invoices[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if inv.Status != models.InvoiceDraft {
		return &apperrors.InvalidStateError{
			Entity:   "invoice",
			Current:  string(inv.Status),
			Required: string(models.InvoiceDraft),
		}
	}
	delete(m.invoices, id)
	return nil
}

// mockTenantRepo implements repositories.TenantRepository for testing.
type mockTenantRepo struct {
	tenants map[uuid.UUID]*models.Tenant
}

func newMockTenantRepo() *mockTenantRepo {
	return &mockTenantRepo{tenants: make(map[uuid.UUID]*models.Tenant)}
}

func (m *mockTenantRepo) Create(_ context.Context, tenant *models.Tenant) error {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	m.tenants[tenant.ID] = tenant
	return nil
}

func (m *mockTenantRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	t, ok := m.tenants[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return t, nil
}

func (m *mockTenantRepo) UpdateDailyWorkingHours(_ context.Context, id uuid.UUID, hours float64) error {
	t, ok := m.tenants[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	t.DailyWorkingHours = hours
	return nil
}

// passthroughTenantCtx is a TenantContextFunc that performs no scoping.
func passthroughTenantCtx(ctx context.Context, _ uuid.UUID) (context.Context, func(), error) {
	return ctx, func() {}, nil
}
