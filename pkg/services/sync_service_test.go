package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
	"github.com/hourglass-hq/hourglass-engine/pkg/config"
	"github.com/hourglass-hq/hourglass-engine/pkg/metrics"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/services/syncqueue"
	"github.com/hourglass-hq/hourglass-engine/pkg/sourceclient"
)

// scriptedClient replays canned pages. onPage runs before each fetch
// returns, letting tests interleave actions like cancellation.
type scriptedClient struct {
	probeErr error
	pages    []sourceclient.Page
	fetchErr map[int]error
	fetches  int
	onPage   func(pageIndex int)
}

func (c *scriptedClient) Probe(context.Context) error { return c.probeErr }

func (c *scriptedClient) FetchPage(_ context.Context, _, _ time.Time, cursor string) (*sourceclient.Page, error) {
	idx := c.fetches
	c.fetches++
	if c.onPage != nil {
		c.onPage(idx)
	}
	if err, ok := c.fetchErr[idx]; ok {
		return nil, err
	}
	if idx >= len(c.pages) {
		return &sourceclient.Page{Done: true}, nil
	}
	page := c.pages[idx]
	page.Done = idx == len(c.pages)-1
	return &page, nil
}

func scriptedPages(perPage, pageCount int, prefix string) []sourceclient.Page {
	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	pages := make([]sourceclient.Page, pageCount)
	for p := 0; p < pageCount; p++ {
		for i := 0; i < perPage; i++ {
			pages[p].Records = append(pages[p].Records, sourceclient.RawRecord{
				ExternalID:      fmt.Sprintf("%s-%d-%d", prefix, p, i),
				AuthorEmail:     "dev@example.com",
				TargetKey:       "PROJ-1",
				StartedAt:       started.Add(time.Duration(p*perPage+i) * time.Hour),
				DurationSeconds: 1800,
			})
		}
		pages[p].Cursor = fmt.Sprintf("c%d", p+1)
	}
	return pages
}

type syncFixture struct {
	svc         SyncService
	queue       *syncqueue.Queue
	sourceRepo  *mockSourceRepo
	runRepo     *mockRunRepo
	worklogRepo *mockWorklogRepo
	source      *models.Source
	tenantID    uuid.UUID
}

func newSyncFixture(t *testing.T, client *scriptedClient) *syncFixture {
	t.Helper()

	tenantID := uuid.New()
	sourceRepo := newMockSourceRepo()
	source := sourceRepo.add(&models.Source{
		TenantID:   tenantID,
		Name:       "jira-main",
		URL:        "https://tracker.example.com",
		APIProfile: models.APIProfileRangeQuery,
		Active:     true,
	})

	runRepo := newMockRunRepo()
	worklogRepo := newMockWorklogRepo()
	queue := syncqueue.New(zap.NewNop())

	cfg := config.SyncConfig{
		BatchSize:       2,
		MaxBatchRetries: 0,
		ConnectTimeout:  time.Second,
		PageTimeout:     time.Second,
	}

	factory := func(*models.Source) (sourceclient.Client, error) { return client, nil }

	svc := NewSyncService(sourceRepo, runRepo, worklogRepo, queue, factory,
		passthroughTenantCtx, cfg, metrics.NewNop(), zap.NewNop())

	return &syncFixture{
		svc:         svc,
		queue:       queue,
		sourceRepo:  sourceRepo,
		runRepo:     runRepo,
		worklogRepo: worklogRepo,
		source:      source,
		tenantID:    tenantID,
	}
}

func (f *syncFixture) runSync(t *testing.T) *models.SyncRun {
	t.Helper()
	ctx := context.Background()
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	run, err := f.svc.StartSync(ctx, f.tenantID, f.source.ID, from, to)
	require.NoError(t, err)
	require.NoError(t, f.queue.Wait(ctx))

	final, err := f.svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	return final
}

func TestSync_CompletesAndAggregatesBatches(t *testing.T) {
	client := &scriptedClient{pages: scriptedPages(2, 3, "w")}
	f := newSyncFixture(t, client)

	run := f.runSync(t)

	assert.Equal(t, models.SyncCompleted, run.Status)
	assert.Equal(t, 6, run.RecordsProcessed)
	assert.Equal(t, 6, run.RecordsInserted)
	assert.Equal(t, 0, run.SkippedBatches)
	assert.Len(t, run.Batches, 3)
	for _, b := range run.Batches {
		assert.Equal(t, models.BatchOK, b.Status)
	}
	assert.NotNil(t, run.CompletedAt)
}

// Re-syncing the same range with unchanged upstream data updates rows in
// place and inserts nothing.
func TestSync_RerunIsIdempotent(t *testing.T) {
	client := &scriptedClient{pages: scriptedPages(2, 2, "w")}
	f := newSyncFixture(t, client)

	first := f.runSync(t)
	require.Equal(t, models.SyncCompleted, first.Status)
	require.Equal(t, 4, first.RecordsInserted)

	client.fetches = 0
	second := f.runSync(t)

	assert.Equal(t, models.SyncCompleted, second.Status)
	assert.Equal(t, 0, second.RecordsInserted)
	assert.Equal(t, 4, second.RecordsUpdated)
	assert.Len(t, f.worklogRepo.logs, 4)
}

func TestSync_ProbeAuthFailureFailsRun(t *testing.T) {
	client := &scriptedClient{
		probeErr: apperrors.NewSourceError(apperrors.SourceErrAuth, errors.New("credentials rejected")),
	}
	f := newSyncFixture(t, client)

	run := f.runSync(t)

	assert.Equal(t, models.SyncFailed, run.Status)
	assert.Equal(t, 0, run.RecordsProcessed)
	require.NotNil(t, run.Error)
	assert.Contains(t, *run.Error, "auth")
	assert.Equal(t, 0, client.fetches)
}

// A batch that keeps failing on commit is skipped; the rest of the stream
// still lands and the run completes.
func TestSync_PersistentUpsertFailureSkipsBatch(t *testing.T) {
	client := &scriptedClient{pages: scriptedPages(2, 3, "w")}
	f := newSyncFixture(t, client)
	f.worklogRepo.upsertErrs[1] = errors.New("boom")

	run := f.runSync(t)

	assert.Equal(t, models.SyncCompleted, run.Status)
	assert.Equal(t, 6, run.RecordsProcessed)
	assert.Equal(t, 4, run.RecordsInserted)
	assert.Equal(t, 1, run.SkippedBatches)
	require.Len(t, run.Batches, 3)
	assert.Equal(t, models.BatchSkipped, run.Batches[1].Status)
	assert.Contains(t, run.Batches[1].Reason, "boom")
	assert.Len(t, f.worklogRepo.logs, 4)
}

// A fetch failure after retries is fatal: the cursor chain is broken, so the
// run fails with the progress made so far preserved.
func TestSync_PersistentFetchFailureFailsRun(t *testing.T) {
	client := &scriptedClient{
		pages:    scriptedPages(2, 3, "w"),
		fetchErr: map[int]error{1: apperrors.NewSourceError(apperrors.SourceErrMalformed, errors.New("bad payload"))},
	}
	f := newSyncFixture(t, client)

	run := f.runSync(t)

	assert.Equal(t, models.SyncFailed, run.Status)
	require.NotEmpty(t, run.Batches)
	assert.Equal(t, models.BatchFatal, run.Batches[len(run.Batches)-1].Status)
	require.NotNil(t, run.Error)
}

func TestSync_CancellationObservedAtBatchBoundary(t *testing.T) {
	var f *syncFixture
	var runID uuid.UUID
	client := &scriptedClient{pages: scriptedPages(2, 3, "w")}
	client.onPage = func(pageIndex int) {
		if pageIndex == 1 {
			require.NoError(t, f.svc.RequestCancel(context.Background(), runID))
		}
	}
	f = newSyncFixture(t, client)

	ctx := context.Background()
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	run, err := f.svc.StartSync(ctx, f.tenantID, f.source.ID, from, to)
	require.NoError(t, err)
	runID = run.ID
	require.NoError(t, f.queue.Wait(ctx))

	final, err := f.svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncCancelled, final.Status)
	// The first batch committed before the cancel was observed.
	assert.Equal(t, 2, final.RecordsProcessed)
}

func TestSync_SecondStartConflicts(t *testing.T) {
	// Block the first run on its first fetch until released.
	release := make(chan struct{})
	client := &scriptedClient{pages: scriptedPages(2, 1, "w")}
	client.onPage = func(int) { <-release }
	f := newSyncFixture(t, client)

	ctx := context.Background()
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.StartSync(ctx, f.tenantID, f.source.ID, from, to)
	require.NoError(t, err)

	_, err = f.svc.StartSync(ctx, f.tenantID, f.source.ID, from, to)
	assert.ErrorIs(t, err, apperrors.ErrSyncInProgress)

	close(release)
	require.NoError(t, f.queue.Wait(ctx))

	// Lock released after completion; a fresh sync may start.
	client.fetches = 0
	client.onPage = nil
	_, err = f.svc.StartSync(ctx, f.tenantID, f.source.ID, from, to)
	assert.NoError(t, err)
	require.NoError(t, f.queue.Wait(ctx))
}

func TestSync_RejectsInvalidPeriod(t *testing.T) {
	f := newSyncFixture(t, &scriptedClient{})
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.StartSync(context.Background(), f.tenantID, f.source.ID, day, day)
	assert.Error(t, err)
}

func TestSync_RejectsInactiveSource(t *testing.T) {
	f := newSyncFixture(t, &scriptedClient{})
	f.source.Active = false

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.svc.StartSync(context.Background(), f.tenantID, f.source.ID, from, from.AddDate(0, 1, 0))
	assert.Error(t, err)
}

func TestSync_DataStatusSummarizesSources(t *testing.T) {
	client := &scriptedClient{pages: scriptedPages(2, 2, "w")}
	f := newSyncFixture(t, client)

	run := f.runSync(t)
	require.Equal(t, models.SyncCompleted, run.Status)

	statuses, err := f.svc.DataStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)

	st := statuses[0]
	assert.Equal(t, f.source.ID, st.SourceID)
	assert.Equal(t, int64(4), st.WorklogCount)
	assert.Equal(t, int64(4*1800), st.TotalSeconds)
	require.NotNil(t, st.EarliestEntry)
	require.NotNil(t, st.LatestEntry)
	assert.True(t, st.EarliestEntry.Before(*st.LatestEntry))
	require.NotNil(t, st.LastRun)
	assert.Equal(t, models.SyncCompleted, st.LastRun.Status)
}
