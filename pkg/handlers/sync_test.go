package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/services"
)

func TestSyncHandler_Start_Success(t *testing.T) {
	tenantID := uuid.New()
	sourceID := uuid.New()
	svc := &mockSyncService{}
	handler := NewSyncHandler(svc, zap.NewNop())

	body := `{"from":"2026-03-01","to":"2026-04-01"}`
	req := requestWithTenant(http.MethodPost, "/api/sources/"+sourceID.String()+"/sync", strings.NewReader(body), tenantID)
	req.SetPathValue("id", sourceID.String())
	rec := httptest.NewRecorder()

	handler.Start(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.startedTenant != tenantID || svc.startedSource != sourceID {
		t.Errorf("start routed to tenant %s source %s", svc.startedTenant, svc.startedSource)
	}
	wantFrom := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !svc.startedFrom.Equal(wantFrom) {
		t.Errorf("expected from %v, got %v", wantFrom, svc.startedFrom)
	}

	var run models.SyncRun
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if run.Status != models.SyncRunning {
		t.Errorf("expected RUNNING, got %s", run.Status)
	}
}

func TestSyncHandler_Start_BadDate(t *testing.T) {
	handler := NewSyncHandler(&mockSyncService{}, zap.NewNop())

	sourceID := uuid.New()
	body := `{"from":"03/01/2026","to":"2026-04-01"}`
	req := requestWithTenant(http.MethodPost, "/api/sources/"+sourceID.String()+"/sync", strings.NewReader(body), uuid.New())
	req.SetPathValue("id", sourceID.String())
	rec := httptest.NewRecorder()

	handler.Start(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestSyncHandler_Start_AlreadyRunning(t *testing.T) {
	svc := &mockSyncService{err: apperrors.ErrSyncInProgress}
	handler := NewSyncHandler(svc, zap.NewNop())

	sourceID := uuid.New()
	body := `{"from":"2026-03-01","to":"2026-04-01"}`
	req := requestWithTenant(http.MethodPost, "/api/sources/"+sourceID.String()+"/sync", strings.NewReader(body), uuid.New())
	req.SetPathValue("id", sourceID.String())
	rec := httptest.NewRecorder()

	handler.Start(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["error"] != "sync_in_progress" {
		t.Errorf("expected error 'sync_in_progress', got %q", resp["error"])
	}
}

func TestSyncHandler_Get_ReportsProgress(t *testing.T) {
	errMsg := "source unreachable"
	svc := &mockSyncService{run: &models.SyncRun{
		ID:               uuid.New(),
		Status:           models.SyncFailed,
		RecordsProcessed: 250,
		SkippedBatches:   1,
		Error:            &errMsg,
	}}
	handler := NewSyncHandler(svc, zap.NewNop())

	req := requestWithTenant(http.MethodGet, "/api/sync-runs/"+svc.run.ID.String(), nil, uuid.New())
	req.SetPathValue("id", svc.run.ID.String())
	rec := httptest.NewRecorder()

	handler.Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var run models.SyncRun
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if run.Status != models.SyncFailed {
		t.Errorf("expected FAILED, got %s", run.Status)
	}
	if run.RecordsProcessed != 250 || run.SkippedBatches != 1 {
		t.Errorf("progress lost: processed=%d skipped=%d", run.RecordsProcessed, run.SkippedBatches)
	}
	if run.Error == nil || *run.Error != errMsg {
		t.Errorf("expected error message %q, got %v", errMsg, run.Error)
	}
}

func TestSyncHandler_ListForSource_BadLimit(t *testing.T) {
	handler := NewSyncHandler(&mockSyncService{}, zap.NewNop())

	sourceID := uuid.New()
	req := requestWithTenant(http.MethodGet, "/api/sources/"+sourceID.String()+"/sync-runs?limit=zero", nil, uuid.New())
	req.SetPathValue("id", sourceID.String())
	rec := httptest.NewRecorder()

	handler.ListForSource(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestSyncHandler_Cancel_FinishedRun(t *testing.T) {
	svc := &mockSyncService{err: apperrors.ErrRunNotCancelable}
	handler := NewSyncHandler(svc, zap.NewNop())

	id := uuid.New()
	req := requestWithTenant(http.MethodPost, "/api/sync-runs/"+id.String()+"/cancel", nil, uuid.New())
	req.SetPathValue("id", id.String())
	rec := httptest.NewRecorder()

	handler.Cancel(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rec.Code)
	}
}

func TestSyncHandler_Cancel_Accepted(t *testing.T) {
	svc := &mockSyncService{}
	handler := NewSyncHandler(svc, zap.NewNop())

	id := uuid.New()
	req := requestWithTenant(http.MethodPost, "/api/sync-runs/"+id.String()+"/cancel", nil, uuid.New())
	req.SetPathValue("id", id.String())
	rec := httptest.NewRecorder()

	handler.Cancel(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", rec.Code)
	}
	if svc.canceledID != id {
		t.Errorf("expected cancel of %s, got %s", id, svc.canceledID)
	}
}

func TestSyncHandler_DataStatus(t *testing.T) {
	sourceID := uuid.New()
	earliest := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	svc := &mockSyncService{statuses: []*services.SourceDataStatus{{
		SourceID:      sourceID,
		SourceName:    "tracker-eu",
		Active:        true,
		WorklogCount:  412,
		TotalSeconds:  1483200,
		EarliestEntry: &earliest,
		LastRun:       &models.SyncRun{ID: uuid.New(), Status: models.SyncCompleted},
	}}}
	handler := NewSyncHandler(svc, zap.NewNop())

	req := requestWithTenant(http.MethodGet, "/api/data-status", nil, uuid.New())
	rec := httptest.NewRecorder()

	handler.DataStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp DataStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(resp.Sources))
	}
	got := resp.Sources[0]
	if got.SourceName != "tracker-eu" || got.WorklogCount != 412 {
		t.Errorf("unexpected status %+v", got)
	}
	if got.LastRun == nil || got.LastRun.Status != models.SyncCompleted {
		t.Errorf("expected completed last run, got %+v", got.LastRun)
	}
}

func TestSyncHandler_DataStatus_Empty(t *testing.T) {
	handler := NewSyncHandler(&mockSyncService{}, zap.NewNop())

	req := requestWithTenant(http.MethodGet, "/api/data-status", nil, uuid.New())
	rec := httptest.NewRecorder()

	handler.DataStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"sources":[]`) {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}
