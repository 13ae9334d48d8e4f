package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/auth"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/services"
)

// StartSyncRequest is the POST body for starting a sync. Dates are
// YYYY-MM-DD; the period is half-open [from, to).
type StartSyncRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ListSyncRunsResponse wraps the array for frontend compatibility.
type ListSyncRunsResponse struct {
	Runs []*models.SyncRun `json:"runs"`
}

// DataStatusResponse wraps the per-source data summaries.
type DataStatusResponse struct {
	Sources []*services.SourceDataStatus `json:"sources"`
}

// SyncHandler handles sync run HTTP requests.
type SyncHandler struct {
	syncService services.SyncService
	logger      *zap.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(syncService services.SyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		logger:      logger,
	}
}

// RegisterRoutes registers the sync handler's routes on the given mux.
func (h *SyncHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("POST /api/sources/{id}/sync",
		authMiddleware.RequireTenant(tenantMiddleware(h.Start)))
	mux.HandleFunc("GET /api/sources/{id}/sync-runs",
		authMiddleware.RequireTenant(tenantMiddleware(h.ListForSource)))
	mux.HandleFunc("GET /api/sync-runs/{id}",
		authMiddleware.RequireTenant(tenantMiddleware(h.Get)))
	mux.HandleFunc("POST /api/sync-runs/{id}/cancel",
		authMiddleware.RequireTenant(tenantMiddleware(h.Cancel)))
	mux.HandleFunc("GET /api/data-status",
		authMiddleware.RequireTenant(tenantMiddleware(h.DataStatus)))
}

// Start handles POST /api/sources/{id}/sync
// Accepted (202) means the run is queued; poll GET /api/sync-runs/{id}.
func (h *SyncHandler) Start(w http.ResponseWriter, r *http.Request) {
	sourceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid source ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var req StartSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	from, err := time.Parse("2006-01-02", req.From)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_date", "from must be a YYYY-MM-DD date"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	to, err := time.Parse("2006-01-02", req.To)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_date", "to must be a YYYY-MM-DD date"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	tenantID := auth.GetTenantIDFromContext(r.Context())
	run, err := h.syncService.StartSync(r.Context(), tenantID, sourceID, from, to)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to start sync")
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, run); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/sync-runs/{id}
func (h *SyncHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid run ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	run, err := h.syncService.GetRun(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get sync run")
		return
	}

	if err := WriteJSON(w, http.StatusOK, run); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListForSource handles GET /api/sources/{id}/sync-runs
// Optional ?limit=N caps the history; default 20.
func (h *SyncHandler) ListForSource(w http.ResponseWriter, r *http.Request) {
	sourceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid source ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		limit = n
	}

	runs, err := h.syncService.ListRuns(r.Context(), sourceID, limit)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list sync runs")
		return
	}
	if runs == nil {
		runs = []*models.SyncRun{}
	}
	if err := WriteJSON(w, http.StatusOK, ListSyncRunsResponse{Runs: runs}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Cancel handles POST /api/sync-runs/{id}/cancel
// Cancellation is cooperative; the run stops at the next batch boundary.
func (h *SyncHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid run ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.syncService.RequestCancel(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "Failed to cancel sync run")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// DataStatus handles GET /api/data-status
func (h *SyncHandler) DataStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.syncService.DataStatus(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get data status")
		return
	}
	if statuses == nil {
		statuses = []*services.SourceDataStatus{}
	}
	if err := WriteJSON(w, http.StatusOK, DataStatusResponse{Sources: statuses}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
