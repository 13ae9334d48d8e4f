package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/auth"
	"github.com/hourglass-hq/hourglass-engine/pkg/services"
)

// ReportsHandler handles reporting HTTP requests.
type ReportsHandler struct {
	reportService services.ReportService
	logger        *zap.Logger
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(reportService services.ReportService, logger *zap.Logger) *ReportsHandler {
	return &ReportsHandler{
		reportService: reportService,
		logger:        logger,
	}
}

// RegisterRoutes registers the reports handler's routes on the given mux.
func (h *ReportsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/reports/period",
		authMiddleware.RequireTenant(tenantMiddleware(h.Period)))
}

// Period handles GET /api/reports/period?from=YYYY-MM-DD&to=YYYY-MM-DD
// Optional ?source_id narrows the view to one source without group
// filtering; the default is the reconciled cross-source aggregate.
func (h *ReportsHandler) Period(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := time.Parse("2006-01-02", q.Get("from"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_date", "from must be a YYYY-MM-DD date"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	to, err := time.Parse("2006-01-02", q.Get("to"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_date", "to must be a YYYY-MM-DD date"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if !to.After(from) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_period", "to must be after from"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	scope := services.AggregateScope
	if raw := q.Get("source_id"); raw != "" {
		sourceID, err := uuid.Parse(raw)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_source_id", "Invalid source ID format"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		scope = services.SingleSourceScope(sourceID)
	}

	tenantID := auth.GetTenantIDFromContext(r.Context())
	report, err := h.reportService.PeriodReport(r.Context(), tenantID, from, to, scope)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to compute period report")
		return
	}

	if err := WriteJSON(w, http.StatusOK, report); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
