package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/auth"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/services"
)

// RateRuleRequest is the POST body for rate rules. Rate is a decimal string
// to avoid float drift in money values.
type RateRuleRequest struct {
	Kind      string  `json:"kind"`
	Key       string  `json:"key,omitempty"`
	ClientID  *string `json:"client_id,omitempty"`
	ProjectID *string `json:"project_id,omitempty"`
	Rate      string  `json:"rate"`
}

// ListRateRulesResponse wraps the array for frontend compatibility.
type ListRateRulesResponse struct {
	Rules []*models.RateRule `json:"rules"`
}

// RatesHandler handles rate rule HTTP requests.
type RatesHandler struct {
	rateService services.RateService
	logger      *zap.Logger
}

// NewRatesHandler creates a new rates handler.
func NewRatesHandler(rateService services.RateService, logger *zap.Logger) *RatesHandler {
	return &RatesHandler{
		rateService: rateService,
		logger:      logger,
	}
}

// RegisterRoutes registers the rates handler's routes on the given mux.
func (h *RatesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/rate-rules",
		authMiddleware.RequireTenant(tenantMiddleware(h.List)))
	mux.HandleFunc("POST /api/rate-rules",
		authMiddleware.RequireTenant(tenantMiddleware(h.Upsert)))
	mux.HandleFunc("DELETE /api/rate-rules/{id}",
		authMiddleware.RequireTenant(tenantMiddleware(h.Delete)))
}

// List handles GET /api/rate-rules
func (h *RatesHandler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rateService.ListRules(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list rate rules")
		return
	}
	if rules == nil {
		rules = []*models.RateRule{}
	}
	if err := WriteJSON(w, http.StatusOK, ListRateRulesResponse{Rules: rules}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Upsert handles POST /api/rate-rules
// Writing a rule for an occupied (kind, key, client, project) slot replaces
// the existing rate.
func (h *RatesHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req RateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_rate", "rate must be a decimal string"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	rule := &models.RateRule{
		TenantID: auth.GetTenantIDFromContext(r.Context()),
		Kind:     models.RateRuleKind(req.Kind),
		Key:      req.Key,
		Rate:     rate,
	}
	if req.ClientID != nil {
		id, err := uuid.Parse(*req.ClientID)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_client_id", "Invalid client ID format"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		rule.ClientID = &id
	}
	if req.ProjectID != nil {
		id, err := uuid.Parse(*req.ProjectID)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_project_id", "Invalid project ID format"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		rule.ProjectID = &id
	}

	if err := h.rateService.UpsertRule(r.Context(), rule); err != nil {
		writeServiceError(w, h.logger, err, "Failed to save rate rule")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, rule); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/rate-rules/{id}
func (h *RatesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid rule ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.rateService.DeleteRule(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "Failed to delete rate rule")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
