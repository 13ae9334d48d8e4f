package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/auth"
	"github.com/hourglass-hq/hourglass-engine/pkg/repositories"
)

// UpdateTenantRequest is the PATCH body for tenant settings.
type UpdateTenantRequest struct {
	DailyWorkingHours float64 `json:"daily_working_hours"`
}

// TenantsHandler exposes the authenticated tenant's own settings.
type TenantsHandler struct {
	tenantRepo repositories.TenantRepository
	logger     *zap.Logger
}

// NewTenantsHandler creates a new tenants handler.
func NewTenantsHandler(tenantRepo repositories.TenantRepository, logger *zap.Logger) *TenantsHandler {
	return &TenantsHandler{
		tenantRepo: tenantRepo,
		logger:     logger,
	}
}

// RegisterRoutes registers the tenants handler's routes on the given mux.
func (h *TenantsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/tenant",
		authMiddleware.RequireTenant(tenantMiddleware(h.Get)))
	mux.HandleFunc("PATCH /api/tenant",
		authMiddleware.RequireTenant(tenantMiddleware(h.Update)))
}

// Get handles GET /api/tenant
func (h *TenantsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.GetTenantIDFromContext(r.Context())

	tenant, err := h.tenantRepo.GetByID(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get tenant")
		return
	}

	if err := WriteJSON(w, http.StatusOK, tenant); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PATCH /api/tenant
// Only the expected-hours baseline is mutable through the API.
func (h *TenantsHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.GetTenantIDFromContext(r.Context())

	var req UpdateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.DailyWorkingHours <= 0 || req.DailyWorkingHours > 24 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_hours", "daily_working_hours must be in (0, 24]"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.tenantRepo.UpdateDailyWorkingHours(r.Context(), tenantID, req.DailyWorkingHours); err != nil {
		writeServiceError(w, h.logger, err, "Failed to update tenant")
		return
	}

	tenant, err := h.tenantRepo.GetByID(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get tenant")
		return
	}
	if err := WriteJSON(w, http.StatusOK, tenant); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
