package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/auth"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/services"
)

// SourceRequest is the POST/PUT body for sources. APIToken is write-only;
// responses never echo it back.
type SourceRequest struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	AuthEmail  string `json:"auth_email"`
	APIToken   string `json:"api_token"`
	APIProfile string `json:"api_profile"`
	Active     *bool  `json:"active,omitempty"`
}

// ListSourcesResponse wraps the array for frontend compatibility.
type ListSourcesResponse struct {
	Sources []*models.Source `json:"sources"`
}

// TestConnectionResponse reports a credential probe result.
type TestConnectionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SourceGroupRequest is the POST body for source groups.
type SourceGroupRequest struct {
	Name            string   `json:"name"`
	PrimarySourceID string   `json:"primary_source_id"`
	SecondaryIDs    []string `json:"secondary_ids"`
}

// ListSourceGroupsResponse wraps the array for frontend compatibility.
type ListSourceGroupsResponse struct {
	Groups []*models.SourceGroup `json:"groups"`
}

// SourcesHandler handles source and source group HTTP requests.
type SourcesHandler struct {
	sourceService services.SourceService
	logger        *zap.Logger
}

// NewSourcesHandler creates a new sources handler.
func NewSourcesHandler(sourceService services.SourceService, logger *zap.Logger) *SourcesHandler {
	return &SourcesHandler{
		sourceService: sourceService,
		logger:        logger,
	}
}

// RegisterRoutes registers the sources handler's routes on the given mux.
func (h *SourcesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/sources",
		authMiddleware.RequireTenant(tenantMiddleware(h.List)))
	mux.HandleFunc("POST /api/sources",
		authMiddleware.RequireTenant(tenantMiddleware(h.Create)))
	mux.HandleFunc("GET /api/sources/{id}",
		authMiddleware.RequireTenant(tenantMiddleware(h.Get)))
	mux.HandleFunc("PUT /api/sources/{id}",
		authMiddleware.RequireTenant(tenantMiddleware(h.Update)))
	mux.HandleFunc("DELETE /api/sources/{id}",
		authMiddleware.RequireTenant(tenantMiddleware(h.Delete)))
	mux.HandleFunc("POST /api/sources/{id}/test",
		authMiddleware.RequireTenant(tenantMiddleware(h.TestConnection)))

	mux.HandleFunc("GET /api/source-groups",
		authMiddleware.RequireTenant(tenantMiddleware(h.ListGroups)))
	mux.HandleFunc("POST /api/source-groups",
		authMiddleware.RequireTenant(tenantMiddleware(h.CreateGroup)))
	mux.HandleFunc("DELETE /api/source-groups/{id}",
		authMiddleware.RequireTenant(tenantMiddleware(h.DeleteGroup)))
}

// List handles GET /api/sources
func (h *SourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sourceService.ListSources(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list sources")
		return
	}
	if sources == nil {
		sources = []*models.Source{}
	}
	if err := WriteJSON(w, http.StatusOK, ListSourcesResponse{Sources: sources}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/sources
func (h *SourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req SourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	tenantID := auth.GetTenantIDFromContext(r.Context())
	source := &models.Source{
		TenantID:   tenantID,
		Name:       req.Name,
		URL:        req.URL,
		AuthEmail:  req.AuthEmail,
		APIToken:   req.APIToken,
		APIProfile: req.APIProfile,
		Active:     true,
	}
	if req.Active != nil {
		source.Active = *req.Active
	}

	if err := h.sourceService.CreateSource(r.Context(), source); err != nil {
		writeServiceError(w, h.logger, err, "Failed to create source")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, source); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/sources/{id}
func (h *SourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	source, err := h.sourceService.GetSource(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get source")
		return
	}

	if err := WriteJSON(w, http.StatusOK, source); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/sources/{id}
// An empty api_token keeps the stored token.
func (h *SourcesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req SourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	source := &models.Source{
		ID:         id,
		TenantID:   auth.GetTenantIDFromContext(r.Context()),
		Name:       req.Name,
		URL:        req.URL,
		AuthEmail:  req.AuthEmail,
		APIToken:   req.APIToken,
		APIProfile: req.APIProfile,
		Active:     true,
	}
	if req.Active != nil {
		source.Active = *req.Active
	}

	if err := h.sourceService.UpdateSource(r.Context(), source); err != nil {
		writeServiceError(w, h.logger, err, "Failed to update source")
		return
	}

	updated, err := h.sourceService.GetSource(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get source")
		return
	}
	if err := WriteJSON(w, http.StatusOK, updated); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/sources/{id}
func (h *SourcesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.sourceService.DeleteSource(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "Failed to delete source")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TestConnection handles POST /api/sources/{id}/test
// Probes the stored credentials without starting a sync.
func (h *SourcesHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.sourceService.TestConnection(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "Connection test failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, TestConnectionResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListGroups handles GET /api/source-groups
func (h *SourcesHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.sourceService.ListGroups(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list source groups")
		return
	}
	if groups == nil {
		groups = []*models.SourceGroup{}
	}
	if err := WriteJSON(w, http.StatusOK, ListSourceGroupsResponse{Groups: groups}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CreateGroup handles POST /api/source-groups
func (h *SourcesHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req SourceGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	primaryID, err := uuid.Parse(req.PrimarySourceID)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_source_id", "Invalid primary source ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	secondaryIDs := make([]uuid.UUID, 0, len(req.SecondaryIDs))
	for _, raw := range req.SecondaryIDs {
		sid, err := uuid.Parse(raw)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_source_id", "Invalid secondary source ID format"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		secondaryIDs = append(secondaryIDs, sid)
	}

	group := &models.SourceGroup{
		TenantID:        auth.GetTenantIDFromContext(r.Context()),
		Name:            req.Name,
		PrimarySourceID: primaryID,
		SecondaryIDs:    secondaryIDs,
	}
	if err := h.sourceService.CreateGroup(r.Context(), group); err != nil {
		writeServiceError(w, h.logger, err, "Failed to create source group")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, group); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// DeleteGroup handles DELETE /api/source-groups/{id}
func (h *SourcesHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.sourceService.DeleteGroup(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "Failed to delete source group")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SourcesHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
