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

// ClientRequest is the POST/PUT body for clients.
type ClientRequest struct {
	Name        string  `json:"name"`
	Currency    string  `json:"currency,omitempty"`
	DefaultRate *string `json:"default_rate,omitempty"`
}

// ListClientsResponse wraps the array for frontend compatibility.
type ListClientsResponse struct {
	Clients []*models.Client `json:"clients"`
}

// ProjectMappingRequest routes a source's target prefix to a project.
type ProjectMappingRequest struct {
	SourceID     string `json:"source_id"`
	TargetPrefix string `json:"target_prefix"`
}

// ProjectRequest is the POST body for client projects.
type ProjectRequest struct {
	Name        string                  `json:"name"`
	DefaultRate *string                 `json:"default_rate,omitempty"`
	Mappings    []ProjectMappingRequest `json:"mappings,omitempty"`
}

// ListProjectsResponse wraps the array for frontend compatibility.
type ListProjectsResponse struct {
	Projects []*models.ClientProject `json:"projects"`
}

// ClassificationRequest is the PUT body for worklog classifications.
type ClassificationRequest struct {
	Billable     bool    `json:"billable"`
	OverrideRate *string `json:"override_rate,omitempty"`
	Note         string  `json:"note,omitempty"`
}

// BillingHandler handles client, project and classification HTTP requests.
type BillingHandler struct {
	billingService services.BillingService
	logger         *zap.Logger
}

// NewBillingHandler creates a new billing handler.
func NewBillingHandler(billingService services.BillingService, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{
		billingService: billingService,
		logger:         logger,
	}
}

// RegisterRoutes registers the billing handler's routes on the given mux.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/clients",
		authMiddleware.RequireTenant(tenantMiddleware(h.ListClients)))
	mux.HandleFunc("POST /api/clients",
		authMiddleware.RequireTenant(tenantMiddleware(h.CreateClient)))
	mux.HandleFunc("GET /api/clients/{id}",
		authMiddleware.RequireTenant(tenantMiddleware(h.GetClient)))
	mux.HandleFunc("PUT /api/clients/{id}",
		authMiddleware.RequireTenant(tenantMiddleware(h.UpdateClient)))
	mux.HandleFunc("DELETE /api/clients/{id}",
		authMiddleware.RequireTenant(tenantMiddleware(h.DeleteClient)))

	mux.HandleFunc("GET /api/clients/{id}/projects",
		authMiddleware.RequireTenant(tenantMiddleware(h.ListProjects)))
	mux.HandleFunc("POST /api/clients/{id}/projects",
		authMiddleware.RequireTenant(tenantMiddleware(h.CreateProject)))
	mux.HandleFunc("GET /api/projects/{id}",
		authMiddleware.RequireTenant(tenantMiddleware(h.GetProject)))
	mux.HandleFunc("PUT /api/projects/{id}/mappings",
		authMiddleware.RequireTenant(tenantMiddleware(h.ReplaceMappings)))
	mux.HandleFunc("DELETE /api/projects/{id}",
		authMiddleware.RequireTenant(tenantMiddleware(h.DeleteProject)))

	mux.HandleFunc("PUT /api/worklogs/{id}/classification",
		authMiddleware.RequireTenant(tenantMiddleware(h.ClassifyWorklog)))
	mux.HandleFunc("DELETE /api/worklogs/{id}/classification",
		authMiddleware.RequireTenant(tenantMiddleware(h.ClearClassification)))
}

// ListClients handles GET /api/clients
func (h *BillingHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.billingService.ListClients(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list clients")
		return
	}
	if clients == nil {
		clients = []*models.Client{}
	}
	if err := WriteJSON(w, http.StatusOK, ListClientsResponse{Clients: clients}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CreateClient handles POST /api/clients
func (h *BillingHandler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	client := &models.Client{
		TenantID: auth.GetTenantIDFromContext(r.Context()),
		Name:     req.Name,
		Currency: req.Currency,
	}
	rate, ok := h.optionalRate(w, req.DefaultRate)
	if !ok {
		return
	}
	client.DefaultRate = rate

	if err := h.billingService.CreateClient(r.Context(), client); err != nil {
		writeServiceError(w, h.logger, err, "Failed to create client")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, client); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetClient handles GET /api/clients/{id}
func (h *BillingHandler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	client, err := h.billingService.GetClient(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get client")
		return
	}

	if err := WriteJSON(w, http.StatusOK, client); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// UpdateClient handles PUT /api/clients/{id}
func (h *BillingHandler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	client := &models.Client{
		ID:       id,
		TenantID: auth.GetTenantIDFromContext(r.Context()),
		Name:     req.Name,
		Currency: req.Currency,
	}
	rate, ok := h.optionalRate(w, req.DefaultRate)
	if !ok {
		return
	}
	client.DefaultRate = rate

	if err := h.billingService.UpdateClient(r.Context(), client); err != nil {
		writeServiceError(w, h.logger, err, "Failed to update client")
		return
	}

	if err := WriteJSON(w, http.StatusOK, client); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// DeleteClient handles DELETE /api/clients/{id}
func (h *BillingHandler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.billingService.DeleteClient(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "Failed to delete client")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListProjects handles GET /api/clients/{id}/projects
func (h *BillingHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	projects, err := h.billingService.ListProjects(r.Context(), clientID)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list projects")
		return
	}
	if projects == nil {
		projects = []*models.ClientProject{}
	}
	if err := WriteJSON(w, http.StatusOK, ListProjectsResponse{Projects: projects}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CreateProject handles POST /api/clients/{id}/projects
func (h *BillingHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req ProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	project := &models.ClientProject{
		TenantID: auth.GetTenantIDFromContext(r.Context()),
		ClientID: clientID,
		Name:     req.Name,
	}
	rate, ok := h.optionalRate(w, req.DefaultRate)
	if !ok {
		return
	}
	project.DefaultRate = rate

	mappings, ok := h.parseMappings(w, req.Mappings)
	if !ok {
		return
	}
	project.Mappings = mappings

	if err := h.billingService.CreateProject(r.Context(), project); err != nil {
		writeServiceError(w, h.logger, err, "Failed to create project")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, project); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetProject handles GET /api/projects/{id}
func (h *BillingHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	project, err := h.billingService.GetProject(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get project")
		return
	}

	if err := WriteJSON(w, http.StatusOK, project); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ReplaceMappings handles PUT /api/projects/{id}/mappings
// The submitted set replaces all existing mappings for the project.
func (h *BillingHandler) ReplaceMappings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req []ProjectMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	mappings, ok := h.parseMappings(w, req)
	if !ok {
		return
	}

	if err := h.billingService.ReplaceMappings(r.Context(), id, mappings); err != nil {
		writeServiceError(w, h.logger, err, "Failed to replace mappings")
		return
	}

	project, err := h.billingService.GetProject(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get project")
		return
	}
	if err := WriteJSON(w, http.StatusOK, project); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// DeleteProject handles DELETE /api/projects/{id}
func (h *BillingHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.billingService.DeleteProject(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "Failed to delete project")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClassifyWorklog handles PUT /api/worklogs/{id}/classification
func (h *BillingHandler) ClassifyWorklog(w http.ResponseWriter, r *http.Request) {
	worklogID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req ClassificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	c := &models.WorklogClassification{
		WorklogID: worklogID,
		Billable:  req.Billable,
		Note:      req.Note,
	}
	rate, ok := h.optionalRate(w, req.OverrideRate)
	if !ok {
		return
	}
	c.OverrideRate = rate

	if err := h.billingService.ClassifyWorklog(r.Context(), c); err != nil {
		writeServiceError(w, h.logger, err, "Failed to classify worklog")
		return
	}

	if err := WriteJSON(w, http.StatusOK, c); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ClearClassification handles DELETE /api/worklogs/{id}/classification
func (h *BillingHandler) ClearClassification(w http.ResponseWriter, r *http.Request) {
	worklogID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.billingService.ClearClassification(r.Context(), worklogID); err != nil {
		writeServiceError(w, h.logger, err, "Failed to clear classification")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *BillingHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

func (h *BillingHandler) optionalRate(w http.ResponseWriter, raw *string) (*decimal.Decimal, bool) {
	if raw == nil {
		return nil, true
	}
	rate, err := decimal.NewFromString(*raw)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_rate", "rate must be a decimal string"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}
	return &rate, true
}

func (h *BillingHandler) parseMappings(w http.ResponseWriter, reqs []ProjectMappingRequest) ([]models.ProjectMapping, bool) {
	mappings := make([]models.ProjectMapping, 0, len(reqs))
	for _, m := range reqs {
		sourceID, err := uuid.Parse(m.SourceID)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_source_id", "Invalid mapping source ID format"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return nil, false
		}
		mappings = append(mappings, models.ProjectMapping{
			SourceID:     sourceID,
			TargetPrefix: m.TargetPrefix,
		})
	}
	return mappings, true
}
