package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/auth"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/services"
)

// PreviewInvoiceRequest is the POST body for invoice previews and drafts.
// Dates are YYYY-MM-DD; the period is half-open [from, to).
type PreviewInvoiceRequest struct {
	ClientID    string  `json:"client_id"`
	ProjectID   *string `json:"project_id,omitempty"`
	PeriodStart string  `json:"period_start"`
	PeriodEnd   string  `json:"period_end"`
}

// ListInvoicesResponse wraps the array for frontend compatibility.
type ListInvoicesResponse struct {
	Invoices []*models.Invoice `json:"invoices"`
}

// InvoicesHandler handles invoice HTTP requests.
type InvoicesHandler struct {
	invoiceService services.InvoiceService
	logger         *zap.Logger
}

// NewInvoicesHandler creates a new invoices handler.
func NewInvoicesHandler(invoiceService services.InvoiceService, logger *zap.Logger) *InvoicesHandler {
	return &InvoicesHandler{
		invoiceService: invoiceService,
		logger:         logger,
	}
}

// RegisterRoutes registers the invoices handler's routes on the given mux.
func (h *InvoicesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("POST /api/invoices/preview",
		authMiddleware.RequireTenant(tenantMiddleware(h.Preview)))
	mux.HandleFunc("POST /api/invoices",
		authMiddleware.RequireTenant(tenantMiddleware(h.Create)))
	mux.HandleFunc("GET /api/invoices",
		authMiddleware.RequireTenant(tenantMiddleware(h.List)))
	mux.HandleFunc("GET /api/invoices/{id}",
		authMiddleware.RequireTenant(tenantMiddleware(h.Get)))
	mux.HandleFunc("DELETE /api/invoices/{id}",
		authMiddleware.RequireTenant(tenantMiddleware(h.Delete)))
	mux.HandleFunc("POST /api/invoices/{id}/issue",
		authMiddleware.RequireTenant(tenantMiddleware(h.Issue)))
	mux.HandleFunc("POST /api/invoices/{id}/pay",
		authMiddleware.RequireTenant(tenantMiddleware(h.MarkPaid)))
	mux.HandleFunc("GET /api/invoices/{id}/export.csv",
		authMiddleware.RequireTenant(tenantMiddleware(h.ExportCSV)))
}

// Preview handles POST /api/invoices/preview
// Pure read: nothing is persisted.
func (h *InvoicesHandler) Preview(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parsePreviewRequest(w, r)
	if !ok {
		return
	}

	preview, err := h.invoiceService.GeneratePreview(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to generate invoice preview")
		return
	}

	if err := WriteJSON(w, http.StatusOK, preview); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/invoices
// Recomputes the preview server-side and persists it as a DRAFT invoice, so
// a stale client snapshot cannot be frozen into a draft.
func (h *InvoicesHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parsePreviewRequest(w, r)
	if !ok {
		return
	}

	preview, err := h.invoiceService.GeneratePreview(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to generate invoice preview")
		return
	}

	invoice, err := h.invoiceService.CreateInvoice(r.Context(), preview)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to create invoice")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, invoice); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/invoices
func (h *InvoicesHandler) List(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.invoiceService.ListInvoices(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list invoices")
		return
	}
	if invoices == nil {
		invoices = []*models.Invoice{}
	}
	if err := WriteJSON(w, http.StatusOK, ListInvoicesResponse{Invoices: invoices}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/invoices/{id}
func (h *InvoicesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	invoice, err := h.invoiceService.GetInvoice(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get invoice")
		return
	}

	if err := WriteJSON(w, http.StatusOK, invoice); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/invoices/{id}
// Only DRAFT invoices can be deleted.
func (h *InvoicesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.invoiceService.DeleteInvoice(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "Failed to delete invoice")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Issue handles POST /api/invoices/{id}/issue
func (h *InvoicesHandler) Issue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	invoice, err := h.invoiceService.Issue(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to issue invoice")
		return
	}

	if err := WriteJSON(w, http.StatusOK, invoice); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// MarkPaid handles POST /api/invoices/{id}/pay
func (h *InvoicesHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	invoice, err := h.invoiceService.MarkPaid(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to mark invoice paid")
		return
	}

	if err := WriteJSON(w, http.StatusOK, invoice); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ExportCSV handles GET /api/invoices/{id}/export.csv
// The export is deterministic: the same invoice always produces the same
// bytes.
func (h *InvoicesHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	// Look the invoice up first so service errors still produce a JSON
	// error body instead of a half-written CSV.
	invoice, err := h.invoiceService.GetInvoice(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get invoice")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=invoice-%d.csv", invoice.Number))
	if err := h.invoiceService.ExportCSV(r.Context(), id, w); err != nil {
		h.logger.Error("Failed to export invoice",
			zap.String("invoice_id", id.String()),
			zap.Error(err))
	}
}

func (h *InvoicesHandler) parsePreviewRequest(w http.ResponseWriter, r *http.Request) (services.PreviewRequest, bool) {
	var body PreviewInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return services.PreviewRequest{}, false
	}

	clientID, err := uuid.Parse(body.ClientID)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_client_id", "Invalid client ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return services.PreviewRequest{}, false
	}

	req := services.PreviewRequest{ClientID: clientID}
	if body.ProjectID != nil {
		projectID, err := uuid.Parse(*body.ProjectID)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_project_id", "Invalid project ID format"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return services.PreviewRequest{}, false
		}
		req.ProjectID = &projectID
	}

	req.PeriodStart, err = time.Parse("2006-01-02", body.PeriodStart)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_date", "period_start must be a YYYY-MM-DD date"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return services.PreviewRequest{}, false
	}
	req.PeriodEnd, err = time.Parse("2006-01-02", body.PeriodEnd)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_date", "period_end must be a YYYY-MM-DD date"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return services.PreviewRequest{}, false
	}

	return req, true
}

func (h *InvoicesHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid invoice ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
