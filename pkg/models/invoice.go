package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of an invoice.
// DRAFT -> ISSUED -> PAID, no skips, no rewinds. Once issued, correction
// means a new invoice, never editing the old one.
type InvoiceStatus string

const (
	InvoiceDraft  InvoiceStatus = "DRAFT"
	InvoiceIssued InvoiceStatus = "ISSUED"
	InvoicePaid   InvoiceStatus = "PAID"
)

// CanTransitionTo reports whether the state machine allows moving from s to
// next.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	switch s {
	case InvoiceDraft:
		return next == InvoiceIssued
	case InvoiceIssued:
		return next == InvoicePaid
	default:
		return false
	}
}

// Invoice aggregates resolved billable amounts for a client over a period.
// Number is unique per tenant, not globally.
type Invoice struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	ClientID    uuid.UUID       `json:"client_id"`
	ProjectID   *uuid.UUID      `json:"project_id,omitempty"`
	Number      int             `json:"number"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Currency    string          `json:"currency"`
	Status      InvoiceStatus   `json:"status"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Taxes       decimal.Decimal `json:"taxes"`
	Total       decimal.Decimal `json:"total"`
	Notes       string          `json:"notes,omitempty"`
	LineItems   []InvoiceLine   `json:"line_items,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	IssuedAt    *time.Time      `json:"issued_at,omitempty"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
}

// InvoiceLine is one aggregated line of an invoice. Immutable once the
// invoice leaves DRAFT.
type InvoiceLine struct {
	ID          uuid.UUID       `json:"id"`
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	Description string          `json:"description"`
	Hours       decimal.Decimal `json:"hours"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
	GroupKey    string          `json:"group_key"`
	SortOrder   int             `json:"sort_order"`
}

// InvoicePreview is the unsaved result of a preview computation. Creating an
// invoice persists exactly this snapshot.
type InvoicePreview struct {
	ClientID         uuid.UUID       `json:"client_id"`
	ProjectID        *uuid.UUID      `json:"project_id,omitempty"`
	PeriodStart      time.Time       `json:"period_start"`
	PeriodEnd        time.Time       `json:"period_end"`
	Currency         string          `json:"currency"`
	GroupBy          string          `json:"group_by"`
	LineItems        []InvoiceLine   `json:"line_items"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	BillableHours    decimal.Decimal `json:"billable_hours"`
	NonBillableHours decimal.Decimal `json:"non_billable_hours"`
}
