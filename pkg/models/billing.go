package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Client is a billed customer of the tenant.
type Client struct {
	ID          uuid.UUID        `json:"id"`
	TenantID    uuid.UUID        `json:"tenant_id"`
	Name        string           `json:"name"`
	Currency    string           `json:"currency"`
	DefaultRate *decimal.Decimal `json:"default_rate,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ClientProject groups worklogs of a client for billing. Worklogs are matched
// to a project through its source mappings.
type ClientProject struct {
	ID          uuid.UUID        `json:"id"`
	TenantID    uuid.UUID        `json:"tenant_id"`
	ClientID    uuid.UUID        `json:"client_id"`
	Name        string           `json:"name"`
	DefaultRate *decimal.Decimal `json:"default_rate,omitempty"`
	Mappings    []ProjectMapping `json:"mappings,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ProjectMapping routes worklogs to a client project: a worklog belongs to
// the project when it came from SourceID and its target key starts with
// TargetPrefix.
type ProjectMapping struct {
	ID           uuid.UUID `json:"id"`
	ProjectID    uuid.UUID `json:"project_id"`
	SourceID     uuid.UUID `json:"source_id"`
	TargetPrefix string    `json:"target_prefix"`
}
