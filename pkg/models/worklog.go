package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WorklogRecord is the canonical unit of logged time, keyed by
// (tenant, source, external id). Re-ingesting the same external record
// updates the row, never duplicates it.
//
// TargetSummary, ContainerKey and ContainerName are denormalized snapshots of
// the external system's display fields. They may go stale and are refreshed
// only on re-sync.
type WorklogRecord struct {
	ID              uuid.UUID `json:"id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	SourceID        uuid.UUID `json:"source_id"`
	ExternalID      string    `json:"external_id"`
	AuthorEmail     string    `json:"author_email"`
	AuthorName      string    `json:"author_name"`
	TargetKey       string    `json:"target_key"`
	TargetSummary   string    `json:"target_summary"`
	ContainerKey    *string   `json:"container_key,omitempty"`
	ContainerName   *string   `json:"container_name,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int       `json:"duration_seconds"`
	Comment         string    `json:"comment,omitempty"`
	SyncedAt        time.Time `json:"synced_at"`
}

// Hours returns the logged duration in hours.
func (w *WorklogRecord) Hours() float64 {
	return float64(w.DurationSeconds) / 3600
}

// HoursDecimal returns the logged duration in hours as an exact decimal.
// Billing math must stay in decimals until the line-item boundary.
func (w *WorklogRecord) HoursDecimal() decimal.Decimal {
	return decimal.NewFromInt(int64(w.DurationSeconds)).Div(decimal.NewFromInt(3600))
}

// TargetPrefix returns the project portion of the target key ("PROJ" for
// "PROJ-42"). Keys without a dash are returned unchanged.
func (w *WorklogRecord) TargetPrefix() string {
	for i := 0; i < len(w.TargetKey); i++ {
		if w.TargetKey[i] == '-' {
			return w.TargetKey[:i]
		}
	}
	return w.TargetKey
}

// WorklogClassification marks a worklog billable or not, with an optional
// rate override that wins over every rate rule.
type WorklogClassification struct {
	WorklogID    uuid.UUID        `json:"worklog_id"`
	TenantID     uuid.UUID        `json:"tenant_id"`
	Billable     bool             `json:"billable"`
	OverrideRate *decimal.Decimal `json:"override_rate,omitempty"`
	Note         string           `json:"note,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
