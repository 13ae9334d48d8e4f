package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncRunStatus is the state of one sync attempt. RUNNING rows double as the
// per-(tenant, source) advisory lock; terminal rows are never mutated.
type SyncRunStatus string

const (
	SyncRunning   SyncRunStatus = "RUNNING"
	SyncCompleted SyncRunStatus = "COMPLETED"
	SyncFailed    SyncRunStatus = "FAILED"
	SyncCancelled SyncRunStatus = "CANCELLED"
)

// Terminal reports whether the status is final.
func (s SyncRunStatus) Terminal() bool {
	return s == SyncCompleted || s == SyncFailed || s == SyncCancelled
}

// BatchStatus is the outcome of one batch inside a sync run.
type BatchStatus string

const (
	BatchOK      BatchStatus = "ok"
	BatchSkipped BatchStatus = "skipped"
	BatchFatal   BatchStatus = "fatal"
)

// BatchResult records what happened to one batch. The per-batch results make
// partial failures observable instead of silently swallowed.
type BatchResult struct {
	Seq     int         `json:"seq"`
	Status  BatchStatus `json:"status"`
	Records int         `json:"records"`
	Reason  string      `json:"reason,omitempty"`
}

// BatchResults is a JSONB-persisted slice of batch outcomes.
type BatchResults []BatchResult

// Value implements driver.Valuer for database serialization.
func (b BatchResults) Value() (driver.Value, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(b)
}

// Scan implements sql.Scanner for database deserialization.
func (b *BatchResults) Scan(value interface{}) error {
	if value == nil {
		*b = BatchResults{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into BatchResults", value)
	}
	return json.Unmarshal(bytes, b)
}

// SyncRun is one attempt to reconcile one source's external records into
// canonical storage over a date range. Append-only audit trail.
type SyncRun struct {
	ID               uuid.UUID     `json:"id"`
	TenantID         uuid.UUID     `json:"tenant_id"`
	SourceID         uuid.UUID     `json:"source_id"`
	PeriodStart      time.Time     `json:"period_start"`
	PeriodEnd        time.Time     `json:"period_end"`
	Status           SyncRunStatus `json:"status"`
	RecordsProcessed int           `json:"records_processed"`
	RecordsInserted  int           `json:"records_inserted"`
	RecordsUpdated   int           `json:"records_updated"`
	SkippedBatches   int           `json:"skipped_batches"`
	Batches          BatchResults  `json:"batches,omitempty"`
	CancelRequested  bool          `json:"cancel_requested"`
	Error            *string       `json:"error,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	HeartbeatAt      time.Time     `json:"heartbeat_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}
