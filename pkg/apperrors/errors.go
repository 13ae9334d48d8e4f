// Package apperrors defines the error vocabulary shared across services,
// repositories and handlers.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidInput     = errors.New("invalid input")
	ErrSyncInProgress   = errors.New("sync already running for this source")
	ErrSourceGrouped    = errors.New("source already belongs to a group")
	ErrNoTenantScope    = errors.New("no tenant scope in context")
	ErrRunNotCancelable = errors.New("sync run is not cancelable")
)

// SourceErrorKind classifies failures surfaced by source clients.
// The sync orchestrator branches on the kind: auth failures abort the run,
// rate limits and transient failures are retried, malformed records are
// skipped individually.
type SourceErrorKind string

const (
	SourceErrAuth      SourceErrorKind = "auth"
	SourceErrRateLimit SourceErrorKind = "rate_limit"
	SourceErrTransient SourceErrorKind = "transient"
	SourceErrMalformed SourceErrorKind = "malformed"
)

// SourceError wraps an external-system failure with its classification.
type SourceError struct {
	Kind SourceErrorKind
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source error (%s): %v", e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsRetryable reports whether the sync pipeline should retry after this error.
// Auth failures need operator intervention; malformed payloads never improve
// on retry.
func (e *SourceError) IsRetryable() bool {
	return e.Kind == SourceErrRateLimit || e.Kind == SourceErrTransient
}

// NewSourceError wraps err with the given kind.
func NewSourceError(kind SourceErrorKind, err error) *SourceError {
	return &SourceError{Kind: kind, Err: err}
}

// SourceErrorOfKind reports whether err is a SourceError of the given kind.
func SourceErrorOfKind(err error, kind SourceErrorKind) bool {
	var se *SourceError
	return errors.As(err, &se) && se.Kind == kind
}

// InvalidStateError is returned when a lifecycle transition is attempted from
// the wrong state. The message names current vs required state so the caller
// gets an actionable reason, not just a rejection.
type InvalidStateError struct {
	Entity   string
	Current  string
	Required string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s is %s, operation requires %s", e.Entity, e.Current, e.Required)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var ise *InvalidStateError
	return errors.As(err, &ise)
}
