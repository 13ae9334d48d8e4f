package models

import (
	"time"

	"github.com/google/uuid"
)

// APIProfile selects which source client implementation talks to an external
// system. It is a static capability flag on the Source, not runtime
// negotiation.
const (
	// APIProfileRangeQuery is the rich profile: the external system answers a
	// direct date-range query with cursor pagination.
	APIProfileRangeQuery = "range_query"
	// APIProfileEnumerate is the fallback profile: targets carrying worklogs
	// must be enumerated first, then each target's records fetched.
	APIProfileEnumerate = "enumerate"
)

// Source is a configured external time-tracking system instance.
// APIToken is kept encrypted-at-rest out of scope; it is never serialized.
type Source struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	AuthEmail  string    `json:"auth_email"`
	APIToken   string    `json:"-"`
	APIProfile string    `json:"api_profile"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ValidAPIProfile reports whether p names a known source client profile.
func ValidAPIProfile(p string) bool {
	return p == APIProfileRangeQuery || p == APIProfileEnumerate
}

// SourceGroup clusters sources that describe the same underlying work.
// Exactly one member is primary; secondaries exist for richer metadata and
// must not be counted in aggregate views.
type SourceGroup struct {
	ID              uuid.UUID   `json:"id"`
	TenantID        uuid.UUID   `json:"tenant_id"`
	Name            string      `json:"name"`
	PrimarySourceID uuid.UUID   `json:"primary_source_id"`
	SecondaryIDs    []uuid.UUID `json:"secondary_ids"`
	CreatedAt       time.Time   `json:"created_at"`
}
