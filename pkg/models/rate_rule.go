package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RateRuleKind identifies the specificity level of a rate rule. Resolution
// walks kinds from most to least specific and the first match wins; rules are
// never combined.
type RateRuleKind string

const (
	RateRuleTarget         RateRuleKind = "target"          // exact target key
	RateRuleContainer      RateRuleKind = "container"       // container (epic) key
	RateRuleSubjectProject RateRuleKind = "subject_project" // (author, client project) pair
	RateRuleProjectDefault RateRuleKind = "project_default" // client project default
	RateRuleClientDefault  RateRuleKind = "client_default"  // client default
)

// rateRuleSpecificity orders kinds; higher wins.
var rateRuleSpecificity = map[RateRuleKind]int{
	RateRuleTarget:         5,
	RateRuleContainer:      4,
	RateRuleSubjectProject: 3,
	RateRuleProjectDefault: 2,
	RateRuleClientDefault:  1,
}

// Specificity returns the cascade priority of the kind (higher wins, 0 for
// unknown kinds).
func (k RateRuleKind) Specificity() int {
	return rateRuleSpecificity[k]
}

// Valid reports whether k is a known rule kind.
func (k RateRuleKind) Valid() bool {
	return rateRuleSpecificity[k] > 0
}

// RateRule is a tenant-scoped billing rate override.
//
// Key interpretation depends on Kind:
//   - target:          Key is the target (issue) key
//   - container:       Key is the container (epic) key
//   - subject_project: Key is the author email, ProjectID must be set
//   - project_default: Key is empty, ProjectID must be set
//   - client_default:  Key is empty, ClientID must be set
type RateRule struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  uuid.UUID       `json:"tenant_id"`
	Kind      RateRuleKind    `json:"kind"`
	Key       string          `json:"key,omitempty"`
	ClientID  *uuid.UUID      `json:"client_id,omitempty"`
	ProjectID *uuid.UUID      `json:"project_id,omitempty"`
	Rate      decimal.Decimal `json:"rate"`
	CreatedAt time.Time       `json:"created_at"`
}
