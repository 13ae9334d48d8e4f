// Package models contains domain types for hourglass-engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the isolation boundary. Every other entity carries a tenant id
// and no query may cross tenants.
type Tenant struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	// DailyWorkingHours is the expected-hours baseline for one working day.
	// Configurable per tenant; part-time organizations set it below 8.
	DailyWorkingHours float64   `json:"daily_working_hours"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
