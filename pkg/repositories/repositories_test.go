//go:build integration

package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hourglass-hq/hourglass-engine/pkg/database"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/testhelpers"
)

// createTestTenant inserts a fresh tenant so tests never share rows.
func createTestTenant(t *testing.T, engineDB *testhelpers.EngineDB) uuid.UUID {
	t.Helper()

	var id uuid.UUID
	err := engineDB.DB.Pool.QueryRow(context.Background(),
		`INSERT INTO tenants (name, daily_working_hours) VALUES ($1, 8) RETURNING id`,
		fmt.Sprintf("tenant-%s", uuid.NewString()),
	).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to create test tenant: %v", err)
	}
	return id
}

// tenantContext returns a context carrying a tenant scope and a cleanup func.
func tenantContext(t *testing.T, engineDB *testhelpers.EngineDB, tenantID uuid.UUID) (context.Context, func()) {
	t.Helper()

	ctx := context.Background()
	scope, err := engineDB.DB.WithTenant(ctx, tenantID)
	if err != nil {
		t.Fatalf("Failed to create tenant scope: %v", err)
	}
	return database.SetTenantScope(ctx, scope), func() { scope.Close() }
}

// createTestSource inserts a source for the tenant and returns it.
func createTestSource(t *testing.T, ctx context.Context, tenantID uuid.UUID) *models.Source {
	t.Helper()

	source := &models.Source{
		TenantID:   tenantID,
		Name:       fmt.Sprintf("source-%s", uuid.NewString()),
		URL:        "https://tracker.example.com",
		AuthEmail:  "bot@example.com",
		APIToken:   "secret-token",
		APIProfile: models.APIProfileRangeQuery,
		Active:     true,
	}
	if err := NewSourceRepository().Create(ctx, source); err != nil {
		t.Fatalf("Failed to create test source: %v", err)
	}
	return source
}

// testWorklog builds a worklog record with sensible defaults.
func testWorklog(tenantID, sourceID uuid.UUID, externalID string, startedAt time.Time, seconds int) *models.WorklogRecord {
	return &models.WorklogRecord{
		TenantID:        tenantID,
		SourceID:        sourceID,
		ExternalID:      externalID,
		AuthorEmail:     "dev@example.com",
		AuthorName:      "Dev Example",
		TargetKey:       "PROJ-42",
		TargetSummary:   "Implement feature",
		StartedAt:       startedAt,
		DurationSeconds: seconds,
	}
}
