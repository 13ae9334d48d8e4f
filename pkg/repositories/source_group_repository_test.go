//go:build integration

package repositories

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/testhelpers"
)

func TestSourceGroupRepository_CreateAndMemberships(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	tenantID := createTestTenant(t, engineDB)
	ctx, cleanup := tenantContext(t, engineDB, tenantID)
	defer cleanup()

	primary := createTestSource(t, ctx, tenantID)
	secondary := createTestSource(t, ctx, tenantID)
	ungrouped := createTestSource(t, ctx, tenantID)

	repo := NewSourceGroupRepository()
	group := &models.SourceGroup{
		TenantID:        tenantID,
		Name:            "tracker-pair-" + uuid.NewString(),
		PrimarySourceID: primary.ID,
		SecondaryIDs:    []uuid.UUID{secondary.ID},
	}
	if err := repo.Create(ctx, group); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := repo.GetByID(ctx, group.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.PrimarySourceID != primary.ID {
		t.Errorf("wrong primary: got %s, want %s", got.PrimarySourceID, primary.ID)
	}
	if len(got.SecondaryIDs) != 1 || got.SecondaryIDs[0] != secondary.ID {
		t.Errorf("wrong secondaries: %v", got.SecondaryIDs)
	}

	memberships, err := repo.Memberships(ctx)
	if err != nil {
		t.Fatalf("memberships failed: %v", err)
	}
	byersource := make(map[uuid.UUID]GroupMembership)
	for _, m := range memberships {
		byersource[m.SourceID] = m
	}
	if m, ok := byersource[primary.ID]; !ok || !m.Primary {
		t.Errorf("primary membership missing or wrong: %+v", m)
	}
	if m, ok := byersource[secondary.ID]; !ok || m.Primary {
		t.Errorf("secondary membership missing or wrong: %+v", m)
	}
	if _, ok := byersource[ungrouped.ID]; ok {
		t.Error("ungrouped source must not appear in memberships")
	}
}

func TestSourceGroupRepository_RejectsDoubleMembership(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	tenantID := createTestTenant(t, engineDB)
	ctx, cleanup := tenantContext(t, engineDB, tenantID)
	defer cleanup()

	shared := createTestSource(t, ctx, tenantID)
	other := createTestSource(t, ctx, tenantID)

	repo := NewSourceGroupRepository()
	first := &models.SourceGroup{
		TenantID:        tenantID,
		Name:            "group-a-" + uuid.NewString(),
		PrimarySourceID: shared.ID,
	}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	second := &models.SourceGroup{
		TenantID:        tenantID,
		Name:            "group-b-" + uuid.NewString(),
		PrimarySourceID: other.ID,
		SecondaryIDs:    []uuid.UUID{shared.ID},
	}
	if err := repo.Create(ctx, second); !errors.Is(err, apperrors.ErrSourceGrouped) {
		t.Fatalf("expected ErrSourceGrouped, got %v", err)
	}

	// The failed create must not leave a half-written group behind.
	groups, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(groups) != 1 {
		t.Errorf("expected 1 group after rejected create, got %d", len(groups))
	}
}
