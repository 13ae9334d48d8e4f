package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/repositories"
)

// ViewScope selects how grouped sources are reconciled in a worklog query.
//
// A single-source view shows everything that source reported, grouped or
// not. An aggregate view counts each unit of work exactly once: secondaries
// of a group are excluded because their records describe the same work as
// the group's primary.
type ViewScope struct {
	// SourceID, when set, restricts the view to one source with no group
	// filtering.
	SourceID *uuid.UUID
}

// AggregateScope is the cross-source view.
var AggregateScope = ViewScope{}

// SingleSourceScope views one source unfiltered.
func SingleSourceScope(sourceID uuid.UUID) ViewScope {
	return ViewScope{SourceID: &sourceID}
}

// ReconciliationService resolves which sources count for a view and loads
// worklogs accordingly. It is a pure read-time filter: stored records are
// never rewritten when group membership changes.
type ReconciliationService interface {
	// CountedSourceIDs returns the source IDs that participate in the given
	// view scope.
	CountedSourceIDs(ctx context.Context, scope ViewScope) ([]uuid.UUID, error)

	// ResolveWorklogs loads worklogs in [from, to) for the scope, with
	// double counting across complementary sources eliminated.
	ResolveWorklogs(ctx context.Context, from, to time.Time, scope ViewScope) ([]*models.WorklogRecord, error)
}

type reconciliationService struct {
	sourceRepo repositories.SourceRepository
	groupRepo  repositories.SourceGroupRepository
	worklogRepo repositories.WorklogRepository
	logger     *zap.Logger
}

// NewReconciliationService creates a new reconciliation service.
func NewReconciliationService(
	sourceRepo repositories.SourceRepository,
	groupRepo repositories.SourceGroupRepository,
	worklogRepo repositories.WorklogRepository,
	logger *zap.Logger,
) ReconciliationService {
	return &reconciliationService{
		sourceRepo:  sourceRepo,
		groupRepo:   groupRepo,
		worklogRepo: worklogRepo,
		logger:      logger.Named("reconciliation"),
	}
}

func (s *reconciliationService) CountedSourceIDs(ctx context.Context, scope ViewScope) ([]uuid.UUID, error) {
	if scope.SourceID != nil {
		return []uuid.UUID{*scope.SourceID}, nil
	}

	sources, err := s.sourceRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	memberships, err := s.groupRepo.Memberships(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load group memberships: %w", err)
	}

	exists := make(map[uuid.UUID]bool, len(sources))
	for _, src := range sources {
		exists[src.ID] = true
	}

	// A group only suppresses its secondaries while its primary still
	// exists. A degenerate group (primary deleted) counts every member.
	primaryAlive := make(map[uuid.UUID]bool)
	for _, m := range memberships {
		if m.Primary && exists[m.SourceID] {
			primaryAlive[m.GroupID] = true
		}
	}

	excluded := make(map[uuid.UUID]bool)
	for _, m := range memberships {
		if !m.Primary && primaryAlive[m.GroupID] {
			excluded[m.SourceID] = true
		}
	}

	counted := make([]uuid.UUID, 0, len(sources))
	for _, src := range sources {
		if !excluded[src.ID] {
			counted = append(counted, src.ID)
		}
	}

	return counted, nil
}

func (s *reconciliationService) ResolveWorklogs(ctx context.Context, from, to time.Time, scope ViewScope) ([]*models.WorklogRecord, error) {
	sourceIDs, err := s.CountedSourceIDs(ctx, scope)
	if err != nil {
		return nil, err
	}
	if sourceIDs == nil {
		sourceIDs = []uuid.UUID{}
	}

	return s.worklogRepo.List(ctx, repositories.WorklogFilter{
		From:      from,
		To:        to,
		SourceIDs: sourceIDs,
	})
}

var _ ReconciliationService = (*reconciliationService)(nil)
