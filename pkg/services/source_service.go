package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
	"github.com/hourglass-hq/hourglass-engine/pkg/config"
	"github.com/hourglass-hq/hourglass-engine/pkg/logging"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/repositories"
)

// SourceService manages time-tracking sources and their complementary
// groups.
type SourceService interface {
	// CreateSource registers a source.
	CreateSource(ctx context.Context, source *models.Source) error

	// GetSource retrieves a source by ID.
	GetSource(ctx context.Context, id uuid.UUID) (*models.Source, error)

	// ListSources retrieves all of the tenant's sources.
	ListSources(ctx context.Context) ([]*models.Source, error)

	// UpdateSource modifies a source. An empty APIToken keeps the stored
	// token.
	UpdateSource(ctx context.Context, source *models.Source) error

	// DeleteSource removes a source and its worklogs.
	DeleteSource(ctx context.Context, id uuid.UUID) error

	// TestConnection probes the source's credentials without starting a
	// sync.
	TestConnection(ctx context.Context, id uuid.UUID) error

	// CreateGroup clusters sources so aggregate views count their shared
	// work once. Exactly one member is primary.
	CreateGroup(ctx context.Context, group *models.SourceGroup) error

	// ListGroups retrieves the tenant's groups.
	ListGroups(ctx context.Context) ([]*models.SourceGroup, error)

	// DeleteGroup dissolves a group. Stored worklogs are untouched; the
	// next aggregate view simply counts every former member again.
	DeleteGroup(ctx context.Context, id uuid.UUID) error
}

type sourceService struct {
	sourceRepo    repositories.SourceRepository
	groupRepo     repositories.SourceGroupRepository
	clientFactory ClientFactory
	cfg           config.SyncConfig
	logger        *zap.Logger
}

// NewSourceService creates a new source service.
func NewSourceService(
	sourceRepo repositories.SourceRepository,
	groupRepo repositories.SourceGroupRepository,
	clientFactory ClientFactory,
	cfg config.SyncConfig,
	logger *zap.Logger,
) SourceService {
	return &sourceService{
		sourceRepo:    sourceRepo,
		groupRepo:     groupRepo,
		clientFactory: clientFactory,
		cfg:           cfg,
		logger:        logger.Named("source-service"),
	}
}

var _ SourceService = (*sourceService)(nil)

func (s *sourceService) validate(source *models.Source) error {
	if source.Name == "" {
		return fmt.Errorf("%w: source name is required", apperrors.ErrInvalidInput)
	}
	if source.URL == "" {
		return fmt.Errorf("%w: source URL is required", apperrors.ErrInvalidInput)
	}
	if !models.ValidAPIProfile(source.APIProfile) {
		return fmt.Errorf("%w: unknown api profile %q", apperrors.ErrInvalidInput, source.APIProfile)
	}
	return nil
}

func (s *sourceService) CreateSource(ctx context.Context, source *models.Source) error {
	if err := s.validate(source); err != nil {
		return err
	}
	if source.APIToken == "" {
		return fmt.Errorf("%w: api token is required", apperrors.ErrInvalidInput)
	}
	return s.sourceRepo.Create(ctx, source)
}

func (s *sourceService) GetSource(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	return s.sourceRepo.GetByID(ctx, id)
}

func (s *sourceService) ListSources(ctx context.Context) ([]*models.Source, error) {
	return s.sourceRepo.List(ctx)
}

func (s *sourceService) UpdateSource(ctx context.Context, source *models.Source) error {
	if err := s.validate(source); err != nil {
		return err
	}
	return s.sourceRepo.Update(ctx, source)
}

func (s *sourceService) DeleteSource(ctx context.Context, id uuid.UUID) error {
	return s.sourceRepo.Delete(ctx, id)
}

func (s *sourceService) TestConnection(ctx context.Context, id uuid.UUID) error {
	source, err := s.sourceRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	client, err := s.clientFactory(source)
	if err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	if err := client.Probe(probeCtx); err != nil {
		s.logger.Warn("connection test failed",
			zap.String("source_id", id.String()),
			zap.String("error", logging.SanitizeError(err)))
		return err
	}
	return nil
}

func (s *sourceService) CreateGroup(ctx context.Context, group *models.SourceGroup) error {
	if group.Name == "" {
		return fmt.Errorf("%w: group name is required", apperrors.ErrInvalidInput)
	}
	if group.PrimarySourceID == uuid.Nil {
		return fmt.Errorf("%w: group requires a primary source", apperrors.ErrInvalidInput)
	}
	for _, id := range group.SecondaryIDs {
		if id == group.PrimarySourceID {
			return fmt.Errorf("%w: primary source cannot also be a secondary", apperrors.ErrInvalidInput)
		}
	}

	// Members must belong to the tenant; RLS hides foreign sources, so a
	// lookup miss covers both the missing and the cross-tenant case.
	if _, err := s.sourceRepo.GetByID(ctx, group.PrimarySourceID); err != nil {
		return fmt.Errorf("primary source: %w", err)
	}
	for _, id := range group.SecondaryIDs {
		if _, err := s.sourceRepo.GetByID(ctx, id); err != nil {
			return fmt.Errorf("secondary source %s: %w", id, err)
		}
	}

	return s.groupRepo.Create(ctx, group)
}

func (s *sourceService) ListGroups(ctx context.Context) ([]*models.SourceGroup, error) {
	return s.groupRepo.List(ctx)
}

func (s *sourceService) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	return s.groupRepo.Delete(ctx, id)
}
