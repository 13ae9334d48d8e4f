package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/repositories"
)

// BillingService manages clients, their projects and per-worklog billable
// classifications.
type BillingService interface {
	CreateClient(ctx context.Context, client *models.Client) error
	GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error)
	ListClients(ctx context.Context) ([]*models.Client, error)
	UpdateClient(ctx context.Context, client *models.Client) error
	DeleteClient(ctx context.Context, id uuid.UUID) error

	CreateProject(ctx context.Context, project *models.ClientProject) error
	GetProject(ctx context.Context, id uuid.UUID) (*models.ClientProject, error)
	ListProjects(ctx context.Context, clientID uuid.UUID) ([]*models.ClientProject, error)
	ReplaceMappings(ctx context.Context, projectID uuid.UUID, mappings []models.ProjectMapping) error
	DeleteProject(ctx context.Context, id uuid.UUID) error

	// ClassifyWorklog overrides a worklog's billing: non-billable, or
	// billable at an explicit rate that wins over every cascade rule.
	ClassifyWorklog(ctx context.Context, c *models.WorklogClassification) error

	// ClearClassification removes an override, restoring cascade
	// resolution.
	ClearClassification(ctx context.Context, worklogID uuid.UUID) error
}

type billingService struct {
	clientRepo         repositories.ClientRepository
	classificationRepo repositories.ClassificationRepository
	worklogRepo        repositories.WorklogRepository
	logger             *zap.Logger
}

// NewBillingService creates a new billing service.
func NewBillingService(
	clientRepo repositories.ClientRepository,
	classificationRepo repositories.ClassificationRepository,
	worklogRepo repositories.WorklogRepository,
	logger *zap.Logger,
) BillingService {
	return &billingService{
		clientRepo:         clientRepo,
		classificationRepo: classificationRepo,
		worklogRepo:        worklogRepo,
		logger:             logger.Named("billing-service"),
	}
}

var _ BillingService = (*billingService)(nil)

func (s *billingService) CreateClient(ctx context.Context, client *models.Client) error {
	if client.Name == "" {
		return fmt.Errorf("%w: client name is required", apperrors.ErrInvalidInput)
	}
	if client.Currency == "" {
		client.Currency = "EUR"
	}
	if client.DefaultRate != nil && client.DefaultRate.IsNegative() {
		return fmt.Errorf("%w: default rate must not be negative", apperrors.ErrInvalidInput)
	}
	return s.clientRepo.CreateClient(ctx, client)
}

func (s *billingService) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	return s.clientRepo.GetClient(ctx, id)
}

func (s *billingService) ListClients(ctx context.Context) ([]*models.Client, error) {
	return s.clientRepo.ListClients(ctx)
}

func (s *billingService) UpdateClient(ctx context.Context, client *models.Client) error {
	if client.Name == "" {
		return fmt.Errorf("%w: client name is required", apperrors.ErrInvalidInput)
	}
	return s.clientRepo.UpdateClient(ctx, client)
}

func (s *billingService) DeleteClient(ctx context.Context, id uuid.UUID) error {
	return s.clientRepo.DeleteClient(ctx, id)
}

func (s *billingService) CreateProject(ctx context.Context, project *models.ClientProject) error {
	if project.Name == "" {
		return fmt.Errorf("%w: project name is required", apperrors.ErrInvalidInput)
	}
	if project.ClientID == uuid.Nil {
		return fmt.Errorf("%w: project requires a client", apperrors.ErrInvalidInput)
	}
	for _, m := range project.Mappings {
		if m.SourceID == uuid.Nil || m.TargetPrefix == "" {
			return fmt.Errorf("%w: mapping requires a source and target prefix", apperrors.ErrInvalidInput)
		}
	}
	if _, err := s.clientRepo.GetClient(ctx, project.ClientID); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	return s.clientRepo.CreateProject(ctx, project)
}

func (s *billingService) GetProject(ctx context.Context, id uuid.UUID) (*models.ClientProject, error) {
	return s.clientRepo.GetProject(ctx, id)
}

func (s *billingService) ListProjects(ctx context.Context, clientID uuid.UUID) ([]*models.ClientProject, error) {
	return s.clientRepo.ListProjects(ctx, clientID)
}

func (s *billingService) ReplaceMappings(ctx context.Context, projectID uuid.UUID, mappings []models.ProjectMapping) error {
	for _, m := range mappings {
		if m.SourceID == uuid.Nil || m.TargetPrefix == "" {
			return fmt.Errorf("%w: mapping requires a source and target prefix", apperrors.ErrInvalidInput)
		}
	}
	return s.clientRepo.ReplaceMappings(ctx, projectID, mappings)
}

func (s *billingService) DeleteProject(ctx context.Context, id uuid.UUID) error {
	return s.clientRepo.DeleteProject(ctx, id)
}

func (s *billingService) ClassifyWorklog(ctx context.Context, c *models.WorklogClassification) error {
	if c.OverrideRate != nil && c.OverrideRate.IsNegative() {
		return fmt.Errorf("%w: override rate must not be negative", apperrors.ErrInvalidInput)
	}

	worklog, err := s.worklogRepo.GetByID(ctx, c.WorklogID)
	if err != nil {
		return err
	}
	c.TenantID = worklog.TenantID

	return s.classificationRepo.Upsert(ctx, c)
}

func (s *billingService) ClearClassification(ctx context.Context, worklogID uuid.UUID) error {
	return s.classificationRepo.Delete(ctx, worklogID)
}
