package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/repositories"
)

// RateService manages rate rules and builds resolvers for billing
// computations.
type RateService interface {
	// UpsertRule validates and writes a rule.
	UpsertRule(ctx context.Context, rule *models.RateRule) error

	// ListRules retrieves the tenant's rules.
	ListRules(ctx context.Context) ([]*models.RateRule, error)

	// DeleteRule removes a rule.
	DeleteRule(ctx context.Context, id uuid.UUID) error

	// Resolver snapshots the tenant's rules and billing topology for one
	// computation. Resolutions are never cached across computations, so a
	// deleted rule stops matching on the next call.
	Resolver(ctx context.Context) (*RateResolver, error)
}

type rateService struct {
	ruleRepo   repositories.RateRuleRepository
	clientRepo repositories.ClientRepository
	logger     *zap.Logger
}

// NewRateService creates a new rate service.
func NewRateService(ruleRepo repositories.RateRuleRepository, clientRepo repositories.ClientRepository, logger *zap.Logger) RateService {
	return &rateService{
		ruleRepo:   ruleRepo,
		clientRepo: clientRepo,
		logger:     logger.Named("rate-service"),
	}
}

var _ RateService = (*rateService)(nil)

func (s *rateService) UpsertRule(ctx context.Context, rule *models.RateRule) error {
	if !rule.Kind.Valid() {
		return fmt.Errorf("%w: unknown rule kind %q", apperrors.ErrInvalidInput, rule.Kind)
	}
	if rule.Rate.IsNegative() {
		return fmt.Errorf("%w: rate must not be negative", apperrors.ErrInvalidInput)
	}

	switch rule.Kind {
	case models.RateRuleTarget, models.RateRuleContainer:
		if rule.Key == "" {
			return fmt.Errorf("%w: %s rule requires a key", apperrors.ErrInvalidInput, rule.Kind)
		}
	case models.RateRuleSubjectProject:
		if rule.Key == "" || rule.ProjectID == nil {
			return fmt.Errorf("%w: subject_project rule requires a subject key and project", apperrors.ErrInvalidInput)
		}
	case models.RateRuleProjectDefault:
		if rule.ProjectID == nil {
			return fmt.Errorf("%w: project_default rule requires a project", apperrors.ErrInvalidInput)
		}
	case models.RateRuleClientDefault:
		if rule.ClientID == nil {
			return fmt.Errorf("%w: client_default rule requires a client", apperrors.ErrInvalidInput)
		}
	}

	return s.ruleRepo.Upsert(ctx, rule)
}

func (s *rateService) ListRules(ctx context.Context) ([]*models.RateRule, error) {
	return s.ruleRepo.List(ctx)
}

func (s *rateService) DeleteRule(ctx context.Context, id uuid.UUID) error {
	return s.ruleRepo.Delete(ctx, id)
}

// subjectProjectKey keys a (author email, client project) rate rule.
type subjectProjectKey struct {
	subject   string
	projectID uuid.UUID
}

// projectRoute matches worklogs to a client project by source and target
// prefix.
type projectRoute struct {
	sourceID uuid.UUID
	prefix   string
	project  *models.ClientProject
}

// RateResolver resolves a worklog's billing rate through the cascade:
// target rule, container rule, (subject, project) rule, project default,
// client default, then zero. Most specific wins; rules never combine.
// A per-worklog classification override sits above the whole cascade.
type RateResolver struct {
	targets    map[string]decimal.Decimal
	containers map[string]decimal.Decimal
	subjects   map[subjectProjectKey]decimal.Decimal
	projects   map[uuid.UUID]decimal.Decimal
	clients    map[uuid.UUID]decimal.Decimal
	routes     []projectRoute
	clientOf   map[uuid.UUID]uuid.UUID
}

func (s *rateService) Resolver(ctx context.Context) (*RateResolver, error) {
	rules, err := s.ruleRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rate rules: %w", err)
	}
	clients, err := s.clientRepo.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load clients: %w", err)
	}

	r := &RateResolver{
		targets:    make(map[string]decimal.Decimal),
		containers: make(map[string]decimal.Decimal),
		subjects:   make(map[subjectProjectKey]decimal.Decimal),
		projects:   make(map[uuid.UUID]decimal.Decimal),
		clients:    make(map[uuid.UUID]decimal.Decimal),
		clientOf:   make(map[uuid.UUID]uuid.UUID),
	}

	for _, c := range clients {
		if c.DefaultRate != nil {
			r.clients[c.ID] = *c.DefaultRate
		}
		projects, err := s.clientRepo.ListProjects(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load projects for client %s: %w", c.ID, err)
		}
		for _, p := range projects {
			r.clientOf[p.ID] = c.ID
			if p.DefaultRate != nil {
				r.projects[p.ID] = *p.DefaultRate
			}
			for _, m := range p.Mappings {
				r.routes = append(r.routes, projectRoute{
					sourceID: m.SourceID,
					prefix:   m.TargetPrefix,
					project:  p,
				})
			}
		}
	}

	// Explicit rules override the entity default rates at their level.
	for _, rule := range rules {
		switch rule.Kind {
		case models.RateRuleTarget:
			r.targets[rule.Key] = rule.Rate
		case models.RateRuleContainer:
			r.containers[rule.Key] = rule.Rate
		case models.RateRuleSubjectProject:
			r.subjects[subjectProjectKey{subject: rule.Key, projectID: *rule.ProjectID}] = rule.Rate
		case models.RateRuleProjectDefault:
			r.projects[*rule.ProjectID] = rule.Rate
		case models.RateRuleClientDefault:
			r.clients[*rule.ClientID] = rule.Rate
		}
	}

	return r, nil
}

// ProjectFor returns the client project a worklog routes to, or nil when no
// mapping matches. The longest matching prefix wins.
func (r *RateResolver) ProjectFor(w *models.WorklogRecord) *models.ClientProject {
	var best *models.ClientProject
	bestLen := -1
	for i := range r.routes {
		route := &r.routes[i]
		if route.sourceID != w.SourceID {
			continue
		}
		if !strings.HasPrefix(w.TargetKey, route.prefix) {
			continue
		}
		if len(route.prefix) > bestLen {
			best = route.project
			bestLen = len(route.prefix)
		}
	}
	return best
}

// Resolve walks the cascade for one worklog. A zero result means explicitly
// non-billable, not an error.
func (r *RateResolver) Resolve(w *models.WorklogRecord, class *models.WorklogClassification) decimal.Decimal {
	if class != nil {
		if !class.Billable {
			return decimal.Zero
		}
		if class.OverrideRate != nil {
			return *class.OverrideRate
		}
	}

	if rate, ok := r.targets[w.TargetKey]; ok {
		return rate
	}
	if w.ContainerKey != nil {
		if rate, ok := r.containers[*w.ContainerKey]; ok {
			return rate
		}
	}

	project := r.ProjectFor(w)
	if project != nil {
		if rate, ok := r.subjects[subjectProjectKey{subject: w.AuthorEmail, projectID: project.ID}]; ok {
			return rate
		}
		if rate, ok := r.projects[project.ID]; ok {
			return rate
		}
		if clientID, ok := r.clientOf[project.ID]; ok {
			if rate, ok := r.clients[clientID]; ok {
				return rate
			}
		}
	}

	return decimal.Zero
}
