package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/repositories"
)

// DayTotal is one day of the trend line.
type DayTotal struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Hours float64 `json:"hours"`
}

// AuthorTotal aggregates one author's logged hours over the period.
type AuthorTotal struct {
	AuthorEmail string  `json:"author_email"`
	AuthorName  string  `json:"author_name,omitempty"`
	Hours       float64 `json:"hours"`
}

// TargetTotal aggregates hours per target.
type TargetTotal struct {
	TargetKey     string  `json:"target_key"`
	TargetSummary string  `json:"target_summary,omitempty"`
	Hours         float64 `json:"hours"`
}

// PeriodReport is the dashboard aggregate for one period. Expected hours are
// business days in the period times the tenant's daily baseline.
type PeriodReport struct {
	PeriodStart   string        `json:"period_start"`
	PeriodEnd     string        `json:"period_end"`
	TotalHours    float64       `json:"total_hours"`
	ExpectedHours float64       `json:"expected_hours"`
	CompletionPct float64       `json:"completion_pct"`
	Days          []DayTotal    `json:"days"`
	Authors       []AuthorTotal `json:"authors"`
	Targets       []TargetTotal `json:"targets"`
}

// ReportService computes period aggregates over reconciled worklogs.
type ReportService interface {
	// PeriodReport computes the aggregate for [from, to) under the scope.
	// Results are cached when Redis is configured.
	PeriodReport(ctx context.Context, tenantID uuid.UUID, from, to time.Time, scope ViewScope) (*PeriodReport, error)
}

type reportService struct {
	tenantRepo     repositories.TenantRepository
	reconciliation ReconciliationService
	cache          *redis.Client
	cacheTTL       time.Duration
	logger         *zap.Logger
}

// NewReportService creates a new report service. cache may be nil, in which
// case every report is computed fresh.
func NewReportService(
	tenantRepo repositories.TenantRepository,
	reconciliation ReconciliationService,
	cache *redis.Client,
	cacheTTL time.Duration,
	logger *zap.Logger,
) ReportService {
	return &reportService{
		tenantRepo:     tenantRepo,
		reconciliation: reconciliation,
		cache:          cache,
		cacheTTL:       cacheTTL,
		logger:         logger.Named("report-service"),
	}
}

var _ ReportService = (*reportService)(nil)

func (s *reportService) cacheKey(tenantID uuid.UUID, from, to time.Time, scope ViewScope) string {
	scopeKey := "aggregate"
	if scope.SourceID != nil {
		scopeKey = scope.SourceID.String()
	}
	return fmt.Sprintf("report:%s:%s:%s:%s",
		tenantID, from.Format("2006-01-02"), to.Format("2006-01-02"), scopeKey)
}

func (s *reportService) PeriodReport(ctx context.Context, tenantID uuid.UUID, from, to time.Time, scope ViewScope) (*PeriodReport, error) {
	key := s.cacheKey(tenantID, from, to, scope)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			var report PeriodReport
			if err := json.Unmarshal(cached, &report); err == nil {
				return &report, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn("report cache read failed", zap.Error(err))
		}
	}

	report, err := s.compute(ctx, tenantID, from, to, scope)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if payload, err := json.Marshal(report); err == nil {
			if err := s.cache.Set(ctx, key, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn("report cache write failed", zap.Error(err))
			}
		}
	}

	return report, nil
}

func (s *reportService) compute(ctx context.Context, tenantID uuid.UUID, from, to time.Time, scope ViewScope) (*PeriodReport, error) {
	tenant, err := s.tenantRepo.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	worklogs, err := s.reconciliation.ResolveWorklogs(ctx, from, to, scope)
	if err != nil {
		return nil, err
	}

	days := make(map[string]int)
	authors := make(map[string]*AuthorTotal)
	targets := make(map[string]*TargetTotal)
	totalSeconds := 0

	for _, w := range worklogs {
		totalSeconds += w.DurationSeconds
		days[w.StartedAt.UTC().Format("2006-01-02")] += w.DurationSeconds

		a, ok := authors[w.AuthorEmail]
		if !ok {
			a = &AuthorTotal{AuthorEmail: w.AuthorEmail, AuthorName: w.AuthorName}
			authors[w.AuthorEmail] = a
		}
		a.Hours += secondsToHours(w.DurationSeconds)

		t, ok := targets[w.TargetKey]
		if !ok {
			t = &TargetTotal{TargetKey: w.TargetKey, TargetSummary: w.TargetSummary}
			targets[w.TargetKey] = t
		}
		t.Hours += secondsToHours(w.DurationSeconds)
	}

	expected := float64(businessDays(from, to)) * tenant.DailyWorkingHours
	total := secondsToHours(totalSeconds)
	completion := 0.0
	if expected > 0 {
		completion = roundHours(total / expected * 100)
	}

	report := &PeriodReport{
		PeriodStart:   from.UTC().Format("2006-01-02"),
		PeriodEnd:     to.UTC().Format("2006-01-02"),
		TotalHours:    roundHours(total),
		ExpectedHours: roundHours(expected),
		CompletionPct: completion,
	}

	for day, seconds := range days {
		report.Days = append(report.Days, DayTotal{Date: day, Hours: roundHours(secondsToHours(seconds))})
	}
	sort.Slice(report.Days, func(i, j int) bool { return report.Days[i].Date < report.Days[j].Date })

	for _, a := range authors {
		a.Hours = roundHours(a.Hours)
		report.Authors = append(report.Authors, *a)
	}
	sort.Slice(report.Authors, func(i, j int) bool {
		if report.Authors[i].Hours != report.Authors[j].Hours {
			return report.Authors[i].Hours > report.Authors[j].Hours
		}
		return report.Authors[i].AuthorEmail < report.Authors[j].AuthorEmail
	})

	for _, t := range targets {
		t.Hours = roundHours(t.Hours)
		report.Targets = append(report.Targets, *t)
	}
	sort.Slice(report.Targets, func(i, j int) bool {
		if report.Targets[i].Hours != report.Targets[j].Hours {
			return report.Targets[i].Hours > report.Targets[j].Hours
		}
		return report.Targets[i].TargetKey < report.Targets[j].TargetKey
	})

	return report, nil
}

func secondsToHours(seconds int) float64 {
	return float64(seconds) / 3600
}

// roundHours keeps report numbers at two decimals without dragging decimal
// arithmetic into a display-only computation.
func roundHours(h float64) float64 {
	f, _ := decimal.NewFromFloat(h).Round(2).Float64()
	return f
}

// businessDays counts Monday through Friday in [from, to).
func businessDays(from, to time.Time) int {
	count := 0
	for d := from.UTC().Truncate(24 * time.Hour); d.Before(to); d = d.AddDate(0, 0, 1) {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
		default:
			count++
		}
	}
	return count
}
