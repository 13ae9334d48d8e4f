package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/database"
	"github.com/hourglass-hq/hourglass-engine/pkg/metrics"
	"github.com/hourglass-hq/hourglass-engine/pkg/repositories"
)

// DefaultSweepInterval is how often the sweeper looks for stale runs.
const DefaultSweepInterval = 5 * time.Minute

// SyncSweeper reclaims RUNNING sync runs abandoned by crashed processes.
// A run whose heartbeat has not moved within the threshold is failed, which
// releases the per-source lock and lets a fresh sync start.
type SyncSweeper interface {
	// SweepOnce performs a single sweep pass.
	SweepOnce(ctx context.Context) (int64, error)

	// RunScheduler sweeps on the given interval until the context is
	// cancelled. It sweeps immediately on startup, then repeats. Blocking;
	// run it in a goroutine.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type syncSweeper struct {
	db        *database.DB
	runRepo   repositories.SyncRunRepository
	threshold time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewSyncSweeper(
	db *database.DB,
	runRepo repositories.SyncRunRepository,
	threshold time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) SyncSweeper {
	return &syncSweeper{
		db:        db,
		runRepo:   runRepo,
		threshold: threshold,
		metrics:   m,
		logger:    logger.Named("sync-sweeper"),
	}
}

var _ SyncSweeper = (*syncSweeper)(nil)

func (s *syncSweeper) SweepOnce(ctx context.Context) (int64, error) {
	reclaimed, err := s.runRepo.SweepStale(ctx, s.db, s.threshold)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		s.metrics.StaleRunsReclaimed.Add(float64(reclaimed))
		s.logger.Warn("Reclaimed stale sync runs",
			zap.Int64("count", reclaimed),
			zap.Duration("threshold", s.threshold))
	}
	return reclaimed, nil
}

// RunScheduler reclaims stale runs on a loop until ctx is cancelled.
func (s *syncSweeper) RunScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	s.logger.Info("Sync sweeper started",
		zap.Duration("interval", interval),
		zap.Duration("threshold", s.threshold))

	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Error("Sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sync sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("Sweep failed", zap.Error(err))
			}
		}
	}
}
