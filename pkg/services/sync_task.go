package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/logging"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
	"github.com/hourglass-hq/hourglass-engine/pkg/repositories"
	"github.com/hourglass-hq/hourglass-engine/pkg/retry"
	"github.com/hourglass-hq/hourglass-engine/pkg/services/syncqueue"
	"github.com/hourglass-hq/hourglass-engine/pkg/sourceclient"
)

// syncTask performs one ingestion run in the background. All domain failures
// are recorded on the run row; the task only returns an error for
// infrastructure problems that happened before the run could be closed.
type syncTask struct {
	syncqueue.BaseTask
	svc    *syncService
	source *models.Source
	run    *models.SyncRun
}

func newSyncTask(svc *syncService, source *models.Source, run *models.SyncRun) *syncTask {
	return &syncTask{
		BaseTask: syncqueue.NewBaseTask(
			fmt.Sprintf("Sync %s", source.Name),
			run.TenantID.String()+"/"+source.ID.String(),
		),
		svc:    svc,
		source: source,
		run:    run,
	}
}

func (t *syncTask) retryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:   t.svc.cfg.MaxBatchRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Execute implements syncqueue.Task.
func (t *syncTask) Execute(ctx context.Context, _ syncqueue.TaskEnqueuer) error {
	started := time.Now()
	logger := t.svc.logger.With(
		zap.String("run_id", t.run.ID.String()),
		zap.String("source_id", t.source.ID.String()))

	tenantCtx, cleanup, err := t.svc.getTenantCtx(ctx, t.run.TenantID)
	if err != nil {
		// The RUNNING row stays behind; the stale-run sweeper reclaims it.
		return fmt.Errorf("failed to open tenant scope: %w", err)
	}
	defer cleanup()

	client, err := t.svc.clientFactory(t.source)
	if err != nil {
		t.closeRun(tenantCtx, logger, models.SyncFailed, err, started)
		return nil
	}

	probeCtx, cancelProbe := context.WithTimeout(ctx, t.svc.cfg.ConnectTimeout)
	err = client.Probe(probeCtx)
	cancelProbe()
	if err != nil {
		logger.Warn("source probe failed",
			zap.String("error", logging.SanitizeError(err)))
		t.closeRun(tenantCtx, logger, models.SyncFailed, err, started)
		return nil
	}

	return t.stream(ctx, tenantCtx, logger, client, started)
}

// stream pulls pages from the client and upserts them in batches.
func (t *syncTask) stream(ctx, tenantCtx context.Context, logger *zap.Logger, client sourceclient.Client, started time.Time) error {
	batchSize := t.svc.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	var (
		buffer    []sourceclient.RawRecord
		cursor    string
		done      bool
		seq       int
		malformed int
	)

	for {
		// Fill the buffer up to one batch.
		for !done && len(buffer) < batchSize {
			var page *sourceclient.Page
			err := retry.DoIfRetryable(ctx, t.retryConfig(), func() error {
				p, ferr := client.FetchPage(ctx, t.run.PeriodStart, t.run.PeriodEnd, cursor)
				if ferr != nil {
					return ferr
				}
				page = p
				return nil
			})
			if err != nil {
				if ctx.Err() != nil {
					t.closeRun(tenantCtx, logger, models.SyncCancelled, nil, started)
					return ctx.Err()
				}
				// The cursor chain is broken; record what happened and end
				// the run with the progress made so far.
				t.run.Batches = append(t.run.Batches, models.BatchResult{
					Seq:    seq,
					Status: models.BatchFatal,
					Reason: logging.SanitizeError(err),
				})
				t.closeRun(tenantCtx, logger, models.SyncFailed, err, started)
				return nil
			}
			buffer = append(buffer, page.Records...)
			malformed += page.Malformed
			cursor = page.Cursor
			done = page.Done
		}

		if len(buffer) == 0 {
			break
		}

		n := batchSize
		if n > len(buffer) {
			n = len(buffer)
		}
		batch := buffer[:n]
		buffer = buffer[n:]

		// Batch boundary: refresh the lock's liveness and observe
		// cancellation.
		cancelRequested, hbErr := t.svc.runRepo.Heartbeat(tenantCtx, t.run.ID)
		if hbErr != nil {
			logger.Warn("heartbeat failed", zap.Error(hbErr))
		}
		if cancelRequested || ctx.Err() != nil {
			t.closeRun(tenantCtx, logger, models.SyncCancelled, nil, started)
			return nil
		}

		t.upsertBatch(tenantCtx, logger, batch, seq)
		seq++

		if err := t.svc.runRepo.UpdateProgress(tenantCtx, t.run); err != nil {
			logger.Warn("failed to persist run progress", zap.Error(err))
		}
	}

	if malformed > 0 {
		logger.Warn("malformed records dropped during sync",
			zap.Int("count", malformed))
		t.svc.metrics.RecordsSynced.WithLabelValues("skipped").Add(float64(malformed))
	}

	t.closeRun(tenantCtx, logger, models.SyncCompleted, nil, started)
	return nil
}

// upsertBatch writes one batch, retrying transient storage failures. A batch
// that keeps failing is skipped so one poisoned batch cannot starve the rest
// of the period.
func (t *syncTask) upsertBatch(tenantCtx context.Context, logger *zap.Logger, batch []sourceclient.RawRecord, seq int) {
	records := make([]*models.WorklogRecord, len(batch))
	for i, raw := range batch {
		records[i] = &models.WorklogRecord{
			TenantID:        t.run.TenantID,
			SourceID:        t.source.ID,
			ExternalID:      raw.ExternalID,
			AuthorEmail:     raw.AuthorEmail,
			AuthorName:      raw.AuthorName,
			TargetKey:       raw.TargetKey,
			TargetSummary:   raw.TargetSummary,
			ContainerKey:    raw.ContainerKey,
			ContainerName:   raw.ContainerName,
			StartedAt:       raw.StartedAt,
			DurationSeconds: raw.DurationSeconds,
			Comment:         raw.Comment,
		}
	}

	var result repositories.UpsertResult
	err := retry.DoIfRetryable(tenantCtx, t.retryConfig(), func() error {
		r, uerr := t.svc.worklogRepo.UpsertBatch(tenantCtx, records)
		if uerr != nil {
			return uerr
		}
		result = r
		return nil
	})

	t.run.RecordsProcessed += len(records)
	if err != nil {
		reason := logging.SanitizeError(err)
		logger.Warn("batch skipped after retry exhaustion",
			zap.Int("seq", seq),
			zap.Int("records", len(records)),
			zap.String("reason", reason))
		t.run.SkippedBatches++
		t.run.Batches = append(t.run.Batches, models.BatchResult{
			Seq:     seq,
			Status:  models.BatchSkipped,
			Records: len(records),
			Reason:  reason,
		})
		t.svc.metrics.BatchesSkipped.WithLabelValues("storage_failure").Inc()
		t.svc.metrics.RecordsSynced.WithLabelValues("skipped").Add(float64(len(records)))
		return
	}

	t.run.RecordsInserted += result.Inserted
	t.run.RecordsUpdated += result.Updated
	t.run.Batches = append(t.run.Batches, models.BatchResult{
		Seq:     seq,
		Status:  models.BatchOK,
		Records: len(records),
	})
	t.svc.metrics.RecordsSynced.WithLabelValues("inserted").Add(float64(result.Inserted))
	t.svc.metrics.RecordsSynced.WithLabelValues("updated").Add(float64(result.Updated))
}

func (t *syncTask) closeRun(tenantCtx context.Context, logger *zap.Logger, status models.SyncRunStatus, runErr error, started time.Time) {
	if runErr != nil {
		runErr = errors.New(logging.SanitizeError(runErr))
	}
	if err := t.svc.runRepo.Close(tenantCtx, t.run, status, runErr); err != nil {
		logger.Error("failed to close sync run", zap.Error(err))
		return
	}

	t.svc.metrics.SyncRunsTotal.WithLabelValues(string(status)).Inc()
	t.svc.metrics.SyncDuration.WithLabelValues(string(status)).Observe(time.Since(started).Seconds())

	logger.Info("sync run closed",
		zap.String("status", string(status)),
		zap.Int("processed", t.run.RecordsProcessed),
		zap.Int("inserted", t.run.RecordsInserted),
		zap.Int("updated", t.run.RecordsUpdated),
		zap.Int("skipped_batches", t.run.SkippedBatches),
		zap.Duration("duration", time.Since(started)))
}
