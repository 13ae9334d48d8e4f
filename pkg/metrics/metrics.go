// Package metrics exposes Prometheus instrumentation for the sync pipeline
// and the invoice lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors the services report into.
type Metrics struct {
	RecordsSynced      *prometheus.CounterVec
	BatchesSkipped     *prometheus.CounterVec
	SyncRunsTotal      *prometheus.CounterVec
	SyncDuration       *prometheus.HistogramVec
	InvoiceTransitions *prometheus.CounterVec
	StaleRunsReclaimed prometheus.Counter
}

// New creates and registers the collectors on the given registerer.
// Pass prometheus.DefaultRegisterer in main, a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsSynced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hourglass",
				Name:      "records_synced_total",
				Help:      "Worklog records upserted into canonical storage.",
			},
			[]string{"result"}, // inserted | updated | skipped
		),
		BatchesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hourglass",
				Name:      "sync_batches_skipped_total",
				Help:      "Batches dropped after retry exhaustion.",
			},
			[]string{"reason"},
		),
		SyncRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hourglass",
				Name:      "sync_runs_total",
				Help:      "Sync runs by terminal status.",
			},
			[]string{"status"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "hourglass",
				Name:      "sync_run_duration_seconds",
				Help:      "Wall-clock duration of completed sync runs.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		),
		InvoiceTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hourglass",
				Name:      "invoice_transitions_total",
				Help:      "Invoice state machine transitions.",
			},
			[]string{"to"},
		),
		StaleRunsReclaimed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hourglass",
				Name:      "stale_sync_runs_reclaimed_total",
				Help:      "RUNNING sync runs reclaimed by the stale-run sweeper.",
			},
		),
	}

	reg.MustRegister(
		m.RecordsSynced,
		m.BatchesSkipped,
		m.SyncRunsTotal,
		m.SyncDuration,
		m.InvoiceTransitions,
		m.StaleRunsReclaimed,
	)
	return m
}

// NewNop returns metrics registered on a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
