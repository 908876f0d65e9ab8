// Package metrics provides Prometheus metrics for the commitment service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// CommitmentMetrics collects and exposes commitment-related Prometheus
// metrics. All methods are safe for concurrent use.
type CommitmentMetrics struct {
	registry *prometheus.Registry

	// Commitment flow
	CommitsTotal   *prometheus.CounterVec
	CommitFailures *prometheus.CounterVec
	SubmitDuration *prometheus.HistogramVec
	MemoBytes      prometheus.Histogram

	// Affordability
	AffordabilityChecks *prometheus.CounterVec
	SpendableLamports   prometheus.Gauge
	RemainingCommits    prometheus.Gauge

	// Scoring
	BrierScores prometheus.Histogram
	BandsTotal  *prometheus.CounterVec
	Resolutions *prometheus.CounterVec

	// Reconciliation
	Reconciliations *prometheus.CounterVec
}

// NewCommitmentMetrics creates a metrics collector with its own registry.
func NewCommitmentMetrics() *CommitmentMetrics {
	registry := prometheus.NewRegistry()

	m := &CommitmentMetrics{
		registry: registry,

		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beright_commits_total",
				Help: "Commitment attempts by kind and terminal status",
			},
			[]string{"kind", "status"},
		),
		CommitFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beright_commit_failures_total",
				Help: "Failed commitment attempts by categorized reason",
			},
			[]string{"reason"},
		),
		SubmitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beright_submit_duration_seconds",
				Help:    "Time spent in ledger submission",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"kind"},
		),
		MemoBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "beright_memo_bytes",
				Help:    "Encoded memo payload size in bytes",
				Buckets: []float64{32, 48, 64, 96, 128, 192, 256, 384, 566},
			},
		),

		AffordabilityChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beright_affordability_checks_total",
				Help: "Affordability checks by result",
			},
			[]string{"result"},
		),
		SpendableLamports: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "beright_spendable_lamports",
				Help: "Spendable balance from the last affordability check",
			},
		),
		RemainingCommits: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "beright_estimated_remaining_commitments",
				Help: "Estimated commitments still affordable",
			},
		),

		BrierScores: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "beright_brier_score",
				Help:    "Brier scores of resolved commitments",
				Buckets: []float64{0.01, 0.05, 0.1, 0.15, 0.25, 0.35, 0.5, 0.7, 1.0},
			},
		),
		BandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beright_quality_bands_total",
				Help: "Resolutions by quality band",
			},
			[]string{"band"},
		),
		Resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beright_resolutions_total",
				Help: "Resolution submissions by outcome",
			},
			[]string{"outcome"},
		),

		Reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beright_reconciliations_total",
				Help: "Pre-retry ledger reconciliations by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.CommitsTotal,
		m.CommitFailures,
		m.SubmitDuration,
		m.MemoBytes,
		m.AffordabilityChecks,
		m.SpendableLamports,
		m.RemainingCommits,
		m.BrierScores,
		m.BandsTotal,
		m.Resolutions,
		m.Reconciliations,
	)

	return m
}

// Registry returns the underlying registry for the /metrics handler.
func (m *CommitmentMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCommit records a terminal commitment outcome.
func (m *CommitmentMetrics) RecordCommit(kind, status string) {
	m.CommitsTotal.WithLabelValues(kind, status).Inc()
}

// RecordSubmitDuration records how long a submission took. Only attempts
// that reached the ledger belong in this histogram.
func (m *CommitmentMetrics) RecordSubmitDuration(kind string, duration time.Duration) {
	m.SubmitDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordFailure records a categorized failure reason.
func (m *CommitmentMetrics) RecordFailure(reason string) {
	m.CommitFailures.WithLabelValues(reason).Inc()
}

// RecordMemoSize records an encoded payload's size.
func (m *CommitmentMetrics) RecordMemoSize(bytes int) {
	m.MemoBytes.Observe(float64(bytes))
}

// RecordAffordability records an affordability check result.
func (m *CommitmentMetrics) RecordAffordability(canCommit bool, lamports, remaining uint64) {
	result := "blocked"
	if canCommit {
		result = "allowed"
	}
	m.AffordabilityChecks.WithLabelValues(result).Inc()
	m.SpendableLamports.Set(float64(lamports))
	m.RemainingCommits.Set(float64(remaining))
}

// RecordResolution records a scored resolution.
func (m *CommitmentMetrics) RecordResolution(occurred bool, score decimal.Decimal, band string) {
	outcome := "did_not_occur"
	if occurred {
		outcome = "occurred"
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
	m.BrierScores.Observe(score.InexactFloat64())
	m.BandsTotal.WithLabelValues(band).Inc()
}

// RecordReconciliation records whether a reconciliation found a prior memo.
func (m *CommitmentMetrics) RecordReconciliation(found bool) {
	result := "not_found"
	if found {
		result = "found"
	}
	m.Reconciliations.WithLabelValues(result).Inc()
}
