// Package observability wires tracing and domain metrics for the engine.
//
// This file exposes Prometheus collectors for streak operations and the
// background jobs. Labels are closed enums (method, result, source, job,
// outcome) so cardinality stays bounded regardless of user count.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ClaimsTotal counts claim attempts by method and result code
	// ("ok" or an error kind).
	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_claims_total",
			Help: "Streak claims by method and result.",
		},
		[]string{"method", "result"},
	)

	// ShieldsGranted counts shields added by milestones (after the cap).
	ShieldsGranted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streak_shields_granted_total",
			Help: "Shields granted by milestone thresholds.",
		},
	)

	// ShieldsForfeited counts milestone shields dropped by the cap.
	ShieldsForfeited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streak_shields_forfeited_total",
			Help: "Milestone shields discarded because the user was at the cap.",
		},
	)

	// ShieldsConsumed counts shields spent, by source (manual|auto).
	ShieldsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_shields_consumed_total",
			Help: "Shields consumed to cover a missed day.",
		},
		[]string{"source"},
	)

	// StreakBreaks counts streaks reset by reconciliation.
	StreakBreaks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streak_breaks_total",
			Help: "Streaks broken by the daily reconciliation.",
		},
	)

	// Recoveries counts recovery attempts reaching a status, by type.
	Recoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_recoveries_total",
			Help: "Recovery attempts by type and resulting status.",
		},
		[]string{"type", "status"},
	)

	// TxRetries counts ledger transactions retried after a conflict.
	TxRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streak_tx_retries_total",
			Help: "Ledger read-modify-write retries after a version conflict or retryable driver error.",
		},
	)

	// JobRuns counts job executions by job name and result (ok|error).
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_job_runs_total",
			Help: "Background job runs.",
		},
		[]string{"job", "result"},
	)

	// JobUsers counts per-user outcomes inside job runs.
	JobUsers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_job_users_total",
			Help: "Per-user outcomes of background jobs.",
		},
		[]string{"job", "outcome"},
	)

	// JobDuration records job wall time in seconds.
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streak_job_duration_seconds",
			Help:    "Duration of background job runs in seconds.",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"job"},
	)
)

func init() {
	prometheus.MustRegister(
		ClaimsTotal, ShieldsGranted, ShieldsForfeited, ShieldsConsumed,
		StreakBreaks, Recoveries, TxRetries,
		JobRuns, JobUsers, JobDuration,
	)
}

// ObserveJob records one finished job run.
func ObserveJob(job string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	JobRuns.WithLabelValues(job, result).Inc()
	JobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}
