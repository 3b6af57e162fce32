package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts job outcomes by source kind and terminal status.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_jobs_total",
			Help: "Total number of ingestion job outcomes",
		},
		[]string{"source_kind", "status"},
	)

	// JobDuration tracks job execution duration in seconds.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestor_job_duration_seconds",
			Help:    "Duration of ingestion jobs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
		},
		[]string{"source_kind"},
	)

	// RowsProcessed counts rows moved per source kind.
	RowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_rows_processed_total",
			Help: "Total rows processed per source kind",
		},
		[]string{"source_kind"},
	)

	// RetriesTotal counts retries consumed per source kind.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_retries_total",
			Help: "Total retry attempts consumed per source kind",
		},
		[]string{"source_kind"},
	)

	// WorkersActive tracks the number of jobs currently executing.
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestor_workers_active",
			Help: "Number of currently executing ingestion jobs",
		},
	)

	// BreakerState reports each source's circuit breaker state:
	// 0 = CLOSED, 1 = HALF_OPEN, 2 = OPEN.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestor_breaker_state",
			Help: "Circuit breaker state per source (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	// HealthScore reports the most recent run's health score.
	HealthScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestor_run_health_score",
			Help: "Health score (0-100) of the most recent run",
		},
	)
)
