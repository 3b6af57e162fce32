// Package metrics records per-job outcomes and derives a run-level health
// score. The Collector is the queryable, per-run accumulator; the Prometheus
// vectors in prometheus.go are the process-lifetime view of the same events.
package metrics

import (
	"sync"
	"time"

	"github.com/riverline-data/ingestor/internal/domain"
)

// Weights tune the health score components. They are configuration, not
// law: the formula is fixed, the weights are not.
type Weights struct {
	Success    float64
	Throughput float64
	Error      float64
}

// DefaultWeights returns the standard 0.5/0.3/0.2 split.
func DefaultWeights() Weights {
	return Weights{Success: 0.5, Throughput: 0.3, Error: 0.2}
}

// Collector accumulates outcomes for one run. Record is safe for concurrent
// use; recording is cheap and infrequent relative to job I/O, so a single
// mutex is sufficient.
type Collector struct {
	weights Weights
	// targetRowsPerSec normalizes observed throughput; <= 0 disables the
	// throughput component's penalty (normalized throughput counts as full).
	targetRowsPerSec float64

	mu            sync.Mutex
	outcomes      []domain.JobOutcome
	counts        map[domain.OutcomeStatus]int
	totalRows     int64
	totalDuration time.Duration
	totalRetries  int
}

// NewCollector creates an empty collector for one run.
func NewCollector(weights Weights, targetRowsPerSec float64) *Collector {
	return &Collector{
		weights:          weights,
		targetRowsPerSec: targetRowsPerSec,
		counts:           make(map[domain.OutcomeStatus]int),
	}
}

// Record folds one outcome into the run accumulator and the process metrics.
func (c *Collector) Record(o domain.JobOutcome) {
	c.mu.Lock()
	c.outcomes = append(c.outcomes, o)
	c.counts[o.Status]++
	c.totalRows += o.RowsProcessed
	c.totalDuration += o.Duration
	c.totalRetries += o.RetriesUsed
	c.mu.Unlock()

	kind := string(o.SourceKind)
	JobsTotal.WithLabelValues(kind, string(o.Status)).Inc()
	if o.Status.Attempted() {
		JobDuration.WithLabelValues(kind).Observe(o.Duration.Seconds())
		RowsProcessed.WithLabelValues(kind).Add(float64(o.RowsProcessed))
		RetriesTotal.WithLabelValues(kind).Add(float64(o.RetriesUsed))
	}
}

// Summarize produces the RunSummary for the outcomes recorded so far.
func (c *Collector) Summarize(runID string, started, finished time.Time) domain.RunSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := domain.RunSummary{
		RunID:              runID,
		StartedAt:          started,
		FinishedAt:         finished,
		TotalJobs:          len(c.outcomes),
		Succeeded:          c.counts[domain.StatusSuccess],
		Failed:             c.counts[domain.StatusFailed],
		SkippedCircuitOpen: c.counts[domain.StatusSkippedCircuitOpen],
		SkippedDisabled:    c.counts[domain.StatusSkippedDisabled],
		SkippedInvalid:     c.counts[domain.StatusSkippedInvalid],
		TotalRows:          c.totalRows,
		TotalDuration:      c.totalDuration,
		Outcomes:           append([]domain.JobOutcome(nil), c.outcomes...),
	}

	if secs := c.totalDuration.Seconds(); secs > 0 {
		s.RowsPerSecond = float64(c.totalRows) / secs
	}
	s.HealthScore = c.healthScoreLocked(s)

	HealthScore.Set(s.HealthScore)
	return s
}

// healthScoreLocked computes
//
//	100 * (wS*success_rate + wT*normalized_throughput + wE*(1 - error_rate))
//
// clamped to [0, 100]. Rates are over attempted jobs only: a disabled or
// skipped job must not depress the score. Normalized throughput is observed
// rows/sec over the configured target, capped at 1.
func (c *Collector) healthScoreLocked(s domain.RunSummary) float64 {
	attempted := s.Succeeded + s.Failed

	successRate := 1.0
	errorRate := 0.0
	if attempted > 0 {
		successRate = float64(s.Succeeded) / float64(attempted)
		errorRate = float64(s.Failed) / float64(attempted)
	}

	normThroughput := 1.0
	if c.targetRowsPerSec > 0 {
		normThroughput = s.RowsPerSecond / c.targetRowsPerSec
		if normThroughput > 1 {
			normThroughput = 1
		}
	}

	score := 100 * (c.weights.Success*successRate +
		c.weights.Throughput*normThroughput +
		c.weights.Error*(1-errorRate))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
