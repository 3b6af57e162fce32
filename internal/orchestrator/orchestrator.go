// Package orchestrator owns the job set and drives execution: pre-flight
// validation, per-job retry under circuit-breaker gating, watermark
// advancement on success, and run-level metrics aggregation. A single job's
// failure never aborts its siblings.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riverline-data/ingestor/internal/clock"
	"github.com/riverline-data/ingestor/internal/domain"
	"github.com/riverline-data/ingestor/internal/extract"
	"github.com/riverline-data/ingestor/internal/metrics"
	"github.com/riverline-data/ingestor/internal/repository"
	"github.com/riverline-data/ingestor/internal/retry"
	"github.com/riverline-data/ingestor/internal/typemap"
	"github.com/riverline-data/ingestor/internal/validate"
	"github.com/riverline-data/ingestor/internal/watermark"
)

// DefaultWorkers is the bounded-parallel pool width when none is given.
const DefaultWorkers = 3

// Mode selects the scheduling strategy for one run.
type Mode struct {
	parallel bool
	workers  int
}

// Sequential runs one job at a time in input order.
func Sequential() Mode {
	return Mode{}
}

// BoundedParallel runs jobs on a fixed-size worker pool of width n.
func BoundedParallel(n int) Mode {
	if n < 1 {
		n = DefaultWorkers
	}
	return Mode{parallel: true, workers: n}
}

// Options carries the run-level tunables.
type Options struct {
	// Destination selects the type-mapping policy table.
	Destination typemap.DestinationKind
	// Weights tune the health score; zero value means defaults.
	Weights metrics.Weights
	// TargetRowsPerSecond normalizes the throughput component of the
	// health score. Zero disables the throughput penalty.
	TargetRowsPerSecond float64
}

// Orchestrator executes batches of job definitions.
type Orchestrator struct {
	executor   *retry.Executor
	extractors *extract.Registry
	watermarks watermark.Store
	audit      repository.OutcomeRecorder // nil disables the audit trail
	clk        clock.Clock
	logger     *zap.Logger
	opts       Options
}

// New creates an Orchestrator. The breaker registry lives inside the retry
// executor and is shared across every run of this instance, so breaker state
// survives between runs as it should.
func New(
	executor *retry.Executor,
	extractors *extract.Registry,
	watermarks watermark.Store,
	audit repository.OutcomeRecorder,
	clk clock.Clock,
	logger *zap.Logger,
	opts Options,
) *Orchestrator {
	if opts.Weights == (metrics.Weights{}) {
		opts.Weights = metrics.DefaultWeights()
	}
	return &Orchestrator{
		executor:   executor,
		extractors: extractors,
		watermarks: watermarks,
		audit:      audit,
		clk:        clk,
		logger:     logger,
		opts:       opts,
	}
}

// Run executes the batch under a fresh run ID.
func (o *Orchestrator) Run(ctx context.Context, jobs []domain.JobDefinition, mode Mode) domain.RunSummary {
	return o.RunWithID(ctx, uuid.NewString(), jobs, mode)
}

// RunWithID executes the batch under the caller's run ID (used when the run
// was triggered by an external request that already named it).
func (o *Orchestrator) RunWithID(ctx context.Context, runID string, jobs []domain.JobDefinition, mode Mode) domain.RunSummary {
	started := o.clk.Now()
	collector := metrics.NewCollector(o.opts.Weights, o.opts.TargetRowsPerSecond)

	o.logger.Info("run starting",
		zap.String("run_id", runID),
		zap.Int("jobs", len(jobs)),
		zap.Bool("parallel", mode.parallel),
	)

	// Disabled jobs are excluded before any validation cost is spent.
	var enabled []domain.JobDefinition
	for _, job := range jobs {
		if !job.Enabled {
			o.record(ctx, runID, collector, domain.JobOutcome{
				JobID:      job.JobID,
				SourceKind: job.SourceKind,
				SourceName: job.SourceName,
				Status:     domain.StatusSkippedDisabled,
			})
			continue
		}
		enabled = append(enabled, job)
	}

	// All-or-nothing validation gate: one invalid enabled job refuses the
	// whole batch. Partially executing against potentially malformed
	// assumptions is worse than running nothing.
	valid, verrs := validate.Batch(enabled)
	if len(verrs) > 0 {
		o.refuseBatch(ctx, runID, collector, enabled, verrs)
		return o.finish(ctx, runID, collector, started)
	}

	if mode.parallel {
		o.runParallel(ctx, runID, collector, valid, mode.workers)
	} else {
		for _, job := range valid {
			o.process(ctx, runID, collector, job)
		}
	}

	return o.finish(ctx, runID, collector, started)
}

// refuseBatch marks every enabled job SKIPPED_INVALID, carrying the job's
// own defects where it has any.
func (o *Orchestrator) refuseBatch(ctx context.Context, runID string, collector *metrics.Collector, enabled []domain.JobDefinition, verrs []validate.Error) {
	byJob := make(map[string][]string)
	for _, e := range verrs {
		byJob[e.JobID] = append(byJob[e.JobID], e.Error())
		o.logger.Error("validation failed",
			zap.String("run_id", runID),
			zap.String("job_id", e.JobID),
			zap.String("field", e.Field),
			zap.String("reason", e.Reason),
		)
	}

	for _, job := range enabled {
		msg := fmt.Sprintf("batch refused: %d invalid job definition(s)", len(byJob))
		if own := byJob[job.JobID]; len(own) > 0 {
			msg = strings.Join(own, "; ")
		}
		o.record(ctx, runID, collector, domain.JobOutcome{
			JobID:        job.JobID,
			SourceKind:   job.SourceKind,
			SourceName:   job.SourceName,
			Status:       domain.StatusSkippedInvalid,
			ErrorMessage: msg,
		})
	}
}

// runParallel adapts a fixed-size worker pool over a job channel. Workers
// keep draining after cancellation so every job still yields an outcome;
// the retry executor turns post-cancel jobs into cancelled failures without
// touching the source.
func (o *Orchestrator) runParallel(ctx context.Context, runID string, collector *metrics.Collector, jobs []domain.JobDefinition, workers int) {
	ch := make(chan domain.JobDefinition)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for job := range ch {
				o.process(ctx, runID, collector, job)
			}
		}(i)
	}

	for _, job := range jobs {
		ch <- job
	}
	close(ch)
	wg.Wait()
}

// process runs one job to a terminal outcome and records it.
func (o *Orchestrator) process(ctx context.Context, runID string, collector *metrics.Collector, job domain.JobDefinition) {
	metrics.WorkersActive.Inc()
	defer metrics.WorkersActive.Dec()

	outcome := o.execute(ctx, job)
	o.record(ctx, runID, collector, outcome)
}

func (o *Orchestrator) execute(ctx context.Context, job domain.JobDefinition) (outcome domain.JobOutcome) {
	// A panicking extractor must not take sibling jobs down with it.
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("job panicked",
				zap.String("job_id", job.JobID),
				zap.Any("panic", r),
			)
			outcome = domain.JobOutcome{
				JobID:        job.JobID,
				SourceKind:   job.SourceKind,
				SourceName:   job.SourceName,
				Status:       domain.StatusFailed,
				ErrorMessage: fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	extractor, ok := o.extractors.For(job.SourceKind)
	if !ok {
		return domain.JobOutcome{
			JobID:        job.JobID,
			SourceKind:   job.SourceKind,
			SourceName:   job.SourceName,
			Status:       domain.StatusFailed,
			ErrorMessage: fmt.Sprintf("no extractor registered for source kind %q", job.SourceKind),
		}
	}

	policy := typemap.Resolve(job.SourceKind, o.opts.Destination)

	// Incremental jobs resolve their effective cursor from the ledger
	// before any row flows; the definition's value only seeds the first run.
	var tracker *watermark.Tracker
	if job.LoadMode == domain.LoadIncremental {
		tracker = watermark.NewTracker(o.watermarks, job.JobID, job.CursorValue)
		cursor, err := tracker.Begin(ctx)
		if err != nil {
			return domain.JobOutcome{
				JobID:        job.JobID,
				SourceKind:   job.SourceKind,
				SourceName:   job.SourceName,
				Status:       domain.StatusFailed,
				ErrorMessage: fmt.Sprintf("watermark load: %v", err),
			}
		}
		job.CursorValue = cursor
	}

	outcome = o.executor.Execute(ctx, job, retry.PolicyFor(job.SourceKind),
		func(ctx context.Context) (int64, string, error) {
			res, err := extractor.Extract(ctx, job, policy)
			if err != nil {
				return 0, "", err
			}
			return res.Rows, res.MaxCursor, nil
		})

	if tracker != nil {
		if outcome.Status == domain.StatusSuccess {
			// The loader's durable-write acknowledgment (a nil extract
			// error) is the only trigger for advancement.
			if err := tracker.Complete(ctx, outcome.NewCursorValue); err != nil {
				// The data is durable; only the cursor commit failed. The
				// next run re-extracts the same range (at-least-once).
				o.logger.Error("watermark commit failed, range will be re-extracted",
					zap.String("job_id", job.JobID),
					zap.String("cursor", outcome.NewCursorValue),
					zap.Error(err),
				)
				outcome.NewCursorValue = ""
			}
		} else {
			tracker.Fail()
		}
	}

	return outcome
}

// record feeds the outcome to the collector and, best-effort, the audit trail.
func (o *Orchestrator) record(ctx context.Context, runID string, collector *metrics.Collector, outcome domain.JobOutcome) {
	collector.Record(outcome)

	o.logger.Info("job finished",
		zap.String("run_id", runID),
		zap.String("job_id", outcome.JobID),
		zap.String("status", string(outcome.Status)),
		zap.Int64("rows", outcome.RowsProcessed),
		zap.Int("retries_used", outcome.RetriesUsed),
		zap.Duration("duration", outcome.Duration),
	)

	if o.audit != nil {
		if err := o.audit.RecordOutcome(ctx, runID, outcome); err != nil {
			o.logger.Warn("audit record failed",
				zap.String("job_id", outcome.JobID),
				zap.Error(err),
			)
		}
	}
}

// finish produces the run summary, records it, and logs the roll-up.
func (o *Orchestrator) finish(ctx context.Context, runID string, collector *metrics.Collector, started time.Time) domain.RunSummary {
	summary := collector.Summarize(runID, started, o.clk.Now())

	o.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.Int("total_jobs", summary.TotalJobs),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped_circuit_open", summary.SkippedCircuitOpen),
		zap.Int("skipped_disabled", summary.SkippedDisabled),
		zap.Int("skipped_invalid", summary.SkippedInvalid),
		zap.Int64("total_rows", summary.TotalRows),
		zap.Float64("rows_per_second", summary.RowsPerSecond),
		zap.Float64("health_score", summary.HealthScore),
		zap.Bool("healthy", summary.Healthy()),
	)

	if o.audit != nil {
		if err := o.audit.RecordSummary(ctx, summary); err != nil {
			o.logger.Warn("summary record failed",
				zap.String("run_id", runID),
				zap.Error(err),
			)
		}
	}

	return summary
}
