// Package retry wraps a single job attempt with bounded, jittered
// exponential-backoff retry, consulting the source's circuit breaker before
// each attempt. Retry exhaustion is an explicit terminal outcome, not an
// escaping error.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/riverline-data/ingestor/internal/breaker"
	"github.com/riverline-data/ingestor/internal/clock"
	"github.com/riverline-data/ingestor/internal/domain"
)

// minDelay floors the computed backoff so jitter can never produce a
// zero or negative sleep.
const minDelay = 100 * time.Millisecond

// Policy bounds the retry behavior for one source profile.
type Policy struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          float64
}

// DatabasePolicy is tuned for relational sources: failures tend to be
// connection-level and recover within seconds.
func DatabasePolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialDelay:    2 * time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          0.1,
	}
}

// APIPolicy is tuned for HTTP sources, which fail more transiently
// (rate limiting, 5xx) and deserve a longer budget.
func APIPolicy() Policy {
	return Policy{
		MaxRetries:      5,
		InitialDelay:    1 * time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          0.1,
	}
}

// PolicyFor selects the profile for a source kind.
func PolicyFor(kind domain.SourceKind) Policy {
	if kind == domain.SourceHTTPAPI {
		return APIPolicy()
	}
	return DatabasePolicy()
}

// Delay computes the backoff before the given retry (1-based): the Nth retry
// waits min(MaxDelay, InitialDelay * base^(N-1)) scaled by ±Jitter.
// jitterFn must return a value in [0, 1).
func (p Policy) Delay(retryN int, jitterFn func() float64) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.ExponentialBase, float64(retryN-1))
	d = math.Min(d, float64(p.MaxDelay))
	if p.Jitter > 0 {
		// Uniform in [-Jitter, +Jitter] of the base delay. MaxDelay is a
		// hard ceiling: jitter never pushes past it.
		d += d * p.Jitter * (2*jitterFn() - 1)
		d = math.Min(d, float64(p.MaxDelay))
	}
	if d < float64(minDelay) {
		d = float64(minDelay)
	}
	return time.Duration(d)
}

// Attempt records one try within a job execution.
type Attempt struct {
	Number       int
	DelayApplied time.Duration
	ErrorKind    domain.ErrorClass
}

// AttemptFunc performs one extraction attempt. On success it reports the row
// count and the maximum cursor value observed among durably written rows
// (empty when no rows were observed).
type AttemptFunc func(ctx context.Context) (rows int64, maxCursor string, err error)

// Executor runs job attempts under a retry policy, gated by the per-source
// circuit breaker.
type Executor struct {
	breakers *breaker.Registry
	clk      clock.Clock
	logger   *zap.Logger
	jitterFn func() float64
}

// NewExecutor creates an Executor sharing the given breaker registry.
func NewExecutor(breakers *breaker.Registry, clk clock.Clock, logger *zap.Logger) *Executor {
	return &Executor{
		breakers: breakers,
		clk:      clk,
		logger:   logger,
		jitterFn: rand.Float64,
	}
}

// Execute runs the job to a terminal JobOutcome. It never panics through and
// never returns an error: every failure mode is folded into the outcome.
func (e *Executor) Execute(ctx context.Context, job domain.JobDefinition, policy Policy, attempt AttemptFunc) domain.JobOutcome {
	br := e.breakers.For(job.SourceName)
	start := e.clk.Now()

	outcome := domain.JobOutcome{
		JobID:      job.JobID,
		SourceKind: job.SourceKind,
		SourceName: job.SourceName,
	}

	var (
		lastErr error
		trace   []Attempt
	)

	for attemptN := 1; attemptN <= policy.MaxRetries; attemptN++ {
		if err := ctx.Err(); err != nil {
			return e.cancelled(outcome, start, attemptN-1)
		}

		if !br.Allow() {
			if attemptN == 1 {
				// No partial work, no retry budget consumed.
				outcome.Status = domain.StatusSkippedCircuitOpen
				outcome.ErrorMessage = domain.ErrCircuitOpen.Error()
				outcome.Duration = e.clk.Now().Sub(start)
				e.logger.Warn("job skipped, circuit open",
					zap.String("job_id", job.JobID),
					zap.String("source", job.SourceName),
				)
				return outcome
			}
			// The breaker opened mid-execution (this job's own failures
			// tripped it). That is a failure, not a skip: hiding the error
			// behind a skip status would mask the root cause.
			lastErr = domain.ErrCircuitOpen
			break
		}

		rows, maxCursor, err := attempt(ctx)
		if err == nil {
			br.RecordSuccess()
			outcome.Status = domain.StatusSuccess
			outcome.RowsProcessed = rows
			outcome.RetriesUsed = attemptN - 1
			outcome.Duration = e.clk.Now().Sub(start)
			if job.LoadMode == domain.LoadIncremental {
				outcome.NewCursorValue = maxCursor
			}
			if attemptN > 1 {
				e.logger.Info("job succeeded after retries",
					zap.String("job_id", job.JobID),
					zap.Int("retries_used", outcome.RetriesUsed),
				)
			}
			return outcome
		}

		br.RecordFailure()
		lastErr = err
		class := domain.Classify(err)
		trace = append(trace, Attempt{Number: attemptN, ErrorKind: class})

		if class == domain.ClassCancelled {
			return e.cancelled(outcome, start, attemptN-1)
		}
		if class == domain.ClassPermanent {
			e.logger.Error("job failed with permanent error",
				zap.String("job_id", job.JobID),
				zap.String("source", job.SourceName),
				zap.Error(err),
			)
			outcome.RetriesUsed = attemptN - 1
			break
		}
		if attemptN >= policy.MaxRetries {
			outcome.RetriesUsed = attemptN - 1
			break
		}

		delay := policy.Delay(attemptN, e.jitterFn)
		trace[len(trace)-1].DelayApplied = delay
		e.logger.Warn("attempt failed, retrying",
			zap.String("job_id", job.JobID),
			zap.Int("attempt", attemptN),
			zap.Int("max_retries", policy.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := e.clk.Sleep(ctx, delay); err != nil {
			return e.cancelled(outcome, start, attemptN-1)
		}
	}

	outcome.Status = domain.StatusFailed
	if lastErr != nil {
		outcome.ErrorMessage = lastErr.Error()
	}
	outcome.Duration = e.clk.Now().Sub(start)
	e.logger.Error("job failed",
		zap.String("job_id", job.JobID),
		zap.String("source", job.SourceName),
		zap.Int("attempts", len(trace)),
		zap.String("error", outcome.ErrorMessage),
	)
	return outcome
}

func (e *Executor) cancelled(outcome domain.JobOutcome, start time.Time, retriesUsed int) domain.JobOutcome {
	outcome.Status = domain.StatusFailed
	outcome.ErrorMessage = domain.ErrCancelled.Error()
	outcome.RetriesUsed = retriesUsed
	outcome.Duration = e.clk.Now().Sub(start)
	return outcome
}

// SetJitterFn replaces the jitter source. Tests use this for determinism.
func (e *Executor) SetJitterFn(fn func() float64) { e.jitterFn = fn }
