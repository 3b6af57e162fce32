package repository

import (
	"context"

	"github.com/riverline-data/ingestor/internal/domain"
)

// JobStore supplies the job definitions for a run. The engine does not know
// where they come from (table, file, API); it only consumes the result.
type JobStore interface {
	ListJobs(ctx context.Context) ([]domain.JobDefinition, error)
}

// OutcomeRecorder persists the audit trail: one record per job outcome and
// one per run summary. Recording is best-effort from the engine's point of
// view — an audit failure is logged, never escalated into a job failure.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, runID string, outcome domain.JobOutcome) error
	RecordSummary(ctx context.Context, summary domain.RunSummary) error
}

// RunLocker provides exclusive run execution across orchestrator instances.
type RunLocker interface {
	// AcquireRunLock attempts to take the named lock. Returns true when
	// acquired, false when another instance holds it.
	AcquireRunLock(ctx context.Context, name string) (bool, error)

	// ReleaseRunLock releases the named lock.
	ReleaseRunLock(ctx context.Context, name string) error
}
