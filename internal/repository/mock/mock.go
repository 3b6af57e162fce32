// Package mock provides hand-rolled test doubles for the repository
// interfaces and the extractor collaborator. Each double records its calls
// for assertions and delegates to an optional function field.
package mock

import (
	"context"
	"sync"

	"github.com/riverline-data/ingestor/internal/domain"
	"github.com/riverline-data/ingestor/internal/extract"
	"github.com/riverline-data/ingestor/internal/repository"
	"github.com/riverline-data/ingestor/internal/typemap"
)

// ---- JobStore mock ----

var _ repository.JobStore = (*JobStore)(nil)

// JobStore is a test double for repository.JobStore.
type JobStore struct {
	mu sync.Mutex

	Jobs       []domain.JobDefinition
	ListJobsFn func(ctx context.Context) ([]domain.JobDefinition, error)

	ListCalls int
}

func (m *JobStore) ListJobs(ctx context.Context) ([]domain.JobDefinition, error) {
	m.mu.Lock()
	m.ListCalls++
	m.mu.Unlock()
	if m.ListJobsFn != nil {
		return m.ListJobsFn(ctx)
	}
	return m.Jobs, nil
}

// ---- OutcomeRecorder mock ----

var _ repository.OutcomeRecorder = (*OutcomeRecorder)(nil)

// OutcomeRecorder is a test double for repository.OutcomeRecorder.
type OutcomeRecorder struct {
	mu sync.Mutex

	RecordOutcomeFn func(ctx context.Context, runID string, outcome domain.JobOutcome) error
	RecordSummaryFn func(ctx context.Context, summary domain.RunSummary) error

	// Recorded calls for assertions.
	Outcomes  []RecordedOutcome
	Summaries []domain.RunSummary
}

type RecordedOutcome struct {
	RunID   string
	Outcome domain.JobOutcome
}

func (m *OutcomeRecorder) RecordOutcome(ctx context.Context, runID string, outcome domain.JobOutcome) error {
	m.mu.Lock()
	m.Outcomes = append(m.Outcomes, RecordedOutcome{RunID: runID, Outcome: outcome})
	m.mu.Unlock()
	if m.RecordOutcomeFn != nil {
		return m.RecordOutcomeFn(ctx, runID, outcome)
	}
	return nil
}

func (m *OutcomeRecorder) RecordSummary(ctx context.Context, summary domain.RunSummary) error {
	m.mu.Lock()
	m.Summaries = append(m.Summaries, summary)
	m.mu.Unlock()
	if m.RecordSummaryFn != nil {
		return m.RecordSummaryFn(ctx, summary)
	}
	return nil
}

// OutcomeByJobID returns the recorded outcome for a job, if any.
func (m *OutcomeRecorder) OutcomeByJobID(jobID string) (domain.JobOutcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.Outcomes {
		if rec.Outcome.JobID == jobID {
			return rec.Outcome, true
		}
	}
	return domain.JobOutcome{}, false
}

// ---- RunLocker mock ----

var _ repository.RunLocker = (*RunLocker)(nil)

// RunLocker is a test double for repository.RunLocker.
type RunLocker struct {
	mu sync.Mutex

	AcquireFn func(ctx context.Context, name string) (bool, error)
	ReleaseFn func(ctx context.Context, name string) error

	AcquireCalls []string
	ReleaseCalls []string
}

func (m *RunLocker) AcquireRunLock(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	m.AcquireCalls = append(m.AcquireCalls, name)
	m.mu.Unlock()
	if m.AcquireFn != nil {
		return m.AcquireFn(ctx, name)
	}
	return true, nil
}

func (m *RunLocker) ReleaseRunLock(ctx context.Context, name string) error {
	m.mu.Lock()
	m.ReleaseCalls = append(m.ReleaseCalls, name)
	m.mu.Unlock()
	if m.ReleaseFn != nil {
		return m.ReleaseFn(ctx, name)
	}
	return nil
}

// ---- Extractor mock ----

var _ extract.Extractor = (*Extractor)(nil)

// Extractor is a test double for extract.Extractor.
type Extractor struct {
	mu sync.Mutex

	ExtractFn func(ctx context.Context, job domain.JobDefinition, policy *typemap.Policy) (extract.Result, error)

	Calls []domain.JobDefinition
}

func (m *Extractor) Extract(ctx context.Context, job domain.JobDefinition, policy *typemap.Policy) (extract.Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, job)
	m.mu.Unlock()
	if m.ExtractFn != nil {
		return m.ExtractFn(ctx, job, policy)
	}
	return extract.Result{}, nil
}

// CallCount returns how many times Extract was invoked.
func (m *Extractor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
