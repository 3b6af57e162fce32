package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/riverline-data/ingestor/internal/breaker"
	"github.com/riverline-data/ingestor/internal/clock"
	"github.com/riverline-data/ingestor/internal/domain"
	"github.com/riverline-data/ingestor/internal/extract"
	"github.com/riverline-data/ingestor/internal/orchestrator"
	"github.com/riverline-data/ingestor/internal/repository/mock"
	"github.com/riverline-data/ingestor/internal/retry"
	"github.com/riverline-data/ingestor/internal/typemap"
	"github.com/riverline-data/ingestor/internal/watermark"
)

type fixture struct {
	orch       *orchestrator.Orchestrator
	extractor  *mock.Extractor
	watermarks *watermark.Memory
	audit      *mock.OutcomeRecorder
	clk        *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	logger := zap.NewNop()
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), clk)
	exec := retry.NewExecutor(breakers, clk, logger)
	exec.SetJitterFn(func() float64 { return 0.5 })

	ex := &mock.Extractor{}
	reg := extract.NewRegistry()
	for _, kind := range []domain.SourceKind{
		domain.SourcePostgres, domain.SourceOracle, domain.SourceMSSQL,
		domain.SourceAzureSQL, domain.SourceHTTPAPI,
	} {
		reg.Register(kind, ex)
	}

	wm := watermark.NewMemory()
	audit := &mock.OutcomeRecorder{}
	orch := orchestrator.New(exec, reg, wm, audit, clk, logger, orchestrator.Options{
		Destination: typemap.DestDatabricks,
	})

	return &fixture{orch: orch, extractor: ex, watermarks: wm, audit: audit, clk: clk}
}

func job(id string) domain.JobDefinition {
	return domain.JobDefinition{
		JobID:      id,
		SourceKind: domain.SourcePostgres,
		SourceName: "warehouse",
		ObjectName: "public.orders",
		LoadMode:   domain.LoadFull,
		Enabled:    true,
	}
}

func incrementalJob(id, cursorField, cursorValue string) domain.JobDefinition {
	j := job(id)
	j.LoadMode = domain.LoadIncremental
	j.CursorField = cursorField
	j.CursorValue = cursorValue
	return j
}

// One invalid enabled job refuses the whole batch: every enabled job is
// SKIPPED_INVALID and nothing reaches the extractor.
func TestRun_InvalidJobRefusesBatch(t *testing.T) {
	f := newFixture(t)

	bad := incrementalJob("job-b", "", "") // INCREMENTAL without cursor_field
	jobs := []domain.JobDefinition{job("job-a"), bad, job("job-c")}

	s := f.orch.Run(context.Background(), jobs, orchestrator.Sequential())

	if f.extractor.CallCount() != 0 {
		t.Fatalf("extractor invoked %d times, want 0", f.extractor.CallCount())
	}
	if s.TotalJobs != 3 || s.SkippedInvalid != 3 || s.Succeeded != 0 {
		t.Fatalf("summary wrong: %+v", s)
	}
	if s.Healthy() {
		t.Error("refused batch must not be Healthy()")
	}

	// The defective job carries its own reason; its siblings carry the
	// batch-level one.
	own, ok := f.audit.OutcomeByJobID("job-b")
	if !ok || !strings.Contains(own.ErrorMessage, "cursor_field") {
		t.Errorf("defective job message = %q, want its own validation reason", own.ErrorMessage)
	}
	sibling, ok := f.audit.OutcomeByJobID("job-a")
	if !ok || !strings.Contains(sibling.ErrorMessage, "batch refused") {
		t.Errorf("sibling message = %q, want batch-level reason", sibling.ErrorMessage)
	}
}

// Disabled jobs are skipped before validation: a disabled job with a broken
// definition must not refuse the batch.
func TestRun_DisabledSkippedBeforeValidation(t *testing.T) {
	f := newFixture(t)
	f.extractor.ExtractFn = func(ctx context.Context, j domain.JobDefinition, _ *typemap.Policy) (extract.Result, error) {
		return extract.Result{Rows: 10}, nil
	}

	broken := incrementalJob("job-off", "", "")
	broken.Enabled = false
	jobs := []domain.JobDefinition{job("job-on"), broken}

	s := f.orch.Run(context.Background(), jobs, orchestrator.Sequential())

	if s.Succeeded != 1 || s.SkippedDisabled != 1 || s.SkippedInvalid != 0 {
		t.Fatalf("summary wrong: %+v", s)
	}
	if f.extractor.CallCount() != 1 {
		t.Fatalf("extractor invoked %d times, want 1", f.extractor.CallCount())
	}
}

// An incremental success advances the watermark to the max observed cursor;
// a later failure on the same job leaves it untouched.
func TestRun_WatermarkAdvancesOnlyOnSuccess(t *testing.T) {
	f := newFixture(t)

	j := incrementalJob("job-inc", "updated_at", "2024-01-01")

	f.extractor.ExtractFn = func(ctx context.Context, got domain.JobDefinition, _ *typemap.Policy) (extract.Result, error) {
		if got.CursorValue != "2024-01-01" {
			t.Errorf("first run cursor = %q, want configured 2024-01-01", got.CursorValue)
		}
		return extract.Result{Rows: 500, MaxCursor: "2024-01-05"}, nil
	}
	s := f.orch.Run(context.Background(), []domain.JobDefinition{j}, orchestrator.Sequential())
	if s.Succeeded != 1 {
		t.Fatalf("first run: %+v", s)
	}
	if cur, _ := f.watermarks.Get(context.Background(), "job-inc"); cur != "2024-01-05" {
		t.Fatalf("watermark = %q, want 2024-01-05", cur)
	}

	out, _ := f.audit.OutcomeByJobID("job-inc")
	if out.NewCursorValue != "2024-01-05" {
		t.Errorf("outcome cursor = %q, want 2024-01-05", out.NewCursorValue)
	}

	// Second run: the ledger value wins over the stale configured one, and
	// a permanent failure must not move it.
	f.extractor.ExtractFn = func(ctx context.Context, got domain.JobDefinition, _ *typemap.Policy) (extract.Result, error) {
		if got.CursorValue != "2024-01-05" {
			t.Errorf("second run cursor = %q, want committed 2024-01-05", got.CursorValue)
		}
		return extract.Result{}, domain.Permanent(errors.New("table dropped"))
	}
	s = f.orch.Run(context.Background(), []domain.JobDefinition{j}, orchestrator.Sequential())
	if s.Failed != 1 {
		t.Fatalf("second run: %+v", s)
	}
	if cur, _ := f.watermarks.Get(context.Background(), "job-inc"); cur != "2024-01-05" {
		t.Fatalf("watermark moved on failure: %q", cur)
	}
}

// Zero rows is a SUCCESS and the watermark does not move.
func TestRun_ZeroRowsSuccessNoAdvance(t *testing.T) {
	f := newFixture(t)
	f.watermarks.Commit(context.Background(), "job-inc", "2024-03-01")

	f.extractor.ExtractFn = func(ctx context.Context, _ domain.JobDefinition, _ *typemap.Policy) (extract.Result, error) {
		return extract.Result{Rows: 0, MaxCursor: ""}, nil
	}

	j := incrementalJob("job-inc", "updated_at", "")
	s := f.orch.Run(context.Background(), []domain.JobDefinition{j}, orchestrator.Sequential())

	if s.Succeeded != 1 || s.TotalRows != 0 {
		t.Fatalf("summary wrong: %+v", s)
	}
	if cur, _ := f.watermarks.Get(context.Background(), "job-inc"); cur != "2024-03-01" {
		t.Fatalf("watermark = %q, want unchanged 2024-03-01", cur)
	}
}

// A transient failure is retried and the recovered job reports its retry
// count in the summary outcome.
func TestRun_TransientRecovery(t *testing.T) {
	f := newFixture(t)

	var calls int
	f.extractor.ExtractFn = func(ctx context.Context, _ domain.JobDefinition, _ *typemap.Policy) (extract.Result, error) {
		calls++
		if calls < 3 {
			return extract.Result{}, domain.Transient(errors.New("connection reset"))
		}
		return extract.Result{Rows: 42}, nil
	}

	s := f.orch.Run(context.Background(), []domain.JobDefinition{job("job-flaky")}, orchestrator.Sequential())

	if s.Succeeded != 1 {
		t.Fatalf("summary wrong: %+v", s)
	}
	out, _ := f.audit.OutcomeByJobID("job-flaky")
	if out.RetriesUsed != 2 || out.RowsProcessed != 42 {
		t.Fatalf("outcome = %+v, want retries_used=2 rows=42", out)
	}
	if len(f.clk.Sleeps()) != 2 {
		t.Errorf("sleeps = %d, want 2", len(f.clk.Sleeps()))
	}
}

// One job's failure never aborts its siblings, sequentially or in parallel.
func TestRun_FailureIsolation(t *testing.T) {
	f := newFixture(t)
	f.extractor.ExtractFn = func(ctx context.Context, j domain.JobDefinition, _ *typemap.Policy) (extract.Result, error) {
		if j.JobID == "job-2" {
			return extract.Result{}, domain.Permanent(errors.New("schema mismatch"))
		}
		return extract.Result{Rows: 1}, nil
	}

	jobs := []domain.JobDefinition{job("job-1"), job("job-2"), job("job-3")}
	s := f.orch.Run(context.Background(), jobs, orchestrator.Sequential())

	if s.Succeeded != 2 || s.Failed != 1 {
		t.Fatalf("summary wrong: %+v", s)
	}
}

// Bounded-parallel mode processes every job exactly once and never exceeds
// the pool width.
func TestRun_BoundedParallel(t *testing.T) {
	f := newFixture(t)

	var (
		mu       sync.Mutex
		active   int
		maxSeen  int
		finished int
	)
	f.extractor.ExtractFn = func(ctx context.Context, _ domain.JobDefinition, _ *typemap.Policy) (extract.Result, error) {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		active--
		finished++
		mu.Unlock()
		return extract.Result{Rows: 1}, nil
	}

	var jobs []domain.JobDefinition
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		jobs = append(jobs, job("job-"+id))
	}

	s := f.orch.Run(context.Background(), jobs, orchestrator.BoundedParallel(2))

	if s.Succeeded != 8 || s.TotalJobs != 8 {
		t.Fatalf("summary wrong: %+v", s)
	}
	if finished != 8 {
		t.Errorf("finished = %d, want 8", finished)
	}
	if maxSeen > 2 {
		t.Errorf("max concurrent = %d, want <= 2", maxSeen)
	}
}

// Cancellation mid-run fails the remaining jobs with the cancelled reason
// instead of dropping them without an outcome.
func TestRun_CancellationFailsRemaining(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	f.extractor.ExtractFn = func(ctx context.Context, _ domain.JobDefinition, _ *typemap.Policy) (extract.Result, error) {
		calls++
		if calls == 1 {
			cancel()
			return extract.Result{Rows: 1}, nil
		}
		return extract.Result{Rows: 1}, nil
	}

	jobs := []domain.JobDefinition{job("job-1"), job("job-2"), job("job-3")}
	s := f.orch.Run(ctx, jobs, orchestrator.Sequential())

	if s.TotalJobs != 3 {
		t.Fatalf("every job must yield an outcome: %+v", s)
	}
	if s.Succeeded != 1 || s.Failed != 2 {
		t.Fatalf("summary wrong: %+v", s)
	}
	out, _ := f.audit.OutcomeByJobID("job-3")
	if !strings.Contains(out.ErrorMessage, domain.ErrCancelled.Error()) {
		t.Errorf("cancelled job message = %q", out.ErrorMessage)
	}
}

// A panicking extractor fails its own job only.
func TestRun_PanicIsolated(t *testing.T) {
	f := newFixture(t)
	f.extractor.ExtractFn = func(ctx context.Context, j domain.JobDefinition, _ *typemap.Policy) (extract.Result, error) {
		if j.JobID == "job-2" {
			panic("nil pointer in loader")
		}
		return extract.Result{Rows: 1}, nil
	}

	jobs := []domain.JobDefinition{job("job-1"), job("job-2"), job("job-3")}
	s := f.orch.Run(context.Background(), jobs, orchestrator.Sequential())

	if s.Succeeded != 2 || s.Failed != 1 {
		t.Fatalf("summary wrong: %+v", s)
	}
	out, _ := f.audit.OutcomeByJobID("job-2")
	if !strings.Contains(out.ErrorMessage, "panic") {
		t.Errorf("panicked job message = %q", out.ErrorMessage)
	}
}

// A source kind with no registered extractor fails that job without retries.
func TestRun_MissingExtractor(t *testing.T) {
	f := newFixture(t)

	clk := clock.NewFake(time.Unix(0, 0))
	logger := zap.NewNop()
	exec := retry.NewExecutor(breaker.NewRegistry(breaker.DefaultConfig(), clk), clk, logger)
	orch := orchestrator.New(exec, extract.NewRegistry(), watermark.NewMemory(), f.audit, clk, logger, orchestrator.Options{})

	s := orch.Run(context.Background(), []domain.JobDefinition{job("job-1")}, orchestrator.Sequential())

	if s.Failed != 1 {
		t.Fatalf("summary wrong: %+v", s)
	}
	out, _ := f.audit.OutcomeByJobID("job-1")
	if !strings.Contains(out.ErrorMessage, "no extractor registered") {
		t.Errorf("message = %q", out.ErrorMessage)
	}
}

// The run summary is recorded once through the audit trail.
func TestRun_SummaryRecorded(t *testing.T) {
	f := newFixture(t)
	f.extractor.ExtractFn = func(ctx context.Context, _ domain.JobDefinition, _ *typemap.Policy) (extract.Result, error) {
		return extract.Result{Rows: 7}, nil
	}

	s := f.orch.RunWithID(context.Background(), "run-fixed", []domain.JobDefinition{job("job-1")}, orchestrator.Sequential())

	if s.RunID != "run-fixed" {
		t.Fatalf("run id = %q", s.RunID)
	}
	if len(f.audit.Summaries) != 1 || f.audit.Summaries[0].RunID != "run-fixed" {
		t.Fatalf("summaries recorded = %+v", f.audit.Summaries)
	}
	if len(f.audit.Outcomes) != 1 || f.audit.Outcomes[0].RunID != "run-fixed" {
		t.Fatalf("outcomes recorded = %+v", f.audit.Outcomes)
	}
}
