package validate_test

import (
	"testing"

	"github.com/riverline-data/ingestor/internal/domain"
	"github.com/riverline-data/ingestor/internal/validate"
)

func goodJob(id string) domain.JobDefinition {
	return domain.JobDefinition{
		JobID:      id,
		SourceKind: domain.SourcePostgres,
		SourceName: "prod_postgres",
		ObjectName: "orders",
		LoadMode:   domain.LoadFull,
		Enabled:    true,
	}
}

func TestBatch_AllValid(t *testing.T) {
	jobs := []domain.JobDefinition{goodJob("a"), goodJob("b")}

	valid, errs := validate.Batch(jobs)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(valid) != 2 {
		t.Fatalf("expected 2 valid jobs, got %d", len(valid))
	}
}

// One INCREMENTAL job with an empty cursor_field must produce exactly one
// error and leave the other jobs valid.
func TestBatch_IncrementalMissingCursorField(t *testing.T) {
	bad := goodJob("bad")
	bad.LoadMode = domain.LoadIncremental

	jobs := []domain.JobDefinition{goodJob("a"), bad, goodJob("c")}

	valid, errs := validate.Batch(jobs)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d: %v", len(errs), errs)
	}
	if errs[0].JobID != "bad" || errs[0].Field != "cursor_field" {
		t.Errorf("unexpected error: %+v", errs[0])
	}
	if len(valid) != 2 {
		t.Errorf("expected 2 valid jobs, got %d", len(valid))
	}
}

func TestJob_FullWithCursorFieldRejected(t *testing.T) {
	job := goodJob("x")
	job.CursorField = "updated_at"

	errs := validate.Job(job)
	if len(errs) != 1 || errs[0].Field != "cursor_field" {
		t.Fatalf("expected one cursor_field error, got %v", errs)
	}
}

func TestJob_RequiredFields(t *testing.T) {
	job := domain.JobDefinition{
		SourceKind: domain.SourcePostgres,
		LoadMode:   domain.LoadFull,
	}

	errs := validate.Job(job)
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, want := range []string{"job_id", "source_name", "object_name"} {
		if !fields[want] {
			t.Errorf("expected error for field %q, got %v", want, errs)
		}
	}
}

func TestJob_UnknownEnums(t *testing.T) {
	job := goodJob("x")
	job.SourceKind = "sqlite"
	job.LoadMode = "DELTA"
	job.CursorField = "" // load mode invalid, cursor checks skipped

	errs := validate.Job(job)
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	if !fields["source_kind"] || !fields["load_mode"] {
		t.Fatalf("expected source_kind and load_mode errors, got %v", errs)
	}
}

func TestJob_ObjectNamePattern(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"orders", true},
		{"dbo.orders", true},
		{"_staging_2024", true},
		{"1orders", false},
		{"orders; DROP TABLE users", false},
		{"orders-2024", false},
	}
	for _, tc := range cases {
		job := goodJob("x")
		job.ObjectName = tc.name
		errs := validate.Job(job)
		if tc.ok && len(errs) != 0 {
			t.Errorf("%q: expected valid, got %v", tc.name, errs)
		}
		if !tc.ok && len(errs) == 0 {
			t.Errorf("%q: expected object_name error, got none", tc.name)
		}
	}
}

func TestJob_BatchSizeHintRange(t *testing.T) {
	cases := []struct {
		hint int64
		ok   bool
	}{
		{0, true}, // unset
		{1_000, true},
		{10_000_000, true},
		{999, false},
		{10_000_001, false},
		{-5, false},
	}
	for _, tc := range cases {
		job := goodJob("x")
		job.BatchSizeHint = tc.hint
		errs := validate.Job(job)
		if tc.ok && len(errs) != 0 {
			t.Errorf("hint %d: expected valid, got %v", tc.hint, errs)
		}
		if !tc.ok && (len(errs) != 1 || errs[0].Field != "batch_size_hint") {
			t.Errorf("hint %d: expected batch_size_hint error, got %v", tc.hint, errs)
		}
	}
}

func TestJob_OracleRequiresSchemaQualifier(t *testing.T) {
	job := goodJob("x")
	job.SourceKind = domain.SourceOracle

	errs := validate.Job(job)
	if len(errs) != 1 || errs[0].Field != "schema_qualifier" {
		t.Fatalf("expected schema_qualifier error, got %v", errs)
	}

	job.SchemaQualifier = "HR"
	if errs := validate.Job(job); len(errs) != 0 {
		t.Fatalf("expected valid with qualifier, got %v", errs)
	}
}

// Permuting the input permutes the reported errors correspondingly but does
// not change which jobs are valid.
func TestBatch_OrderIndependent(t *testing.T) {
	bad1 := goodJob("bad1")
	bad1.ObjectName = "1bad"
	bad2 := goodJob("bad2")
	bad2.LoadMode = "WRONG"

	forward := []domain.JobDefinition{goodJob("a"), bad1, goodJob("b"), bad2}
	reversed := []domain.JobDefinition{bad2, goodJob("b"), bad1, goodJob("a")}

	validF, errsF := validate.Batch(forward)
	validR, errsR := validate.Batch(reversed)

	if len(errsF) != len(errsR) {
		t.Fatalf("error count changed under permutation: %d vs %d", len(errsF), len(errsR))
	}

	idsOf := func(jobs []domain.JobDefinition) map[string]bool {
		m := map[string]bool{}
		for _, j := range jobs {
			m[j.JobID] = true
		}
		return m
	}
	f, r := idsOf(validF), idsOf(validR)
	if len(f) != len(r) {
		t.Fatalf("valid set changed under permutation")
	}
	for id := range f {
		if !r[id] {
			t.Errorf("job %q valid in one order but not the other", id)
		}
	}
}
