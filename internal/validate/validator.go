// Package validate performs pre-flight validation of job definitions.
// Validation is exhaustive, not fail-fast: every defect in a batch is
// reported so a misconfigured deployment can be fixed in one pass.
package validate

import (
	"fmt"
	"regexp"

	"github.com/riverline-data/ingestor/internal/domain"
)

// Bounds for batch_size_hint. Values outside the range are errors, not
// clamped: silently clamping would hide misconfiguration.
const (
	MinBatchSizeHint = 1_000
	MaxBatchSizeHint = 10_000_000
)

// objectNamePattern rejects object names that could smuggle SQL into a
// collaborator-built query.
var objectNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\.]*$`)

// Error describes one defect in one job definition.
type Error struct {
	JobID  string `json:"job_id"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e Error) Error() string {
	return fmt.Sprintf("job %q: field %q: %s", e.JobID, e.Field, e.Reason)
}

// Batch validates every job and returns the subset with zero defects plus
// all defects found. Pure function: no I/O, no mutation of the input. The
// result is order-stable with respect to the input slice.
func Batch(jobs []domain.JobDefinition) (valid []domain.JobDefinition, errs []Error) {
	for _, job := range jobs {
		jobErrs := Job(job)
		if len(jobErrs) == 0 {
			valid = append(valid, job)
			continue
		}
		errs = append(errs, jobErrs...)
	}
	return valid, errs
}

// Job validates a single definition and returns every defect found.
func Job(job domain.JobDefinition) []Error {
	var errs []Error
	fail := func(field, reason string) {
		errs = append(errs, Error{JobID: job.JobID, Field: field, Reason: reason})
	}

	if job.JobID == "" {
		fail("job_id", "required field is empty")
	}
	if job.SourceName == "" {
		fail("source_name", "required field is empty")
	}
	if job.ObjectName == "" {
		fail("object_name", "required field is empty")
	} else if !objectNamePattern.MatchString(job.ObjectName) {
		fail("object_name", fmt.Sprintf("%q does not match %s", job.ObjectName, objectNamePattern.String()))
	}

	if !job.SourceKind.Valid() {
		fail("source_kind", fmt.Sprintf("unknown source kind %q", job.SourceKind))
	}
	if !job.LoadMode.Valid() {
		fail("load_mode", fmt.Sprintf("unknown load mode %q", job.LoadMode))
	}

	// Ambiguous cursor configuration is rejected, never guessed at.
	switch job.LoadMode {
	case domain.LoadIncremental:
		if job.CursorField == "" {
			fail("cursor_field", "INCREMENTAL load requires a cursor_field")
		}
	case domain.LoadFull:
		if job.CursorField != "" {
			fail("cursor_field", "FULL load must not set cursor_field")
		}
	}

	if job.BatchSizeHint != 0 && (job.BatchSizeHint < MinBatchSizeHint || job.BatchSizeHint > MaxBatchSizeHint) {
		fail("batch_size_hint", fmt.Sprintf("%d out of range [%d, %d]", job.BatchSizeHint, MinBatchSizeHint, MaxBatchSizeHint))
	}

	if job.SourceKind.RequiresSchemaQualifier() && job.SchemaQualifier == "" {
		fail("schema_qualifier", fmt.Sprintf("source kind %q requires a schema_qualifier", job.SourceKind))
	}

	return errs
}
