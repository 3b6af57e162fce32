package domain

import (
	"time"
)

// SourceKind identifies the technology behind a source. The set is closed:
// configuration parsing rejects unknown kinds before a JobDefinition exists.
type SourceKind string

const (
	SourcePostgres SourceKind = "postgresql"
	SourceOracle   SourceKind = "oracle"
	SourceMSSQL    SourceKind = "mssql"
	SourceAzureSQL SourceKind = "azure_sql"
	SourceHTTPAPI  SourceKind = "api"
)

// Valid reports whether the kind is a member of the supported set.
func (k SourceKind) Valid() bool {
	switch k {
	case SourcePostgres, SourceOracle, SourceMSSQL, SourceAzureSQL, SourceHTTPAPI:
		return true
	}
	return false
}

// IsDatabase reports whether the kind is a relational source (as opposed to an API).
func (k SourceKind) IsDatabase() bool {
	return k.Valid() && k != SourceHTTPAPI
}

// RequiresSchemaQualifier reports whether jobs of this kind must carry a
// schema qualifier so the extractor can address the object unambiguously.
func (k SourceKind) RequiresSchemaQualifier() bool {
	return k == SourceOracle
}

// LoadMode selects between full re-extraction and watermark-bounded extraction.
type LoadMode string

const (
	LoadFull        LoadMode = "FULL"
	LoadIncremental LoadMode = "INCREMENTAL"
)

// Valid reports whether the mode is a member of the supported set.
func (m LoadMode) Valid() bool {
	return m == LoadFull || m == LoadIncremental
}

// JobDefinition describes one unit of data movement: one source object into
// one destination dataset. It is immutable once validated; CursorValue is the
// only field the engine mutates, and only after a successful run.
type JobDefinition struct {
	JobID           string     `json:"job_id"`
	SourceKind      SourceKind `json:"source_kind"`
	SourceName      string     `json:"source_name"`
	ObjectName      string     `json:"object_name"`
	SchemaQualifier string     `json:"schema_qualifier,omitempty"`
	LoadMode        LoadMode   `json:"load_mode"`
	CursorField     string     `json:"cursor_field,omitempty"`
	CursorValue     string     `json:"cursor_value,omitempty"`
	Enabled         bool       `json:"enabled"`
	BatchSizeHint   int64      `json:"batch_size_hint,omitempty"`
}

// QualifiedName returns source_name.object_name, the human-facing job label.
func (j JobDefinition) QualifiedName() string {
	return j.SourceName + "." + j.ObjectName
}

// OutcomeStatus is the terminal status of one job in one run.
type OutcomeStatus string

const (
	StatusSuccess            OutcomeStatus = "SUCCESS"
	StatusFailed             OutcomeStatus = "FAILED"
	StatusSkippedCircuitOpen OutcomeStatus = "SKIPPED_CIRCUIT_OPEN"
	StatusSkippedDisabled    OutcomeStatus = "SKIPPED_DISABLED"
	StatusSkippedInvalid     OutcomeStatus = "SKIPPED_INVALID"
)

// Attempted reports whether the job actually ran against its source.
// Skipped jobs never reached the source and are excluded from rate math.
func (s OutcomeStatus) Attempted() bool {
	return s == StatusSuccess || s == StatusFailed
}

// JobOutcome is produced exactly once per job per run.
type JobOutcome struct {
	JobID          string        `json:"job_id"`
	SourceKind     SourceKind    `json:"source_kind"`
	SourceName     string        `json:"source_name"`
	Status         OutcomeStatus `json:"status"`
	RowsProcessed  int64         `json:"rows_processed"`
	Duration       time.Duration `json:"duration"`
	RetriesUsed    int           `json:"retries_used"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	NewCursorValue string        `json:"new_cursor_value,omitempty"`
}

// RunSummary aggregates every JobOutcome of one orchestrator invocation.
type RunSummary struct {
	RunID              string        `json:"run_id"`
	StartedAt          time.Time     `json:"started_at"`
	FinishedAt         time.Time     `json:"finished_at"`
	TotalJobs          int           `json:"total_jobs"`
	Succeeded          int           `json:"succeeded"`
	Failed             int           `json:"failed"`
	SkippedCircuitOpen int           `json:"skipped_circuit_open"`
	SkippedDisabled    int           `json:"skipped_disabled"`
	SkippedInvalid     int           `json:"skipped_invalid"`
	TotalRows          int64         `json:"total_rows"`
	TotalDuration      time.Duration `json:"total_duration"`
	RowsPerSecond      float64       `json:"rows_per_second"`
	HealthScore        float64       `json:"health_score"`
	Outcomes           []JobOutcome  `json:"outcomes"`
}

// Healthy is the discrete health contract: no failures and no refused batch.
// The numeric HealthScore is a continuous signal layered on top of this.
func (s RunSummary) Healthy() bool {
	return s.Failed == 0 && s.SkippedInvalid == 0
}
