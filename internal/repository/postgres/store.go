package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/riverline-data/ingestor/internal/domain"
	"github.com/riverline-data/ingestor/internal/repository"
	"github.com/riverline-data/ingestor/internal/watermark"
)

var (
	_ repository.JobStore        = (*Store)(nil)
	_ repository.OutcomeRecorder = (*Store)(nil)
	_ watermark.Store            = (*Store)(nil)
)

// Store is the PostgreSQL-backed persistence layer: job definitions,
// the watermark ledger, and the per-run audit trail.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store on the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ListJobs loads every job definition, enabled or not; the engine decides
// what to do with disabled ones.
func (s *Store) ListJobs(ctx context.Context) ([]domain.JobDefinition, error) {
	query := `
		SELECT job_id, source_kind, source_name, object_name,
		       COALESCE(schema_qualifier, ''), load_mode,
		       COALESCE(cursor_field, ''), COALESCE(cursor_value, ''),
		       enabled, COALESCE(batch_size_hint, 0)
		FROM ingestion_jobs
		ORDER BY job_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.JobDefinition
	for rows.Next() {
		var j domain.JobDefinition
		if err := rows.Scan(
			&j.JobID, &j.SourceKind, &j.SourceName, &j.ObjectName,
			&j.SchemaQualifier, &j.LoadMode,
			&j.CursorField, &j.CursorValue,
			&j.Enabled, &j.BatchSizeHint,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
	}
	return jobs, nil
}

// Get returns the committed watermark cursor for the job, or "" when the
// job has never committed one.
func (s *Store) Get(ctx context.Context, jobID string) (string, error) {
	query := `SELECT cursor_value FROM ingestion_watermarks WHERE job_id = $1`

	var cursor string
	err := s.pool.QueryRow(ctx, query, jobID).Scan(&cursor)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres: get watermark: %w", err)
	}
	return cursor, nil
}

// Commit upserts the watermark cursor for the job.
func (s *Store) Commit(ctx context.Context, jobID, cursor string) error {
	query := `
		INSERT INTO ingestion_watermarks (job_id, cursor_value, committed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id)
		DO UPDATE SET cursor_value = EXCLUDED.cursor_value,
		              committed_at = EXCLUDED.committed_at`

	if _, err := s.pool.Exec(ctx, query, jobID, cursor, time.Now().UTC()); err != nil {
		return fmt.Errorf("postgres: commit watermark: %w", err)
	}
	return nil
}

// RecordOutcome appends one job outcome to the audit trail.
func (s *Store) RecordOutcome(ctx context.Context, runID string, outcome domain.JobOutcome) error {
	query := `
		INSERT INTO ingestion_audit
			(run_id, job_id, source_kind, source_name, status,
			 rows_processed, duration_ms, retries_used, error_message,
			 new_cursor_value, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		runID, outcome.JobID, outcome.SourceKind, outcome.SourceName, outcome.Status,
		outcome.RowsProcessed, outcome.Duration.Milliseconds(), outcome.RetriesUsed,
		outcome.ErrorMessage, outcome.NewCursorValue, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: record outcome: %w", err)
	}
	return nil
}

// RecordSummary persists the run-level roll-up.
func (s *Store) RecordSummary(ctx context.Context, summary domain.RunSummary) error {
	query := `
		INSERT INTO ingestion_runs
			(run_id, started_at, finished_at, total_jobs, succeeded, failed,
			 skipped_circuit_open, skipped_disabled, skipped_invalid,
			 total_rows, rows_per_second, health_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		summary.RunID, summary.StartedAt, summary.FinishedAt,
		summary.TotalJobs, summary.Succeeded, summary.Failed,
		summary.SkippedCircuitOpen, summary.SkippedDisabled, summary.SkippedInvalid,
		summary.TotalRows, summary.RowsPerSecond, summary.HealthScore,
	)
	if err != nil {
		return fmt.Errorf("postgres: record summary: %w", err)
	}
	return nil
}
