// Package extract defines the contract between the run engine and the
// per-source extraction collaborators. The engine never reads rows itself:
// it hands a job and a type-mapping policy to an Extractor and consumes the
// result. Extractors follow the database/sql driver convention — source
// packages register themselves against the default registry.
package extract

import (
	"context"
	"sync"

	"github.com/riverline-data/ingestor/internal/domain"
	"github.com/riverline-data/ingestor/internal/typemap"
)

// Result reports one successful extract-and-load attempt.
type Result struct {
	// Rows is the count of rows durably written to the destination.
	Rows int64
	// MaxCursor is the maximum cursor-field value observed among the
	// written rows, or "" when no rows were observed. Meaningful only for
	// incremental jobs.
	MaxCursor string
}

// Extractor moves one job's data from source to destination. The "loader
// wrote durably" acknowledgment is the nil-error return; it is the only
// trigger for watermark advancement.
//
// Implementations must be safe to re-invoke on retry: a failed attempt must
// leave no partial, unflagged side effects. Failures should be wrapped with
// domain.Transient or domain.Permanent so the retry executor can classify
// them; unwrapped errors are treated as permanent.
type Extractor interface {
	Extract(ctx context.Context, job domain.JobDefinition, policy *typemap.Policy) (Result, error)
}

// Registry maps source kinds to their extractors.
type Registry struct {
	mu     sync.RWMutex
	byKind map[domain.SourceKind]Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[domain.SourceKind]Extractor)}
}

// Register binds an extractor to a source kind, replacing any previous one.
func (r *Registry) Register(kind domain.SourceKind, ex Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = ex
}

// For returns the extractor registered for the kind.
func (r *Registry) For(kind domain.SourceKind) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.byKind[kind]
	return ex, ok
}

// Kinds returns the registered source kinds.
func (r *Registry) Kinds() []domain.SourceKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]domain.SourceKind, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	return kinds
}

var defaultRegistry = NewRegistry()

// Register binds an extractor in the process-wide default registry.
// Source packages call this from init().
func Register(kind domain.SourceKind, ex Extractor) {
	defaultRegistry.Register(kind, ex)
}

// Default returns the process-wide registry used by the main binary.
func Default() *Registry {
	return defaultRegistry
}
