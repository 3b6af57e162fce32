// Package watermark manages the incremental cursor lifecycle. A watermark
// only advances after the destination acknowledges a durable write, so a
// failed incremental run can be retried without skipping or re-duplicating
// the previously committed range.
package watermark

import (
	"context"
	"fmt"
	"sync"
)

// Store persists the last committed cursor per job. Implementations must
// make Commit durable before returning.
type Store interface {
	// Get returns the committed cursor for the job, or "" when none exists.
	Get(ctx context.Context, jobID string) (string, error)

	// Commit durably records the new cursor for the job.
	Commit(ctx context.Context, jobID, cursor string) error
}

// State of one incremental job's watermark within a run.
type State string

const (
	// StatePending: run not started; cursor is the configured value.
	StatePending State = "PENDING"
	// StateInFlight: extraction started; the watermark has not advanced.
	StateInFlight State = "IN_FLIGHT"
	// StateCommitted: extraction succeeded and the observed max cursor
	// (if any) is persisted.
	StateCommitted State = "COMMITTED"
	// StateStale: extraction failed; the cursor remains at its previous
	// committed value.
	StateStale State = "STALE"
)

// Tracker drives the watermark state machine for one incremental job in one
// run. It is used by a single goroutine (the job's own execution).
type Tracker struct {
	store  Store
	jobID  string
	state  State
	cursor string
}

// NewTracker creates a PENDING tracker holding the job's configured cursor.
func NewTracker(store Store, jobID, configured string) *Tracker {
	return &Tracker{store: store, jobID: jobID, state: StatePending, cursor: configured}
}

// Begin resolves the effective starting cursor: the store's committed value
// wins over the configured one, since the ledger is the source of truth for
// everything after the very first run. Transitions PENDING -> IN_FLIGHT.
func (t *Tracker) Begin(ctx context.Context) (string, error) {
	stored, err := t.store.Get(ctx, t.jobID)
	if err != nil {
		return "", err
	}
	if stored != "" {
		t.cursor = stored
	}
	t.state = StateInFlight
	return t.cursor, nil
}

// Complete commits the maximum cursor value observed among durably written
// rows. An empty observation means zero rows: not an error, not a
// regression, and no advancement. The cursor is monotonic: an observation
// below the effective cursor is refused rather than committed, since a
// regressed ledger would re-extract ranges that already succeeded.
// Transitions IN_FLIGHT -> COMMITTED.
func (t *Tracker) Complete(ctx context.Context, maxObserved string) error {
	if maxObserved != "" && maxObserved != t.cursor {
		if maxObserved < t.cursor {
			return fmt.Errorf("watermark: cursor %q for job %s is behind committed %q", maxObserved, t.jobID, t.cursor)
		}
		if err := t.store.Commit(ctx, t.jobID, maxObserved); err != nil {
			return err
		}
		t.cursor = maxObserved
	}
	t.state = StateCommitted
	return nil
}

// Fail leaves the cursor untouched. Transitions IN_FLIGHT -> STALE.
func (t *Tracker) Fail() {
	t.state = StateStale
}

// State returns the tracker's current lifecycle state.
func (t *Tracker) State() State { return t.state }

// Cursor returns the effective cursor value.
func (t *Tracker) Cursor() string { return t.cursor }

// Memory is an in-memory Store for tests and single-process use.
type Memory struct {
	mu      sync.Mutex
	cursors map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{cursors: make(map[string]string)}
}

func (m *Memory) Get(ctx context.Context, jobID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[jobID], nil
}

func (m *Memory) Commit(ctx context.Context, jobID, cursor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[jobID] = cursor
	return nil
}
