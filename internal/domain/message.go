package domain

import (
	"github.com/google/uuid"
)

// RunRequest is the payload of a run-trigger message received from the queue.
type RunRequest struct {
	RunID      uuid.UUID `json:"run_id"`
	Parallel   bool      `json:"parallel"`
	MaxWorkers int       `json:"max_workers,omitempty"`
}

// RunMessage wraps a RunRequest with acknowledgement callbacks supplied by
// the delivery layer. The run loop calls Ack after the run summary has been
// produced, or Nack to reject a request that cannot be served.
type RunMessage struct {
	Request *RunRequest
	Ack     func() error
	Nack    func(requeue bool) error
}
