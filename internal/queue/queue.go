// Package queue provides the background job pipeline behind the
// long-running bulk endpoints. Handlers accept work immediately, return a
// job id, and a worker drains the queue out of band.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is one unit of background work plus its observable progress. Result
// and Error are only set once the job reaches a terminal state.
type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	State      State           `json:"state"`
	Progress   int             `json:"progress"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// DecodePayload unmarshals the job payload into out.
func (j *Job) DecodePayload(out interface{}) error {
	return json.Unmarshal(j.Payload, out)
}

// Queue decouples job submission from execution. Enqueue and Get serve the
// HTTP surface; the remaining methods belong to the worker loop.
type Queue interface {
	Enqueue(ctx context.Context, kind string, payload interface{}) (*Job, error)
	Get(ctx context.Context, id string) (*Job, bool, error)

	// Dequeue blocks until a job is available or ctx is done, and marks
	// the returned job active.
	Dequeue(ctx context.Context) (*Job, error)
	UpdateProgress(ctx context.Context, id string, progress int) error
	Complete(ctx context.Context, id string, result interface{}) error
	Fail(ctx context.Context, id string, cause error) error
}
