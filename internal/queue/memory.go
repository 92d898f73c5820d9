package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is the in-process backend used when no Redis is configured
// and in tests. Jobs do not survive a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	pending chan string
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		jobs:    make(map[string]*Job),
		pending: make(chan string, capacity),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, kind string, payload interface{}) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    raw,
		State:      StateQueued,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	select {
	case q.pending <- job.ID:
	default:
		q.mu.Lock()
		delete(q.jobs, job.ID)
		q.mu.Unlock()
		return nil, fmt.Errorf("queue full")
	}

	return snapshot(job), nil
}

func (q *MemoryQueue) Get(ctx context.Context, id string) (*Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, false, nil
	}
	return snapshot(job), true, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		select {
		case id := <-q.pending:
			q.mu.Lock()
			job, ok := q.jobs[id]
			if !ok {
				q.mu.Unlock()
				continue
			}
			job.State = StateActive
			job.UpdatedAt = time.Now()
			out := snapshot(job)
			q.mu.Unlock()
			return out, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) UpdateProgress(ctx context.Context, id string, progress int) error {
	return q.mutate(id, func(job *Job) {
		job.Progress = progress
	})
}

func (q *MemoryQueue) Complete(ctx context.Context, id string, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return q.mutate(id, func(job *Job) {
		job.State = StateCompleted
		job.Progress = 100
		job.Result = raw
	})
}

func (q *MemoryQueue) Fail(ctx context.Context, id string, cause error) error {
	return q.mutate(id, func(job *Job) {
		job.State = StateFailed
		if cause != nil {
			job.Error = cause.Error()
		}
	})
}

func (q *MemoryQueue) mutate(id string, fn func(*Job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	fn(job)
	job.UpdatedAt = time.Now()
	return nil
}

func snapshot(job *Job) *Job {
	out := *job
	return &out
}
