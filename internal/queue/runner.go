package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/env"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
)

// Handler executes one kind of job. The report callback persists progress
// as a 0-100 percentage; the returned value becomes the job result.
type Handler func(ctx context.Context, job *Job, report func(progress int)) (interface{}, error)

// Runner drains a queue with a fixed pool of workers, dispatching each job
// to the handler registered for its kind.
type Runner struct {
	queue    Queue
	handlers map[string]Handler
}

func NewRunner(q Queue) *Runner {
	return &Runner{
		queue:    q,
		handlers: make(map[string]Handler),
	}
}

func (r *Runner) Register(kind string, handler Handler) {
	r.handlers[kind] = handler
}

// Start launches the worker pool and returns immediately. Workers exit
// when ctx is cancelled; call the returned function to wait for them.
func (r *Runner) Start(ctx context.Context, workers int) func() {
	if workers <= 0 {
		workers = 2
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx)
		}()
	}
	return wg.Wait
}

func (r *Runner) work(ctx context.Context) {
	for {
		job, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Print(nil).WithError(err).Error("Failed to dequeue job")
			continue
		}

		r.run(ctx, job)
	}
}

func (r *Runner) run(ctx context.Context, job *Job) {
	logger := log.Print(nil).
		WithField("job_id", job.ID).
		WithField("kind", job.Kind)

	handler, ok := r.handlers[job.Kind]
	if !ok {
		logger.Error("No handler registered for job kind")
		_ = r.queue.Fail(ctx, job.ID, fmt.Errorf("unknown job kind %q", job.Kind))
		return
	}

	report := func(progress int) {
		if err := r.queue.UpdateProgress(ctx, job.ID, progress); err != nil {
			logger.WithError(err).Warn("Failed to update job progress")
		}
	}

	result, err := handler(ctx, job, report)
	if err != nil {
		logger.WithError(err).Error("Job failed")
		_ = r.queue.Fail(ctx, job.ID, err)
		return
	}

	if err := r.queue.Complete(ctx, job.ID, result); err != nil {
		logger.WithError(err).Error("Failed to record job result")
		return
	}
	logger.Info("Job completed")
}

// NewFromEnv selects the backend from QUEUE_BACKEND ("memory" or "redis").
// The redis backend reads REDIS_URL.
func NewFromEnv() (Queue, error) {
	backend := env.GetEnvStringOrDefault("QUEUE_BACKEND", "memory")
	switch backend {
	case "memory":
		return NewMemoryQueue(env.GetEnvIntOrDefault("QUEUE_CAPACITY", 1024)), nil
	case "redis":
		return NewRedisQueue(env.MustGetEnvString("REDIS_URL"))
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", backend)
	}
}
