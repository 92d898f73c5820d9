package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	pendingKey   = "wa:jobs:pending"
	jobKeyPrefix = "wa:jobs:item:"
	jobTTL       = 24 * time.Hour
)

// RedisQueue persists jobs in Redis so queued work survives a process
// restart and multiple workers can share one backlog. Jobs expire a day
// after their last update.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(url string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisQueue{client: client}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, kind string, payload interface{}) (*Job, error) {
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

	if err := q.save(ctx, job); err != nil {
		return nil, err
	}
	if err := q.client.LPush(ctx, pendingKey, job.ID).Err(); err != nil {
		return nil, fmt.Errorf("pushing job: %w", err)
	}
	return job, nil
}

func (q *RedisQueue) Get(ctx context.Context, id string) (*Job, bool, error) {
	raw, err := q.client.Get(ctx, jobKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading job: %w", err)
	}

	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, false, fmt.Errorf("decoding job: %w", err)
	}
	return &job, true, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		res, err := q.client.BRPop(ctx, 5*time.Second, pendingKey).Result()
		if err == redis.Nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("popping job: %w", err)
		}

		job, ok, err := q.Get(ctx, res[1])
		if err != nil {
			return nil, err
		}
		if !ok {
			// Expired while queued; move on.
			continue
		}

		job.State = StateActive
		job.UpdatedAt = time.Now()
		if err := q.save(ctx, job); err != nil {
			return nil, err
		}
		return job, nil
	}
}

func (q *RedisQueue) UpdateProgress(ctx context.Context, id string, progress int) error {
	return q.mutate(ctx, id, func(job *Job) {
		job.Progress = progress
	})
}

func (q *RedisQueue) Complete(ctx context.Context, id string, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return q.mutate(ctx, id, func(job *Job) {
		job.State = StateCompleted
		job.Progress = 100
		job.Result = raw
	})
}

func (q *RedisQueue) Fail(ctx context.Context, id string, cause error) error {
	return q.mutate(ctx, id, func(job *Job) {
		job.State = StateFailed
		if cause != nil {
			job.Error = cause.Error()
		}
	})
}

func (q *RedisQueue) mutate(ctx context.Context, id string, fn func(*Job)) error {
	job, ok, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	fn(job)
	job.UpdatedAt = time.Now()
	return q.save(ctx, job)
}

func (q *RedisQueue) save(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.Set(ctx, jobKeyPrefix+job.ID, raw, jobTTL).Err(); err != nil {
		return fmt.Errorf("saving job: %w", err)
	}
	return nil
}
