package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Items []string `json:"items"`
}

func TestMemoryQueueLifecycle(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "broadcast", testPayload{Items: []string{"a", "b"}})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StateQueued, job.State)

	got, ok, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateQueued, got.State)

	active, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, active.ID)
	assert.Equal(t, StateActive, active.State)

	var payload testPayload
	require.NoError(t, active.DecodePayload(&payload))
	assert.Equal(t, []string{"a", "b"}, payload.Items)

	require.NoError(t, q.UpdateProgress(ctx, job.ID, 50))
	got, _, _ = q.Get(ctx, job.ID)
	assert.Equal(t, 50, got.Progress)

	require.NoError(t, q.Complete(ctx, job.ID, map[string]int{"sent": 2}))
	got, _, _ = q.Get(ctx, job.ID)
	assert.Equal(t, StateCompleted, got.State)
	assert.Equal(t, 100, got.Progress)
	assert.JSONEq(t, `{"sent":2}`, string(got.Result))
}

func TestMemoryQueueFail(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "broadcast", testPayload{})
	require.NoError(t, err)

	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, job.ID, errors.New("session never connected")))
	got, ok, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "session never connected", got.Error)
}

func TestMemoryQueueGetUnknown(t *testing.T) {
	q := NewMemoryQueue(8)

	_, ok, err := q.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryQueueDequeueRespectsContext(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunnerDispatchesByKind(t *testing.T) {
	q := NewMemoryQueue(8)
	runner := NewRunner(q)

	done := make(chan string, 2)
	runner.Register("broadcast", func(ctx context.Context, job *Job, report func(int)) (interface{}, error) {
		report(50)
		done <- job.ID
		return map[string]string{"status": "ok"}, nil
	})
	runner.Register("group-create", func(ctx context.Context, job *Job, report func(int)) (interface{}, error) {
		done <- job.ID
		return nil, errors.New("group limit reached")
	})

	ctx, cancel := context.WithCancel(context.Background())
	wait := runner.Start(ctx, 1)

	okJob, err := q.Enqueue(ctx, "broadcast", testPayload{})
	require.NoError(t, err)
	badJob, err := q.Enqueue(ctx, "group-create", testPayload{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs to run")
		}
	}

	require.Eventually(t, func() bool {
		got, _, _ := q.Get(context.Background(), okJob.ID)
		return got != nil && got.State == StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		got, _, _ := q.Get(context.Background(), badJob.ID)
		return got != nil && got.State == StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, _, _ := q.Get(context.Background(), okJob.ID)
	var result map[string]string
	require.NoError(t, json.Unmarshal(got.Result, &result))
	assert.Equal(t, "ok", result["status"])

	got, _, _ = q.Get(context.Background(), badJob.ID)
	assert.Equal(t, "group limit reached", got.Error)

	cancel()
	wait()
}

func TestRunnerUnknownKindFailsJob(t *testing.T) {
	q := NewMemoryQueue(8)
	runner := NewRunner(q)

	ctx, cancel := context.WithCancel(context.Background())
	wait := runner.Start(ctx, 1)

	job, err := q.Enqueue(ctx, "mystery", testPayload{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _, _ := q.Get(context.Background(), job.ID)
		return got != nil && got.State == StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	wait()
}
