package waops

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/session"
)

type stubTransport struct {
	session.Transport
	id int
}

type stubSession struct {
	live      bool
	waitOK    bool
	waits     int
	transport *stubTransport
	acquired  int
}

func (s *stubSession) WaitForConnection(ctx context.Context, timeout time.Duration) bool {
	s.waits++
	if s.waitOK {
		s.live = true
	}
	return s.waitOK
}

func (s *stubSession) LiveTransport() (session.Transport, error) {
	s.acquired++
	if !s.live {
		return nil, session.ErrNotConnected
	}
	return s.transport, nil
}

func testPolicy(slept *[]time.Duration) RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = func(_ context.Context, d time.Duration) {
		*slept = append(*slept, d)
	}
	return p
}

func TestLiveTransportWaitsWhenStale(t *testing.T) {
	sess := &stubSession{waitOK: true, transport: &stubTransport{id: 1}}

	got, err := LiveTransport(context.Background(), sess, time.Second)
	require.NoError(t, err)
	assert.Same(t, sess.transport, got)
	assert.Equal(t, 1, sess.waits)
}

func TestLiveTransportNotConnected(t *testing.T) {
	sess := &stubSession{waitOK: false}

	_, err := LiveTransport(context.Background(), sess, time.Second)
	assert.ErrorIs(t, err, session.ErrNotConnected)
}

func TestRunItemRateLimitRetriesAfterCooldown(t *testing.T) {
	sess := &stubSession{live: true, transport: &stubTransport{id: 1}}
	var slept []time.Duration
	policy := testPolicy(&slept)

	calls := 0
	err := RunItem(context.Background(), sess, policy, func(ctx context.Context, tr session.Transport) error {
		calls++
		if calls == 1 {
			return errors.New("rate-overlimit")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{policy.RateLimitCooldown}, slept)
}

func TestRunItemConnDropReacquiresTransport(t *testing.T) {
	first := &stubTransport{id: 1}
	second := &stubTransport{id: 2}
	sess := &stubSession{live: true, transport: first}

	var slept []time.Duration
	policy := testPolicy(&slept)

	var seen []session.Transport
	err := RunItem(context.Background(), sess, policy, func(ctx context.Context, tr session.Transport) error {
		seen = append(seen, tr)
		if len(seen) == 1 {
			sess.transport = second
			return errors.New("websocket disconnected")
		}
		return nil
	})

	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Same(t, first, seen[0])
	assert.Same(t, second, seen[1])
	assert.Equal(t, []time.Duration{policy.ReconnectCooldown}, slept)
}

func TestRunItemPermanentErrorNoRetry(t *testing.T) {
	sess := &stubSession{live: true, transport: &stubTransport{}}
	var slept []time.Duration
	policy := testPolicy(&slept)

	calls := 0
	err := RunItem(context.Background(), sess, policy, func(ctx context.Context, tr session.Transport) error {
		calls++
		return errors.New("group id malformed")
	})

	assert.EqualError(t, err, "group id malformed")
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
}

func TestRunItemRetryFailsPermanently(t *testing.T) {
	sess := &stubSession{live: true, transport: &stubTransport{}}
	var slept []time.Duration
	policy := testPolicy(&slept)

	calls := 0
	err := RunItem(context.Background(), sess, policy, func(ctx context.Context, tr session.Transport) error {
		calls++
		return errors.New("rate-overlimit")
	})

	assert.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, slept, 1)
}

func TestRunBatchLengthPreserving(t *testing.T) {
	sess := &stubSession{live: true, transport: &stubTransport{}}
	var slept []time.Duration
	policy := testPolicy(&slept)

	items := []string{"a", "b", "c", "d"}
	results, err := RunBatch(context.Background(), sess, items, DelayRange{}, policy, func(ctx context.Context, tr session.Transport, item string) error {
		if item == "c" {
			return errors.New("group id malformed")
		}
		return nil
	})

	require.NoError(t, err)
	require.Len(t, results, len(items))
	assert.Equal(t, StatusSucceeded, results[0].Status)
	assert.Equal(t, StatusSucceeded, results[1].Status)
	assert.Equal(t, StatusFailed, results[2].Status)
	assert.Equal(t, "group id malformed", results[2].Error)
	assert.Equal(t, StatusSucceeded, results[3].Status)
}

func TestRunBatchTransientItemDoesNotAbortBatch(t *testing.T) {
	sess := &stubSession{live: true, transport: &stubTransport{}}
	var slept []time.Duration
	policy := testPolicy(&slept)

	attempts := map[string]int{}
	results, err := RunBatch(context.Background(), sess, []string{"x", "y"}, DelayRange{}, policy, func(ctx context.Context, tr session.Transport, item string) error {
		attempts[item]++
		if item == "x" && attempts[item] == 1 {
			return errors.New("429 too many requests")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts["x"])
	assert.Equal(t, StatusSucceeded, results[0].Status)
	assert.Equal(t, StatusSucceeded, results[1].Status)
}

func TestRunBatchNoTransportAtAll(t *testing.T) {
	sess := &stubSession{waitOK: false}
	var slept []time.Duration
	policy := testPolicy(&slept)

	_, err := RunBatch(context.Background(), sess, []string{"a"}, DelayRange{}, policy, func(ctx context.Context, tr session.Transport, item string) error {
		t.Fatal("op must not run without a transport")
		return nil
	})

	assert.ErrorIs(t, err, session.ErrNotConnected)
}

func TestRunBatchPacesBetweenItems(t *testing.T) {
	sess := &stubSession{live: true, transport: &stubTransport{}}
	var slept []time.Duration
	policy := testPolicy(&slept)

	_, err := RunBatch(context.Background(), sess, []string{"a", "b", "c"}, DelayRange{Min: 5 * time.Second}, policy, func(ctx context.Context, tr session.Transport, item string) error {
		return nil
	})

	require.NoError(t, err)
	// No pacing delay after the last item.
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, slept)
}

func TestDelayRangeSample(t *testing.T) {
	fixed := DelayRange{Min: 3 * time.Second}
	assert.Equal(t, 3*time.Second, fixed.Sample())

	ranged := DelayRange{Min: 4 * time.Second, Max: 7 * time.Second}
	for i := 0; i < 50; i++ {
		d := ranged.Sample()
		assert.GreaterOrEqual(t, d, ranged.Min)
		assert.LessOrEqual(t, d, ranged.Max)
	}
}
