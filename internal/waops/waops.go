// Package waops wraps per-item protocol calls with the retry, cooldown and
// pacing policy used by bulk group operations and number validation. A
// single item's permanent failure never aborts the batch.
package waops

import (
	"context"
	mathrand "math/rand/v2"
	"strings"
	"time"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/session"
)

// Sessioner is the slice of *session.Session the helpers need.
type Sessioner interface {
	WaitForConnection(ctx context.Context, timeout time.Duration) bool
	LiveTransport() (session.Transport, error)
}

// LiveTransport returns a guaranteed-live transport, waiting for the
// session to (re)connect if the cached handle is stale.
func LiveTransport(ctx context.Context, sess Sessioner, timeout time.Duration) (session.Transport, error) {
	if t, err := sess.LiveTransport(); err == nil {
		return t, nil
	}
	if !sess.WaitForConnection(ctx, timeout) {
		return nil, session.ErrNotConnected
	}
	t, err := sess.LiveTransport()
	if err != nil {
		return nil, session.ErrNotConnected
	}
	return t, nil
}

// RetryPolicy classifies transient per-item failures and fixes their
// cooldowns. Rate limiting costs the long cooldown; a dropped connection
// costs the short one plus a freshly re-acquired transport.
type RetryPolicy struct {
	RateLimitCooldown time.Duration
	ReconnectCooldown time.Duration
	ConnectTimeout    time.Duration
	IsRateLimit       func(error) bool
	IsConnDrop        func(error) bool
	// Sleep is injectable for tests; nil means a context-aware time.Sleep.
	Sleep func(context.Context, time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RateLimitCooldown: 30 * time.Second,
		ReconnectCooldown: 10 * time.Second,
		ConnectTimeout:    30 * time.Second,
		IsRateLimit:       isRateLimitError,
		IsConnDrop:        isConnDropError,
	}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate") || strings.Contains(msg, "429")
}

func isConnDropError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "close") ||
		strings.Contains(msg, "disconnect") ||
		strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "not connected")
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(ctx, d)
		return
	}
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// DelayRange is a caller-supplied inter-item pacing policy. A zero Max
// means a fixed Min delay; otherwise the delay is sampled uniformly from
// [Min, Max] to approximate human-paced usage.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

func (d DelayRange) Sample() time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	return d.Min + time.Duration(mathrand.Int64N(int64(d.Max-d.Min)+1))
}

// ItemResult is the outcome for one batch item. A batch over N items
// always yields exactly N results.
type ItemResult struct {
	Item   string `json:"item"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// RunBatch runs op once per item with pacing between items. Returns an
// error only when the session cannot produce any live transport at all;
// per-item failures land in the results.
func RunBatch(ctx context.Context, sess Sessioner, items []string, pace DelayRange, policy RetryPolicy, op func(ctx context.Context, t session.Transport, item string) error) ([]ItemResult, error) {
	if _, err := LiveTransport(ctx, sess, policy.ConnectTimeout); err != nil {
		return nil, err
	}

	results := make([]ItemResult, 0, len(items))
	for i, item := range items {
		if err := RunItem(ctx, sess, policy, func(ctx context.Context, t session.Transport) error {
			return op(ctx, t, item)
		}); err != nil {
			results = append(results, ItemResult{Item: item, Status: StatusFailed, Error: err.Error()})
		} else {
			results = append(results, ItemResult{Item: item, Status: StatusSucceeded})
		}

		if i < len(items)-1 {
			policy.sleep(ctx, pace.Sample())
		}
	}
	return results, nil
}

// RunItem runs one operation against a live transport, retrying once on a
// rate-limit signal (after the long cooldown) or a connection drop (after
// the short cooldown, against a freshly re-acquired transport). Any other
// error is returned as the item's permanent failure.
func RunItem(ctx context.Context, sess Sessioner, policy RetryPolicy, op func(ctx context.Context, t session.Transport) error) error {
	t, err := LiveTransport(ctx, sess, policy.ConnectTimeout)
	if err != nil {
		return err
	}

	err = op(ctx, t)
	if err == nil {
		return nil
	}

	var cooldown time.Duration
	switch {
	case policy.IsRateLimit != nil && policy.IsRateLimit(err):
		cooldown = policy.RateLimitCooldown
	case policy.IsConnDrop != nil && policy.IsConnDrop(err):
		cooldown = policy.ReconnectCooldown
	default:
		return err
	}

	policy.sleep(ctx, cooldown)

	t, terr := LiveTransport(ctx, sess, policy.ConnectTimeout)
	if terr != nil {
		return terr
	}
	return op(ctx, t)
}
