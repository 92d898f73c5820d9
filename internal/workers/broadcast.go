// Package workers holds the queue job handlers that drive long-running
// bulk operations against a live session.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/queue"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/session"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/waops"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/validation"
)

// Job kinds registered with the queue runner.
const (
	KindBroadcast   = "broadcast"
	KindGroupCreate = "group-create"
)

// SessionDirectory resolves the session a job should run against.
type SessionDirectory interface {
	GetOrCreate(ownerID string, profileID string) (*session.Session, error)
}

type BroadcastPayload struct {
	OwnerID         string   `json:"owner_id"`
	ProfileID       string   `json:"profile_id"`
	Message         string   `json:"message"`
	Recipients      []string `json:"recipients"`
	DelayMinSeconds int      `json:"delay_min_seconds"`
	DelayMaxSeconds int      `json:"delay_max_seconds"`
}

type BroadcastResult struct {
	Sent    int                `json:"sent"`
	Failed  int                `json:"failed"`
	Results []waops.ItemResult `json:"results"`
}

// Broadcaster sends one message to many recipients with a randomized
// pause between sends.
type Broadcaster struct {
	sessions SessionDirectory
	policy   waops.RetryPolicy
	sleep    func(context.Context, time.Duration)
}

func NewBroadcaster(sessions SessionDirectory) *Broadcaster {
	return &Broadcaster{
		sessions: sessions,
		policy:   waops.DefaultRetryPolicy(),
		sleep:    sleepCtx,
	}
}

func (b *Broadcaster) Handle(ctx context.Context, job *queue.Job, report func(int)) (interface{}, error) {
	var payload BroadcastPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("decoding broadcast payload: %w", err)
	}

	sess, err := b.sessions.GetOrCreate(payload.OwnerID, payload.ProfileID)
	if err != nil {
		return nil, err
	}
	if _, err := waops.LiveTransport(ctx, sess, b.policy.ConnectTimeout); err != nil {
		return nil, err
	}

	pace := waops.DelayRange{
		Min: time.Duration(payload.DelayMinSeconds) * time.Second,
		Max: time.Duration(payload.DelayMaxSeconds) * time.Second,
	}
	if pace.Min <= 0 {
		pace.Min = 3 * time.Second
	}
	if pace.Max < pace.Min {
		pace.Max = pace.Min
	}

	logger := log.Session(payload.OwnerID, payload.ProfileID).
		WithField("job_id", job.ID).
		WithField("recipients", len(payload.Recipients))
	logger.Info("Starting broadcast")

	result := BroadcastResult{Results: make([]waops.ItemResult, 0, len(payload.Recipients))}
	for i, recipient := range payload.Recipients {
		digits := validation.NormalizeRecipient(recipient)
		if digits == "" {
			result.Failed++
			result.Results = append(result.Results, waops.ItemResult{
				Item:   recipient,
				Status: waops.StatusFailed,
				Error:  "invalid phone number",
			})
			report(progressPct(i+1, len(payload.Recipients)))
			continue
		}

		err := waops.RunItem(ctx, sess, b.policy, func(ctx context.Context, t session.Transport) error {
			_, err := t.SendMessage(ctx, digits, payload.Message)
			return err
		})
		if err != nil {
			result.Failed++
			result.Results = append(result.Results, waops.ItemResult{
				Item:   recipient,
				Status: waops.StatusFailed,
				Error:  err.Error(),
			})
		} else {
			result.Sent++
			result.Results = append(result.Results, waops.ItemResult{
				Item:   recipient,
				Status: waops.StatusSucceeded,
			})
		}
		report(progressPct(i+1, len(payload.Recipients)))

		if i < len(payload.Recipients)-1 {
			b.sleep(ctx, pace.Sample())
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	logger.WithField("sent", result.Sent).
		WithField("failed", result.Failed).
		Info("Broadcast finished")
	return result, nil
}

func progressPct(done int, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}

func sleepCtx(ctx context.Context, d time.Duration) {
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
