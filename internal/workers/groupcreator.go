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

// seedParticipants is how many members go into the initial create call.
// The rest are added one by one afterwards so a single bad number cannot
// sink the whole group.
const seedParticipants = 3

type GroupSpec struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Participants []string `json:"participants"`
}

type GroupCreatePayload struct {
	OwnerID   string      `json:"owner_id"`
	ProfileID string      `json:"profile_id"`
	Groups    []GroupSpec `json:"groups"`
}

type GroupResult struct {
	Name    string             `json:"name"`
	GroupID string             `json:"group_id,omitempty"`
	Status  string             `json:"status"`
	Error   string             `json:"error,omitempty"`
	Added   int                `json:"added"`
	Adds    []waops.ItemResult `json:"adds,omitempty"`
}

type GroupCreateResult struct {
	Created int           `json:"created"`
	Failed  int           `json:"failed"`
	Groups  []GroupResult `json:"groups"`
}

// GroupCreator creates groups in bulk. Each group starts with a small seed
// of members, settles for a while, then gains the remaining members one by
// one at a slow, fixed pace.
type GroupCreator struct {
	sessions SessionDirectory
	policy   waops.RetryPolicy
	settle   waops.DelayRange
	addPace  waops.DelayRange
	sleep    func(context.Context, time.Duration)
}

func NewGroupCreator(sessions SessionDirectory) *GroupCreator {
	return &GroupCreator{
		sessions: sessions,
		policy:   waops.DefaultRetryPolicy(),
		settle:   waops.DelayRange{Min: 10 * time.Second, Max: 15 * time.Second},
		addPace:  waops.DelayRange{Min: 5 * time.Second},
		sleep:    sleepCtx,
	}
}

func (g *GroupCreator) Handle(ctx context.Context, job *queue.Job, report func(int)) (interface{}, error) {
	var payload GroupCreatePayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("decoding group-create payload: %w", err)
	}

	sess, err := g.sessions.GetOrCreate(payload.OwnerID, payload.ProfileID)
	if err != nil {
		return nil, err
	}
	if _, err := waops.LiveTransport(ctx, sess, g.policy.ConnectTimeout); err != nil {
		return nil, err
	}

	logger := log.Session(payload.OwnerID, payload.ProfileID).
		WithField("job_id", job.ID).
		WithField("groups", len(payload.Groups))
	logger.Info("Starting bulk group creation")

	result := GroupCreateResult{Groups: make([]GroupResult, 0, len(payload.Groups))}
	for i, spec := range payload.Groups {
		gr := g.createOne(ctx, sess, spec)
		if gr.Status == waops.StatusSucceeded {
			result.Created++
		} else {
			result.Failed++
		}
		result.Groups = append(result.Groups, gr)
		report(progressPct(i+1, len(payload.Groups)))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	logger.WithField("created", result.Created).
		WithField("failed", result.Failed).
		Info("Bulk group creation finished")
	return result, nil
}

func (g *GroupCreator) createOne(ctx context.Context, sess *session.Session, spec GroupSpec) GroupResult {
	gr := GroupResult{Name: spec.Name}

	members := make([]string, 0, len(spec.Participants))
	for _, p := range spec.Participants {
		if digits := validation.NormalizeRecipient(p); digits != "" {
			members = append(members, digits)
		} else {
			gr.Adds = append(gr.Adds, waops.ItemResult{
				Item:   p,
				Status: waops.StatusFailed,
				Error:  "invalid phone number",
			})
		}
	}

	seed := members
	if len(seed) > seedParticipants {
		seed = members[:seedParticipants]
	}

	var created *session.GroupInfo
	err := waops.RunItem(ctx, sess, g.policy, func(ctx context.Context, t session.Transport) error {
		info, err := t.CreateGroup(ctx, spec.Name, seed)
		if err != nil {
			return err
		}
		created = info
		return nil
	})
	if err != nil {
		gr.Status = waops.StatusFailed
		gr.Error = err.Error()
		return gr
	}
	gr.GroupID = created.ID
	gr.Added = len(seed)

	if spec.Description != "" {
		err := waops.RunItem(ctx, sess, g.policy, func(ctx context.Context, t session.Transport) error {
			return t.UpdateGroupDescription(ctx, created.ID, spec.Description)
		})
		if err != nil {
			log.Session(sess.OwnerID, sess.ProfileID).
				WithField("group_id", created.ID).
				WithError(err).Warn("Failed to set group description")
		}
	}

	rest := members[len(seed):]
	if len(rest) > 0 {
		g.sleep(ctx, g.settle.Sample())

		for i, member := range rest {
			member := member
			err := waops.RunItem(ctx, sess, g.policy, func(ctx context.Context, t session.Transport) error {
				return t.UpdateGroupParticipants(ctx, created.ID, []string{member}, session.ParticipantAdd)
			})
			if err != nil {
				gr.Adds = append(gr.Adds, waops.ItemResult{
					Item:   member,
					Status: waops.StatusFailed,
					Error:  err.Error(),
				})
			} else {
				gr.Added++
			}

			if i < len(rest)-1 {
				g.sleep(ctx, g.addPace.Sample())
			}
			if ctx.Err() != nil {
				break
			}
		}
	}

	gr.Status = waops.StatusSucceeded
	return gr
}
