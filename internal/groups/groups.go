package groups

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/queue"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/session"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/types"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/workers"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/router"
)

const maxGroupsPerJob = 50

var (
	registry *session.Registry
	jobs     queue.Queue
)

func Init(reg *session.Registry, q queue.Queue) {
	registry = reg
	jobs = q
}

// List returns the group cache for the profile, fetching from the live
// connection when the cache is empty or force_refresh is set.
func List(c *fiber.Ctx) error {
	ownerID := c.Locals("user_id").(string)
	profileID := c.Query("profile_id", "1")
	forceRefresh := c.QueryBool("force_refresh", false)

	sess, ok := registry.Get(ownerID, profileID)
	if !ok {
		return router.ResponseNotFound(c, "Profile not found")
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	groups := sess.CachedGroups()
	if len(groups) == 0 || forceRefresh {
		fetched, err := sess.FetchGroups(ctx)
		if err != nil {
			if len(groups) == 0 {
				log.Session(ownerID, profileID).WithError(err).Error("Failed to fetch groups")
				return router.ResponseInternalError(c, err.Error())
			}
			// Stale cache beats an error when we have something to show.
			log.Session(ownerID, profileID).WithError(err).Warn("Group refresh failed, serving cache")
		} else {
			groups = fetched
		}
	}

	return router.ResponseSuccessWithData(c, "Success get groups", groups)
}

// CreateBulk enqueues a background job that creates the requested groups
// one by one.
func CreateBulk(c *fiber.Ctx) error {
	ownerID := c.Locals("user_id").(string)

	var req types.RequestCreateGroupsBulk
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if req.ProfileID == "" {
		req.ProfileID = "1"
	}
	if len(req.Groups) == 0 {
		return router.ResponseBadRequest(c, "groups is required")
	}
	if len(req.Groups) > maxGroupsPerJob {
		return router.ResponseBadRequest(c, "Too many groups, maximum is 50 per request")
	}
	for _, g := range req.Groups {
		if g.Name == "" {
			return router.ResponseBadRequest(c, "Every group needs a name")
		}
	}

	if _, err := registry.GetOrCreate(ownerID, req.ProfileID); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	payload := workers.GroupCreatePayload{
		OwnerID:   ownerID,
		ProfileID: req.ProfileID,
		Groups:    make([]workers.GroupSpec, 0, len(req.Groups)),
	}
	for _, g := range req.Groups {
		payload.Groups = append(payload.Groups, workers.GroupSpec{
			Name:         g.Name,
			Description:  g.Description,
			Participants: g.Participants,
		})
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	job, err := jobs.Enqueue(ctx, workers.KindGroupCreate, payload)
	if err != nil {
		log.Session(ownerID, req.ProfileID).WithError(err).Error("Failed to enqueue group creation")
		return router.ResponseInternalError(c, err.Error())
	}

	log.Session(ownerID, req.ProfileID).
		WithField("job_id", job.ID).
		WithField("groups", len(req.Groups)).
		Info("Bulk group creation enqueued")
	return router.ResponseAccepted(c, "Group creation enqueued", types.ResponseJobAccepted{JobID: job.ID})
}
