package broadcast

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rivo/uniseg"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/queue"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/session"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/types"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/workers"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/router"
)

const (
	maxRecipients = 500
	// Grapheme clusters, not bytes, so emoji-heavy messages are measured
	// the way the user sees them.
	maxMessageLength = 4096
)

var (
	registry *session.Registry
	jobs     queue.Queue
)

func Init(reg *session.Registry, q queue.Queue) {
	registry = reg
	jobs = q
}

// Send enqueues a broadcast job and returns its id immediately.
func Send(c *fiber.Ctx) error {
	ownerID := c.Locals("user_id").(string)

	var req types.RequestBroadcast
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if req.ProfileID == "" {
		req.ProfileID = "1"
	}
	if req.Message == "" {
		return router.ResponseBadRequest(c, "message is required")
	}
	if uniseg.GraphemeClusterCount(req.Message) > maxMessageLength {
		return router.ResponseBadRequest(c, "Message is too long")
	}
	if len(req.Recipients) == 0 {
		return router.ResponseBadRequest(c, "recipients is required")
	}
	if len(req.Recipients) > maxRecipients {
		return router.ResponseBadRequest(c, "Too many recipients, maximum is 500 per broadcast")
	}
	if req.DelayMaxSeconds < req.DelayMinSeconds {
		return router.ResponseBadRequest(c, "delay_max_seconds must be >= delay_min_seconds")
	}

	if _, err := registry.GetOrCreate(ownerID, req.ProfileID); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	job, err := jobs.Enqueue(ctx, workers.KindBroadcast, workers.BroadcastPayload{
		OwnerID:         ownerID,
		ProfileID:       req.ProfileID,
		Message:         req.Message,
		Recipients:      req.Recipients,
		DelayMinSeconds: req.DelayMinSeconds,
		DelayMaxSeconds: req.DelayMaxSeconds,
	})
	if err != nil {
		log.Session(ownerID, req.ProfileID).WithError(err).Error("Failed to enqueue broadcast")
		return router.ResponseInternalError(c, err.Error())
	}

	log.Session(ownerID, req.ProfileID).
		WithField("job_id", job.ID).
		WithField("recipients", len(req.Recipients)).
		Info("Broadcast enqueued")
	return router.ResponseAccepted(c, "Broadcast enqueued", types.ResponseJobAccepted{JobID: job.ID})
}
