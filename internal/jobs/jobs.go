package jobs

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/queue"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/router"
)

var jobQueue queue.Queue

func Init(q queue.Queue) {
	jobQueue = q
}

// GetStatus returns state, progress and, once terminal, the result of a
// background job.
func GetStatus(c *fiber.Ctx) error {
	jobID := c.Params("job_id")
	if jobID == "" {
		return router.ResponseBadRequest(c, "job_id is required")
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	job, ok, err := jobQueue.Get(ctx, jobID)
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	if !ok {
		return router.ResponseNotFound(c, "Job not found")
	}

	return router.ResponseSuccessWithData(c, "Success get job status", job)
}
