// Package validator checks which phone numbers are registered on the
// platform, in rate-limited batches.
package validator

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/session"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/types"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/waops"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/router"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/validation"
)

const (
	batchSize  = 25
	maxNumbers = 500
)

var registry *session.Registry

// batchLimiter paces validation batches across all requests so one big
// validation cannot trip the upstream rate limit for everyone.
var batchLimiter = rate.NewLimiter(rate.Limit(1), 1)

func Init(reg *session.Registry) {
	registry = reg
}

// Validate answers, for each submitted number, whether an account exists.
// Results are length-preserving and per-number: one bad entry never fails
// the call.
func Validate(c *fiber.Ctx) error {
	ownerID := c.Locals("user_id").(string)

	var req types.RequestValidate
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if req.ProfileID == "" {
		req.ProfileID = "1"
	}
	if len(req.Numbers) == 0 {
		return router.ResponseBadRequest(c, "numbers is required")
	}
	if len(req.Numbers) > maxNumbers {
		return router.ResponseBadRequest(c, "Too many numbers, maximum is 500 per request")
	}

	sess, err := registry.GetOrCreate(ownerID, req.ProfileID)
	if err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	policy := waops.DefaultRetryPolicy()
	if _, err := waops.LiveTransport(ctx, sess, policy.ConnectTimeout); err != nil {
		return router.ResponseInternalError(c, "Profile is not connected")
	}

	results := make([]types.ResponseValidation, len(req.Numbers))
	// Index of each normalized number back into the request slice.
	index := make(map[string][]int, len(req.Numbers))
	batch := make([]string, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := batchLimiter.Wait(ctx); err != nil {
			return err
		}
		toCheck := batch
		batch = batch[:0]

		var statuses []session.RegisteredStatus
		err := waops.RunItem(ctx, sess, policy, func(ctx context.Context, t session.Transport) error {
			var err error
			statuses, err = t.CheckRegistered(ctx, toCheck)
			return err
		})
		if err != nil {
			for _, digits := range toCheck {
				for _, i := range index[digits] {
					results[i].Error = err.Error()
				}
			}
			return nil
		}
		for _, st := range statuses {
			for _, i := range index[st.Phone] {
				results[i].Exists = st.Exists
				results[i].JID = st.JID
			}
		}
		return nil
	}

	for i, raw := range req.Numbers {
		results[i] = types.ResponseValidation{Phone: raw}
		digits := validation.NormalizeRecipient(raw)
		if digits == "" {
			results[i].Error = "invalid phone number"
			continue
		}
		results[i].Phone = digits
		index[digits] = append(index[digits], i)
		batch = append(batch, digits)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return router.ResponseInternalError(c, err.Error())
			}
		}
	}
	if err := flush(); err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	log.Session(ownerID, req.ProfileID).
		WithField("numbers", len(req.Numbers)).
		Info("Number validation complete")
	return router.ResponseSuccessWithData(c, "Success validate numbers", results)
}
