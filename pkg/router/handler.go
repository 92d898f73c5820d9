package router

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// HttpErrorHandler funnels unhandled route errors through the standard
// response envelope.
func HttpErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}
	return responseError(c, code, err.Error())
}
