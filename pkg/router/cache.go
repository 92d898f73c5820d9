package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cache"
)

// HttpCacheInMemory caches idempotent responses for ttl seconds. The cache
// key is the request path, so authenticated responses are never cached:
// they are per-user. Session state and job progress change between polls
// and bypass the cache as well.
func HttpCacheInMemory(ttl int) fiber.Handler {
	if ttl <= 0 {
		ttl = 5
	}
	return cache.New(cache.Config{
		Next: func(c *fiber.Ctx) bool {
			if c.Method() != fiber.MethodGet {
				return true
			}
			if c.Get(fiber.HeaderAuthorization) != "" {
				return true
			}
			path := c.Path()
			return strings.Contains(path, "/wa/") || strings.Contains(path, "/jobs/")
		},
		Expiration: time.Duration(ttl) * time.Second,
	})
}
