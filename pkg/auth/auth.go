package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/env"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/router"
)

var dashboardUser, dashboardPass string

func init() {
	dashboardUser = env.GetEnvStringOrDefault("DASHBOARD_USERNAME", "admin")
	dashboardPass = env.MustGetEnvString("DASHBOARD_PASSWORD")
}

// VerifyDashboardCredentials checks login form credentials against the
// env-seeded dashboard account using constant-time comparison.
func VerifyDashboardCredentials(username string, password string) bool {
	userHash := sha256.Sum256([]byte(strings.TrimSpace(username)))
	passHash := sha256.Sum256([]byte(password))
	wantUser := sha256.Sum256([]byte(dashboardUser))
	wantPass := sha256.Sum256([]byte(dashboardPass))

	userOK := subtle.ConstantTimeCompare(userHash[:], wantUser[:]) == 1
	passOK := subtle.ConstantTimeCompare(passHash[:], wantPass[:]) == 1
	return userOK && passOK
}

// UserAuth gates dashboard routes behind a Bearer JWT and stores the
// authenticated user id in c.Locals("user_id").
func UserAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := strings.TrimSpace(c.Get("Authorization"))
		if header == "" {
			return router.ResponseUnauthorized(c, "Missing Authorization header")
		}

		token := header
		if strings.HasPrefix(strings.ToLower(header), "bearer ") {
			token = strings.TrimSpace(header[7:])
		}
		if token == "" {
			return router.ResponseUnauthorized(c, "Missing bearer token")
		}

		claims, err := ValidateUserToken(token)
		if err != nil {
			return router.ResponseUnauthorized(c, "Invalid or expired token")
		}

		c.Locals("user_id", claims.UserID)
		return c.Next()
	}
}
