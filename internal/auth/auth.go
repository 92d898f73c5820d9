package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/types"
	pkgAuth "github.com/gdbrns/go-whatsapp-dashboard-api/pkg/auth"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/router"
)

// Login exchanges dashboard credentials for a JWT bearer token.
func Login(c *fiber.Ctx) error {
	var req types.RequestLogin
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	if !pkgAuth.VerifyDashboardCredentials(req.Username, req.Password) {
		log.Print(c).WithField("username", req.Username).Warn("Rejected dashboard login")
		return router.ResponseUnauthorized(c, "Invalid username or password")
	}

	token, err := pkgAuth.GenerateUserToken(req.Username)
	if err != nil {
		log.Print(c).WithError(err).Error("Failed to generate token")
		return router.ResponseInternalError(c, "Failed to generate token")
	}

	log.Print(c).WithField("username", req.Username).Info("Dashboard login")
	return router.ResponseSuccessWithData(c, "Success login", types.ResponseLogin{
		Token:     token,
		ExpiresIn: int(pkgAuth.TokenTTL().Seconds()),
	})
}
