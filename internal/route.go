package internal

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/auth"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/router"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/queue"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/session"

	ctlAuth "github.com/gdbrns/go-whatsapp-dashboard-api/internal/auth"
	ctlBroadcast "github.com/gdbrns/go-whatsapp-dashboard-api/internal/broadcast"
	ctlContacts "github.com/gdbrns/go-whatsapp-dashboard-api/internal/contacts"
	ctlGroups "github.com/gdbrns/go-whatsapp-dashboard-api/internal/groups"
	ctlIndex "github.com/gdbrns/go-whatsapp-dashboard-api/internal/index"
	ctlJobs "github.com/gdbrns/go-whatsapp-dashboard-api/internal/jobs"
	ctlProfile "github.com/gdbrns/go-whatsapp-dashboard-api/internal/profile"
	ctlValidator "github.com/gdbrns/go-whatsapp-dashboard-api/internal/validator"
)

func Routes(app *fiber.App, reg *session.Registry, jobQueue queue.Queue) {
	ctlProfile.Init(reg)
	ctlValidator.Init(reg)
	ctlGroups.Init(reg, jobQueue)
	ctlBroadcast.Init(reg, jobQueue)
	ctlJobs.Init(jobQueue)

	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(router.BaseURL, ctlIndex.Index)
		app.Get(router.BaseURL+"/", ctlIndex.Index)
	}

	// ============================================================
	// DASHBOARD LOGIN (no auth)
	// ============================================================
	app.Post(router.BaseURL+"/auth/login", ctlAuth.Login)

	// ============================================================
	// PROFILE OPERATIONS (JWT Bearer token authentication)
	// ============================================================
	userAuth := auth.UserAuth()

	// Connection lifecycle
	app.Get(router.BaseURL+"/wa/status", userAuth, ctlProfile.Status)
	app.Post(router.BaseURL+"/wa/connect", userAuth, ctlProfile.Connect)
	app.Get(router.BaseURL+"/wa/qr", userAuth, ctlProfile.QR)
	app.Post(router.BaseURL+"/wa/pair", userAuth, ctlProfile.Pair)
	app.Post(router.BaseURL+"/wa/cancel", userAuth, ctlProfile.Cancel)
	app.Post(router.BaseURL+"/wa/disconnect", userAuth, ctlProfile.Disconnect)
	app.Post(router.BaseURL+"/wa/reset", userAuth, ctlProfile.Reset)

	// Number validation
	app.Post(router.BaseURL+"/wa/validate", userAuth, ctlValidator.Validate)

	// Groups
	app.Get(router.BaseURL+"/groups", userAuth, ctlGroups.List)
	app.Post(router.BaseURL+"/groups/create-bulk", userAuth, ctlGroups.CreateBulk)

	// Broadcast + job tracking
	app.Post(router.BaseURL+"/broadcast", userAuth, ctlBroadcast.Send)
	app.Get(router.BaseURL+"/jobs/:job_id", userAuth, ctlJobs.GetStatus)

	// Contacts import/export
	app.Post(router.BaseURL+"/contacts/vcf", userAuth, ctlContacts.Export)
	app.Post(router.BaseURL+"/contacts/vcf/parse", userAuth, ctlContacts.Import)
}
