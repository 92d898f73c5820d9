package internal

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/session"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
)

// Routines schedules the periodic session health check. A session that
// settled disconnected while its credentials are still stored gets nudged
// back online; one that was deliberately logged out has no credentials and
// is left alone.
func Routines(c *cron.Cron, reg *session.Registry) {
	log.Print(nil).Info("Running Routine Tasks")

	if isHealthCheckEnabled() {
		_, err := c.AddFunc("0 */5 * * * *", func() {
			ctx := context.Background()
			reg.Range(func(sess *session.Session) {
				st := sess.GetStatus()
				entry := log.Session(sess.OwnerID, sess.ProfileID)
				switch st.State {
				case session.StateConnected:
					entry.Info("Session healthy")
				case session.StateDisconnected:
					if sess.HasStoredCredentials(ctx) {
						entry.Warn("Session down with stored credentials, reconnecting")
						go sess.WaitForConnection(ctx, 30*time.Second)
					}
				}
			})
		})
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add health check cron job")
		}
	} else {
		log.Print(nil).Info("Health check cron disabled; relying on transport event handlers")
	}

	c.Start()
}

func isHealthCheckEnabled() bool {
	envValue, ok := os.LookupEnv("WHATSAPP_ENABLE_HEALTH_CHECK_CRON")
	if !ok {
		return true
	}
	enabled, err := strconv.ParseBool(envValue)
	if err != nil {
		log.Print(nil).Warn("Invalid WHATSAPP_ENABLE_HEALTH_CHECK_CRON value; defaulting to enabled")
		return true
	}
	return enabled
}
