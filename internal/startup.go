package internal

import (
	"context"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/session"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/env"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
)

// Startup kicks off the background restore of every session that still has
// stored credentials. It returns immediately; the restore pass reports its
// summary through the log when done.
func Startup(reg *session.Registry) {
	log.Print(nil).Info("Running Startup Tasks")

	maxConcurrent := env.GetEnvIntOrDefault("WHATSAPP_RESTORE_CONCURRENCY", 10)
	reg.RestoreAll(context.Background(), int64(maxConcurrent))
}
