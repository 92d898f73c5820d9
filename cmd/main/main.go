package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"

	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/env"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/router"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-dashboard-api/pkg/whatsapp"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/credstore"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/queue"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/session"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/workers"
)

type Server struct {
	Address string
	Port    string
}

func main() {
	ctx := context.Background()

	// Initialize Cron
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
	), cron.WithSeconds())

	// Credential store, transport factory and the session registry
	store, err := credstore.NewFromEnv(ctx)
	if err != nil {
		log.Print(nil).Fatal(err.Error())
	}
	registry := session.NewRegistry(store, pkgWhatsApp.NewTransportFactory(), session.DefaultConfig())

	// Background job queue and its workers
	jobQueue, err := queue.NewFromEnv()
	if err != nil {
		log.Print(nil).Fatal(err.Error())
	}
	runner := queue.NewRunner(jobQueue)
	runner.Register(workers.KindBroadcast, workers.NewBroadcaster(registry).Handle)
	runner.Register(workers.KindGroupCreate, workers.NewGroupCreator(registry).Handle)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	waitWorkers := runner.Start(workerCtx, env.GetEnvIntOrDefault("QUEUE_WORKERS", 2))

	// Initialize Fiber
	app := fiber.New(fiber.Config{
		ErrorHandler:   router.HttpErrorHandler,
		BodyLimit:      router.BodyLimitBytes(),
		ReadBufferSize: 8192,
	})

	// Request ID + panic recovery (structured JSON)
	app.Use(router.HttpRequestID())
	app.Use(router.RecoveryMiddleware())

	// Router Compression
	app.Use(compress.New(compress.Config{
		Level: compress.Level(router.GZipLevel),
		Next: func(c *fiber.Ctx) bool {
			return strings.Contains(c.Path(), "contacts/vcf")
		},
	}))

	// Router CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins: router.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE",
	}))

	// Router Security
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	// Router Cache
	app.Use(router.HttpCacheInMemory(router.CacheTTLSeconds))

	// Router RealIP + request context enrichment
	app.Use(router.HttpRealIP())

	// Router Default Handler
	app.Get("/favicon.ico", router.ResponseNoContent)

	// Load Internal Routes
	internal.Routes(app, registry, jobQueue)

	// Running Startup Tasks
	internal.Startup(registry)

	// Running Routines Tasks
	internal.Routines(c, registry)

	// Get Server Configuration with defaults
	var serverConfig Server
	serverConfig.Address = env.GetEnvStringOrDefault("SERVER_ADDRESS", "0.0.0.0")
	serverConfig.Port = env.GetEnvStringOrDefault("SERVER_PORT", "7001")

	// Start Server
	go func() {
		if err := app.Listen(serverConfig.Address + ":" + serverConfig.Port); err != nil {
			log.Print(nil).Fatal(err.Error())
		}
	}()

	// Watch for Shutdown Signal
	sigShutdown := make(chan os.Signal, 1)
	signal.Notify(sigShutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigShutdown

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	// Try To Shutdown Server
	if err := app.ShutdownWithContext(ctxShutdown); err != nil {
		log.Print(nil).Fatal(err.Error())
	}

	// Drain workers and stop cron
	stopWorkers()
	waitWorkers()
	c.Stop()
}
