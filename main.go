package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"outreachly/config"
	"outreachly/middleware"
	"outreachly/routes"
	"outreachly/utils"
	"outreachly/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "OUTREACHLY: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	queue := utils.NewJobQueue(config.DB, log.New(os.Stdout, "QUEUE: ", log.LstdFlags))
	router := utils.NewIdentityRouter(config.DB)

	// The mailbox provider is deployment-specific. The default build runs
	// SMTP-only: delivery uses per-identity SMTP and the bounce sweep IMAP,
	// and provider calls fail cleanly instead of hitting a nil collaborator.
	var provider utils.MailboxProvider = utils.UnconfiguredProvider{}

	drafter := utils.NewOpenAITextService(
		config.AppConfig.LLM.BaseURL,
		config.AppConfig.LLM.APIKey,
		config.AppConfig.LLM.Model,
		time.Duration(config.AppConfig.LLM.Timeout)*time.Second,
	)

	sendScheduler := worker.NewSendScheduler(config.DB, queue, router, provider, drafter, worker.SendPolicy{
		WindowStart:   config.AppConfig.SendWindowStart,
		WindowEnd:     config.AppConfig.SendWindowEnd,
		FollowUp1Days: config.AppConfig.FollowUp1Days,
		FollowUp2Days: config.AppConfig.FollowUp2Days,
		BatchSize:     config.AppConfig.SendBatchSize,
	})
	signalWatcher := worker.NewSignalWatcher(config.DB, provider, drafter, utils.Decrypt)
	warmupEngine := worker.NewWarmupEngine(config.DB)

	scheduler := worker.StartScheduler(sendScheduler, signalWatcher, warmupEngine, worker.Intervals{
		Send:     config.AppConfig.SendInterval,
		Signals:  config.AppConfig.SignalInterval,
		FollowUp: config.AppConfig.FollowUpInterval,
		Warmup:   config.AppConfig.WarmupInterval,
	})

	// Create Fiber app
	app := fiber.New()

	// Add recover and CORS middleware
	app.Use(recover.New())
	app.Use(middleware.CORS())

	// Setup routes
	routes.SetupRoutes(app, config.DB, scheduler, queue, provider, drafter)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Stop timers before the listener exits so no send is cut off mid-dispatch
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		logger.Println("Shutting down...")
		scheduler.Stop()
		_ = app.Shutdown()
	}()

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
