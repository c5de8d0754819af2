package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	controller "outreachly/controllers"
	"outreachly/utils"
	"outreachly/worker"
)

// SetupRoutes wires the operator surface: manual triggers, draft/approve, and
// meeting booking.
func SetupRoutes(app *fiber.App, db *gorm.DB, scheduler *worker.Scheduler,
	queue *utils.JobQueue, provider utils.MailboxProvider, drafter utils.TextService) {

	opsLogger := log.New(os.Stdout, "OPS: ", log.Ldate|log.Ltime|log.Lshortfile)

	triggerController := controller.NewTriggerController(scheduler, opsLogger)
	outreachController := controller.NewOutreachController(db, queue, drafter, opsLogger)
	contactController := controller.NewContactController(db, provider, opsLogger)

	api := app.Group("", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	api.Post("/triggers/:name", triggerController.RunTrigger)

	outreach := api.Group("/outreach")
	outreach.Post("/:id/draft", outreachController.DraftOutreach)
	outreach.Post("/:id/approve", outreachController.ApproveOutreach)

	contacts := api.Group("/contacts")
	contacts.Post("/:id/meeting", contactController.ScheduleMeeting)

	opsLogger.Println("Operator routes initialized successfully")
}
