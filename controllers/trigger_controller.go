package controller

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"outreachly/worker"
)

// TriggerController exposes the four scheduler triggers for manual,
// synchronous invocation. Used for debugging and for environments without a
// native timer host.
type TriggerController struct {
	Scheduler *worker.Scheduler
	Logger    *log.Logger
}

func NewTriggerController(scheduler *worker.Scheduler, logger *log.Logger) *TriggerController {
	return &TriggerController{
		Scheduler: scheduler,
		Logger:    logger,
	}
}

// RunTrigger fires one trigger by name and reports its outcome and duration.
func (tc *TriggerController) RunTrigger(c *fiber.Ctx) error {
	name := c.Params("name")

	tc.Logger.Printf("Manual trigger requested: %s", name)
	duration, err := tc.Scheduler.RunTrigger(c.Context(), name)
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, worker.ErrUnknownTrigger) {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{
			"trigger":     name,
			"success":     false,
			"duration_ms": duration.Milliseconds(),
			"error":       err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"trigger":     name,
		"success":     true,
		"duration_ms": duration.Milliseconds(),
	})
}
