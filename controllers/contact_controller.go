package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"outreachly/models"
	"outreachly/utils"
)

// ContactController handles contact-level operator actions.
type ContactController struct {
	DB       *gorm.DB
	Provider utils.MailboxProvider
	Logger   *log.Logger
}

func NewContactController(db *gorm.DB, provider utils.MailboxProvider, logger *log.Logger) *ContactController {
	return &ContactController{
		DB:       db,
		Provider: provider,
		Logger:   logger,
	}
}

// ScheduleMeeting books the first open calendar slot with an engaged contact
// and advances the contact to meeting_scheduled.
func (cc *ContactController) ScheduleMeeting(c *fiber.Ctx) error {
	contactID := c.Params("id")

	var req struct {
		Subject string `json:"subject" validate:"required,min=3,max=200"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var contact models.Contact
	if err := cc.DB.First(&contact, utils.ParseUint(contactID)).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact not found",
		})
	}

	if err := models.CheckContactTransition(contact.Status, models.ContactMeetingScheduled); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	eventID, slot, err := utils.ScheduleMeeting(c.Context(), cc.Provider, contact.UserID, contact.Email, req.Subject)
	if err != nil {
		cc.Logger.Printf("Failed to schedule meeting with contact %d: %v", contact.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to schedule meeting",
		})
	}

	if err := cc.DB.Model(&contact).Update("status", models.ContactMeetingScheduled).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update contact",
		})
	}

	return c.JSON(fiber.Map{
		"contact_id": contact.ID,
		"event_id":   eventID,
		"start":      slot,
	})
}
