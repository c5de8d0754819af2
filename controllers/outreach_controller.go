package controller

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"outreachly/models"
	"outreachly/utils"
)

// OutreachController covers the two human touchpoints of the pipeline:
// generating a draft and approving it for sending.
type OutreachController struct {
	DB      *gorm.DB
	Queue   *utils.JobQueue
	Drafter utils.TextService
	Logger  *log.Logger
}

func NewOutreachController(db *gorm.DB, queue *utils.JobQueue, drafter utils.TextService, logger *log.Logger) *OutreachController {
	return &OutreachController{
		DB:      db,
		Queue:   queue,
		Drafter: drafter,
		Logger:  logger,
	}
}

// DraftOutreach generates subject and body for a scheduled outreach via the
// text service and marks it draft_created for human review.
func (oc *OutreachController) DraftOutreach(c *fiber.Ctx) error {
	outreachID := c.Params("id")

	var outreach models.Outreach
	if err := oc.DB.First(&outreach, utils.ParseUint(outreachID)).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Outreach not found",
		})
	}

	if err := models.CheckOutreachTransition(outreach.Status, models.OutreachDraftCreated); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var contact models.Contact
	var campaign models.Campaign
	if err := oc.DB.First(&contact, outreach.ContactID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact not found",
		})
	}
	if err := oc.DB.First(&campaign, outreach.CampaignID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	draft, err := oc.Drafter.DraftEmail(c.Context(), utils.DraftContext{
		ContactName:    contact.FirstName + " " + contact.LastName,
		ContactCompany: contact.Company,
		ContactRole:    contact.Position,
		CampaignName:   campaign.Name,
		CampaignPitch:  campaign.Description,
		OutreachType:   outreach.Type,
	})
	if err != nil {
		oc.Logger.Printf("Draft generation failed for outreach %d: %v", outreach.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Draft generation failed",
		})
	}

	if err := oc.DB.Model(&outreach).Updates(map[string]interface{}{
		"status":    models.OutreachDraftCreated,
		"subject":   draft.Subject,
		"body_html": draft.BodyHTML,
		"body_text": draft.BodyPlain,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save draft",
		})
	}

	return c.JSON(fiber.Map{
		"outreach_id":      outreach.ID,
		"subject":          draft.Subject,
		"subject_variants": draft.SubjectVariants,
		"body_html":        draft.BodyHTML,
		"hook":             draft.Hook,
		"tone":             draft.Tone,
		"score":            draft.Score,
	})
}

// ApproveOutreach approves a draft and enqueues its send job. This is the
// entry point of the delivery pipeline for initial sends.
func (oc *OutreachController) ApproveOutreach(c *fiber.Ctx) error {
	outreachID := c.Params("id")

	var outreach models.Outreach
	if err := oc.DB.First(&outreach, utils.ParseUint(outreachID)).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Outreach not found",
		})
	}

	if outreach.Subject == "" || outreach.BodyHTML == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Outreach has no content to send",
		})
	}

	if err := models.CheckOutreachTransition(outreach.Status, models.OutreachApproved); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := oc.DB.Model(&outreach).Update("status", models.OutreachApproved).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to approve outreach",
		})
	}

	job, err := oc.Queue.Enqueue(models.JobKindSendMessage, fmt.Sprint(outreach.ID), 0)
	if err != nil {
		oc.Logger.Printf("Failed to enqueue send job for outreach %d: %v", outreach.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to enqueue send job",
		})
	}

	return c.JSON(fiber.Map{
		"outreach_id": outreach.ID,
		"job_id":      job.JobID,
		"status":      models.OutreachApproved,
	})
}
