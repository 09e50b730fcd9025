package controller

import (
	"log"
	"time"

	"leadflow/models"
	"leadflow/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type SendController struct {
	db          *gorm.DB
	logger      *log.Logger
	providerFor ProviderFactory
}

func NewSendController(db *gorm.DB, logger *log.Logger) *SendController {
	return &SendController{
		db:          db,
		logger:      logger,
		providerFor: MailboxProviderFactory(db),
	}
}

// SendMessage sends a single email through the provider and records it
// as a sent message. The provider does not hand back a message id on
// send; the next sent-folder sync matches this row by recipient and
// subject and back-fills its provider id.
func (sc *SendController) SendMessage(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req struct {
		To         []string `json:"to" validate:"required,min=1,dive,email"`
		CC         []string `json:"cc" validate:"omitempty,dive,email"`
		BCC        []string `json:"bcc" validate:"omitempty,dive,email"`
		Subject    string   `json:"subject"`
		Body       string   `json:"body"`
		TemplateID *uint    `json:"template_id"`
		ContactID  *uint    `json:"contact_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	subject, body := req.Subject, req.Body

	var template *models.Template
	if req.TemplateID != nil {
		var t models.Template
		if err := sc.db.Where("id = ? AND user_id = ?", *req.TemplateID, user.ID).First(&t).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
		}
		template = &t

		if req.ContactID == nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "contact_id is required when sending a template", nil)
		}
		var contact models.Contact
		if err := sc.db.Where("id = ? AND user_id = ?", *req.ContactID, user.ID).
			Preload("CustomFields").First(&contact).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
		}
		subject, body = utils.RenderTemplate(template, &contact)
	}

	provider, err := sc.providerFor(user)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Mailbox not available", err)
	}

	msg := models.SentMessage{
		UserID:         user.ID,
		TemplateID:     req.TemplateID,
		ContactID:      req.ContactID,
		RecipientEmail: req.To[0],
		Subject:        subject,
		Body:           body,
		Status:         models.MessageStatusPending,
		LeadStatus:     models.LeadStatusUnassigned,
	}

	sendErr := provider.SendMessage(utils.OutgoingMessage{
		To:      req.To,
		CC:      req.CC,
		BCC:     req.BCC,
		Subject: subject,
		Body:    body,
	})
	now := time.Now()
	if sendErr != nil {
		msg.Status = models.MessageStatusFailed
	} else {
		msg.Status = models.MessageStatusSent
		msg.SentAt = &now
	}

	if err := sc.db.Create(&msg).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record sent message", err)
	}

	if sendErr != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Failed to send email", sendErr)
	}

	if template != nil {
		sc.markTemplateUsed(template)
	}

	utils.RecordActivity(sc.db, user.ID, models.ActionEmailSent, "sent_message", msg.ID, map[string]interface{}{
		"to": req.To[0],
	})

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(msg))
}

// SendCampaign renders a template per contact in a dataset and sends
// each one. Per-contact failures are recorded as failed sends and the
// batch continues.
func (sc *SendController) SendCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req struct {
		DatasetID  uint `json:"dataset_id" validate:"required"`
		TemplateID uint `json:"template_id" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var dataset models.Dataset
	if err := sc.db.Where("id = ? AND user_id = ?", req.DatasetID, user.ID).First(&dataset).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Dataset not found", nil)
	}

	var template models.Template
	if err := sc.db.Where("id = ? AND user_id = ?", req.TemplateID, user.ID).First(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	var contacts []models.Contact
	if err := sc.db.Where("dataset_id = ?", dataset.ID).
		Preload("CustomFields").Find(&contacts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch contacts", err)
	}
	if len(contacts) == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Dataset has no contacts", nil)
	}

	provider, err := sc.providerFor(user)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Mailbox not available", err)
	}

	sent, failed := 0, 0
	for i := range contacts {
		contact := &contacts[i]
		subject, body := utils.RenderTemplate(&template, contact)

		msg := models.SentMessage{
			UserID:         user.ID,
			TemplateID:     &template.ID,
			ContactID:      &contact.ID,
			RecipientEmail: contact.Email,
			RecipientName:  contact.Name,
			Subject:        subject,
			Body:           body,
			Status:         models.MessageStatusPending,
			LeadStatus:     models.LeadStatusUnassigned,
		}

		sendErr := provider.SendMessage(utils.OutgoingMessage{
			To:      []string{contact.Email},
			Subject: subject,
			Body:    body,
		})
		now := time.Now()
		if sendErr != nil {
			sc.logger.Printf("Failed to send to %s: %v", contact.Email, sendErr)
			msg.Status = models.MessageStatusFailed
			failed++
		} else {
			msg.Status = models.MessageStatusSent
			msg.SentAt = &now
			sent++
		}

		if err := sc.db.Create(&msg).Error; err != nil {
			sc.logger.Printf("Failed to record message for %s: %v", contact.Email, err)
		}
	}

	sc.markTemplateUsed(&template)

	utils.RecordActivity(sc.db, user.ID, models.ActionCampaignSent, "dataset", dataset.ID, map[string]interface{}{
		"template_id": template.ID,
		"sent":        sent,
		"failed":      failed,
	})

	return c.JSON(fiber.Map{
		"sent":   sent,
		"failed": failed,
		"total":  len(contacts),
	})
}

func (sc *SendController) markTemplateUsed(template *models.Template) {
	now := time.Now()
	if err := sc.db.Model(template).Update("last_used_at", now).Error; err != nil {
		sc.logger.Printf("Failed to mark template %d used: %v", template.ID, err)
	}
}
