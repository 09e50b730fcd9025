package controller

import (
	"log"

	"leadflow/models"
	"leadflow/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type TemplateController struct {
	db     *gorm.DB
	logger *log.Logger
}

func NewTemplateController(db *gorm.DB, logger *log.Logger) *TemplateController {
	return &TemplateController{
		db:     db,
		logger: logger,
	}
}

type templateRequest struct {
	Name    string `json:"name" validate:"required,min=1,max=255"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body"`
}

// CreateTemplate stores a template, extracting its {{variable}}
// placeholders at creation time.
func (tc *TemplateController) CreateTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req templateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	template := models.Template{
		UserID:  user.ID,
		Name:    req.Name,
		Subject: req.Subject,
		Body:    req.Body,
	}
	template.SetVariableNames(utils.ExtractTemplateVariables(req.Subject, req.Body))

	if err := tc.db.Create(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create template", err)
	}

	utils.RecordActivity(tc.db, user.ID, models.ActionTemplateCreated, "template", template.ID, map[string]interface{}{
		"name": template.Name,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"template":  template,
		"variables": template.VariableNames(),
	})
}

// GetTemplates lists the user's templates.
func (tc *TemplateController) GetTemplates(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var templates []models.Template
	if err := tc.db.Where("user_id = ?", user.ID).Order("created_at DESC").Find(&templates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch templates", err)
	}

	return c.JSON(utils.SuccessResponse(templates))
}

// GetTemplate returns one template with its variable list.
func (tc *TemplateController) GetTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var template models.Template
	if err := tc.db.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	return c.JSON(fiber.Map{
		"template":  template,
		"variables": template.VariableNames(),
	})
}

// UpdateTemplate replaces the template content and re-extracts its
// variables.
func (tc *TemplateController) UpdateTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var template models.Template
	if err := tc.db.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	var req templateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	template.Name = req.Name
	template.Subject = req.Subject
	template.Body = req.Body
	template.SetVariableNames(utils.ExtractTemplateVariables(req.Subject, req.Body))

	if err := tc.db.Save(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update template", err)
	}

	return c.JSON(fiber.Map{
		"template":  template,
		"variables": template.VariableNames(),
	})
}

// DeleteTemplate removes a template; sent messages keep their rows with
// the template reference nulled.
func (tc *TemplateController) DeleteTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var template models.Template
	if err := tc.db.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	if err := tc.db.Model(&models.SentMessage{}).Where("template_id = ?", template.ID).
		Update("template_id", nil).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to detach sent messages", err)
	}

	if err := tc.db.Delete(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete template", err)
	}

	utils.RecordActivity(tc.db, user.ID, models.ActionTemplateDeleted, "template", template.ID, map[string]interface{}{
		"name": template.Name,
	})

	return c.SendStatus(fiber.StatusNoContent)
}

// PreviewTemplate renders the template against a contact without
// sending anything.
func (tc *TemplateController) PreviewTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var template models.Template
	if err := tc.db.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	var req struct {
		ContactID uint `json:"contact_id" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var contact models.Contact
	if err := tc.db.Where("id = ? AND user_id = ?", req.ContactID, user.ID).
		Preload("CustomFields").First(&contact).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
	}

	subject, body := utils.RenderTemplate(&template, &contact)
	return c.JSON(fiber.Map{
		"subject": subject,
		"body":    body,
	})
}
