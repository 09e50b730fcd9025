package controller

import (
	"log"

	"leadflow/models"
	"leadflow/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ContactController struct {
	db     *gorm.DB
	logger *log.Logger
}

func NewContactController(db *gorm.DB, logger *log.Logger) *ContactController {
	return &ContactController{
		db:     db,
		logger: logger,
	}
}

// CreateDataset creates an empty contact dataset.
func (cc *ContactController) CreateDataset(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req struct {
		Name   string `json:"name" validate:"required,min=1,max=255"`
		Source string `json:"source"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	dataset := models.Dataset{
		UserID: user.ID,
		Name:   req.Name,
		Source: req.Source,
	}
	if err := cc.db.Create(&dataset).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create dataset", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(dataset))
}

// GetDatasets lists the user's datasets.
func (cc *ContactController) GetDatasets(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var datasets []models.Dataset
	if err := cc.db.Where("user_id = ?", user.ID).Order("created_at DESC").Find(&datasets).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch datasets", err)
	}

	return c.JSON(utils.SuccessResponse(datasets))
}

// GetDataset returns one dataset.
func (cc *ContactController) GetDataset(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var dataset models.Dataset
	if err := cc.db.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&dataset).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Dataset not found", nil)
	}

	return c.JSON(utils.SuccessResponse(dataset))
}

// DeleteDataset removes a dataset and its contacts. Sent messages that
// referenced those contacts keep their rows with the foreign key
// nulled.
func (cc *ContactController) DeleteDataset(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var dataset models.Dataset
	if err := cc.db.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&dataset).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Dataset not found", nil)
	}

	var contactIDs []uint
	if err := cc.db.Model(&models.Contact{}).Where("dataset_id = ?", dataset.ID).
		Pluck("id", &contactIDs).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list dataset contacts", err)
	}

	if len(contactIDs) > 0 {
		if err := cc.db.Model(&models.SentMessage{}).Where("contact_id IN ?", contactIDs).
			Update("contact_id", nil).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to detach sent messages", err)
		}
		if err := cc.db.Where("contact_id IN ?", contactIDs).Delete(&models.ContactCustomField{}).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete custom fields", err)
		}
		if err := cc.db.Where("dataset_id = ?", dataset.ID).Delete(&models.Contact{}).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete contacts", err)
		}
	}

	if err := cc.db.Delete(&dataset).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete dataset", err)
	}

	utils.RecordActivity(cc.db, user.ID, models.ActionDatasetDeleted, "dataset", dataset.ID, map[string]interface{}{
		"name":     dataset.Name,
		"contacts": len(contactIDs),
	})

	return c.SendStatus(fiber.StatusNoContent)
}

type contactUpload struct {
	Name         string            `json:"name"`
	Email        string            `json:"email" validate:"required"`
	Company      string            `json:"company"`
	CustomFields map[string]string `json:"custom_fields"`
}

// UploadContacts bulk-inserts contacts into a dataset. File parsing
// (CSV/XLSX) happens upstream; this endpoint takes already-parsed rows.
// Rows with an invalid email are skipped and reported, the rest commit.
func (cc *ContactController) UploadContacts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var dataset models.Dataset
	if err := cc.db.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&dataset).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Dataset not found", nil)
	}

	var req struct {
		Contacts []contactUpload `json:"contacts" validate:"required,min=1"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	imported := 0
	var skipped []string
	for _, row := range req.Contacts {
		if err := checkmail.ValidateFormat(row.Email); err != nil {
			skipped = append(skipped, row.Email)
			continue
		}

		contact := models.Contact{
			DatasetID: dataset.ID,
			UserID:    user.ID,
			Name:      row.Name,
			Email:     row.Email,
			Company:   row.Company,
		}
		if err := cc.db.Create(&contact).Error; err != nil {
			cc.logger.Printf("Failed to insert contact %s: %v", row.Email, err)
			skipped = append(skipped, row.Email)
			continue
		}

		for name, value := range row.CustomFields {
			field := models.ContactCustomField{
				ContactID: contact.ID,
				Name:      name,
				Value:     value,
			}
			if err := cc.db.Create(&field).Error; err != nil {
				cc.logger.Printf("Failed to insert custom field %s for %s: %v", name, row.Email, err)
			}
		}
		imported++
	}

	var total int64
	cc.db.Model(&models.Contact{}).Where("dataset_id = ?", dataset.ID).Count(&total)
	if err := cc.db.Model(&dataset).Update("contact_count", total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update dataset count", err)
	}

	utils.RecordActivity(cc.db, user.ID, models.ActionDatasetUploaded, "dataset", dataset.ID, map[string]interface{}{
		"imported": imported,
		"skipped":  len(skipped),
	})

	return c.JSON(fiber.Map{
		"imported": imported,
		"skipped":  skipped,
		"total":    total,
	})
}

// GetContacts lists a dataset's contacts with their custom fields,
// paginated.
func (cc *ContactController) GetContacts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)

	var dataset models.Dataset
	if err := cc.db.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&dataset).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Dataset not found", nil)
	}

	var total int64
	cc.db.Model(&models.Contact{}).Where("dataset_id = ?", dataset.ID).Count(&total)

	var contacts []models.Contact
	offset := (page - 1) * limit
	if err := cc.db.Where("dataset_id = ?", dataset.ID).
		Preload("CustomFields").
		Offset(offset).Limit(limit).
		Find(&contacts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch contacts", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  contacts,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}
