package controller

import (
	"log"

	"leadflow/models"
	"leadflow/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ActivityController struct {
	db     *gorm.DB
	logger *log.Logger
}

func NewActivityController(db *gorm.DB, logger *log.Logger) *ActivityController {
	return &ActivityController{
		db:     db,
		logger: logger,
	}
}

// GetActivity lists activity log entries, newest first. Admins can ask
// for the global trail with ?global=true.
func (ac *ActivityController) GetActivity(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)

	query := ac.db.Model(&models.ActivityLog{})
	if !(user.IsAdmin() && c.QueryBool("global", false)) {
		query = query.Where("user_id = ?", user.ID)
	}
	if action := c.Query("action"); action != "" {
		query = query.Where("action = ?", action)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count activity", err)
	}

	var entries []models.ActivityLog
	offset := (page - 1) * limit
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&entries).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch activity", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  entries,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}
