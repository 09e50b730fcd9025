package controller

import (
	"errors"
	"log"

	"leadflow/config"
	"leadflow/models"
	"leadflow/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// ProviderFactory builds a mail provider for a user. Injectable so
// tests can substitute a fake provider.
type ProviderFactory func(user *models.User) (utils.MailProvider, error)

type ThreadController struct {
	db          *gorm.DB
	logger      *log.Logger
	engine      *utils.ThreadSyncEngine
	providerFor ProviderFactory
}

func NewThreadController(db *gorm.DB, logger *log.Logger) *ThreadController {
	return &ThreadController{
		db:          db,
		logger:      logger,
		engine:      utils.NewThreadSyncEngine(db, logger),
		providerFor: MailboxProviderFactory(db),
	}
}

// MailboxProviderFactory resolves a user's mailbox settings into an
// IMAP/SMTP provider.
func MailboxProviderFactory(db *gorm.DB) ProviderFactory {
	return func(user *models.User) (utils.MailProvider, error) {
		var mailbox models.Mailbox
		if err := db.Where("user_id = ?", user.ID).First(&mailbox).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errors.New("no mailbox configured")
			}
			return nil, err
		}
		if mailbox.IMAPHost == "" {
			return nil, errors.New("mailbox has no IMAP settings")
		}
		return utils.NewIMAPProvider(&mailbox), nil
	}
}

// TriggerSync runs an on-demand sync pass for the current user.
func (tc *ThreadController) TriggerSync(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	provider, err := tc.providerFor(user)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Mailbox not available", err)
	}

	result, err := tc.engine.RunSyncPass(user.ID, provider, config.AppConfig.SyncFetchLimit)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Sync failed", err)
	}

	return c.JSON(utils.SuccessResponse(result))
}

// GetThreads lists the user's threads, optionally filtered by lead
// status, paginated.
func (tc *ThreadController) GetThreads(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	status := c.Query("status")
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	if status != "" && !models.IsValidLeadStatus(status) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lead status filter", nil)
	}

	query := tc.db.Model(&models.Thread{}).Where("user_id = ?", user.ID)
	if status != "" {
		query = query.Where("lead_status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count threads", err)
	}

	var threads []models.Thread
	if err := query.Order("last_message_at DESC").Offset(offset).Limit(limit).Find(&threads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch threads", err)
	}

	return c.JSON(fiber.Map{
		"data":   threads,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetThread returns one thread with its ordered messages.
func (tc *ThreadController) GetThread(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	threadID := c.Params("id")

	var thread models.Thread
	if err := tc.db.Where("id = ? AND user_id = ?", threadID, user.ID).First(&thread).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Thread not found", nil)
	}

	messages, err := tc.engine.GetThreadMessages(&thread)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch thread messages", err)
	}

	return c.JSON(fiber.Map{
		"thread":       thread,
		"participants": thread.Participants(),
		"messages":     messages,
	})
}

// UpdateThreadStatus sets a thread's lead status. The only path that
// ever writes lead status; sync never touches it.
func (tc *ThreadController) UpdateThreadStatus(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	threadID := c.Params("id")

	var req struct {
		LeadStatus string `json:"lead_status" validate:"required,oneof=hot cold dead unassigned"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var thread models.Thread
	if err := tc.db.Where("id = ? AND user_id = ?", threadID, user.ID).First(&thread).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Thread not found", nil)
	}

	previous := thread.LeadStatus
	if err := tc.db.Model(&thread).Update("lead_status", req.LeadStatus).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update thread status", err)
	}

	utils.RecordActivity(tc.db, user.ID, models.ActionThreadStatusChanged, "thread", thread.ID, map[string]interface{}{
		"from": previous,
		"to":   req.LeadStatus,
	})

	return c.JSON(utils.SuccessResponse(thread))
}

// UpdateMessageLeadStatus sets the legacy per-message lead status on a
// sent message. The thread-level status is the authority; this field is
// kept writable for backward compatibility only.
func (tc *ThreadController) UpdateMessageLeadStatus(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	messageID := c.Params("id")

	var req struct {
		LeadStatus string `json:"lead_status" validate:"required,oneof=hot cold dead unassigned"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var msg models.SentMessage
	if err := tc.db.Where("id = ? AND user_id = ?", messageID, user.ID).First(&msg).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Message not found", nil)
	}

	if err := tc.db.Model(&msg).Update("lead_status", req.LeadStatus).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update message", err)
	}

	utils.RecordActivity(tc.db, user.ID, models.ActionMessageStatusLegacy, "sent_message", msg.ID, map[string]interface{}{
		"to": req.LeadStatus,
	})

	return c.JSON(utils.SuccessResponse(msg))
}
