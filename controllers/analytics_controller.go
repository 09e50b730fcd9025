package controller

import (
	"log"
	"time"

	"leadflow/models"
	"leadflow/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AnalyticsController struct {
	db     *gorm.DB
	logger *log.Logger
}

func NewAnalyticsController(db *gorm.DB, logger *log.Logger) *AnalyticsController {
	return &AnalyticsController{
		db:     db,
		logger: logger,
	}
}

type analyticsSummary struct {
	SentToday     int64            `json:"sent_today"`
	SentThisWeek  int64            `json:"sent_this_week"`
	SentThisMonth int64            `json:"sent_this_month"`
	SentThisYear  int64            `json:"sent_this_year"`
	LeadBreakdown map[string]int64 `json:"lead_breakdown"`
	TotalReplies  int64            `json:"total_replies"`
}

type trendPoint struct {
	Date string `json:"date"`
	Sent int64  `json:"sent"`
}

// scope restricts a query to the current user unless an admin asked
// for the global view.
func (ac *AnalyticsController) scope(c *fiber.Ctx, query *gorm.DB) *gorm.DB {
	user := c.Locals("user").(*models.User)
	if user.IsAdmin() && c.QueryBool("global", false) {
		return query
	}
	return query.Where("user_id = ?", user.ID)
}

// GetSummary returns sent counts per calendar period, the lead status
// histogram, and the total reply count.
func (ac *AnalyticsController) GetSummary(c *fiber.Ctx) error {
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	// Week starts on Monday.
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	startOfWeek := startOfDay.AddDate(0, 0, -(weekday - 1))
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	startOfYear := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())

	var summary analyticsSummary
	for _, window := range []struct {
		start time.Time
		dest  *int64
	}{
		{startOfDay, &summary.SentToday},
		{startOfWeek, &summary.SentThisWeek},
		{startOfMonth, &summary.SentThisMonth},
		{startOfYear, &summary.SentThisYear},
	} {
		query := ac.scope(c, ac.db.Model(&models.SentMessage{})).
			Where("sent_at >= ?", window.start)
		if err := query.Count(window.dest).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count sent messages", err)
		}
	}

	// Histogram restricted to statuses actually present.
	var rows []struct {
		LeadStatus string
		Count      int64
	}
	if err := ac.scope(c, ac.db.Model(&models.Thread{})).
		Select("lead_status, count(*) as count").
		Where("lead_status IN ?", []string{models.LeadStatusHot, models.LeadStatusCold, models.LeadStatusDead}).
		Group("lead_status").
		Scan(&rows).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to build lead breakdown", err)
	}
	summary.LeadBreakdown = make(map[string]int64, len(rows))
	for _, row := range rows {
		summary.LeadBreakdown[row.LeadStatus] = row.Count
	}

	if err := ac.scope(c, ac.db.Model(&models.ReceivedMessage{})).
		Count(&summary.TotalReplies).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count replies", err)
	}

	return c.JSON(utils.SuccessResponse(summary))
}

// GetTrend returns a per-day sent series over the lookback window,
// grouped by calendar date.
func (ac *AnalyticsController) GetTrend(c *fiber.Ctx) error {
	days := c.QueryInt("days", 7)
	if days < 1 || days > 365 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "days must be between 1 and 365", nil)
	}

	now := time.Now()
	points := make([]trendPoint, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i)
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		end := start.AddDate(0, 0, 1)

		var count int64
		if err := ac.scope(c, ac.db.Model(&models.SentMessage{})).
			Where("sent_at >= ? AND sent_at < ?", start, end).
			Count(&count).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to build trend", err)
		}

		points = append(points, trendPoint{
			Date: start.Format("2006-01-02"),
			Sent: count,
		})
	}

	return c.JSON(utils.SuccessResponse(points))
}
