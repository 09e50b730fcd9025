package utils

import (
	"encoding/json"

	"leadflow/models"

	"gorm.io/gorm"
)

// RecordActivity appends a row to the activity log. Best effort: a
// failed write is reported but never fails the calling operation.
func RecordActivity(db *gorm.DB, userID uint, action, entityType string, entityID uint, details map[string]interface{}) {
	entry := models.ActivityLog{
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
	}
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			entry.Details = string(b)
		}
	}

	if err := db.Create(&entry).Error; err != nil {
		LogError("activity_log_failed", err, map[string]interface{}{
			"user_id": userID,
			"action":  action,
		})
		return
	}

	LogEvent(action, details)
}
