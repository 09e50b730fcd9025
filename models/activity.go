package models

import (
	"gorm.io/gorm"
)

// Activity log actions
const (
	ActionSyncCompleted       = "sync_completed"
	ActionThreadStatusChanged = "thread_status_changed"
	ActionMessageStatusLegacy = "message_lead_status_changed"
	ActionEmailSent           = "email_sent"
	ActionCampaignSent        = "campaign_sent"
	ActionDatasetUploaded     = "dataset_uploaded"
	ActionTemplateCreated     = "template_created"
	ActionTemplateDeleted     = "template_deleted"
	ActionDatasetDeleted      = "dataset_deleted"
)

// ActivityLog is an append-only audit trail of user actions. Rows are
// never updated; deletion only happens by cascade when a user is
// removed.
type ActivityLog struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Action     string `gorm:"not null;index" json:"action"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   uint   `json:"entity_id,omitempty"`
	Details    string `gorm:"type:text" json:"details,omitempty"` // JSON blob

	// Relations
	User User `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
