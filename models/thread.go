package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Lead status values, assigned manually by sales users
const (
	LeadStatusHot        = "hot"
	LeadStatusCold       = "cold"
	LeadStatusDead       = "dead"
	LeadStatusUnassigned = "unassigned"
)

// IsValidLeadStatus reports whether s is one of the accepted lead
// status values.
func IsValidLeadStatus(s string) bool {
	switch s {
	case LeadStatusHot, LeadStatusCold, LeadStatusDead, LeadStatusUnassigned:
		return true
	}
	return false
}

// Thread groups messages sharing a provider conversation identifier.
// MessageCount and UnreadCount are always recomputed from the message
// tables, never incremented in place.
type Thread struct {
	gorm.Model
	UserID uint `gorm:"not null;index;index:idx_threads_user_conversation,unique" json:"user_id"`

	ConversationID string `gorm:"not null;index:idx_threads_user_conversation,unique" json:"conversation_id"`
	Subject        string `json:"subject"`

	// ParticipantEmails holds the JSON-encoded, deduplicated set of
	// addresses seen on this conversation.
	ParticipantEmails string `gorm:"type:text" json:"-"`

	LeadStatus    string     `gorm:"not null;default:'unassigned'" json:"lead_status"`
	MessageCount  int        `gorm:"default:0" json:"message_count"`
	UnreadCount   int        `gorm:"default:0" json:"unread_count"`
	LastMessageAt *time.Time `json:"last_message_at"`

	// Relations
	User User `json:"-"`
}

// Participants decodes the stored participant set.
func (t *Thread) Participants() []string {
	if t.ParticipantEmails == "" {
		return nil
	}
	var emails []string
	if err := json.Unmarshal([]byte(t.ParticipantEmails), &emails); err != nil {
		return nil
	}
	return emails
}

// SetParticipants stores the participant set as JSON.
func (t *Thread) SetParticipants(emails []string) {
	if len(emails) == 0 {
		t.ParticipantEmails = "[]"
		return
	}
	b, _ := json.Marshal(emails)
	t.ParticipantEmails = string(b)
}
