package models

import (
	"time"

	"gorm.io/gorm"
)

// Sent message delivery statuses
const (
	MessageStatusPending   = "pending"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusFailed    = "failed"
)

// SentMessage represents an outbound email, either sent directly
// through the API or discovered in the provider's sent folder.
type SentMessage struct {
	gorm.Model
	UserID uint `gorm:"not null;index;index:idx_sent_messages_user_provider,unique" json:"user_id"`

	// ProviderMessageID is the provider's unique id for this message,
	// unique per user: two users on the same conversation each hold
	// their own copy of a message. NULL for messages the provider
	// rejected before assigning one; a NULL id never participates in
	// dedup.
	ProviderMessageID      *string `gorm:"index:idx_sent_messages_user_provider,unique" json:"provider_message_id"`
	ProviderConversationID string  `gorm:"index" json:"provider_conversation_id"`
	ThreadID               *uint   `gorm:"index" json:"thread_id"`

	TemplateID *uint `gorm:"index" json:"template_id,omitempty"`
	ContactID  *uint `gorm:"index" json:"contact_id,omitempty"`

	RecipientEmail string `gorm:"not null" json:"recipient_email"`
	RecipientName  string `json:"recipient_name"`
	Subject        string `json:"subject"`
	Body           string `gorm:"type:text" json:"body"`

	Status string `gorm:"not null;default:'pending'" json:"status"`

	// LeadStatus on individual sent messages is legacy; the thread is
	// the authority. Kept writable for backward compatibility only.
	LeadStatus string `gorm:"default:'unassigned'" json:"lead_status"`

	SentAt *time.Time `gorm:"index" json:"sent_at"`

	// Relations
	User     User      `json:"-"`
	Template *Template `json:"template,omitempty"`
	Thread   *Thread   `json:"-"`
}

// ReceivedMessage represents an inbound email discovered during a sync
// pass against the provider's inbox.
type ReceivedMessage struct {
	gorm.Model
	UserID uint `gorm:"not null;index;index:idx_received_messages_user_provider,unique" json:"user_id"`

	ProviderMessageID      *string `gorm:"index:idx_received_messages_user_provider,unique" json:"provider_message_id"`
	ProviderConversationID string  `gorm:"index" json:"provider_conversation_id"`
	ThreadID               *uint   `gorm:"index" json:"thread_id"`

	SenderEmail string `gorm:"not null" json:"sender_email"`
	SenderName  string `json:"sender_name"`
	Subject     string `json:"subject"`
	Body        string `gorm:"type:text" json:"body"`
	BodyPreview string `json:"body_preview"`

	IsRead         bool `gorm:"default:false" json:"is_read"`
	HasAttachments bool `gorm:"default:false" json:"has_attachments"`

	ReceivedAt *time.Time `gorm:"index" json:"received_at"`

	// Relations
	User   User    `json:"-"`
	Thread *Thread `json:"-"`
}
