package models

import (
	"gorm.io/gorm"
)

// User roles
const (
	RoleAdmin = "admin"
	RoleSales = "sales"
)

// User represents an account able to log in. Authentication itself is
// handled by the external auth service; we only verify its tokens and
// load this row for request scoping.
type User struct {
	gorm.Model
	Email    string `gorm:"not null;uniqueIndex" json:"email"`
	Name     string `json:"name"`
	Role     string `gorm:"not null;default:'sales'" json:"role"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// Relations
	Mailbox   *Mailbox   `gorm:"foreignKey:UserID" json:"mailbox,omitempty"`
	Datasets  []Dataset  `gorm:"foreignKey:UserID" json:"-"`
	Templates []Template `gorm:"foreignKey:UserID" json:"-"`
}

// IsAdmin reports whether the user has full system access.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Mailbox holds the connection settings for a user's external mailbox.
// IMAP is used for fetching, SMTP for sending.
type Mailbox struct {
	gorm.Model
	UserID uint `gorm:"not null;uniqueIndex" json:"user_id"`

	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `json:"from_name"`

	IMAPHost       string `json:"imap_host"`
	IMAPPort       int    `gorm:"default:993" json:"imap_port"`
	IMAPUsername   string `json:"imap_username"`
	IMAPPassword   string `json:"-"`
	IMAPEncryption string `gorm:"default:'SSL'" json:"imap_encryption"` // SSL, STARTTLS, NONE
	IMAPSentFolder string `gorm:"default:'Sent'" json:"imap_sent_folder"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `gorm:"default:587" json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"`

	// OAuth credentials for providers that reject password logins
	// (Gmail, Microsoft 365). When a refresh token is present the IMAP
	// client authenticates with a bearer token instead of IMAPPassword.
	OAuthClientID     string `json:"oauth_client_id,omitempty"`
	OAuthClientSecret string `json:"-"`
	OAuthRefreshToken string `json:"-"`
	OAuthTokenURL     string `json:"oauth_token_url,omitempty"`

	// Relations
	User User `json:"-"`
}

// UsesOAuth reports whether the mailbox authenticates with OAuth
// bearer tokens rather than a password.
func (m *Mailbox) UsesOAuth() bool {
	return m.OAuthRefreshToken != "" && m.OAuthTokenURL != ""
}
