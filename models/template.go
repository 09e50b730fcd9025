package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Template represents a reusable email template with {{variable}}
// placeholders in its subject and body.
type Template struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name    string `gorm:"not null" json:"name"`
	Subject string `gorm:"not null" json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	// Variables holds the JSON-encoded list of placeholder names
	// extracted at creation time, in first-encountered order.
	Variables  string     `gorm:"type:text" json:"-"`
	LastUsedAt *time.Time `json:"last_used_at"`

	// Relations
	User User `json:"-"`
}

// VariableNames decodes the stored placeholder list.
func (t *Template) VariableNames() []string {
	if t.Variables == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(t.Variables), &names); err != nil {
		return nil
	}
	return names
}

// SetVariableNames stores the placeholder list as JSON.
func (t *Template) SetVariableNames(names []string) {
	if len(names) == 0 {
		t.Variables = "[]"
		return
	}
	b, _ := json.Marshal(names)
	t.Variables = string(b)
}
