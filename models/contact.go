package models

import (
	"gorm.io/gorm"
)

// Dataset represents an uploaded set of contacts
type Dataset struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name         string `gorm:"not null" json:"name"`
	Source       string `json:"source"` // manual, csv, api, etc.
	ContactCount int    `gorm:"default:0" json:"contact_count"`

	// Relations
	Contacts []Contact `gorm:"foreignKey:DatasetID" json:"contacts,omitempty"`
	User     User      `json:"-"`
}

// Contact represents a single contact inside a dataset
type Contact struct {
	gorm.Model
	DatasetID uint `gorm:"not null;index" json:"dataset_id"`
	UserID    uint `gorm:"index" json:"user_id"`

	Name    string `json:"name"`
	Email   string `gorm:"not null;index" json:"email"`
	Company string `json:"company"`

	// Relations
	CustomFields []ContactCustomField `gorm:"foreignKey:ContactID" json:"custom_fields,omitempty"`
	Dataset      Dataset              `json:"-"`
}

// ContactCustomField represents arbitrary per-contact fields
type ContactCustomField struct {
	gorm.Model
	ContactID uint   `gorm:"not null;index" json:"contact_id"`
	Name      string `gorm:"not null;index" json:"name"`
	Value     string `gorm:"type:text" json:"value"`
}

// FieldMap returns the contact's custom fields as a map. Later rows win
// on duplicate names.
func (c *Contact) FieldMap() map[string]string {
	fields := make(map[string]string, len(c.CustomFields))
	for _, f := range c.CustomFields {
		fields[f.Name] = f.Value
	}
	return fields
}
