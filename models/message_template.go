package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TemplateVariable is a placeholder a template declares, with an optional default
type TemplateVariable struct {
	Name    string  `json:"name"`
	Default *string `json:"default,omitempty"`
}

// TemplateVariables is the jsonb-backed list of declared variables
type TemplateVariables []TemplateVariable

// Value implements the driver.Valuer interface for TemplateVariables
func (v TemplateVariables) Value() (driver.Value, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

// Scan implements the sql.Scanner interface for TemplateVariables
func (v *TemplateVariables) Scan(value any) error {
	if value == nil {
		*v = TemplateVariables{}
		return nil
	}

	var bytes []byte
	switch val := value.(type) {
	case []byte:
		bytes = val
	case string:
		bytes = []byte(val)
	default:
		return fmt.Errorf("cannot scan %T into TemplateVariables", value)
	}

	return json.Unmarshal(bytes, v)
}

// MessageTemplate is a reusable message body with {variable} placeholders
type MessageTemplate struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	CompanyID  uint              `gorm:"not null;index:idx_message_templates_company_id" json:"company_id"`
	Name       string            `gorm:"size:255;not null" json:"name"`
	Body       string            `gorm:"type:text;not null" json:"body"`
	Variables  TemplateVariables `gorm:"type:jsonb" json:"variables"`
	UsageCount int64             `gorm:"not null;default:0" json:"usage_count"`
	CreatedAt  time.Time         `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (MessageTemplate) TableName() string { return "message_templates" }

// MessageTemplateFilter provides filter fields for repository queries
type MessageTemplateFilter struct {
	ID        *uint
	CompanyID *uint
	Name      *string
}
