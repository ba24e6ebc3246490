package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecipientStatus enumerates the delivery state of one recipient
type RecipientStatus string

const (
	RecipientStatusPending   RecipientStatus = "pending"
	RecipientStatusSent      RecipientStatus = "sent"
	RecipientStatusFailed    RecipientStatus = "failed"
	RecipientStatusCancelled RecipientStatus = "cancelled"
)

func (s RecipientStatus) String() string {
	return string(s)
}

func (s RecipientStatus) Valid() bool {
	switch s {
	case RecipientStatusPending, RecipientStatusSent, RecipientStatusFailed, RecipientStatusCancelled:
		return true
	default:
		return false
	}
}

// IsFinal reports whether the recipient status can no longer change
func (s RecipientStatus) IsFinal() bool {
	return s != RecipientStatusPending
}

// Scan implements the sql.Scanner interface for RecipientStatus
func (s *RecipientStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = RecipientStatus(v)
	case []byte:
		*s = RecipientStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into RecipientStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for RecipientStatus
func (s RecipientStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid RecipientStatus: %s", s)
	}
	return string(s), nil
}

// RecipientKind is the kind of target a recipient row addresses
type RecipientKind string

const (
	RecipientKindContact RecipientKind = "contact"
	RecipientKindGroup   RecipientKind = "group"
	RecipientKindManual  RecipientKind = "manual"
)

func (k RecipientKind) Valid() bool {
	switch k {
	case RecipientKindContact, RecipientKindGroup, RecipientKindManual:
		return true
	default:
		return false
	}
}

// MassMessageRecipient is one materialized target of a batch with its own delivery state
type MassMessageRecipient struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	UUID             uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_mass_message_recipients_uuid" json:"uuid"`
	BatchID          uint            `gorm:"not null;index:idx_mass_message_recipients_batch_status,priority:1" json:"batch_id"`
	TargetType       RecipientKind   `gorm:"type:varchar(20);not null" json:"target_type"`
	ExternalID       *uint           `json:"external_id,omitempty"`
	Address          string          `gorm:"size:128;not null" json:"address"`
	DisplayName      string          `gorm:"size:255" json:"display_name"`
	Body             string          `gorm:"type:text;not null" json:"body"`
	ScheduledAt      time.Time       `gorm:"not null;index:idx_mass_message_recipients_scheduled_at" json:"scheduled_at"`
	Timezone         string          `gorm:"size:64;not null;default:'UTC'" json:"timezone"`
	Status           RecipientStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_mass_message_recipients_batch_status,priority:2" json:"status"`
	FailureReason    *string         `gorm:"type:text" json:"failure_reason,omitempty"`
	GatewayMessageID *string         `gorm:"size:128" json:"gateway_message_id,omitempty"`
	SentAt           *time.Time      `json:"sent_at,omitempty"`
	CreatedAt        time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (MassMessageRecipient) TableName() string { return "mass_message_recipients" }

func (r *MassMessageRecipient) BeforeCreate(tx *gorm.DB) error {
	if r.UUID == uuid.Nil {
		r.UUID = uuid.New()
	}
	if r.Status == "" {
		r.Status = RecipientStatusPending
	}
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	return nil
}

// MassMessageRecipientFilter provides filter fields for repository queries
type MassMessageRecipientFilter struct {
	ID         *uint
	BatchID    *uint
	Status     *RecipientStatus
	TargetType *RecipientKind
	Address    *string
}
