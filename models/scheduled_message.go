package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ScheduledMessageStatus represents the status of a single-recipient scheduled message
type ScheduledMessageStatus string

const (
	ScheduledMessageStatusPending    ScheduledMessageStatus = "pending"
	ScheduledMessageStatusProcessing ScheduledMessageStatus = "processing"
	ScheduledMessageStatusSent       ScheduledMessageStatus = "sent"
	ScheduledMessageStatusFailed     ScheduledMessageStatus = "failed"
	ScheduledMessageStatusCancelled  ScheduledMessageStatus = "cancelled"
)

func (s ScheduledMessageStatus) String() string {
	return string(s)
}

func (s ScheduledMessageStatus) Valid() bool {
	switch s {
	case ScheduledMessageStatusPending, ScheduledMessageStatusProcessing, ScheduledMessageStatusSent,
		ScheduledMessageStatusFailed, ScheduledMessageStatusCancelled:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ScheduledMessageStatus
func (s *ScheduledMessageStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = ScheduledMessageStatus(v)
	case []byte:
		*s = ScheduledMessageStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ScheduledMessageStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for ScheduledMessageStatus
func (s ScheduledMessageStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ScheduledMessageStatus: %s", s)
	}
	return string(s), nil
}

// ScheduledMessage is a single-recipient scheduled send that has no batch record
type ScheduledMessage struct {
	ID               uint                   `gorm:"primaryKey" json:"id"`
	UUID             uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:uk_scheduled_messages_uuid" json:"uuid"`
	CompanyID        uint                   `gorm:"not null;index:idx_scheduled_messages_company_id" json:"company_id"`
	CreatedBy        uint                   `gorm:"not null" json:"created_by"`
	ChannelID        uint                   `gorm:"not null" json:"channel_id"`
	ContactID        *uint                  `gorm:"index:idx_scheduled_messages_contact_id" json:"contact_id,omitempty"`
	Phone            *string                `gorm:"size:32" json:"phone,omitempty"`
	Body             string                 `gorm:"type:text;not null" json:"body"`
	MessageType      MessageType            `gorm:"type:varchar(20);not null;default:'custom'" json:"message_type"`
	ScheduledAt      time.Time              `gorm:"not null;index:idx_scheduled_messages_status_due,priority:2" json:"scheduled_at"`
	Timezone         string                 `gorm:"size:64;not null;default:'UTC'" json:"timezone"`
	Status           ScheduledMessageStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_scheduled_messages_status_due,priority:1" json:"status"`
	FailureReason    *string                `gorm:"type:text" json:"failure_reason,omitempty"`
	GatewayMessageID *string                `gorm:"size:128" json:"gateway_message_id,omitempty"`
	SentAt           *time.Time             `json:"sent_at,omitempty"`
	ClaimedAt        *time.Time             `json:"claimed_at,omitempty"`
	CreatedAt        time.Time              `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt        time.Time              `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`

	// Relations
	Contact *Contact `gorm:"foreignKey:ContactID;references:ID" json:"contact,omitempty"`
}

func (ScheduledMessage) TableName() string { return "scheduled_messages" }

func (m *ScheduledMessage) BeforeCreate(tx *gorm.DB) error {
	if m.UUID == uuid.Nil {
		m.UUID = uuid.New()
	}
	if m.Status == "" {
		m.Status = ScheduledMessageStatusPending
	}
	if m.MessageType == "" {
		m.MessageType = MessageTypeCustom
	}
	if m.Timezone == "" {
		m.Timezone = "UTC"
	}
	return nil
}

// CanTransitionTo checks whether moving to the target status is allowed
func (m *ScheduledMessage) CanTransitionTo(target ScheduledMessageStatus) bool {
	switch m.Status {
	case ScheduledMessageStatusPending:
		return target == ScheduledMessageStatusProcessing || target == ScheduledMessageStatusCancelled
	case ScheduledMessageStatusProcessing:
		return target == ScheduledMessageStatusSent || target == ScheduledMessageStatusFailed
	default:
		return false
	}
}

// IsEditable reports whether the message can still be changed by its owner
func (m *ScheduledMessage) IsEditable() bool {
	return m.Status == ScheduledMessageStatusPending
}

// ScheduledMessageFilter provides filter fields for repository queries
type ScheduledMessageFilter struct {
	ID        *uint
	UUID      *uuid.UUID
	CompanyID *uint
	ChannelID *uint
	ContactID *uint
	Status    *ScheduledMessageStatus
	DueBefore *time.Time
}
