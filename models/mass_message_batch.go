package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// BatchStatus represents the lifecycle state of a mass-message batch
type BatchStatus string

const (
	BatchStatusScheduled  BatchStatus = "scheduled"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

// String returns the string representation of the status
func (s BatchStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusScheduled, BatchStatusProcessing, BatchStatusCompleted,
		BatchStatusFailed, BatchStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed || s == BatchStatusCancelled
}

// Scan implements the sql.Scanner interface for BatchStatus
func (s *BatchStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = BatchStatus(v)
	case []byte:
		*s = BatchStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into BatchStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for BatchStatus
func (s BatchStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid BatchStatus: %s", s)
	}
	return string(s), nil
}

// MessageType distinguishes template-rendered content from free text
type MessageType string

const (
	MessageTypeTemplate MessageType = "template"
	MessageTypeCustom   MessageType = "custom"
)

func (t MessageType) Valid() bool {
	return t == MessageTypeTemplate || t == MessageTypeCustom
}

// TargetType is the selector kind a batch was created with
type TargetType string

const (
	TargetTypeContacts       TargetType = "contacts"
	TargetTypeCampaignGroups TargetType = "campaign-groups"
	TargetTypeManual         TargetType = "manual"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetTypeContacts, TargetTypeCampaignGroups, TargetTypeManual:
		return true
	default:
		return false
	}
}

// SendMode tells whether a batch was requested for now or for a future time
type SendMode string

const (
	SendModeImmediate SendMode = "immediate"
	SendModeScheduled SendMode = "scheduled"
)

func (m SendMode) Valid() bool {
	return m == SendModeImmediate || m == SendModeScheduled
}

// TemplateValues holds the caller-supplied template variables, stored as jsonb for auditing
type TemplateValues map[string]string

// Value implements the driver.Valuer interface for TemplateValues
func (v TemplateValues) Value() (driver.Value, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// Scan implements the sql.Scanner interface for TemplateValues
func (v *TemplateValues) Scan(value any) error {
	if value == nil {
		*v = TemplateValues{}
		return nil
	}

	var bytes []byte
	switch val := value.(type) {
	case []byte:
		bytes = val
	case string:
		bytes = []byte(val)
	default:
		return fmt.Errorf("cannot scan %T into TemplateValues", value)
	}

	return json.Unmarshal(bytes, v)
}

// MassMessageBatch is one mass-send request and its aggregate delivery state
type MassMessageBatch struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UUID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_mass_message_batches_uuid" json:"uuid"`
	CompanyID uint      `gorm:"not null;index:idx_mass_message_batches_company_id" json:"company_id"`
	CreatedBy uint      `gorm:"not null" json:"created_by"`

	// Content
	MessageType    MessageType    `gorm:"type:varchar(20);not null" json:"message_type"`
	TemplateID     *uint          `gorm:"index:idx_mass_message_batches_template_id" json:"template_id,omitempty"`
	Body           string         `gorm:"type:text;not null" json:"body"`
	TemplateValues TemplateValues `gorm:"type:jsonb" json:"template_values,omitempty"`

	// Targeting
	TargetType   TargetType     `gorm:"type:varchar(20);not null" json:"target_type"`
	ContactIDs   pq.Int64Array  `gorm:"type:bigint[]" json:"contact_ids,omitempty"`
	CampaignIDs  pq.Int64Array  `gorm:"type:bigint[]" json:"campaign_ids,omitempty"`
	ManualPhones pq.StringArray `gorm:"type:text[]" json:"manual_phones,omitempty"`
	ChannelID    uint           `gorm:"not null;index:idx_mass_message_batches_channel_id" json:"channel_id"`

	// Scheduling
	SendMode    SendMode   `gorm:"type:varchar(20);not null" json:"send_mode"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	DueAt       time.Time  `gorm:"not null;index:idx_mass_message_batches_status_due,priority:2" json:"due_at"`
	Timezone    string     `gorm:"size:64;not null;default:'UTC'" json:"timezone"`

	// Pacing, in seconds
	DelayBetweenGroups   int `gorm:"not null;default:0" json:"delay_between_groups"`
	DelayBetweenMessages int `gorm:"not null;default:0" json:"delay_between_messages"`

	// Aggregate counters, recomputed from recipient rows
	TotalRecipients int `gorm:"not null;default:0" json:"total_recipients"`
	SentCount       int `gorm:"not null;default:0" json:"sent_count"`
	FailedCount     int `gorm:"not null;default:0" json:"failed_count"`

	Status       BatchStatus `gorm:"type:varchar(20);not null;default:'scheduled';index:idx_mass_message_batches_status_due,priority:1" json:"status"`
	ErrorMessage *string     `gorm:"type:text" json:"error_message,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"index:idx_mass_message_batches_heartbeat_at" json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`

	// Relations
	Channel *Channel `gorm:"foreignKey:ChannelID;references:ID" json:"channel,omitempty"`
}

// TableName returns the table name for the model
func (MassMessageBatch) TableName() string {
	return "mass_message_batches"
}

// BeforeCreate fills identity and default status
func (b *MassMessageBatch) BeforeCreate(tx *gorm.DB) error {
	if b.UUID == uuid.Nil {
		b.UUID = uuid.New()
	}
	if b.Status == "" {
		b.Status = BatchStatusScheduled
	}
	if b.Timezone == "" {
		b.Timezone = "UTC"
	}
	return nil
}

// CanTransitionTo checks whether moving to the target status is allowed
func (b *MassMessageBatch) CanTransitionTo(target BatchStatus) bool {
	switch b.Status {
	case BatchStatusScheduled:
		return target == BatchStatusProcessing || target == BatchStatusCancelled
	case BatchStatusProcessing:
		return target == BatchStatusCompleted || target == BatchStatusFailed || target == BatchStatusCancelled
	default:
		return false
	}
}

// IsCancellable reports whether the batch may still be cancelled
func (b *MassMessageBatch) IsCancellable() bool {
	return b.CanTransitionTo(BatchStatusCancelled)
}

// PendingCount is the number of recipients not yet in a terminal state according to the counters
func (b *MassMessageBatch) PendingCount() int {
	n := b.TotalRecipients - b.SentCount - b.FailedCount
	if n < 0 {
		return 0
	}
	return n
}

// MassMessageBatchFilter provides filter fields for repository queries
type MassMessageBatchFilter struct {
	ID            *uint
	UUID          *uuid.UUID
	CompanyID     *uint
	ChannelID     *uint
	Status        *BatchStatus
	DueBefore     *time.Time
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// RecipientCounts is the per-status tally of a batch's recipient rows
type RecipientCounts struct {
	Total     int
	Pending   int
	Sent      int
	Failed    int
	Cancelled int
}
