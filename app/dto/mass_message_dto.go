package dto

import "time"

// CreateMassMessageRequest represents the request to create a mass-message batch
type CreateMassMessageRequest struct {
	CompanyID            uint              `json:"-"`
	UserID               uint              `json:"-"`
	MessageType          string            `json:"message_type" validate:"required,oneof=template custom"`
	TemplateID           *uint             `json:"template_id,omitempty" validate:"omitempty,min=1"`
	Body                 *string           `json:"body,omitempty" validate:"omitempty,max=4096"`
	TemplateValues       map[string]string `json:"template_values,omitempty"`
	TargetType           string            `json:"target_type" validate:"required,oneof=contacts campaign-groups manual"`
	ContactIDs           []uint            `json:"contact_ids,omitempty" validate:"omitempty,max=10000,dive,min=1"`
	CampaignIDs          []uint            `json:"campaign_ids,omitempty" validate:"omitempty,max=1000,dive,min=1"`
	Phones               []string          `json:"phones,omitempty" validate:"omitempty,max=10000,dive,max=32"`
	ChannelID            uint              `json:"channel_id" validate:"required,min=1"`
	SendMode             string            `json:"send_mode" validate:"required,oneof=immediate scheduled"`
	ScheduledAt          *time.Time        `json:"scheduled_at,omitempty"`
	Timezone             string            `json:"timezone,omitempty" validate:"omitempty,max=64"`
	DelayBetweenGroups   int               `json:"delay_between_groups" validate:"min=0,max=86400"`
	DelayBetweenMessages int               `json:"delay_between_messages" validate:"min=0,max=86400"`
}

// MassMessageBatchDTO is the public view of a batch
type MassMessageBatchDTO struct {
	UUID                 string     `json:"uuid"`
	Status               string     `json:"status"`
	MessageType          string     `json:"message_type"`
	TemplateID           *uint      `json:"template_id,omitempty"`
	Body                 string     `json:"body"`
	TargetType           string     `json:"target_type"`
	ChannelID            uint       `json:"channel_id"`
	SendMode             string     `json:"send_mode"`
	ScheduledAt          *time.Time `json:"scheduled_at,omitempty"`
	DueAt                time.Time  `json:"due_at"`
	Timezone             string     `json:"timezone"`
	DelayBetweenGroups   int        `json:"delay_between_groups"`
	DelayBetweenMessages int        `json:"delay_between_messages"`
	TotalRecipients      int        `json:"total_recipients"`
	SentCount            int        `json:"sent_count"`
	FailedCount          int        `json:"failed_count"`
	PendingCount         int        `json:"pending_count"`
	ErrorMessage         *string    `json:"error_message,omitempty"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// CreateMassMessageResponse represents the response to a batch creation
type CreateMassMessageResponse struct {
	Message string              `json:"message"`
	Batch   MassMessageBatchDTO `json:"batch"`
}

// GetMassMessageRequest identifies one batch of a company
type GetMassMessageRequest struct {
	CompanyID uint   `json:"-"`
	UUID      string `json:"-"`
}

// GetMassMessageResponse represents the batch detail response
type GetMassMessageResponse struct {
	Message string              `json:"message"`
	Batch   MassMessageBatchDTO `json:"batch"`
}

// ListMassMessagesRequest represents a paginated batch listing
type ListMassMessagesRequest struct {
	CompanyID uint    `json:"-"`
	Page      int     `json:"page"`
	Limit     int     `json:"limit"`
	Status    *string `json:"status,omitempty"`
	OrderBy   string  `json:"orderby"` // newest, oldest
}

// ListMassMessagesResponse represents a paginated list of batches
type ListMassMessagesResponse struct {
	Message    string                `json:"message"`
	Items      []MassMessageBatchDTO `json:"items"`
	Pagination PaginationInfo        `json:"pagination"`
}

// MassMessageRecipientDTO is the public view of one recipient
type MassMessageRecipientDTO struct {
	UUID             string     `json:"uuid"`
	TargetType       string     `json:"target_type"`
	ExternalID       *uint      `json:"external_id,omitempty"`
	Address          string     `json:"address"`
	DisplayName      string     `json:"display_name"`
	ScheduledAt      time.Time  `json:"scheduled_at"`
	Status           string     `json:"status"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	GatewayMessageID *string    `json:"gateway_message_id,omitempty"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
}

// ListMassMessageRecipientsRequest represents a paginated recipient listing of one batch
type ListMassMessageRecipientsRequest struct {
	CompanyID uint    `json:"-"`
	UUID      string  `json:"-"`
	Page      int     `json:"page"`
	Limit     int     `json:"limit"`
	Status    *string `json:"status,omitempty"`
}

// ListMassMessageRecipientsResponse represents a paginated list of recipients
type ListMassMessageRecipientsResponse struct {
	Message    string                    `json:"message"`
	Items      []MassMessageRecipientDTO `json:"items"`
	Pagination PaginationInfo            `json:"pagination"`
}

// CancelMassMessageRequest identifies the batch to cancel
type CancelMassMessageRequest struct {
	CompanyID uint   `json:"-"`
	UserID    uint   `json:"-"`
	UUID      string `json:"-"`
}

// CancelMassMessageResponse represents the result of a cancellation
type CancelMassMessageResponse struct {
	Message             string              `json:"message"`
	CancelledRecipients int64               `json:"cancelled_recipients"`
	Batch               MassMessageBatchDTO `json:"batch"`
}

// MassMessageReport is a rendered spreadsheet of a batch's delivery outcome
type MassMessageReport struct {
	FileName string
	Content  []byte
}
