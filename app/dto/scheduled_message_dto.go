package dto

import "time"

// CreateScheduledMessageRequest represents the request to schedule a single message
type CreateScheduledMessageRequest struct {
	CompanyID   uint      `json:"-"`
	UserID      uint      `json:"-"`
	ChannelID   uint      `json:"channel_id" validate:"required,min=1"`
	ContactID   *uint     `json:"contact_id,omitempty" validate:"omitempty,min=1"`
	Phone       *string   `json:"phone,omitempty" validate:"omitempty,max=32"`
	Body        string    `json:"body" validate:"required,max=4096"`
	MessageType string    `json:"message_type,omitempty" validate:"omitempty,oneof=template custom"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	Timezone    string    `json:"timezone,omitempty" validate:"omitempty,max=64"`
}

// UpdateScheduledMessageRequest represents a partial update of a pending message
type UpdateScheduledMessageRequest struct {
	CompanyID   uint       `json:"-"`
	UserID      uint       `json:"-"`
	UUID        string     `json:"-"`
	ChannelID   *uint      `json:"channel_id,omitempty" validate:"omitempty,min=1"`
	ContactID   *uint      `json:"contact_id,omitempty" validate:"omitempty,min=1"`
	Phone       *string    `json:"phone,omitempty" validate:"omitempty,max=32"`
	Body        *string    `json:"body,omitempty" validate:"omitempty,min=1,max=4096"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Timezone    *string    `json:"timezone,omitempty" validate:"omitempty,max=64"`
}

// CancelScheduledMessageRequest identifies the message to cancel
type CancelScheduledMessageRequest struct {
	CompanyID uint   `json:"-"`
	UserID    uint   `json:"-"`
	UUID      string `json:"-"`
}

// ListScheduledMessagesRequest represents a paginated listing
type ListScheduledMessagesRequest struct {
	CompanyID uint    `json:"-"`
	Page      int     `json:"page"`
	Limit     int     `json:"limit"`
	Status    *string `json:"status,omitempty"`
}

// ScheduledMessageDTO is the public view of a single scheduled message
type ScheduledMessageDTO struct {
	UUID             string     `json:"uuid"`
	ChannelID        uint       `json:"channel_id"`
	ContactID        *uint      `json:"contact_id,omitempty"`
	Phone            *string    `json:"phone,omitempty"`
	Body             string     `json:"body"`
	MessageType      string     `json:"message_type"`
	ScheduledAt      time.Time  `json:"scheduled_at"`
	Timezone         string     `json:"timezone"`
	Status           string     `json:"status"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	GatewayMessageID *string    `json:"gateway_message_id,omitempty"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ScheduledMessageResponse wraps one scheduled message
type ScheduledMessageResponse struct {
	Message          string              `json:"message"`
	ScheduledMessage ScheduledMessageDTO `json:"scheduled_message"`
}

// ListScheduledMessagesResponse represents a paginated list of scheduled messages
type ListScheduledMessagesResponse struct {
	Message    string                `json:"message"`
	Items      []ScheduledMessageDTO `json:"items"`
	Pagination PaginationInfo        `json:"pagination"`
}
