package models

import (
	"time"
)

// AuditLog records one write attempt made on behalf of a company, successful or not
type AuditLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CompanyID    *uint     `gorm:"index:idx_audit_company_id" json:"company_id,omitempty"`
	UserID       *uint     `gorm:"index:idx_audit_user_id" json:"user_id,omitempty"`
	Action       string    `gorm:"size:64;not null;index:idx_audit_action" json:"action"`
	Description  *string   `gorm:"type:text" json:"description,omitempty"`
	IPAddress    *string   `gorm:"size:64;index:idx_audit_ip_address" json:"ip_address,omitempty"`
	UserAgent    *string   `gorm:"type:text" json:"user_agent,omitempty"`
	RequestID    *string   `gorm:"size:255;index:idx_audit_request_id" json:"request_id,omitempty"`
	Success      *bool     `gorm:"default:true;index:idx_audit_success" json:"success"`
	ErrorMessage *string   `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_audit_created_at" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}

// Audit action constants
const (
	AuditActionMassMessageCreated             = "mass_message_created"
	AuditActionMassMessageCreationFailed      = "mass_message_creation_failed"
	AuditActionMassMessageCancelled           = "mass_message_cancelled"
	AuditActionMassMessageCancellationFailed  = "mass_message_cancellation_failed"
	AuditActionScheduledMessageCreated        = "scheduled_message_created"
	AuditActionScheduledMessageCreationFailed = "scheduled_message_creation_failed"
	AuditActionScheduledMessageUpdated        = "scheduled_message_updated"
	AuditActionScheduledMessageUpdateFailed   = "scheduled_message_update_failed"
	AuditActionScheduledMessageCancelled      = "scheduled_message_cancelled"
	AuditActionScheduledMessageCancelFailed   = "scheduled_message_cancellation_failed"
)

// AuditLogFilter represents filter criteria for audit log queries
type AuditLogFilter struct {
	ID            *uint
	CompanyID     *uint
	Action        *string
	Success       *bool
	RequestID     *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

func (a *AuditLog) IsFailed() bool {
	return a.Success != nil && !*a.Success
}
