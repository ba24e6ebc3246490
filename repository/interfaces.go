// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/massdispatch/models"
	"github.com/google/uuid"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// MassMessageBatchRepository defines operations for mass-message batches.
// Every status write is a conditional update so concurrent schedulers and the
// cancel operation can never move a batch backwards.
type MassMessageBatchRepository interface {
	Repository[models.MassMessageBatch, models.MassMessageBatchFilter]
	ByUUID(ctx context.Context, companyID uint, id uuid.UUID) (*models.MassMessageBatch, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.MassMessageBatch, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.MassMessageBatch, error)
	ListFailedWithPending(ctx context.Context, limit int) ([]*models.MassMessageBatch, error)
	// ClaimScheduled moves a scheduled batch to processing; nil means another worker got it first
	ClaimScheduled(ctx context.Context, id uint, now time.Time) (*models.MassMessageBatch, error)
	// ClaimStale takes over a processing batch whose heartbeat is older than cutoff
	ClaimStale(ctx context.Context, id uint, cutoff, now time.Time) (*models.MassMessageBatch, error)
	StatusOf(ctx context.Context, id uint) (models.BatchStatus, error)
	Heartbeat(ctx context.Context, id uint, now time.Time) error
	// Finish moves a processing batch to completed or failed with counters taken from recipient rows
	Finish(ctx context.Context, id uint, status models.BatchStatus, counts models.RecipientCounts, errMsg *string, now time.Time) (bool, error)
	// Cancel moves a scheduled or processing batch to cancelled
	Cancel(ctx context.Context, id uint, now time.Time) (bool, error)
	UpdateCounters(ctx context.Context, id uint, counts models.RecipientCounts) error
}

// MassMessageRecipientRepository defines operations for batch recipients.
// Status writes only ever apply to rows that are still pending.
type MassMessageRecipientRepository interface {
	Repository[models.MassMessageRecipient, models.MassMessageRecipientFilter]
	ListPendingByBatch(ctx context.Context, batchID uint) ([]*models.MassMessageRecipient, error)
	MarkSent(ctx context.Context, id uint, gatewayMessageID *string, sentAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uint, reason string) (bool, error)
	CancelPendingByBatch(ctx context.Context, batchID uint) (int64, error)
	FailPendingByBatch(ctx context.Context, batchID uint, reason string) (int64, error)
	CountsByBatch(ctx context.Context, batchID uint) (models.RecipientCounts, error)
}

// ScheduledMessageRepository defines operations for single-recipient scheduled messages
type ScheduledMessageRepository interface {
	Repository[models.ScheduledMessage, models.ScheduledMessageFilter]
	ByUUID(ctx context.Context, companyID uint, id uuid.UUID) (*models.ScheduledMessage, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMessage, error)
	// Claim moves a pending message to processing; nil means it was claimed or changed elsewhere
	Claim(ctx context.Context, id uint, now time.Time) (*models.ScheduledMessage, error)
	MarkSent(ctx context.Context, id uint, gatewayMessageID *string, sentAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uint, reason string) (bool, error)
	UpdatePending(ctx context.Context, msg *models.ScheduledMessage) (bool, error)
	CancelPending(ctx context.Context, id uint) (bool, error)
	FailStaleProcessing(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}

// AuditLogRepository stores one row per write attempt of a company
type AuditLogRepository interface {
	Repository[models.AuditLog, models.AuditLogFilter]
	ListByCompany(ctx context.Context, companyID uint, limit, offset int) ([]*models.AuditLog, error)
}

// ContactRepository is the read-only view of the contacts owned by the surrounding system
type ContactRepository interface {
	ByID(ctx context.Context, id uint) (*models.Contact, error)
	ListByIDs(ctx context.Context, companyID uint, ids []uint) ([]*models.Contact, error)
}

// CampaignGroupRepository is the read-only view of campaign groups
type CampaignGroupRepository interface {
	// ListActiveByCampaigns returns one row per active group of the given active campaigns
	ListActiveByCampaigns(ctx context.Context, companyID uint, campaignIDs []uint) ([]*models.CampaignGroup, error)
}

// MessageTemplateRepository is the read view of templates plus their usage counter
type MessageTemplateRepository interface {
	ByIDForCompany(ctx context.Context, companyID, id uint) (*models.MessageTemplate, error)
	IncrementUsage(ctx context.Context, id uint) error
}

// ChannelRepository is the read-only view of sending channels
type ChannelRepository interface {
	ByID(ctx context.Context, id uint) (*models.Channel, error)
	ByIDForCompany(ctx context.Context, companyID, id uint) (*models.Channel, error)
}
