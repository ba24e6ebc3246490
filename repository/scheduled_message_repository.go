package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/massdispatch/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScheduledMessageRepositoryImpl implements ScheduledMessageRepository
type ScheduledMessageRepositoryImpl struct {
	*BaseRepository[models.ScheduledMessage, models.ScheduledMessageFilter]
}

func NewScheduledMessageRepository(db *gorm.DB) ScheduledMessageRepository {
	return &ScheduledMessageRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ScheduledMessage, models.ScheduledMessageFilter](db, applyScheduledMessageFilter),
	}
}

func applyScheduledMessageFilter(db *gorm.DB, f models.ScheduledMessageFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.CompanyID != nil {
		db = db.Where("company_id = ?", *f.CompanyID)
	}
	if f.ChannelID != nil {
		db = db.Where("channel_id = ?", *f.ChannelID)
	}
	if f.ContactID != nil {
		db = db.Where("contact_id = ?", *f.ContactID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.DueBefore != nil {
		db = db.Where("scheduled_at <= ?", *f.DueBefore)
	}
	return db
}

func (r *ScheduledMessageRepositoryImpl) ByUUID(ctx context.Context, companyID uint, id uuid.UUID) (*models.ScheduledMessage, error) {
	db := r.getDB(ctx)
	var msg models.ScheduledMessage
	err := db.Where("uuid = ? AND company_id = ?", id, companyID).Last(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find scheduled message by uuid %s: %w", id, err)
	}
	return &msg, nil
}

// ListDue returns pending messages whose due time has passed, oldest first
func (r *ScheduledMessageRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMessage, error) {
	status := models.ScheduledMessageStatusPending
	filter := models.ScheduledMessageFilter{Status: &status, DueBefore: &now}
	return r.ByFilter(ctx, filter, "scheduled_at ASC, id ASC", limit, 0)
}

// Claim atomically moves a pending message to processing
func (r *ScheduledMessageRepositoryImpl) Claim(ctx context.Context, id uint, now time.Time) (*models.ScheduledMessage, error) {
	db := r.getDB(ctx)
	var claimed []models.ScheduledMessage
	res := db.Model(&claimed).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ?", id, models.ScheduledMessageStatusPending).
		Updates(map[string]any{
			"status":     models.ScheduledMessageStatusProcessing,
			"claimed_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to claim scheduled message %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 || len(claimed) == 0 {
		return nil, nil
	}
	return &claimed[0], nil
}

func (r *ScheduledMessageRepositoryImpl) MarkSent(ctx context.Context, id uint, gatewayMessageID *string, sentAt time.Time) (bool, error) {
	updates := map[string]any{
		"status":     models.ScheduledMessageStatusSent,
		"sent_at":    sentAt,
		"updated_at": sentAt,
	}
	if gatewayMessageID != nil {
		updates["gateway_message_id"] = *gatewayMessageID
	}
	return r.updateWhere(ctx, id, models.ScheduledMessageStatusProcessing, updates)
}

func (r *ScheduledMessageRepositoryImpl) MarkFailed(ctx context.Context, id uint, reason string) (bool, error) {
	return r.updateWhere(ctx, id, models.ScheduledMessageStatusProcessing, map[string]any{
		"status":         models.ScheduledMessageStatusFailed,
		"failure_reason": reason,
		"updated_at":     time.Now().UTC(),
	})
}

// UpdatePending rewrites the editable fields of a message that is still pending
func (r *ScheduledMessageRepositoryImpl) UpdatePending(ctx context.Context, msg *models.ScheduledMessage) (bool, error) {
	return r.updateWhere(ctx, msg.ID, models.ScheduledMessageStatusPending, map[string]any{
		"channel_id":   msg.ChannelID,
		"contact_id":   msg.ContactID,
		"phone":        msg.Phone,
		"body":         msg.Body,
		"message_type": msg.MessageType,
		"scheduled_at": msg.ScheduledAt,
		"timezone":     msg.Timezone,
		"updated_at":   time.Now().UTC(),
	})
}

func (r *ScheduledMessageRepositoryImpl) CancelPending(ctx context.Context, id uint) (bool, error) {
	return r.updateWhere(ctx, id, models.ScheduledMessageStatusPending, map[string]any{
		"status":     models.ScheduledMessageStatusCancelled,
		"updated_at": time.Now().UTC(),
	})
}

// FailStaleProcessing gives up on messages whose claim outlived the lease. The send may or may
// not have reached the gateway, so they are failed rather than retried.
func (r *ScheduledMessageRepositoryImpl) FailStaleProcessing(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.ScheduledMessage{}).
		Where("status = ? AND claimed_at < ?", models.ScheduledMessageStatusProcessing, cutoff).
		Updates(map[string]any{
			"status":         models.ScheduledMessageStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to fail stale scheduled messages: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *ScheduledMessageRepositoryImpl) updateWhere(ctx context.Context, id uint, from models.ScheduledMessageStatus, updates map[string]any) (bool, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.ScheduledMessage{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update scheduled message %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}
