package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/massdispatch/models"
	"gorm.io/gorm"
)

// MassMessageRecipientRepositoryImpl implements MassMessageRecipientRepository
type MassMessageRecipientRepositoryImpl struct {
	*BaseRepository[models.MassMessageRecipient, models.MassMessageRecipientFilter]
}

func NewMassMessageRecipientRepository(db *gorm.DB) MassMessageRecipientRepository {
	return &MassMessageRecipientRepositoryImpl{
		BaseRepository: NewBaseRepository[models.MassMessageRecipient, models.MassMessageRecipientFilter](db, applyRecipientFilter),
	}
}

func applyRecipientFilter(db *gorm.DB, f models.MassMessageRecipientFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.BatchID != nil {
		db = db.Where("batch_id = ?", *f.BatchID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.TargetType != nil {
		db = db.Where("target_type = ?", *f.TargetType)
	}
	if f.Address != nil {
		db = db.Where("address = ?", *f.Address)
	}
	return db
}

// ListPendingByBatch returns the recipients still to be delivered, in delivery order
func (r *MassMessageRecipientRepositoryImpl) ListPendingByBatch(ctx context.Context, batchID uint) ([]*models.MassMessageRecipient, error) {
	status := models.RecipientStatusPending
	filter := models.MassMessageRecipientFilter{BatchID: &batchID, Status: &status}
	return r.ByFilter(ctx, filter, "scheduled_at ASC, id ASC", 0, 0)
}

func (r *MassMessageRecipientRepositoryImpl) MarkSent(ctx context.Context, id uint, gatewayMessageID *string, sentAt time.Time) (bool, error) {
	updates := map[string]any{
		"status":     models.RecipientStatusSent,
		"sent_at":    sentAt,
		"updated_at": sentAt,
	}
	if gatewayMessageID != nil {
		updates["gateway_message_id"] = *gatewayMessageID
	}
	return r.updatePending(ctx, id, updates)
}

func (r *MassMessageRecipientRepositoryImpl) MarkFailed(ctx context.Context, id uint, reason string) (bool, error) {
	return r.updatePending(ctx, id, map[string]any{
		"status":         models.RecipientStatusFailed,
		"failure_reason": reason,
		"updated_at":     time.Now().UTC(),
	})
}

// updatePending applies the updates only while the row is still pending
func (r *MassMessageRecipientRepositoryImpl) updatePending(ctx context.Context, id uint, updates map[string]any) (bool, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.MassMessageRecipient{}).
		Where("id = ? AND status = ?", id, models.RecipientStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update recipient %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// CancelPendingByBatch cancels every recipient of the batch that has not been reached yet
func (r *MassMessageRecipientRepositoryImpl) CancelPendingByBatch(ctx context.Context, batchID uint) (int64, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.MassMessageRecipient{}).
		Where("batch_id = ? AND status = ?", batchID, models.RecipientStatusPending).
		Updates(map[string]any{
			"status":     models.RecipientStatusCancelled,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to cancel recipients of batch %d: %w", batchID, res.Error)
	}
	return res.RowsAffected, nil
}

// FailPendingByBatch marks every recipient still pending as failed with reason
func (r *MassMessageRecipientRepositoryImpl) FailPendingByBatch(ctx context.Context, batchID uint, reason string) (int64, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.MassMessageRecipient{}).
		Where("batch_id = ? AND status = ?", batchID, models.RecipientStatusPending).
		Updates(map[string]any{
			"status":         models.RecipientStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to fail recipients of batch %d: %w", batchID, res.Error)
	}
	return res.RowsAffected, nil
}

// CountsByBatch tallies recipient rows per status
func (r *MassMessageRecipientRepositoryImpl) CountsByBatch(ctx context.Context, batchID uint) (models.RecipientCounts, error) {
	db := r.getDB(ctx)
	var rows []struct {
		Status models.RecipientStatus
		Total  int
	}
	err := db.Model(&models.MassMessageRecipient{}).
		Select("status, COUNT(*) AS total").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return models.RecipientCounts{}, fmt.Errorf("failed to count recipients of batch %d: %w", batchID, err)
	}

	var counts models.RecipientCounts
	for _, row := range rows {
		counts.Total += row.Total
		switch row.Status {
		case models.RecipientStatusPending:
			counts.Pending = row.Total
		case models.RecipientStatusSent:
			counts.Sent = row.Total
		case models.RecipientStatusFailed:
			counts.Failed = row.Total
		case models.RecipientStatusCancelled:
			counts.Cancelled = row.Total
		}
	}
	return counts, nil
}
