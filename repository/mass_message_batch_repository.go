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

// MassMessageBatchRepositoryImpl implements MassMessageBatchRepository
type MassMessageBatchRepositoryImpl struct {
	*BaseRepository[models.MassMessageBatch, models.MassMessageBatchFilter]
}

// NewMassMessageBatchRepository creates a new batch repository
func NewMassMessageBatchRepository(db *gorm.DB) MassMessageBatchRepository {
	return &MassMessageBatchRepositoryImpl{
		BaseRepository: NewBaseRepository[models.MassMessageBatch, models.MassMessageBatchFilter](db, applyBatchFilter),
	}
}

func applyBatchFilter(db *gorm.DB, f models.MassMessageBatchFilter) *gorm.DB {
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
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.DueBefore != nil {
		db = db.Where("due_at <= ?", *f.DueBefore)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

// ByUUID retrieves a batch by its public id, scoped to the owning company
func (r *MassMessageBatchRepositoryImpl) ByUUID(ctx context.Context, companyID uint, id uuid.UUID) (*models.MassMessageBatch, error) {
	db := r.getDB(ctx)
	var batch models.MassMessageBatch
	err := db.Where("uuid = ? AND company_id = ?", id, companyID).Last(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find batch by uuid %s: %w", id, err)
	}
	return &batch, nil
}

// ListDue returns scheduled batches whose due time has passed, oldest first
func (r *MassMessageBatchRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.MassMessageBatch, error) {
	status := models.BatchStatusScheduled
	filter := models.MassMessageBatchFilter{Status: &status, DueBefore: &now}
	return r.ByFilter(ctx, filter, "due_at ASC, id ASC", limit, 0)
}

// ListStale returns processing batches whose owner stopped sending heartbeats before cutoff
func (r *MassMessageBatchRepositoryImpl) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.MassMessageBatch, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.MassMessageBatch{}).
		Where("status = ?", models.BatchStatusProcessing).
		Where("heartbeat_at IS NULL OR heartbeat_at < ?", cutoff).
		Order("heartbeat_at ASC NULLS FIRST, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []*models.MassMessageBatch
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list stale batches: %w", err)
	}
	return rows, nil
}

// ListFailedWithPending returns failed batches that still own pending recipients
func (r *MassMessageBatchRepositoryImpl) ListFailedWithPending(ctx context.Context, limit int) ([]*models.MassMessageBatch, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.MassMessageBatch{}).
		Where("status = ?", models.BatchStatusFailed).
		Where("EXISTS (SELECT 1 FROM mass_message_recipients r WHERE r.batch_id = mass_message_batches.id AND r.status = ?)", models.RecipientStatusPending).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []*models.MassMessageBatch
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list failed batches with pending recipients: %w", err)
	}
	return rows, nil
}

// ClaimScheduled atomically moves a batch from scheduled to processing
// (UPDATE ... WHERE status = 'scheduled' RETURNING *).
func (r *MassMessageBatchRepositoryImpl) ClaimScheduled(ctx context.Context, id uint, now time.Time) (*models.MassMessageBatch, error) {
	db := r.getDB(ctx)
	var claimed []models.MassMessageBatch
	res := db.Model(&claimed).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ?", id, models.BatchStatusScheduled).
		Updates(map[string]any{
			"status":       models.BatchStatusProcessing,
			"started_at":   now,
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to claim batch %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 || len(claimed) == 0 {
		return nil, nil
	}
	return &claimed[0], nil
}

// ClaimStale atomically takes ownership of a processing batch whose heartbeat expired
func (r *MassMessageBatchRepositoryImpl) ClaimStale(ctx context.Context, id uint, cutoff, now time.Time) (*models.MassMessageBatch, error) {
	db := r.getDB(ctx)
	var claimed []models.MassMessageBatch
	res := db.Model(&claimed).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ?", id, models.BatchStatusProcessing).
		Where("heartbeat_at IS NULL OR heartbeat_at < ?", cutoff).
		Updates(map[string]any{
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to reclaim batch %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 || len(claimed) == 0 {
		return nil, nil
	}
	return &claimed[0], nil
}

// StatusOf reads the current status of a batch
func (r *MassMessageBatchRepositoryImpl) StatusOf(ctx context.Context, id uint) (models.BatchStatus, error) {
	db := r.getDB(ctx)
	var status models.BatchStatus
	err := db.Model(&models.MassMessageBatch{}).Where("id = ?", id).Select("status").Scan(&status).Error
	if err != nil {
		return "", fmt.Errorf("failed to read status of batch %d: %w", id, err)
	}
	if status == "" {
		return "", fmt.Errorf("batch %d not found", id)
	}
	return status, nil
}

// Heartbeat records that the owning worker is still alive
func (r *MassMessageBatchRepositoryImpl) Heartbeat(ctx context.Context, id uint, now time.Time) error {
	db := r.getDB(ctx)
	err := db.Model(&models.MassMessageBatch{}).
		Where("id = ? AND status = ?", id, models.BatchStatusProcessing).
		Updates(map[string]any{"heartbeat_at": now, "updated_at": now}).Error
	if err != nil {
		return fmt.Errorf("failed to heartbeat batch %d: %w", id, err)
	}
	return nil
}

// Finish moves a processing batch to a terminal status and freezes its counters
func (r *MassMessageBatchRepositoryImpl) Finish(ctx context.Context, id uint, status models.BatchStatus, counts models.RecipientCounts, errMsg *string, now time.Time) (bool, error) {
	if status != models.BatchStatusCompleted && status != models.BatchStatusFailed {
		return false, fmt.Errorf("invalid terminal status %s", status)
	}
	db := r.getDB(ctx)
	updates := map[string]any{
		"status":       status,
		"sent_count":   counts.Sent,
		"failed_count": counts.Failed,
		"completed_at": now,
		"updated_at":   now,
	}
	if errMsg != nil {
		updates["error_message"] = *errMsg
	}
	res := db.Model(&models.MassMessageBatch{}).
		Where("id = ? AND status = ?", id, models.BatchStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to finish batch %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Cancel moves a scheduled or processing batch to cancelled
func (r *MassMessageBatchRepositoryImpl) Cancel(ctx context.Context, id uint, now time.Time) (bool, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.MassMessageBatch{}).
		Where("id = ? AND status IN ?", id, []models.BatchStatus{models.BatchStatusScheduled, models.BatchStatusProcessing}).
		Updates(map[string]any{
			"status":       models.BatchStatusCancelled,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to cancel batch %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateCounters overwrites the aggregate counters with values derived from recipient rows
func (r *MassMessageBatchRepositoryImpl) UpdateCounters(ctx context.Context, id uint, counts models.RecipientCounts) error {
	db := r.getDB(ctx)
	err := db.Model(&models.MassMessageBatch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"sent_count":   counts.Sent,
			"failed_count": counts.Failed,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update counters of batch %d: %w", id, err)
	}
	return nil
}
