package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/massdispatch/models"
	"gorm.io/gorm"
)

// ChannelRepositoryImpl implements ChannelRepository
type ChannelRepositoryImpl struct {
	db *gorm.DB
}

func NewChannelRepository(db *gorm.DB) ChannelRepository {
	return &ChannelRepositoryImpl{db: db}
}

func (r *ChannelRepositoryImpl) ByID(ctx context.Context, id uint) (*models.Channel, error) {
	var ch models.Channel
	if err := r.db.WithContext(ctx).Last(&ch, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find channel %d: %w", id, err)
	}
	return &ch, nil
}

func (r *ChannelRepositoryImpl) ByIDForCompany(ctx context.Context, companyID, id uint) (*models.Channel, error) {
	var ch models.Channel
	err := r.db.WithContext(ctx).Where("id = ? AND company_id = ?", id, companyID).Last(&ch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find channel %d: %w", id, err)
	}
	return &ch, nil
}
