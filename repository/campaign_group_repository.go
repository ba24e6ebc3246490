package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/massdispatch/models"
	"gorm.io/gorm"
)

// CampaignGroupRepositoryImpl implements CampaignGroupRepository
type CampaignGroupRepositoryImpl struct {
	db *gorm.DB
}

func NewCampaignGroupRepository(db *gorm.DB) CampaignGroupRepository {
	return &CampaignGroupRepositoryImpl{db: db}
}

// ListActiveByCampaigns joins groups to their campaign so that a group is only returned
// when both the group and its campaign are active
func (r *CampaignGroupRepositoryImpl) ListActiveByCampaigns(ctx context.Context, companyID uint, campaignIDs []uint) ([]*models.CampaignGroup, error) {
	if len(campaignIDs) == 0 {
		return nil, nil
	}
	db := r.db.WithContext(ctx)
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		db = tx.WithContext(ctx)
	}

	var rows []*models.CampaignGroup
	err := db.Model(&models.CampaignGroup{}).
		Joins("JOIN campaigns ON campaigns.id = campaign_groups.campaign_id").
		Where("campaign_groups.company_id = ? AND campaigns.company_id = ?", companyID, companyID).
		Where("campaign_groups.campaign_id IN ?", campaignIDs).
		Where("campaigns.status = ? AND campaign_groups.status = ?", models.ActivityStatusActive, models.ActivityStatusActive).
		Order("campaign_groups.campaign_id ASC, campaign_groups.id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active campaign groups: %w", err)
	}
	return rows, nil
}
