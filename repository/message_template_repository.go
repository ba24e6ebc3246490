package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/massdispatch/models"
	"gorm.io/gorm"
)

// MessageTemplateRepositoryImpl implements MessageTemplateRepository
type MessageTemplateRepositoryImpl struct {
	db *gorm.DB
}

func NewMessageTemplateRepository(db *gorm.DB) MessageTemplateRepository {
	return &MessageTemplateRepositoryImpl{db: db}
}

func (r *MessageTemplateRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func (r *MessageTemplateRepositoryImpl) ByIDForCompany(ctx context.Context, companyID, id uint) (*models.MessageTemplate, error) {
	var tpl models.MessageTemplate
	err := r.getDB(ctx).Where("id = ? AND company_id = ?", id, companyID).Last(&tpl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find template %d: %w", id, err)
	}
	return &tpl, nil
}

// IncrementUsage bumps the usage counter in place
func (r *MessageTemplateRepositoryImpl) IncrementUsage(ctx context.Context, id uint) error {
	err := r.getDB(ctx).Model(&models.MessageTemplate{}).
		Where("id = ?", id).
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to increment usage of template %d: %w", id, err)
	}
	return nil
}
