package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/massdispatch/models"
	"gorm.io/gorm"
)

// ContactRepositoryImpl implements ContactRepository
type ContactRepositoryImpl struct {
	db *gorm.DB
}

func NewContactRepository(db *gorm.DB) ContactRepository {
	return &ContactRepositoryImpl{db: db}
}

func (r *ContactRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func (r *ContactRepositoryImpl) ByID(ctx context.Context, id uint) (*models.Contact, error) {
	var contact models.Contact
	if err := r.getDB(ctx).Last(&contact, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find contact %d: %w", id, err)
	}
	return &contact, nil
}

// ListByIDs returns the company's contacts among ids, in the order the ids were given
func (r *ContactRepositoryImpl) ListByIDs(ctx context.Context, companyID uint, ids []uint) ([]*models.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*models.Contact
	err := r.getDB(ctx).
		Where("company_id = ? AND id IN ?", companyID, ids).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	byID := make(map[uint]*models.Contact, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}
	ordered := make([]*models.Contact, 0, len(rows))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
			delete(byID, id)
		}
	}
	return ordered, nil
}
