package models

import "time"

// Contact is an individual addressable person owned by a company
type Contact struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CompanyID uint      `gorm:"not null;index:idx_contacts_company_id" json:"company_id"`
	Name      string    `gorm:"size:255" json:"name"`
	Phone     string    `gorm:"size:32;not null" json:"phone"`
	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (Contact) TableName() string { return "contacts" }

// ContactFilter provides filter fields for repository queries
type ContactFilter struct {
	ID        *uint
	IDs       []uint
	CompanyID *uint
	Phone     *string
}
