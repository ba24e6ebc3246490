package models

import "time"

// Channel is a sending account (gateway instance) a company delivers messages through
type Channel struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	CompanyID    uint           `gorm:"not null;index:idx_channels_company_id" json:"company_id"`
	Name         string         `gorm:"size:255;not null" json:"name"`
	InstanceName string         `gorm:"size:128;not null;uniqueIndex:uk_channels_instance_name" json:"instance_name"`
	APIToken     string         `gorm:"size:255" json:"-"`
	Status       ActivityStatus `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	CreatedAt    time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (Channel) TableName() string { return "channels" }

// IsActive reports whether the channel may be used for new deliveries
func (c *Channel) IsActive() bool {
	return c.Status == ActivityStatusActive
}

// ChannelFilter provides filter fields for repository queries
type ChannelFilter struct {
	ID           *uint
	CompanyID    *uint
	InstanceName *string
	Status       *ActivityStatus
}
