package models

import "time"

// ActivityStatus is the active/inactive flag shared by campaigns, groups and channels
type ActivityStatus string

const (
	ActivityStatusActive   ActivityStatus = "active"
	ActivityStatusInactive ActivityStatus = "inactive"
)

func (s ActivityStatus) Valid() bool {
	return s == ActivityStatusActive || s == ActivityStatusInactive
}

// Campaign groups broadcast targets (messaging groups) under one marketing campaign
type Campaign struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CompanyID uint           `gorm:"not null;index:idx_campaigns_company_id" json:"company_id"`
	Name      string         `gorm:"size:255;not null" json:"name"`
	Status    ActivityStatus `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	CreatedAt time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`

	Groups []CampaignGroup `gorm:"foreignKey:CampaignID" json:"groups,omitempty"`
}

func (Campaign) TableName() string { return "campaigns" }

// CampaignGroup is a messaging group that receives a message once for all its members
type CampaignGroup struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	CampaignID uint           `gorm:"not null;index:idx_campaign_groups_campaign_id" json:"campaign_id"`
	CompanyID  uint           `gorm:"not null;index:idx_campaign_groups_company_id" json:"company_id"`
	Name       string         `gorm:"size:255" json:"name"`
	GroupJID   string         `gorm:"column:group_jid;size:128;not null" json:"group_jid"`
	Status     ActivityStatus `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	CreatedAt  time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (CampaignGroup) TableName() string { return "campaign_groups" }

// CampaignGroupFilter provides filter fields for repository queries
type CampaignGroupFilter struct {
	ID          *uint
	CompanyID   *uint
	CampaignIDs []uint
	Status      *ActivityStatus
}
