package testing

import (
	"fmt"
	"math/rand"

	"github.com/amirphl/massdispatch/models"
	"github.com/google/uuid"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// RandomPhone returns a random E.164-looking mobile number
func RandomPhone() string {
	return fmt.Sprintf("+98912%07d", rand.Intn(10000000))
}

// CreateTestChannel creates an active channel for the company
func (tf *TestFixtures) CreateTestChannel(companyID uint) (*models.Channel, error) {
	channel := &models.Channel{
		CompanyID:    companyID,
		Name:         "Test channel",
		InstanceName: "instance-" + uuid.NewString()[:8],
		APIToken:     "token",
		Status:       models.ActivityStatusActive,
	}
	if err := tf.DB.DB.Create(channel).Error; err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	return channel, nil
}

// CreateTestContact creates a contact with a random phone number
func (tf *TestFixtures) CreateTestContact(companyID uint, name string) (*models.Contact, error) {
	contact := &models.Contact{
		CompanyID: companyID,
		Name:      name,
		Phone:     RandomPhone(),
	}
	if err := tf.DB.DB.Create(contact).Error; err != nil {
		return nil, fmt.Errorf("failed to create contact: %w", err)
	}
	return contact, nil
}

// CreateTestCampaign creates an active campaign with groupCount active groups
func (tf *TestFixtures) CreateTestCampaign(companyID uint, groupCount int) (*models.Campaign, error) {
	campaign := &models.Campaign{
		CompanyID: companyID,
		Name:      "Test campaign",
		Status:    models.ActivityStatusActive,
	}
	if err := tf.DB.DB.Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	for i := range groupCount {
		group := &models.CampaignGroup{
			CampaignID: campaign.ID,
			CompanyID:  companyID,
			Name:       fmt.Sprintf("Group %d", i+1),
			GroupJID:   fmt.Sprintf("%d-%s@g.us", i+1, uuid.NewString()[:8]),
			Status:     models.ActivityStatusActive,
		}
		if err := tf.DB.DB.Create(group).Error; err != nil {
			return nil, fmt.Errorf("failed to create campaign group: %w", err)
		}
		campaign.Groups = append(campaign.Groups, *group)
	}

	return campaign, nil
}

// CreateTestTemplate creates a template with the given body
func (tf *TestFixtures) CreateTestTemplate(companyID uint, body string) (*models.MessageTemplate, error) {
	template := &models.MessageTemplate{
		CompanyID: companyID,
		Name:      "Test template",
		Body:      body,
	}
	if err := tf.DB.DB.Create(template).Error; err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return template, nil
}

// CreateTestBatch persists a batch with one pending recipient per phone
func (tf *TestFixtures) CreateTestBatch(batch *models.MassMessageBatch, phones ...string) ([]*models.MassMessageRecipient, error) {
	if err := tf.DB.DB.Create(batch).Error; err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	recipients := make([]*models.MassMessageRecipient, 0, len(phones))
	for _, phone := range phones {
		recipients = append(recipients, &models.MassMessageRecipient{
			BatchID:     batch.ID,
			TargetType:  models.RecipientKindManual,
			Address:     phone,
			Body:        batch.Body,
			ScheduledAt: batch.DueAt,
		})
	}
	if len(recipients) > 0 {
		if err := tf.DB.DB.Create(&recipients).Error; err != nil {
			return nil, fmt.Errorf("failed to create recipients: %w", err)
		}
	}

	if err := tf.DB.DB.Model(batch).Update("total_recipients", len(recipients)).Error; err != nil {
		return nil, fmt.Errorf("failed to set batch total: %w", err)
	}
	batch.TotalRecipients = len(recipients)

	return recipients, nil
}
