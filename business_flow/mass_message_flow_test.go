package businessflow

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/massdispatch/app/dto"
	"github.com/amirphl/massdispatch/models"
	"github.com/amirphl/massdispatch/repository"
	testingutil "github.com/amirphl/massdispatch/testing"
	"github.com/amirphl/massdispatch/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type countingTrigger struct {
	calls int
}

func (t *countingTrigger) TriggerNow() bool {
	t.calls++
	return true
}

type massFixture struct {
	store    *testingutil.MemoryStore
	flow     MassMessageFlow
	trigger  *countingTrigger
	channel  *models.Channel
	template *models.MessageTemplate
	contacts []*models.Contact
	campaign *models.Campaign
}

func newMassFixture(t *testing.T) *massFixture {
	t.Helper()
	store := testingutil.NewMemoryStore()
	trigger := &countingTrigger{}

	fx := &massFixture{store: store, trigger: trigger}
	fx.channel = store.AddChannel(&models.Channel{CompanyID: 1, Name: "main", InstanceName: "inst-1"})
	fx.template = store.AddTemplate(&models.MessageTemplate{
		CompanyID: 1,
		Name:      "welcome",
		Body:      "Hello {name}, see you in {city}",
		Variables: models.TemplateVariables{{Name: "name"}, {Name: "city", Default: utils.ToPtr("Tehran")}},
	})
	fx.contacts = []*models.Contact{
		store.AddContact(&models.Contact{CompanyID: 1, Name: "A", Phone: "+989120000001"}),
		store.AddContact(&models.Contact{CompanyID: 1, Name: "B", Phone: "+989120000002"}),
	}
	fx.campaign = store.AddCampaign(&models.Campaign{CompanyID: 1, Name: "c"})
	store.AddGroup(&models.CampaignGroup{CampaignID: fx.campaign.ID, CompanyID: 1, Name: "g", GroupJID: "1@g.us"})

	fx.flow = NewMassMessageFlow(
		store.Batches(),
		store.Recipients(),
		store.Templates(),
		store.Channels(),
		store.AuditLogs(),
		NewRecipientResolver(store.Contacts(), store.CampaignGroups()),
		store.TxManager(),
		trigger,
	)
	return fx
}

func (fx *massFixture) customRequest() *dto.CreateMassMessageRequest {
	return &dto.CreateMassMessageRequest{
		CompanyID:   1,
		UserID:      7,
		MessageType: string(models.MessageTypeCustom),
		Body:        utils.ToPtr("  Sale starts today  "),
		TargetType:  string(models.TargetTypeContacts),
		ContactIDs:  []uint{fx.contacts[0].ID, fx.contacts[1].ID},
		ChannelID:   fx.channel.ID,
		SendMode:    string(models.SendModeImmediate),
	}
}

func TestMassMessageFlow_CreateBatch(t *testing.T) {
	ctx := context.Background()
	metadata := NewClientMetadata("127.0.0.1", "test")

	t.Run("immediate custom batch", func(t *testing.T) {
		fx := newMassFixture(t)

		resp, err := fx.flow.CreateBatch(ctx, fx.customRequest(), metadata)
		require.NoError(t, err)
		require.NotNil(t, resp)

		assert.Equal(t, "scheduled", resp.Batch.Status)
		assert.Equal(t, "Sale starts today", resp.Batch.Body)
		assert.Equal(t, 2, resp.Batch.TotalRecipients)
		assert.Equal(t, 2, resp.Batch.PendingCount)
		assert.Equal(t, "UTC", resp.Batch.Timezone)
		assert.WithinDuration(t, time.Now(), resp.Batch.DueAt, 5*time.Second)
		assert.Equal(t, 1, fx.trigger.calls)
	})

	t.Run("scheduled template batch renders once and counts usage", func(t *testing.T) {
		fx := newMassFixture(t)
		when := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)

		req := fx.customRequest()
		req.MessageType = string(models.MessageTypeTemplate)
		req.Body = nil
		req.TemplateID = &fx.template.ID
		req.TemplateValues = map[string]string{"name": "Sara"}
		req.TargetType = string(models.TargetTypeCampaignGroups)
		req.ContactIDs = nil
		req.CampaignIDs = []uint{fx.campaign.ID}
		req.SendMode = string(models.SendModeScheduled)
		req.ScheduledAt = &when
		req.Timezone = "Asia/Tehran"

		resp, err := fx.flow.CreateBatch(ctx, req, metadata)
		require.NoError(t, err)
		assert.Equal(t, "Hello Sara, see you in Tehran", resp.Batch.Body)
		assert.Equal(t, when, resp.Batch.DueAt)
		assert.Equal(t, 1, resp.Batch.TotalRecipients)
		assert.Zero(t, fx.trigger.calls)

		assert.Equal(t, int64(1), fx.store.Template(fx.template.ID).UsageCount)
	})

	t.Run("validation errors", func(t *testing.T) {
		fx := newMassFixture(t)
		past := time.Now().Add(-time.Minute)

		cases := []struct {
			name   string
			mutate func(r *dto.CreateMassMessageRequest)
			want   error
		}{
			{"no selector", func(r *dto.CreateMassMessageRequest) { r.ContactIDs = nil }, ErrTargetRequired},
			{"empty custom body", func(r *dto.CreateMassMessageRequest) { r.Body = utils.ToPtr("   ") }, ErrBodyRequired},
			{"template without id", func(r *dto.CreateMassMessageRequest) { r.MessageType = "template" }, ErrTemplateIDRequired},
			{"bad target type", func(r *dto.CreateMassMessageRequest) { r.TargetType = "everyone" }, ErrInvalidTargetType},
			{"target kind without its list", func(r *dto.CreateMassMessageRequest) { r.TargetType = "manual" }, ErrTargetRequired},
			{"manual batch with contact ids", func(r *dto.CreateMassMessageRequest) {
				r.TargetType = "manual"
				r.Phones = []string{"+989121234567"}
			}, ErrSelectorMismatch},
			{"contacts batch with campaign ids", func(r *dto.CreateMassMessageRequest) { r.CampaignIDs = []uint{1} }, ErrSelectorMismatch},
			{"bad send mode", func(r *dto.CreateMassMessageRequest) { r.SendMode = "later" }, ErrInvalidSendMode},
			{"negative delay", func(r *dto.CreateMassMessageRequest) { r.DelayBetweenGroups = -1 }, ErrInvalidDelay},
			{"bad timezone", func(r *dto.CreateMassMessageRequest) { r.Timezone = "Mars/Olympus" }, ErrInvalidTimezone},
			{"scheduled without time", func(r *dto.CreateMassMessageRequest) { r.SendMode = "scheduled" }, ErrScheduleTimeNotPresent},
			{"scheduled in the past", func(r *dto.CreateMassMessageRequest) {
				r.SendMode = "scheduled"
				r.ScheduledAt = &past
			}, ErrScheduleTimeInPast},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				req := fx.customRequest()
				tc.mutate(req)
				_, err := fx.flow.CreateBatch(ctx, req, metadata)
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.want), "got %v", err)
				assert.True(t, IsValidationError(err))
			})
		}
	})

	t.Run("unknown or inactive channel", func(t *testing.T) {
		fx := newMassFixture(t)
		inactive := fx.store.AddChannel(&models.Channel{CompanyID: 1, Name: "off", InstanceName: "inst-off", Status: models.ActivityStatusInactive})

		req := fx.customRequest()
		req.ChannelID = 9999
		_, err := fx.flow.CreateBatch(ctx, req, metadata)
		assert.True(t, IsChannelNotFound(err))

		req.ChannelID = inactive.ID
		_, err = fx.flow.CreateBatch(ctx, req, metadata)
		assert.True(t, IsChannelInactive(err))
	})

	t.Run("template of another company", func(t *testing.T) {
		fx := newMassFixture(t)
		other := fx.store.AddTemplate(&models.MessageTemplate{CompanyID: 2, Name: "x", Body: "x"})

		req := fx.customRequest()
		req.MessageType = "template"
		req.TemplateID = &other.ID
		_, err := fx.flow.CreateBatch(ctx, req, metadata)
		assert.True(t, IsTemplateNotFound(err))
	})

	t.Run("selector that resolves to nobody", func(t *testing.T) {
		fx := newMassFixture(t)
		req := fx.customRequest()
		req.ContactIDs = []uint{4242}
		_, err := fx.flow.CreateBatch(ctx, req, metadata)
		require.Error(t, err)
		assert.True(t, IsNoRecipients(err))

		list, err := fx.flow.ListBatches(ctx, &dto.ListMassMessagesRequest{CompanyID: 1})
		require.NoError(t, err)
		assert.Empty(t, list.Items)
	})
}

func TestMassMessageFlow_ReadAndCancel(t *testing.T) {
	ctx := context.Background()
	metadata := NewClientMetadata("127.0.0.1", "test")
	fx := newMassFixture(t)

	created, err := fx.flow.CreateBatch(ctx, fx.customRequest(), metadata)
	require.NoError(t, err)
	id := created.Batch.UUID

	t.Run("get is scoped to the company", func(t *testing.T) {
		got, err := fx.flow.GetBatch(ctx, &dto.GetMassMessageRequest{CompanyID: 1, UUID: id})
		require.NoError(t, err)
		assert.Equal(t, id, got.Batch.UUID)

		_, err = fx.flow.GetBatch(ctx, &dto.GetMassMessageRequest{CompanyID: 2, UUID: id})
		assert.True(t, IsBatchNotFound(err))

		_, err = fx.flow.GetBatch(ctx, &dto.GetMassMessageRequest{CompanyID: 1, UUID: "not-a-uuid"})
		assert.True(t, IsBatchNotFound(err))
	})

	t.Run("list recipients in delivery order", func(t *testing.T) {
		list, err := fx.flow.ListRecipients(ctx, &dto.ListMassMessageRecipientsRequest{CompanyID: 1, UUID: id})
		require.NoError(t, err)
		require.Len(t, list.Items, 2)
		assert.Equal(t, "+989120000001", list.Items[0].Address)
		assert.Equal(t, int64(2), list.Pagination.Total)
	})

	t.Run("export report", func(t *testing.T) {
		report, err := fx.flow.ExportReport(ctx, &dto.GetMassMessageRequest{CompanyID: 1, UUID: id})
		require.NoError(t, err)
		assert.Contains(t, report.FileName, id)

		xl, err := excelize.OpenReader(bytes.NewReader(report.Content))
		require.NoError(t, err)
		defer xl.Close()

		rows, err := xl.GetRows("Recipients")
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "address", rows[0][0])
		assert.Equal(t, "pending", rows[1][3])
	})

	t.Run("cancel marks every pending recipient", func(t *testing.T) {
		resp, err := fx.flow.CancelBatch(ctx, &dto.CancelMassMessageRequest{CompanyID: 1, UUID: id}, metadata)
		require.NoError(t, err)
		assert.Equal(t, "cancelled", resp.Batch.Status)
		assert.Equal(t, int64(2), resp.CancelledRecipients)
		assert.NotNil(t, resp.Batch.CompletedAt)

		list, err := fx.flow.ListRecipients(ctx, &dto.ListMassMessageRecipientsRequest{
			CompanyID: 1, UUID: id, Status: utils.ToPtr("cancelled"),
		})
		require.NoError(t, err)
		assert.Len(t, list.Items, 2)
	})

	t.Run("cancelling twice is rejected", func(t *testing.T) {
		_, err := fx.flow.CancelBatch(ctx, &dto.CancelMassMessageRequest{CompanyID: 1, UUID: id}, metadata)
		require.Error(t, err)
		assert.True(t, IsBatchNotCancellable(err))
	})

	t.Run("list batches filters by status", func(t *testing.T) {
		_, err := fx.flow.CreateBatch(ctx, fx.customRequest(), metadata)
		require.NoError(t, err)

		all, err := fx.flow.ListBatches(ctx, &dto.ListMassMessagesRequest{CompanyID: 1})
		require.NoError(t, err)
		assert.Len(t, all.Items, 2)

		scheduled, err := fx.flow.ListBatches(ctx, &dto.ListMassMessagesRequest{CompanyID: 1, Status: utils.ToPtr("scheduled")})
		require.NoError(t, err)
		require.Len(t, scheduled.Items, 1)
		assert.NotEqual(t, id, scheduled.Items[0].UUID)
	})
}

func TestMassMessageFlow_AuditLog(t *testing.T) {
	metadata := NewClientMetadata("10.0.0.1", "curl/8")
	metadata.SetRequestID("req-mass-1")
	ctx := context.Background()
	fx := newMassFixture(t)

	created, err := fx.flow.CreateBatch(ctx, fx.customRequest(), metadata)
	require.NoError(t, err)
	id := created.Batch.UUID

	_, err = fx.flow.CancelBatch(ctx, &dto.CancelMassMessageRequest{CompanyID: 1, UserID: 7, UUID: id}, metadata)
	require.NoError(t, err)
	_, err = fx.flow.CancelBatch(ctx, &dto.CancelMassMessageRequest{CompanyID: 1, UserID: 7, UUID: id}, metadata)
	require.True(t, IsBatchNotCancellable(err))

	rows := fx.store.AuditLogsOf(1)
	require.Len(t, rows, 3)
	assert.Equal(t, models.AuditActionMassMessageCreated, rows[0].Action)
	assert.Equal(t, models.AuditActionMassMessageCancelled, rows[1].Action)
	assert.Equal(t, models.AuditActionMassMessageCancellationFailed, rows[2].Action)
	for _, row := range rows {
		require.NotNil(t, row.CompanyID)
		assert.Equal(t, uint(1), *row.CompanyID)
		require.NotNil(t, row.UserID)
		assert.Equal(t, uint(7), *row.UserID)
		require.NotNil(t, row.RequestID)
		assert.Equal(t, "req-mass-1", *row.RequestID)
		require.NotNil(t, row.IPAddress)
		assert.Equal(t, "10.0.0.1", *row.IPAddress)
		require.NotNil(t, row.Description)
		assert.Contains(t, *row.Description, id)
	}
	assert.False(t, rows[0].IsFailed())
	assert.False(t, rows[1].IsFailed())
	assert.True(t, rows[2].IsFailed())

	t.Run("failed creation is audited", func(t *testing.T) {
		fx.store.FailSave = assert.AnError
		defer func() { fx.store.FailSave = nil }()

		_, err := fx.flow.CreateBatch(ctx, fx.customRequest(), metadata)
		require.ErrorIs(t, err, assert.AnError)

		rows := fx.store.AuditLogsOf(1)
		last := rows[len(rows)-1]
		assert.Equal(t, models.AuditActionMassMessageCreationFailed, last.Action)
		assert.True(t, last.IsFailed())
		require.NotNil(t, last.ErrorMessage)
		assert.Contains(t, *last.ErrorMessage, assert.AnError.Error())
	})

	t.Run("request id falls back to the context", func(t *testing.T) {
		reqCtx := context.WithValue(ctx, utils.RequestIDKey, "req-ctx-2")
		_, err := fx.flow.CreateBatch(reqCtx, fx.customRequest(), NewClientMetadata("10.0.0.1", "curl/8"))
		require.NoError(t, err)

		rows := fx.store.AuditLogsOf(1)
		last := rows[len(rows)-1]
		assert.Equal(t, models.AuditActionMassMessageCreated, last.Action)
		require.NotNil(t, last.RequestID)
		assert.Equal(t, "req-ctx-2", *last.RequestID)
	})
}

type failingCountRepo struct {
	repository.MassMessageBatchRepository
}

func (failingCountRepo) Count(ctx context.Context, filter models.MassMessageBatchFilter) (int64, error) {
	return 0, assert.AnError
}

func TestMassMessageFlow_ListBatchesWrapsStorageErrors(t *testing.T) {
	store := testingutil.NewMemoryStore()
	flow := NewMassMessageFlow(
		failingCountRepo{store.Batches()},
		store.Recipients(),
		store.Templates(),
		store.Channels(),
		store.AuditLogs(),
		NewRecipientResolver(store.Contacts(), store.CampaignGroups()),
		store.TxManager(),
		nil,
	)

	resp, err := flow.ListBatches(context.Background(), &dto.ListMassMessagesRequest{CompanyID: 1})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, assert.AnError)

	var bizErr *BusinessError
	require.True(t, errors.As(err, &bizErr))
	assert.Equal(t, "LIST_MASS_MESSAGES_FAILED", bizErr.Code)
}
