package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amirphl/massdispatch/app/dto"
	"github.com/amirphl/massdispatch/app/middleware"
	"github.com/amirphl/massdispatch/app/scheduler"
	businessflow "github.com/amirphl/massdispatch/business_flow"
	"github.com/amirphl/massdispatch/models"
	testingutil "github.com/amirphl/massdispatch/testing"
	"github.com/amirphl/massdispatch/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   dto.ErrorDetail `json:"error"`
}

type handlerFixture struct {
	app      *fiber.App
	store    *testingutil.MemoryStore
	channel  *models.Channel
	contacts []*models.Contact
}

// asCompany stands in for the auth middleware
func asCompany(companyID uint) fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Locals(middleware.LocalCompanyID, companyID)
		c.Locals(middleware.LocalUserID, uint(7))
		return c.Next()
	}
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	store := testingutil.NewMemoryStore()
	fx := &handlerFixture{store: store}
	fx.channel = store.AddChannel(&models.Channel{CompanyID: 1, Name: "main", InstanceName: "inst-1"})
	fx.contacts = []*models.Contact{
		store.AddContact(&models.Contact{CompanyID: 1, Name: "A", Phone: "+989120000001"}),
		store.AddContact(&models.Contact{CompanyID: 1, Name: "B", Phone: "+989120000002"}),
	}

	massFlow := businessflow.NewMassMessageFlow(
		store.Batches(),
		store.Recipients(),
		store.Templates(),
		store.Channels(),
		store.AuditLogs(),
		businessflow.NewRecipientResolver(store.Contacts(), store.CampaignGroups()),
		store.TxManager(),
		nil,
	)
	scheduledFlow := businessflow.NewScheduledMessageFlow(store.ScheduledMessages(), store.Contacts(), store.Channels(), store.AuditLogs(), store.TxManager())

	mass := NewMassMessageHandler(massFlow)
	scheduled := NewScheduledMessageHandler(scheduledFlow)

	app := fiber.New()
	api := app.Group("/api/v1", asCompany(1))
	api.Post("/mass-messages", mass.CreateMassMessage)
	api.Get("/mass-messages", mass.ListMassMessages)
	api.Get("/mass-messages/:uuid", mass.GetMassMessage)
	api.Get("/mass-messages/:uuid/recipients", mass.ListMassMessageRecipients)
	api.Get("/mass-messages/:uuid/report", mass.DownloadMassMessageReport)
	api.Post("/mass-messages/:uuid/cancel", mass.CancelMassMessage)
	api.Post("/scheduled-messages", scheduled.CreateScheduledMessage)
	api.Get("/scheduled-messages", scheduled.ListScheduledMessages)
	api.Put("/scheduled-messages/:uuid", scheduled.UpdateScheduledMessage)
	api.Post("/scheduled-messages/:uuid/cancel", scheduled.CancelScheduledMessage)

	anonymous := app.Group("/anon")
	anonymous.Get("/mass-messages", mass.ListMassMessages)

	fx.app = app
	return fx
}

func (fx *handlerFixture) do(t *testing.T, method, path string, body any) (*http.Response, apiEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := fx.app.Test(req)
	require.NoError(t, err)

	var env apiEnvelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp, env
}

func (fx *handlerFixture) createBatch(t *testing.T) dto.MassMessageBatchDTO {
	t.Helper()
	resp, env := fx.do(t, http.MethodPost, "/api/v1/mass-messages", map[string]any{
		"message_type": "custom",
		"body":         "Sale starts today",
		"target_type":  "contacts",
		"contact_ids":  []uint{fx.contacts[0].ID, fx.contacts[1].ID},
		"channel_id":   fx.channel.ID,
		"send_mode":    "immediate",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created dto.CreateMassMessageResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	return created.Batch
}

func TestMassMessageHandler_Create(t *testing.T) {
	fx := newHandlerFixture(t)

	batch := fx.createBatch(t)
	assert.Equal(t, string(models.BatchStatusScheduled), batch.Status)
	assert.Equal(t, 2, batch.TotalRecipients)
	assert.NotEmpty(t, batch.UUID)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{
			name:   "malformed json",
			body:   "not an object",
			status: fiber.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name:   "missing fields",
			body:   map[string]any{"message_type": "custom"},
			status: fiber.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name: "unknown channel",
			body: map[string]any{
				"message_type": "custom", "body": "x", "target_type": "manual",
				"phones": []string{"+1"}, "channel_id": 999, "send_mode": "immediate",
			},
			status: fiber.StatusNotFound,
			code:   "CHANNEL_NOT_FOUND",
		},
		{
			name: "scheduled in the past",
			body: map[string]any{
				"message_type": "custom", "body": "x", "target_type": "manual",
				"phones": []string{"+1"}, "channel_id": fx.channel.ID, "send_mode": "scheduled",
				"scheduled_at": time.Now().Add(-time.Hour).UTC(),
			},
			status: fiber.StatusBadRequest,
			code:   "MASS_MESSAGE_VALIDATION_FAILED",
		},
		{
			name: "no recipients",
			body: map[string]any{
				"message_type": "custom", "body": "x", "target_type": "contacts",
				"contact_ids": []uint{12345}, "channel_id": fx.channel.ID, "send_mode": "immediate",
			},
			status: fiber.StatusBadRequest,
			code:   "NO_RECIPIENTS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, env := fx.do(t, http.MethodPost, "/api/v1/mass-messages", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}

	t.Run("inactive channel", func(t *testing.T) {
		inactive := fx.store.AddChannel(&models.Channel{CompanyID: 1, Name: "off", InstanceName: "inst-off", Status: models.ActivityStatusInactive})
		resp, env := fx.do(t, http.MethodPost, "/api/v1/mass-messages", map[string]any{
			"message_type": "custom", "body": "x", "target_type": "manual",
			"phones": []string{"+1"}, "channel_id": inactive.ID, "send_mode": "immediate",
		})
		assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, "CHANNEL_INACTIVE", env.Error.Code)
	})
}

func TestMassMessageHandler_ReadAndCancel(t *testing.T) {
	fx := newHandlerFixture(t)
	batch := fx.createBatch(t)

	t.Run("get", func(t *testing.T) {
		resp, env := fx.do(t, http.MethodGet, "/api/v1/mass-messages/"+batch.UUID, nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		var got dto.GetMassMessageResponse
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, batch.UUID, got.Batch.UUID)
	})

	t.Run("unknown uuid", func(t *testing.T) {
		resp, env := fx.do(t, http.MethodGet, "/api/v1/mass-messages/00000000-0000-0000-0000-000000000000", nil)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "BATCH_NOT_FOUND", env.Error.Code)
	})

	t.Run("list", func(t *testing.T) {
		resp, env := fx.do(t, http.MethodGet, "/api/v1/mass-messages?status=scheduled&limit=500", nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		var got dto.ListMassMessagesResponse
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Len(t, got.Items, 1)
		assert.Equal(t, 100, got.Pagination.Limit)
	})

	t.Run("recipients", func(t *testing.T) {
		resp, env := fx.do(t, http.MethodGet, "/api/v1/mass-messages/"+batch.UUID+"/recipients", nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		var got dto.ListMassMessageRecipientsResponse
		require.NoError(t, json.Unmarshal(env.Data, &got))
		require.Len(t, got.Items, 2)
		assert.Equal(t, "+989120000001", got.Items[0].Address)
	})

	t.Run("report", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/mass-messages/"+batch.UUID+"/report", nil)
		resp, err := fx.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")

		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		book, err := excelize.OpenReader(bytes.NewReader(raw))
		require.NoError(t, err)
		defer func() { _ = book.Close() }()
		assert.Contains(t, book.GetSheetList(), "Recipients")
	})

	t.Run("cancel then cancel again", func(t *testing.T) {
		resp, env := fx.do(t, http.MethodPost, "/api/v1/mass-messages/"+batch.UUID+"/cancel", nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		var got dto.CancelMassMessageResponse
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, int64(2), got.CancelledRecipients)
		assert.Equal(t, string(models.BatchStatusCancelled), got.Batch.Status)

		resp, env = fx.do(t, http.MethodPost, "/api/v1/mass-messages/"+batch.UUID+"/cancel", nil)
		assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
		assert.Equal(t, "BATCH_NOT_CANCELLABLE", env.Error.Code)
	})

	t.Run("missing tenant", func(t *testing.T) {
		resp, env := fx.do(t, http.MethodGet, "/anon/mass-messages", nil)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "MISSING_COMPANY_ID", env.Error.Code)
	})
}

func TestScheduledMessageHandler(t *testing.T) {
	fx := newHandlerFixture(t)

	resp, env := fx.do(t, http.MethodPost, "/api/v1/scheduled-messages", map[string]any{
		"channel_id":   fx.channel.ID,
		"contact_id":   fx.contacts[0].ID,
		"body":         "see you tomorrow",
		"scheduled_at": time.Now().Add(time.Hour).UTC(),
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var created dto.ScheduledMessageResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, string(models.ScheduledMessageStatusPending), created.ScheduledMessage.Status)
	msgUUID := created.ScheduledMessage.UUID

	t.Run("past schedule time", func(t *testing.T) {
		resp, _ := fx.do(t, http.MethodPost, "/api/v1/scheduled-messages", map[string]any{
			"channel_id":   fx.channel.ID,
			"phone":        "+989120000009",
			"body":         "late",
			"scheduled_at": time.Now().Add(-time.Hour).UTC(),
		})
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("update", func(t *testing.T) {
		resp, env := fx.do(t, http.MethodPut, "/api/v1/scheduled-messages/"+msgUUID, map[string]any{"body": "changed"})
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		var updated dto.ScheduledMessageResponse
		require.NoError(t, json.Unmarshal(env.Data, &updated))
		assert.Equal(t, "changed", updated.ScheduledMessage.Body)
	})

	t.Run("list", func(t *testing.T) {
		resp, env := fx.do(t, http.MethodGet, "/api/v1/scheduled-messages", nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		var list dto.ListScheduledMessagesResponse
		require.NoError(t, json.Unmarshal(env.Data, &list))
		assert.Len(t, list.Items, 1)
	})

	t.Run("cancel then edit", func(t *testing.T) {
		resp, _ := fx.do(t, http.MethodPost, "/api/v1/scheduled-messages/"+msgUUID+"/cancel", nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		resp, _ = fx.do(t, http.MethodPut, "/api/v1/scheduled-messages/"+msgUUID, map[string]any{"body": "again"})
		assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	})

	t.Run("unknown message", func(t *testing.T) {
		resp, _ := fx.do(t, http.MethodPost, "/api/v1/scheduled-messages/00000000-0000-0000-0000-000000000000/cancel", nil)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})
}

type fakeScheduler struct {
	running  bool
	runs     int
	triggers int
	runCtx   context.Context
}

func (f *fakeScheduler) Status() scheduler.Status {
	return scheduler.Status{Running: f.running, TickCount: int64(f.runs)}
}

func (f *fakeScheduler) TriggerNow() bool {
	if !f.running {
		return false
	}
	f.triggers++
	return true
}

func (f *fakeScheduler) RunNow(ctx context.Context) (*scheduler.TickReport, error) {
	f.runs++
	f.runCtx = ctx
	return &scheduler.TickReport{BatchesDue: 1, BatchesCompleted: 1}, nil
}

func TestSchedulerHandler(t *testing.T) {
	fake := &fakeScheduler{}
	h := NewSchedulerHandler(fake)
	app := fiber.New()
	app.Post("/run", h.RunScheduler)
	app.Get("/status", h.GetSchedulerStatus)

	call := func(method, path string) (*http.Response, apiEnvelope) {
		resp, err := app.Test(httptest.NewRequest(method, path, nil))
		require.NoError(t, err)
		var env apiEnvelope
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		return resp, env
	}

	resp, env := call(http.MethodPost, "/run")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "SCHEDULER_NOT_RUNNING", env.Error.Code)

	fake.running = true
	resp, _ = call(http.MethodPost, "/run")
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, fake.triggers)

	resp, env = call(http.MethodPost, "/run?sync=true")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var run struct {
		Report scheduler.TickReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, 1, run.Report.BatchesCompleted)

	resp, env = call(http.MethodGet, "/status")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var status struct {
		Status scheduler.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.True(t, status.Status.Running)
	assert.Equal(t, int64(1), status.Status.TickCount)
}

func TestSchedulerHandler_SyncRunHasNoRequestDeadline(t *testing.T) {
	fake := &fakeScheduler{running: true}
	h := NewSchedulerHandler(fake)
	app := fiber.New()
	app.Post("/run", h.RunScheduler)

	req := httptest.NewRequest(http.MethodPost, "/run?sync=true", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.NotNil(t, fake.runCtx)
	_, hasDeadline := fake.runCtx.Deadline()
	assert.False(t, hasDeadline)
	// still usable after the handler released its request context
	assert.NoError(t, fake.runCtx.Err())
	assert.Equal(t, "req-42", fake.runCtx.Value(utils.RequestIDKey))
}
