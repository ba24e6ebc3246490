package businessflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/massdispatch/app/dto"
	"github.com/amirphl/massdispatch/models"
	"github.com/amirphl/massdispatch/repository"
	"github.com/amirphl/massdispatch/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DeliveryTrigger asks the delivery scheduler to look for due work without waiting for its next tick.
// It reports false when no scheduler loop is running.
type DeliveryTrigger interface {
	TriggerNow() bool
}

// MassMessageFlow handles the mass-message batch use cases
type MassMessageFlow interface {
	CreateBatch(ctx context.Context, req *dto.CreateMassMessageRequest, metadata *ClientMetadata) (*dto.CreateMassMessageResponse, error)
	GetBatch(ctx context.Context, req *dto.GetMassMessageRequest) (*dto.GetMassMessageResponse, error)
	ListBatches(ctx context.Context, req *dto.ListMassMessagesRequest) (*dto.ListMassMessagesResponse, error)
	ListRecipients(ctx context.Context, req *dto.ListMassMessageRecipientsRequest) (*dto.ListMassMessageRecipientsResponse, error)
	CancelBatch(ctx context.Context, req *dto.CancelMassMessageRequest, metadata *ClientMetadata) (*dto.CancelMassMessageResponse, error)
	ExportReport(ctx context.Context, req *dto.GetMassMessageRequest) (*dto.MassMessageReport, error)
}

// MassMessageFlowImpl implements the mass-message business flow
type MassMessageFlowImpl struct {
	batchRepo     repository.MassMessageBatchRepository
	recipientRepo repository.MassMessageRecipientRepository
	templateRepo  repository.MessageTemplateRepository
	channelRepo   repository.ChannelRepository
	auditRepo     repository.AuditLogRepository
	resolver      RecipientResolver
	materializer  *BatchMaterializer
	txManager     repository.TxManager
	trigger       DeliveryTrigger
}

// NewMassMessageFlow creates a new mass-message flow instance. trigger may be nil, in which
// case immediate batches wait for the next scheduler tick.
func NewMassMessageFlow(
	batchRepo repository.MassMessageBatchRepository,
	recipientRepo repository.MassMessageRecipientRepository,
	templateRepo repository.MessageTemplateRepository,
	channelRepo repository.ChannelRepository,
	auditRepo repository.AuditLogRepository,
	resolver RecipientResolver,
	txManager repository.TxManager,
	trigger DeliveryTrigger,
) MassMessageFlow {
	return &MassMessageFlowImpl{
		batchRepo:     batchRepo,
		recipientRepo: recipientRepo,
		templateRepo:  templateRepo,
		channelRepo:   channelRepo,
		auditRepo:     auditRepo,
		resolver:      resolver,
		materializer:  NewBatchMaterializer(batchRepo, recipientRepo),
		txManager:     txManager,
		trigger:       trigger,
	}
}

// CreateBatch validates the request, resolves recipients, renders the body and persists the
// batch with all of its recipients and its audit row in one transaction.
func (f *MassMessageFlowImpl) CreateBatch(ctx context.Context, req *dto.CreateMassMessageRequest, metadata *ClientMetadata) (*dto.CreateMassMessageResponse, error) {
	resp, err := f.createBatch(ctx, req, metadata)
	if err != nil {
		auditFailure(ctx, f.auditRepo, req.CompanyID, req.UserID, models.AuditActionMassMessageCreationFailed, "Mass message creation failed", err, metadata)
		return nil, err
	}
	return resp, nil
}

func (f *MassMessageFlowImpl) createBatch(ctx context.Context, req *dto.CreateMassMessageRequest, metadata *ClientMetadata) (*dto.CreateMassMessageResponse, error) {
	now := utils.UTCNow()
	if err := f.validateCreateBatchRequest(req, now); err != nil {
		return nil, NewBusinessError("MASS_MESSAGE_VALIDATION_FAILED", "Mass message validation failed", err)
	}

	channel, err := f.channelRepo.ByIDForCompany(ctx, req.CompanyID, req.ChannelID)
	if err != nil {
		return nil, NewBusinessError("CHANNEL_LOOKUP_FAILED", "Failed to lookup channel", err)
	}
	if channel == nil {
		return nil, NewBusinessError("CHANNEL_NOT_FOUND", "Channel not found", ErrChannelNotFound)
	}
	if !channel.IsActive() {
		return nil, NewBusinessError("CHANNEL_INACTIVE", "Channel is inactive", ErrChannelInactive)
	}

	var template *models.MessageTemplate
	if models.MessageType(req.MessageType) == models.MessageTypeTemplate {
		template, err = f.templateRepo.ByIDForCompany(ctx, req.CompanyID, *req.TemplateID)
		if err != nil {
			return nil, NewBusinessError("TEMPLATE_LOOKUP_FAILED", "Failed to lookup template", err)
		}
		if template == nil {
			return nil, NewBusinessError("TEMPLATE_NOT_FOUND", "Template not found", ErrTemplateNotFound)
		}
	}

	selector := RecipientSelector{
		ContactIDs:  req.ContactIDs,
		CampaignIDs: req.CampaignIDs,
		Phones:      req.Phones,
	}
	recipients, err := f.resolver.Resolve(ctx, req.CompanyID, models.TargetType(req.TargetType), selector)
	if err != nil {
		return nil, NewBusinessError("RECIPIENT_RESOLUTION_FAILED", "Failed to resolve recipients", err)
	}
	if len(recipients) == 0 {
		return nil, NewBusinessError("NO_RECIPIENTS", "No recipients resolved", ErrNoRecipients)
	}

	batch := f.newBatch(req, now)

	err = f.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if template != nil {
			batch.TemplateID = &template.ID
			batch.Body = RenderTemplate(template.Body, template.Variables, req.TemplateValues)
			if err := f.templateRepo.IncrementUsage(txCtx, template.ID); err != nil {
				return err
			}
		}

		if _, err := f.materializer.Materialize(txCtx, batch, recipients); err != nil {
			return err
		}

		msg := fmt.Sprintf("Mass message created: batch=%s recipients=%d due_at=%s",
			batch.UUID, batch.TotalRecipients, batch.DueAt.Format(time.RFC3339))
		return createAuditLog(txCtx, f.auditRepo, req.CompanyID, req.UserID, models.AuditActionMassMessageCreated, msg, true, nil, metadata)
	})
	if err != nil {
		if IsNoRecipients(err) {
			return nil, NewBusinessError("NO_RECIPIENTS", "No recipients resolved", err)
		}
		return nil, NewBusinessError("MASS_MESSAGE_CREATION_FAILED", "Mass message creation failed", err)
	}

	if batch.SendMode == models.SendModeImmediate && f.trigger != nil {
		_ = f.trigger.TriggerNow()
	}

	return &dto.CreateMassMessageResponse{
		Message: "Mass message scheduled successfully",
		Batch:   ToMassMessageBatchDTO(batch),
	}, nil
}

func (f *MassMessageFlowImpl) newBatch(req *dto.CreateMassMessageRequest, now time.Time) *models.MassMessageBatch {
	mode := models.SendMode(req.SendMode)
	dueAt := now
	var scheduledAt *time.Time
	if mode == models.SendModeScheduled {
		scheduledAt = utils.TimeToUTCPtr(req.ScheduledAt)
		dueAt = *scheduledAt
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	var body string
	if req.Body != nil {
		body = strings.TrimSpace(*req.Body)
	}

	return &models.MassMessageBatch{
		CompanyID:            req.CompanyID,
		CreatedBy:            req.UserID,
		MessageType:          models.MessageType(req.MessageType),
		Body:                 body,
		TemplateValues:       models.TemplateValues(req.TemplateValues),
		TargetType:           models.TargetType(req.TargetType),
		ContactIDs:           toInt64Array(req.ContactIDs),
		CampaignIDs:          toInt64Array(req.CampaignIDs),
		ManualPhones:         pq.StringArray(req.Phones),
		ChannelID:            req.ChannelID,
		SendMode:             mode,
		ScheduledAt:          scheduledAt,
		DueAt:                dueAt,
		Timezone:             timezone,
		DelayBetweenGroups:   req.DelayBetweenGroups,
		DelayBetweenMessages: req.DelayBetweenMessages,
		Status:               models.BatchStatusScheduled,
	}
}

// GetBatch returns one batch of the company
func (f *MassMessageFlowImpl) GetBatch(ctx context.Context, req *dto.GetMassMessageRequest) (*dto.GetMassMessageResponse, error) {
	batch, err := f.findBatch(ctx, req.CompanyID, req.UUID)
	if err != nil {
		return nil, err
	}
	return &dto.GetMassMessageResponse{
		Message: "Mass message retrieved successfully",
		Batch:   ToMassMessageBatchDTO(batch),
	}, nil
}

// ListBatches returns the company's batches with pagination and an optional status filter
func (f *MassMessageFlowImpl) ListBatches(ctx context.Context, req *dto.ListMassMessagesRequest) (*dto.ListMassMessagesResponse, error) {
	page, limit, offset := normalizePagination(req.Page, req.Limit)

	filter := models.MassMessageBatchFilter{CompanyID: &req.CompanyID}
	if req.Status != nil && *req.Status != "" {
		status := models.BatchStatus(*req.Status)
		if status.Valid() {
			filter.Status = &status
		}
	}

	orderBy := "created_at DESC, id DESC"
	if req.OrderBy == "oldest" {
		orderBy = "created_at ASC, id ASC"
	}

	total, err := f.batchRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_MASS_MESSAGES_FAILED", "Failed to list mass messages", err)
	}
	rows, err := f.batchRepo.ByFilter(ctx, filter, orderBy, limit, offset)
	if err != nil {
		return nil, NewBusinessError("LIST_MASS_MESSAGES_FAILED", "Failed to list mass messages", err)
	}

	items := make([]dto.MassMessageBatchDTO, 0, len(rows))
	for _, b := range rows {
		items = append(items, ToMassMessageBatchDTO(b))
	}

	return &dto.ListMassMessagesResponse{
		Message:    "Mass messages retrieved successfully",
		Items:      items,
		Pagination: buildPagination(total, page, limit),
	}, nil
}

// ListRecipients returns the recipients of one batch in delivery order
func (f *MassMessageFlowImpl) ListRecipients(ctx context.Context, req *dto.ListMassMessageRecipientsRequest) (*dto.ListMassMessageRecipientsResponse, error) {
	batch, err := f.findBatch(ctx, req.CompanyID, req.UUID)
	if err != nil {
		return nil, err
	}

	page, limit, offset := normalizePagination(req.Page, req.Limit)
	filter := models.MassMessageRecipientFilter{BatchID: &batch.ID}
	if req.Status != nil && *req.Status != "" {
		status := models.RecipientStatus(*req.Status)
		if status.Valid() {
			filter.Status = &status
		}
	}

	total, err := f.recipientRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_RECIPIENTS_FAILED", "Failed to list recipients", err)
	}
	rows, err := f.recipientRepo.ByFilter(ctx, filter, "scheduled_at ASC, id ASC", limit, offset)
	if err != nil {
		return nil, NewBusinessError("LIST_RECIPIENTS_FAILED", "Failed to list recipients", err)
	}

	items := make([]dto.MassMessageRecipientDTO, 0, len(rows))
	for _, r := range rows {
		items = append(items, ToMassMessageRecipientDTO(r))
	}

	return &dto.ListMassMessageRecipientsResponse{
		Message:    "Recipients retrieved successfully",
		Items:      items,
		Pagination: buildPagination(total, page, limit),
	}, nil
}

// CancelBatch cancels a batch and every recipient not yet reached. A batch already being
// delivered notices the cancellation before its next recipient.
func (f *MassMessageFlowImpl) CancelBatch(ctx context.Context, req *dto.CancelMassMessageRequest, metadata *ClientMetadata) (*dto.CancelMassMessageResponse, error) {
	resp, err := f.cancelBatch(ctx, req, metadata)
	if err != nil {
		auditFailure(ctx, f.auditRepo, req.CompanyID, req.UserID, models.AuditActionMassMessageCancellationFailed,
			fmt.Sprintf("Mass message cancellation failed: batch=%s", req.UUID), err, metadata)
		return nil, err
	}
	return resp, nil
}

func (f *MassMessageFlowImpl) cancelBatch(ctx context.Context, req *dto.CancelMassMessageRequest, metadata *ClientMetadata) (*dto.CancelMassMessageResponse, error) {
	batch, err := f.findBatch(ctx, req.CompanyID, req.UUID)
	if err != nil {
		return nil, err
	}
	if !batch.IsCancellable() {
		return nil, NewBusinessError("BATCH_NOT_CANCELLABLE", "Batch can no longer be cancelled", ErrBatchNotCancellable)
	}

	var cancelled int64
	err = f.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := f.batchRepo.Cancel(txCtx, batch.ID, utils.UTCNow())
		if err != nil {
			return err
		}
		if !ok {
			return ErrBatchNotCancellable
		}

		cancelled, err = f.recipientRepo.CancelPendingByBatch(txCtx, batch.ID)
		if err != nil {
			return err
		}

		counts, err := f.recipientRepo.CountsByBatch(txCtx, batch.ID)
		if err != nil {
			return err
		}
		if err := f.batchRepo.UpdateCounters(txCtx, batch.ID, counts); err != nil {
			return err
		}

		msg := fmt.Sprintf("Mass message cancelled: batch=%s cancelled_recipients=%d", batch.UUID, cancelled)
		return createAuditLog(txCtx, f.auditRepo, req.CompanyID, req.UserID, models.AuditActionMassMessageCancelled, msg, true, nil, metadata)
	})
	if err != nil {
		if IsBatchNotCancellable(err) {
			return nil, NewBusinessError("BATCH_NOT_CANCELLABLE", "Batch can no longer be cancelled", err)
		}
		return nil, NewBusinessError("BATCH_CANCELLATION_FAILED", "Batch cancellation failed", err)
	}

	updated, err := f.batchRepo.ByID(ctx, batch.ID)
	if err != nil {
		return nil, NewBusinessError("BATCH_LOOKUP_FAILED", "Failed to reload batch", err)
	}
	if updated == nil {
		updated = batch
	}

	return &dto.CancelMassMessageResponse{
		Message:             "Mass message cancelled successfully",
		CancelledRecipients: cancelled,
		Batch:               ToMassMessageBatchDTO(updated),
	}, nil
}

func (f *MassMessageFlowImpl) findBatch(ctx context.Context, companyID uint, rawUUID string) (*models.MassMessageBatch, error) {
	id, err := uuid.Parse(strings.TrimSpace(rawUUID))
	if err != nil {
		return nil, NewBusinessError("BATCH_NOT_FOUND", "Batch not found", ErrBatchNotFound)
	}
	batch, err := f.batchRepo.ByUUID(ctx, companyID, id)
	if err != nil {
		return nil, NewBusinessError("BATCH_LOOKUP_FAILED", "Failed to lookup batch", err)
	}
	if batch == nil {
		return nil, NewBusinessError("BATCH_NOT_FOUND", "Batch not found", ErrBatchNotFound)
	}
	return batch, nil
}

// validateCreateBatchRequest validates the business rules of a batch creation request
func (f *MassMessageFlowImpl) validateCreateBatchRequest(req *dto.CreateMassMessageRequest, now time.Time) error {
	if !models.MessageType(req.MessageType).Valid() {
		return ErrInvalidMessageType
	}
	if !models.TargetType(req.TargetType).Valid() {
		return ErrInvalidTargetType
	}
	if !models.SendMode(req.SendMode).Valid() {
		return ErrInvalidSendMode
	}
	if req.DelayBetweenGroups < 0 || req.DelayBetweenMessages < 0 {
		return ErrInvalidDelay
	}
	if err := utils.ValidateTimezone(req.Timezone); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTimezone, err)
	}

	selector := RecipientSelector{ContactIDs: req.ContactIDs, CampaignIDs: req.CampaignIDs, Phones: req.Phones}
	own := selector.Only(models.TargetType(req.TargetType))
	if own.IsEmpty() {
		return ErrTargetRequired
	}
	if own.Size() != selector.Size() {
		return ErrSelectorMismatch
	}

	switch models.MessageType(req.MessageType) {
	case models.MessageTypeTemplate:
		if req.TemplateID == nil || *req.TemplateID == 0 {
			return ErrTemplateIDRequired
		}
	case models.MessageTypeCustom:
		if req.Body == nil || strings.TrimSpace(*req.Body) == "" {
			return ErrBodyRequired
		}
	}

	if models.SendMode(req.SendMode) == models.SendModeScheduled {
		if req.ScheduledAt == nil {
			return ErrScheduleTimeNotPresent
		}
		if !req.ScheduledAt.After(now) {
			return ErrScheduleTimeInPast
		}
	}

	return nil
}

// ToMassMessageBatchDTO converts a batch model to its public view
func ToMassMessageBatchDTO(b *models.MassMessageBatch) dto.MassMessageBatchDTO {
	return dto.MassMessageBatchDTO{
		UUID:                 b.UUID.String(),
		Status:               b.Status.String(),
		MessageType:          string(b.MessageType),
		TemplateID:           b.TemplateID,
		Body:                 b.Body,
		TargetType:           string(b.TargetType),
		ChannelID:            b.ChannelID,
		SendMode:             string(b.SendMode),
		ScheduledAt:          b.ScheduledAt,
		DueAt:                b.DueAt,
		Timezone:             b.Timezone,
		DelayBetweenGroups:   b.DelayBetweenGroups,
		DelayBetweenMessages: b.DelayBetweenMessages,
		TotalRecipients:      b.TotalRecipients,
		SentCount:            b.SentCount,
		FailedCount:          b.FailedCount,
		PendingCount:         b.PendingCount(),
		ErrorMessage:         b.ErrorMessage,
		StartedAt:            b.StartedAt,
		CompletedAt:          b.CompletedAt,
		CreatedAt:            b.CreatedAt,
	}
}

// ToMassMessageRecipientDTO converts a recipient model to its public view
func ToMassMessageRecipientDTO(r *models.MassMessageRecipient) dto.MassMessageRecipientDTO {
	return dto.MassMessageRecipientDTO{
		UUID:             r.UUID.String(),
		TargetType:       string(r.TargetType),
		ExternalID:       r.ExternalID,
		Address:          r.Address,
		DisplayName:      r.DisplayName,
		ScheduledAt:      r.ScheduledAt,
		Status:           r.Status.String(),
		FailureReason:    r.FailureReason,
		GatewayMessageID: r.GatewayMessageID,
		SentAt:           r.SentAt,
	}
}

func toInt64Array(ids []uint) pq.Int64Array {
	if len(ids) == 0 {
		return nil
	}
	out := make(pq.Int64Array, 0, len(ids))
	for _, id := range ids {
		out = append(out, int64(id))
	}
	return out
}

func normalizePagination(page, limit int) (int, int, int) {
	page = max(1, page)
	if limit <= 0 {
		limit = utils.DefaultPageSize
	}
	if limit > utils.MaxPageSize {
		limit = utils.MaxPageSize
	}
	return page, limit, (page - 1) * limit
}

func buildPagination(total int64, page, limit int) dto.PaginationInfo {
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return dto.PaginationInfo{
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}
}
