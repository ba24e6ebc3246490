package businessflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/massdispatch/app/dto"
	"github.com/amirphl/massdispatch/models"
	"github.com/amirphl/massdispatch/repository"
	"github.com/amirphl/massdispatch/utils"
	"github.com/google/uuid"
)

// ScheduledMessageFlow handles single-recipient scheduled messages
type ScheduledMessageFlow interface {
	CreateScheduledMessage(ctx context.Context, req *dto.CreateScheduledMessageRequest, metadata *ClientMetadata) (*dto.ScheduledMessageResponse, error)
	UpdateScheduledMessage(ctx context.Context, req *dto.UpdateScheduledMessageRequest, metadata *ClientMetadata) (*dto.ScheduledMessageResponse, error)
	CancelScheduledMessage(ctx context.Context, req *dto.CancelScheduledMessageRequest, metadata *ClientMetadata) (*dto.ScheduledMessageResponse, error)
	ListScheduledMessages(ctx context.Context, req *dto.ListScheduledMessagesRequest) (*dto.ListScheduledMessagesResponse, error)
}

// ScheduledMessageFlowImpl implements ScheduledMessageFlow
type ScheduledMessageFlowImpl struct {
	messageRepo repository.ScheduledMessageRepository
	contactRepo repository.ContactRepository
	channelRepo repository.ChannelRepository
	auditRepo   repository.AuditLogRepository
	txManager   repository.TxManager
}

// NewScheduledMessageFlow creates a new scheduled message flow
func NewScheduledMessageFlow(
	messageRepo repository.ScheduledMessageRepository,
	contactRepo repository.ContactRepository,
	channelRepo repository.ChannelRepository,
	auditRepo repository.AuditLogRepository,
	txManager repository.TxManager,
) ScheduledMessageFlow {
	return &ScheduledMessageFlowImpl{
		messageRepo: messageRepo,
		contactRepo: contactRepo,
		channelRepo: channelRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
	}
}

// CreateScheduledMessage stores a pending message due strictly in the future
func (f *ScheduledMessageFlowImpl) CreateScheduledMessage(ctx context.Context, req *dto.CreateScheduledMessageRequest, metadata *ClientMetadata) (*dto.ScheduledMessageResponse, error) {
	resp, err := f.createScheduledMessage(ctx, req, metadata)
	if err != nil {
		auditFailure(ctx, f.auditRepo, req.CompanyID, req.UserID, models.AuditActionScheduledMessageCreationFailed,
			"Scheduled message creation failed", err, metadata)
		return nil, err
	}
	return resp, nil
}

func (f *ScheduledMessageFlowImpl) createScheduledMessage(ctx context.Context, req *dto.CreateScheduledMessageRequest, metadata *ClientMetadata) (*dto.ScheduledMessageResponse, error) {
	msg := &models.ScheduledMessage{
		CompanyID:   req.CompanyID,
		CreatedBy:   req.UserID,
		ChannelID:   req.ChannelID,
		ContactID:   req.ContactID,
		Phone:       normalizePhonePtr(req.Phone),
		Body:        strings.TrimSpace(req.Body),
		MessageType: models.MessageType(req.MessageType),
		ScheduledAt: req.ScheduledAt.UTC(),
		Timezone:    req.Timezone,
		Status:      models.ScheduledMessageStatusPending,
	}
	if msg.MessageType == "" {
		msg.MessageType = models.MessageTypeCustom
	}
	if msg.Timezone == "" {
		msg.Timezone = "UTC"
	}

	if err := f.validateMessage(ctx, msg, utils.UTCNow()); err != nil {
		return nil, err
	}

	err := f.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := f.messageRepo.Save(txCtx, msg); err != nil {
			return err
		}
		desc := fmt.Sprintf("Scheduled message created: message=%s scheduled_at=%s", msg.UUID, msg.ScheduledAt.Format(time.RFC3339))
		return createAuditLog(txCtx, f.auditRepo, req.CompanyID, req.UserID, models.AuditActionScheduledMessageCreated, desc, true, nil, metadata)
	})
	if err != nil {
		return nil, NewBusinessError("SCHEDULED_MESSAGE_CREATION_FAILED", "Scheduled message creation failed", err)
	}

	return &dto.ScheduledMessageResponse{
		Message:          "Message scheduled successfully",
		ScheduledMessage: ToScheduledMessageDTO(msg),
	}, nil
}

// UpdateScheduledMessage changes a message that has not been picked up yet
func (f *ScheduledMessageFlowImpl) UpdateScheduledMessage(ctx context.Context, req *dto.UpdateScheduledMessageRequest, metadata *ClientMetadata) (*dto.ScheduledMessageResponse, error) {
	resp, err := f.updateScheduledMessage(ctx, req, metadata)
	if err != nil {
		auditFailure(ctx, f.auditRepo, req.CompanyID, req.UserID, models.AuditActionScheduledMessageUpdateFailed,
			fmt.Sprintf("Scheduled message update failed: message=%s", req.UUID), err, metadata)
		return nil, err
	}
	return resp, nil
}

func (f *ScheduledMessageFlowImpl) updateScheduledMessage(ctx context.Context, req *dto.UpdateScheduledMessageRequest, metadata *ClientMetadata) (*dto.ScheduledMessageResponse, error) {
	msg, err := f.findMessage(ctx, req.CompanyID, req.UUID)
	if err != nil {
		return nil, err
	}
	if !msg.IsEditable() {
		return nil, NewBusinessError("SCHEDULED_MESSAGE_NOT_EDITABLE", "Scheduled message can no longer be changed", ErrScheduledMessageNotEditable)
	}

	if req.ChannelID != nil {
		msg.ChannelID = *req.ChannelID
	}
	if req.ContactID != nil {
		msg.ContactID = req.ContactID
	}
	if req.Phone != nil {
		msg.Phone = normalizePhonePtr(req.Phone)
	}
	if req.Body != nil {
		msg.Body = strings.TrimSpace(*req.Body)
	}
	if req.ScheduledAt != nil {
		msg.ScheduledAt = req.ScheduledAt.UTC()
	}
	if req.Timezone != nil {
		msg.Timezone = *req.Timezone
		if msg.Timezone == "" {
			msg.Timezone = "UTC"
		}
	}

	if err := f.validateMessage(ctx, msg, utils.UTCNow()); err != nil {
		return nil, err
	}

	err = f.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := f.messageRepo.UpdatePending(txCtx, msg)
		if err != nil {
			return err
		}
		if !ok {
			return ErrScheduledMessageNotEditable
		}
		desc := fmt.Sprintf("Scheduled message updated: message=%s scheduled_at=%s", msg.UUID, msg.ScheduledAt.Format(time.RFC3339))
		return createAuditLog(txCtx, f.auditRepo, req.CompanyID, req.UserID, models.AuditActionScheduledMessageUpdated, desc, true, nil, metadata)
	})
	if err != nil {
		if errors.Is(err, ErrScheduledMessageNotEditable) {
			return nil, NewBusinessError("SCHEDULED_MESSAGE_NOT_EDITABLE", "Scheduled message can no longer be changed", err)
		}
		return nil, NewBusinessError("SCHEDULED_MESSAGE_UPDATE_FAILED", "Scheduled message update failed", err)
	}

	return &dto.ScheduledMessageResponse{
		Message:          "Scheduled message updated successfully",
		ScheduledMessage: ToScheduledMessageDTO(msg),
	}, nil
}

// CancelScheduledMessage cancels a message that has not been picked up yet
func (f *ScheduledMessageFlowImpl) CancelScheduledMessage(ctx context.Context, req *dto.CancelScheduledMessageRequest, metadata *ClientMetadata) (*dto.ScheduledMessageResponse, error) {
	resp, err := f.cancelScheduledMessage(ctx, req, metadata)
	if err != nil {
		auditFailure(ctx, f.auditRepo, req.CompanyID, req.UserID, models.AuditActionScheduledMessageCancelFailed,
			fmt.Sprintf("Scheduled message cancellation failed: message=%s", req.UUID), err, metadata)
		return nil, err
	}
	return resp, nil
}

func (f *ScheduledMessageFlowImpl) cancelScheduledMessage(ctx context.Context, req *dto.CancelScheduledMessageRequest, metadata *ClientMetadata) (*dto.ScheduledMessageResponse, error) {
	msg, err := f.findMessage(ctx, req.CompanyID, req.UUID)
	if err != nil {
		return nil, err
	}

	err = f.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := f.messageRepo.CancelPending(txCtx, msg.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrScheduledMessageNotEditable
		}
		desc := fmt.Sprintf("Scheduled message cancelled: message=%s", msg.UUID)
		return createAuditLog(txCtx, f.auditRepo, req.CompanyID, req.UserID, models.AuditActionScheduledMessageCancelled, desc, true, nil, metadata)
	})
	if err != nil {
		if errors.Is(err, ErrScheduledMessageNotEditable) {
			return nil, NewBusinessError("SCHEDULED_MESSAGE_NOT_EDITABLE", "Scheduled message can no longer be cancelled", err)
		}
		return nil, NewBusinessError("SCHEDULED_MESSAGE_CANCELLATION_FAILED", "Scheduled message cancellation failed", err)
	}
	msg.Status = models.ScheduledMessageStatusCancelled

	return &dto.ScheduledMessageResponse{
		Message:          "Scheduled message cancelled successfully",
		ScheduledMessage: ToScheduledMessageDTO(msg),
	}, nil
}

// ListScheduledMessages returns the company's scheduled messages, soonest first
func (f *ScheduledMessageFlowImpl) ListScheduledMessages(ctx context.Context, req *dto.ListScheduledMessagesRequest) (*dto.ListScheduledMessagesResponse, error) {
	page, limit, offset := normalizePagination(req.Page, req.Limit)

	filter := models.ScheduledMessageFilter{CompanyID: &req.CompanyID}
	if req.Status != nil && *req.Status != "" {
		status := models.ScheduledMessageStatus(*req.Status)
		if status.Valid() {
			filter.Status = &status
		}
	}

	total, err := f.messageRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_SCHEDULED_MESSAGES_FAILED", "Failed to list scheduled messages", err)
	}
	rows, err := f.messageRepo.ByFilter(ctx, filter, "scheduled_at ASC, id ASC", limit, offset)
	if err != nil {
		return nil, NewBusinessError("LIST_SCHEDULED_MESSAGES_FAILED", "Failed to list scheduled messages", err)
	}

	items := make([]dto.ScheduledMessageDTO, 0, len(rows))
	for _, m := range rows {
		items = append(items, ToScheduledMessageDTO(m))
	}

	return &dto.ListScheduledMessagesResponse{
		Message:    "Scheduled messages retrieved successfully",
		Items:      items,
		Pagination: buildPagination(total, page, limit),
	}, nil
}

// validateMessage checks the target, the channel and that the due time is strictly in the future
func (f *ScheduledMessageFlowImpl) validateMessage(ctx context.Context, msg *models.ScheduledMessage, now time.Time) error {
	if msg.Body == "" {
		return NewBusinessError("SCHEDULED_MESSAGE_VALIDATION_FAILED", "Message body is required", ErrBodyRequired)
	}
	if !msg.MessageType.Valid() {
		return NewBusinessError("SCHEDULED_MESSAGE_VALIDATION_FAILED", "Invalid message type", ErrInvalidMessageType)
	}
	if msg.ContactID == nil && (msg.Phone == nil || *msg.Phone == "") {
		return NewBusinessError("SCHEDULED_MESSAGE_VALIDATION_FAILED", "A contact or a phone is required", ErrTargetRequired)
	}
	if !msg.ScheduledAt.After(now) {
		return NewBusinessError("SCHEDULED_MESSAGE_VALIDATION_FAILED", "Schedule time must be in the future", ErrScheduleTimeInPast)
	}
	if err := utils.ValidateTimezone(msg.Timezone); err != nil {
		return NewBusinessError("SCHEDULED_MESSAGE_VALIDATION_FAILED", "Invalid timezone", fmt.Errorf("%w: %v", ErrInvalidTimezone, err))
	}

	channel, err := f.channelRepo.ByIDForCompany(ctx, msg.CompanyID, msg.ChannelID)
	if err != nil {
		return NewBusinessError("CHANNEL_LOOKUP_FAILED", "Failed to lookup channel", err)
	}
	if channel == nil {
		return NewBusinessError("CHANNEL_NOT_FOUND", "Channel not found", ErrChannelNotFound)
	}
	if !channel.IsActive() {
		return NewBusinessError("CHANNEL_INACTIVE", "Channel is inactive", ErrChannelInactive)
	}

	if msg.ContactID != nil {
		contact, err := f.contactRepo.ByID(ctx, *msg.ContactID)
		if err != nil {
			return NewBusinessError("CONTACT_LOOKUP_FAILED", "Failed to lookup contact", err)
		}
		if contact == nil || contact.CompanyID != msg.CompanyID {
			return NewBusinessError("CONTACT_NOT_FOUND", "Contact not found", ErrContactNotFound)
		}
	}

	return nil
}

func (f *ScheduledMessageFlowImpl) findMessage(ctx context.Context, companyID uint, rawUUID string) (*models.ScheduledMessage, error) {
	id, err := uuid.Parse(strings.TrimSpace(rawUUID))
	if err != nil {
		return nil, NewBusinessError("SCHEDULED_MESSAGE_NOT_FOUND", "Scheduled message not found", ErrScheduledMessageNotFound)
	}
	msg, err := f.messageRepo.ByUUID(ctx, companyID, id)
	if err != nil {
		return nil, NewBusinessError("SCHEDULED_MESSAGE_LOOKUP_FAILED", "Failed to lookup scheduled message", err)
	}
	if msg == nil {
		return nil, NewBusinessError("SCHEDULED_MESSAGE_NOT_FOUND", "Scheduled message not found", ErrScheduledMessageNotFound)
	}
	return msg, nil
}

// ToScheduledMessageDTO converts a scheduled message model to its public view
func ToScheduledMessageDTO(m *models.ScheduledMessage) dto.ScheduledMessageDTO {
	return dto.ScheduledMessageDTO{
		UUID:             m.UUID.String(),
		ChannelID:        m.ChannelID,
		ContactID:        m.ContactID,
		Phone:            m.Phone,
		Body:             m.Body,
		MessageType:      string(m.MessageType),
		ScheduledAt:      m.ScheduledAt,
		Timezone:         m.Timezone,
		Status:           m.Status.String(),
		FailureReason:    m.FailureReason,
		GatewayMessageID: m.GatewayMessageID,
		SentAt:           m.SentAt,
		CreatedAt:        m.CreatedAt,
	}
}

func normalizePhonePtr(phone *string) *string {
	if phone == nil {
		return nil
	}
	p := utils.NormalizePhone(*phone)
	if p == "" {
		return nil
	}
	return &p
}
