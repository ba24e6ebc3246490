package handlers

import (
	"log"

	"github.com/amirphl/massdispatch/app/dto"
	"github.com/amirphl/massdispatch/app/middleware"
	businessflow "github.com/amirphl/massdispatch/business_flow"
	"github.com/gofiber/fiber/v3"
)

// ScheduledMessageHandlerInterface defines the contract for single scheduled message handlers
type ScheduledMessageHandlerInterface interface {
	CreateScheduledMessage(c fiber.Ctx) error
	ListScheduledMessages(c fiber.Ctx) error
	UpdateScheduledMessage(c fiber.Ctx) error
	CancelScheduledMessage(c fiber.Ctx) error
}

// ScheduledMessageHandler handles single scheduled message HTTP requests
type ScheduledMessageHandler struct {
	baseHandler
	flow businessflow.ScheduledMessageFlow
}

// NewScheduledMessageHandler creates a new scheduled message handler
func NewScheduledMessageHandler(flow businessflow.ScheduledMessageFlow) *ScheduledMessageHandler {
	return &ScheduledMessageHandler{
		baseHandler: newBaseHandler(),
		flow:        flow,
	}
}

// CreateScheduledMessage schedules one message for one recipient
// @Summary Create Scheduled Message
// @Tags Scheduled Messages
// @Accept json
// @Produce json
// @Param request body dto.CreateScheduledMessageRequest true "Scheduled message data"
// @Success 201 {object} dto.APIResponse{data=dto.ScheduledMessageResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Channel or contact not found"
// @Router /api/v1/scheduled-messages [post]
func (h *ScheduledMessageHandler) CreateScheduledMessage(c fiber.Ctx) error {
	companyID, ok, err := h.companyID(c)
	if !ok {
		return err
	}

	var req dto.CreateScheduledMessageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.CompanyID = companyID
	if userID, ok := middleware.GetUserIDFromContext(c); ok {
		req.UserID = userID
	}

	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := createRequestContext(c, "/api/v1/scheduled-messages")
	defer cancel()

	result, err := h.flow.CreateScheduledMessage(ctx, &req, clientMetadata(c))
	if err != nil {
		log.Println("Scheduled message creation failed", err)
		return h.businessErrorResponse(c, err, "Scheduled message creation failed", "SCHEDULED_MESSAGE_CREATION_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusCreated, result.Message, result)
}

// ListScheduledMessages lists the company's scheduled messages
// @Summary List Scheduled Messages
// @Tags Scheduled Messages
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Items per page" default(20)
// @Param status query string false "pending|processing|sent|failed|cancelled"
// @Success 200 {object} dto.APIResponse{data=dto.ListScheduledMessagesResponse}
// @Router /api/v1/scheduled-messages [get]
func (h *ScheduledMessageHandler) ListScheduledMessages(c fiber.Ctx) error {
	companyID, ok, err := h.companyID(c)
	if !ok {
		return err
	}

	page, limit := pageParams(c)
	req := &dto.ListScheduledMessagesRequest{
		CompanyID: companyID,
		Page:      page,
		Limit:     limit,
		Status:    optionalQuery(c, "status"),
	}

	ctx, cancel := createRequestContext(c, "/api/v1/scheduled-messages")
	defer cancel()

	result, err := h.flow.ListScheduledMessages(ctx, req)
	if err != nil {
		log.Println("Scheduled message listing failed", err)
		return h.businessErrorResponse(c, err, "Failed to list scheduled messages", "LIST_SCHEDULED_MESSAGES_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// UpdateScheduledMessage edits a message that is still pending
// @Summary Update Scheduled Message
// @Tags Scheduled Messages
// @Accept json
// @Produce json
// @Param uuid path string true "Scheduled message UUID"
// @Param request body dto.UpdateScheduledMessageRequest true "Fields to change"
// @Success 200 {object} dto.APIResponse{data=dto.ScheduledMessageResponse}
// @Failure 404 {object} dto.APIResponse "Scheduled message not found"
// @Failure 409 {object} dto.APIResponse "Scheduled message is no longer pending"
// @Router /api/v1/scheduled-messages/{uuid} [put]
func (h *ScheduledMessageHandler) UpdateScheduledMessage(c fiber.Ctx) error {
	companyID, ok, err := h.companyID(c)
	if !ok {
		return err
	}

	var req dto.UpdateScheduledMessageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.CompanyID = companyID
	req.UserID, _ = middleware.GetUserIDFromContext(c)
	req.UUID = c.Params("uuid")

	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := createRequestContext(c, "/api/v1/scheduled-messages/"+req.UUID)
	defer cancel()

	result, err := h.flow.UpdateScheduledMessage(ctx, &req, clientMetadata(c))
	if err != nil {
		log.Println("Scheduled message update failed", err)
		return h.businessErrorResponse(c, err, "Scheduled message update failed", "SCHEDULED_MESSAGE_UPDATE_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// CancelScheduledMessage cancels a message that is still pending
// @Summary Cancel Scheduled Message
// @Tags Scheduled Messages
// @Produce json
// @Param uuid path string true "Scheduled message UUID"
// @Success 200 {object} dto.APIResponse{data=dto.ScheduledMessageResponse}
// @Failure 404 {object} dto.APIResponse "Scheduled message not found"
// @Failure 409 {object} dto.APIResponse "Scheduled message is no longer pending"
// @Router /api/v1/scheduled-messages/{uuid}/cancel [post]
func (h *ScheduledMessageHandler) CancelScheduledMessage(c fiber.Ctx) error {
	companyID, ok, err := h.companyID(c)
	if !ok {
		return err
	}

	messageUUID := c.Params("uuid")
	ctx, cancel := createRequestContext(c, "/api/v1/scheduled-messages/"+messageUUID+"/cancel")
	defer cancel()

	userID, _ := middleware.GetUserIDFromContext(c)
	result, err := h.flow.CancelScheduledMessage(ctx, &dto.CancelScheduledMessageRequest{CompanyID: companyID, UserID: userID, UUID: messageUUID}, clientMetadata(c))
	if err != nil {
		return h.businessErrorResponse(c, err, "Scheduled message cancellation failed", "SCHEDULED_MESSAGE_CANCELLATION_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}
