package handlers

import (
	"log"

	"github.com/amirphl/massdispatch/app/dto"
	"github.com/amirphl/massdispatch/app/middleware"
	businessflow "github.com/amirphl/massdispatch/business_flow"
	"github.com/gofiber/fiber/v3"
)

// MassMessageHandlerInterface defines the contract for mass-message handlers
type MassMessageHandlerInterface interface {
	CreateMassMessage(c fiber.Ctx) error
	ListMassMessages(c fiber.Ctx) error
	GetMassMessage(c fiber.Ctx) error
	ListMassMessageRecipients(c fiber.Ctx) error
	CancelMassMessage(c fiber.Ctx) error
	DownloadMassMessageReport(c fiber.Ctx) error
}

// MassMessageHandler handles mass-message HTTP requests
type MassMessageHandler struct {
	baseHandler
	flow businessflow.MassMessageFlow
}

// NewMassMessageHandler creates a new mass-message handler
func NewMassMessageHandler(flow businessflow.MassMessageFlow) *MassMessageHandler {
	return &MassMessageHandler{
		baseHandler: newBaseHandler(),
		flow:        flow,
	}
}

// CreateMassMessage handles batch creation
// @Summary Create Mass Message
// @Description Resolve recipients, render the message and schedule one delivery row per recipient
// @Tags Mass Messages
// @Accept json
// @Produce json
// @Param request body dto.CreateMassMessageRequest true "Mass message data"
// @Success 201 {object} dto.APIResponse{data=dto.CreateMassMessageResponse} "Mass message scheduled"
// @Failure 400 {object} dto.APIResponse "Validation error or no recipients"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 404 {object} dto.APIResponse "Channel or template not found"
// @Failure 422 {object} dto.APIResponse "Channel inactive"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/mass-messages [post]
func (h *MassMessageHandler) CreateMassMessage(c fiber.Ctx) error {
	companyID, ok, err := h.companyID(c)
	if !ok {
		return err
	}

	var req dto.CreateMassMessageRequest
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

	ctx, cancel := createRequestContext(c, "/api/v1/mass-messages")
	defer cancel()

	result, err := h.flow.CreateBatch(ctx, &req, clientMetadata(c))
	if err != nil {
		log.Println("Mass message creation failed", err)
		return h.businessErrorResponse(c, err, "Mass message creation failed", "MASS_MESSAGE_CREATION_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusCreated, result.Message, result)
}

// ListMassMessages lists the company's batches
// @Summary List Mass Messages
// @Tags Mass Messages
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Items per page" default(20)
// @Param status query string false "scheduled|processing|completed|failed|cancelled"
// @Param orderby query string false "newest|oldest" default(newest)
// @Success 200 {object} dto.APIResponse{data=dto.ListMassMessagesResponse}
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/mass-messages [get]
func (h *MassMessageHandler) ListMassMessages(c fiber.Ctx) error {
	companyID, ok, err := h.companyID(c)
	if !ok {
		return err
	}

	page, limit := pageParams(c)
	req := &dto.ListMassMessagesRequest{
		CompanyID: companyID,
		Page:      page,
		Limit:     limit,
		Status:    optionalQuery(c, "status"),
		OrderBy:   c.Query("orderby", "newest"),
	}

	ctx, cancel := createRequestContext(c, "/api/v1/mass-messages")
	defer cancel()

	result, err := h.flow.ListBatches(ctx, req)
	if err != nil {
		log.Println("Mass message listing failed", err)
		return h.businessErrorResponse(c, err, "Failed to list mass messages", "LIST_MASS_MESSAGES_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// GetMassMessage returns one batch with its counters
// @Summary Get Mass Message
// @Tags Mass Messages
// @Produce json
// @Param uuid path string true "Batch UUID"
// @Success 200 {object} dto.APIResponse{data=dto.GetMassMessageResponse}
// @Failure 404 {object} dto.APIResponse "Batch not found"
// @Router /api/v1/mass-messages/{uuid} [get]
func (h *MassMessageHandler) GetMassMessage(c fiber.Ctx) error {
	companyID, ok, err := h.companyID(c)
	if !ok {
		return err
	}

	batchUUID := c.Params("uuid")
	ctx, cancel := createRequestContext(c, "/api/v1/mass-messages/"+batchUUID)
	defer cancel()

	result, err := h.flow.GetBatch(ctx, &dto.GetMassMessageRequest{CompanyID: companyID, UUID: batchUUID})
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to get mass message", "GET_MASS_MESSAGE_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// ListMassMessageRecipients lists the recipients of one batch in delivery order
// @Summary List Mass Message Recipients
// @Tags Mass Messages
// @Produce json
// @Param uuid path string true "Batch UUID"
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Items per page" default(20)
// @Param status query string false "pending|sent|failed|cancelled"
// @Success 200 {object} dto.APIResponse{data=dto.ListMassMessageRecipientsResponse}
// @Failure 404 {object} dto.APIResponse "Batch not found"
// @Router /api/v1/mass-messages/{uuid}/recipients [get]
func (h *MassMessageHandler) ListMassMessageRecipients(c fiber.Ctx) error {
	companyID, ok, err := h.companyID(c)
	if !ok {
		return err
	}

	batchUUID := c.Params("uuid")
	page, limit := pageParams(c)
	req := &dto.ListMassMessageRecipientsRequest{
		CompanyID: companyID,
		UUID:      batchUUID,
		Page:      page,
		Limit:     limit,
		Status:    optionalQuery(c, "status"),
	}

	ctx, cancel := createRequestContext(c, "/api/v1/mass-messages/"+batchUUID+"/recipients")
	defer cancel()

	result, err := h.flow.ListRecipients(ctx, req)
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to list recipients", "LIST_RECIPIENTS_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// CancelMassMessage cancels a scheduled or processing batch
// @Summary Cancel Mass Message
// @Tags Mass Messages
// @Produce json
// @Param uuid path string true "Batch UUID"
// @Success 200 {object} dto.APIResponse{data=dto.CancelMassMessageResponse}
// @Failure 404 {object} dto.APIResponse "Batch not found"
// @Failure 409 {object} dto.APIResponse "Batch is already terminal"
// @Router /api/v1/mass-messages/{uuid}/cancel [post]
func (h *MassMessageHandler) CancelMassMessage(c fiber.Ctx) error {
	companyID, ok, err := h.companyID(c)
	if !ok {
		return err
	}

	batchUUID := c.Params("uuid")
	ctx, cancel := createRequestContext(c, "/api/v1/mass-messages/"+batchUUID+"/cancel")
	defer cancel()

	userID, _ := middleware.GetUserIDFromContext(c)
	result, err := h.flow.CancelBatch(ctx, &dto.CancelMassMessageRequest{CompanyID: companyID, UserID: userID, UUID: batchUUID}, clientMetadata(c))
	if err != nil {
		log.Println("Mass message cancellation failed", err)
		return h.businessErrorResponse(c, err, "Mass message cancellation failed", "BATCH_CANCELLATION_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// DownloadMassMessageReport returns the delivery outcome of a batch as an Excel file
// @Summary Download Mass Message Report
// @Tags Mass Messages
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param uuid path string true "Batch UUID"
// @Success 200 {string} string "Excel file"
// @Failure 404 {object} dto.APIResponse "Batch not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/mass-messages/{uuid}/report [get]
func (h *MassMessageHandler) DownloadMassMessageReport(c fiber.Ctx) error {
	companyID, ok, err := h.companyID(c)
	if !ok {
		return err
	}

	batchUUID := c.Params("uuid")
	ctx, cancel := createRequestContext(c, "/api/v1/mass-messages/"+batchUUID+"/report")
	defer cancel()

	report, err := h.flow.ExportReport(ctx, &dto.GetMassMessageRequest{CompanyID: companyID, UUID: batchUUID})
	if err != nil {
		log.Println("Mass message report failed", err)
		return h.businessErrorResponse(c, err, "Failed to generate Excel", "DOWNLOAD_FAILED")
	}

	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", "attachment; filename="+report.FileName)
	return c.Send(report.Content)
}
