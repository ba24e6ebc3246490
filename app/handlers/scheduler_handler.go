package handlers

import (
	"context"
	"log"

	"github.com/amirphl/massdispatch/app/dto"
	"github.com/amirphl/massdispatch/app/scheduler"
	"github.com/gofiber/fiber/v3"
)

// SchedulerControl is the part of the delivery scheduler exposed to operators
type SchedulerControl interface {
	Status() scheduler.Status
	TriggerNow() bool
	RunNow(ctx context.Context) (*scheduler.TickReport, error)
}

// SchedulerHandlerInterface defines the contract for scheduler handlers
type SchedulerHandlerInterface interface {
	RunScheduler(c fiber.Ctx) error
	GetSchedulerStatus(c fiber.Ctx) error
}

// SchedulerHandler exposes the operator controls of the delivery scheduler
type SchedulerHandler struct {
	baseHandler
	scheduler SchedulerControl
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(s SchedulerControl) *SchedulerHandler {
	return &SchedulerHandler{
		baseHandler: newBaseHandler(),
		scheduler:   s,
	}
}

// RunScheduler processes due work now. By default it wakes the running loop and returns 202;
// with sync=true it runs one full tick, however long it takes, and returns the tick report.
// @Summary Run Scheduler
// @Tags Admin Scheduler
// @Produce json
// @Param sync query bool false "Run the tick inside the request" default(false)
// @Success 200 {object} dto.APIResponse{data=dto.SchedulerRunResponse} "Tick finished"
// @Success 202 {object} dto.APIResponse{data=dto.SchedulerRunResponse} "Tick triggered"
// @Failure 403 {object} dto.APIResponse "Admin role required"
// @Failure 503 {object} dto.APIResponse "Scheduler not running"
// @Router /api/v1/admin/scheduler/run [post]
func (h *SchedulerHandler) RunScheduler(c fiber.Ctx) error {
	if c.Query("sync") == "true" {
		ctx, cancel := createRequestContext(c, "/api/v1/admin/scheduler/run")
		defer cancel()

		// the request deadline does not reach the tick; a paced batch runs to its end
		report, err := h.scheduler.RunNow(context.WithoutCancel(ctx))
		if err != nil {
			log.Println("Manual scheduler run failed", err)
			return h.ErrorResponse(c, fiber.StatusInternalServerError, "Scheduler run failed", "SCHEDULER_RUN_FAILED", err.Error())
		}
		return h.SuccessResponse(c, fiber.StatusOK, "Scheduler run finished", dto.SchedulerRunResponse{
			Message:   "Scheduler run finished",
			Triggered: true,
			Report:    report,
		})
	}

	if !h.scheduler.TriggerNow() {
		return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Scheduler is not running", "SCHEDULER_NOT_RUNNING", nil)
	}
	return h.SuccessResponse(c, fiber.StatusAccepted, "Scheduler run triggered", dto.SchedulerRunResponse{
		Message:   "Scheduler run triggered",
		Triggered: true,
	})
}

// GetSchedulerStatus reports whether the loop runs and what the last tick did
// @Summary Scheduler Status
// @Tags Admin Scheduler
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.SchedulerStatusResponse}
// @Failure 403 {object} dto.APIResponse "Admin role required"
// @Router /api/v1/admin/scheduler/status [get]
func (h *SchedulerHandler) GetSchedulerStatus(c fiber.Ctx) error {
	return h.SuccessResponse(c, fiber.StatusOK, "Scheduler status retrieved successfully", dto.SchedulerStatusResponse{
		Message: "Scheduler status retrieved successfully",
		Status:  h.scheduler.Status(),
	})
}
