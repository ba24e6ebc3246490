package dto

// SchedulerRunResponse represents the result of a manual scheduler run. Report is only set for
// synchronous runs.
type SchedulerRunResponse struct {
	Message   string `json:"message"`
	Triggered bool   `json:"triggered"`
	Report    any    `json:"report,omitempty"`
}

// SchedulerStatusResponse wraps the scheduler status snapshot
type SchedulerStatusResponse struct {
	Message string `json:"message"`
	Status  any    `json:"status"`
}
