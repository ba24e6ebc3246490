// Package businessflow contains the core business logic and use cases for message delivery workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Resolution errors
	ErrNoRecipients       = errors.New("no recipients resolved")
	ErrTargetRequired     = errors.New("at least one recipient selector is required")
	ErrInvalidTargetType  = errors.New("invalid target type")
	ErrSelectorMismatch   = errors.New("selector lists must match the target type")
	ErrTemplateNotFound   = errors.New("template not found")
	ErrTemplateIDRequired = errors.New("template id is required for template messages")
	ErrBodyRequired       = errors.New("message body is required")
	ErrInvalidMessageType = errors.New("invalid message type")

	// Channel errors
	ErrChannelNotFound = errors.New("channel not found")
	ErrChannelInactive = errors.New("channel is inactive")

	// Scheduling errors
	ErrScheduleTimeNotPresent = errors.New("schedule time is not present")
	ErrScheduleTimeInPast     = errors.New("schedule time must be in the future")
	ErrInvalidSendMode        = errors.New("invalid send mode")
	ErrInvalidTimezone        = errors.New("invalid timezone")
	ErrInvalidDelay           = errors.New("delays must not be negative")

	// Batch errors
	ErrBatchNotFound       = errors.New("batch not found")
	ErrBatchNotCancellable = errors.New("batch can only be cancelled while scheduled or processing")

	// Scheduled message errors
	ErrScheduledMessageNotFound    = errors.New("scheduled message not found")
	ErrScheduledMessageNotEditable = errors.New("scheduled message is no longer pending")
	ErrContactNotFound             = errors.New("contact not found")
)

// BusinessError represents a business logic error with additional context
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error checking helpers
func IsNoRecipients(err error) bool {
	return errors.Is(err, ErrNoRecipients)
}

func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

func IsChannelNotFound(err error) bool {
	return errors.Is(err, ErrChannelNotFound)
}

func IsChannelInactive(err error) bool {
	return errors.Is(err, ErrChannelInactive)
}

func IsBatchNotFound(err error) bool {
	return errors.Is(err, ErrBatchNotFound)
}

func IsBatchNotCancellable(err error) bool {
	return errors.Is(err, ErrBatchNotCancellable)
}

func IsScheduledMessageNotFound(err error) bool {
	return errors.Is(err, ErrScheduledMessageNotFound)
}

func IsScheduledMessageNotEditable(err error) bool {
	return errors.Is(err, ErrScheduledMessageNotEditable)
}

func IsContactNotFound(err error) bool {
	return errors.Is(err, ErrContactNotFound)
}

// IsValidationError reports whether err is caused by invalid caller input rather than by infrastructure
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrTargetRequired, ErrInvalidTargetType, ErrSelectorMismatch, ErrTemplateIDRequired, ErrBodyRequired,
		ErrInvalidMessageType, ErrScheduleTimeNotPresent, ErrScheduleTimeInPast,
		ErrInvalidSendMode, ErrInvalidTimezone, ErrInvalidDelay,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
