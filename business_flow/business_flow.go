// Package businessflow holds the use cases of the service: creating, listing and cancelling
// mass messages and single scheduled messages.
package businessflow

import (
	"context"
	"fmt"
	"log"

	"github.com/amirphl/massdispatch/models"
	"github.com/amirphl/massdispatch/repository"
	"github.com/amirphl/massdispatch/utils"
)

// ClientMetadata holds the client information recorded with every write operation
type ClientMetadata struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	RequestID string `json:"request_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// createAuditLog stores one audit row. Inside a transaction the row commits or rolls back with
// the write it describes. The request id comes from the metadata, or from the context when the
// handler stored it there.
func createAuditLog(ctx context.Context, auditRepo repository.AuditLogRepository, companyID, userID uint, action, description string, success bool, errorMsg *string, metadata *ClientMetadata) error {
	ipAddress, userAgent, requestID := "", "", ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
		requestID = metadata.RequestID
	}
	if requestID == "" {
		if v, ok := ctx.Value(utils.RequestIDKey).(string); ok {
			requestID = v
		}
	}

	audit := &models.AuditLog{
		CompanyID:    &companyID,
		Action:       action,
		Description:  &description,
		Success:      utils.ToPtr(success),
		IPAddress:    &ipAddress,
		UserAgent:    &userAgent,
		ErrorMessage: errorMsg,
	}
	if userID != 0 {
		audit.UserID = &userID
	}
	if requestID != "" {
		audit.RequestID = &requestID
	}

	return auditRepo.Save(ctx, audit)
}

// auditFailure records a failed write attempt outside any transaction. Storage errors are
// logged only, so the caller still sees the original failure.
func auditFailure(ctx context.Context, auditRepo repository.AuditLogRepository, companyID, userID uint, action, description string, cause error, metadata *ClientMetadata) {
	errMsg := fmt.Sprintf("%s: %s", description, cause.Error())
	if err := createAuditLog(ctx, auditRepo, companyID, userID, action, description, false, &errMsg, metadata); err != nil {
		log.Printf("audit: failed to record %s for company %d: %v", action, companyID, err)
	}
}
