package utils

import (
	"time"
)

// Scheduler defaults
const (
	// DefaultSchedulerInterval is how often the scheduler looks for due work
	DefaultSchedulerInterval = 60 * time.Second

	// DefaultLegacyBatchSize caps the legacy scheduled messages handled per tick
	DefaultLegacyBatchSize = 50

	// DefaultBatchClaimLimit caps the mass-message batches claimed per tick
	DefaultBatchClaimLimit = 20

	// DefaultProcessingLease is how long a processing batch may go without a heartbeat
	// before the recovery job considers its owner dead
	DefaultProcessingLease = 15 * time.Minute

	// GroupPacingStride is the number of group recipients that share one delay-between-groups step
	GroupPacingStride = 10
)

// Request defaults
const (
	// DefaultRequestTimeout bounds the handling of a single API request
	DefaultRequestTimeout = 30 * time.Second

	// DefaultPageSize is used when a list request does not specify a limit
	DefaultPageSize = 20

	// MaxPageSize caps list requests
	MaxPageSize = 100
)

type contextKey string

// Request-scoped context keys set by the HTTP handlers
const (
	RequestIDKey contextKey = "request_id"
	UserAgentKey contextKey = "user_agent"
	IPAddressKey contextKey = "ip_address"
	EndpointKey  contextKey = "endpoint"
	CompanyIDKey contextKey = "company_id"
)
