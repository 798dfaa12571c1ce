package shared

const (
	UserID   = "user_id"
	UserRole = "user_role"

	RoleAdmin   = "admin"
	RolePremium = "premium"
	RoleUser    = "user"

	// AuthOutcome is set by handlers on monitored endpoints so the failure
	// observer never has to guess the result from serialized responses.
	AuthOutcome        = "auth_outcome"
	AuthOutcomeFailed  = "failed"
	AuthOutcomeSuccess = "success"

	APIKeyHeader = "X-API-Key"
	APIKeyLocal  = "api_key"

	TierPublic        = "public"
	TierAuthenticated = "authenticated"
	TierPremium       = "premium"
	TierSuspicious    = "suspicious"
	TierAuth          = "auth"
	TierSearch        = "search"
	TierAPIKey        = "api_key"

	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"

	AlertTypeIPBlocked       = "ip_blocked"
	AlertTypeRepeatedDenials = "repeated_rate_limit_denials"
	AlertTypeKeyExpired      = "api_key_expired"

	EventTypeRateLimitDenied = "rate_limit_denied"
	EventTypeIPBlockRejected = "ip_block_rejected"
	EventTypeIPBlocked       = "ip_blocked"
	EventTypeIPUnblocked     = "ip_unblocked"
	EventTypeFailedAttempt   = "failed_attempt"
	EventTypeAPIKeyRejected  = "api_key_rejected"
	EventTypeAPIKeyCreated   = "api_key_created"
	EventTypeAPIKeyRevoked   = "api_key_revoked"
	EventTypeLogExport       = "log_export"

	KeyStatusActive  = "active"
	KeyStatusRevoked = "revoked"
	KeyStatusExpired = "expired"

	BlockSourceManual = "manual"
	BlockSourceAuto   = "auto"

	HealthStatusHealthy  = "healthy"
	HealthStatusWarning  = "warning"
	HealthStatusCritical = "critical"
)
