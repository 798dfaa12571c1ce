package dto

import "time"

// BlockStatus is the result of an IP lookup against the ban list.
type BlockStatus struct {
	Blocked   bool       `json:"blocked"`
	Reason    string     `json:"reason,omitempty"`
	UnblockAt *time.Time `json:"unblock_at,omitempty"`
}

// IPBlockDeniedResponse is the 403 body returned when a blocked IP is rejected.
type IPBlockDeniedResponse struct {
	Success     bool       `json:"success"`
	Message     string     `json:"message"`
	Reason      string     `json:"reason"`
	UnblockTime *time.Time `json:"unblockTime,omitempty"`
}

type BlockIPRequest struct {
	IP         string `json:"ip" validate:"required,ip" example:"203.0.113.7"`
	Reason     string `json:"reason" validate:"required,min=3,max=255" example:"manual abuse report"`
	DurationMs int64  `json:"duration_ms,omitempty" validate:"omitempty,gt=0" example:"3600000"`
}

func (r BlockIPRequest) Validate() error {
	return GetValidator().Struct(r)
}

type BlockedIPInfo struct {
	IP           string    `json:"ip" example:"203.0.113.7"`
	Reason       string    `json:"reason" example:"too many failed attempts"`
	Source       string    `json:"source" example:"auto"`
	BlockedAt    time.Time `json:"blocked_at"`
	BlockedUntil time.Time `json:"blocked_until"`
}

type BlockedIPListResponse struct {
	Blocked []BlockedIPInfo `json:"blocked"`
	Total   int             `json:"total" example:"3"`
}
