package dto

import "time"

// RateLimitResult is the outcome of a single fixed-window check.
type RateLimitResult struct {
	Allowed    bool       `json:"allowed"`
	Limit      int        `json:"limit"`
	Remaining  int        `json:"remaining"`
	RetryAfter int        `json:"retry_after,omitempty"` // seconds
	ResetAt    *time.Time `json:"reset_at,omitempty"`
}

// RateLimitDeniedResponse is the 429 body on every rate-limited endpoint.
type RateLimitDeniedResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

type TierConfigInfo struct {
	Tier        string `json:"tier" example:"public"`
	WindowMs    int64  `json:"window_ms" example:"60000"`
	MaxRequests int    `json:"max_requests" example:"60"`
	Description string `json:"description,omitempty"`
}

type RateLimitStatsResponse struct {
	Tiers          map[string]TierConfigInfo `json:"tiers"`
	ActiveCounters int                       `json:"active_counters" example:"42"`
	Timestamp      time.Time                 `json:"timestamp"`
}
