package dto

import "time"

type AlertInfo struct {
	ID         string                 `json:"id" example:"alr_123456789"`
	Type       string                 `json:"type" example:"ip_blocked"`
	Severity   string                 `json:"severity" example:"high"`
	Message    string                 `json:"message"`
	Context    map[string]interface{} `json:"context,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	Resolved   bool                   `json:"resolved" example:"false"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
}

type AlertListResponse struct {
	Alerts []AlertInfo `json:"alerts"`
	Total  int         `json:"total" example:"5"`
}

type AlertStatisticsResponse struct {
	Total      int            `json:"total" example:"12"`
	ByType     map[string]int `json:"by_type"`
	BySeverity map[string]int `json:"by_severity"`
	Unresolved int            `json:"unresolved" example:"3"`
}

type LogEntryInfo struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  string                 `json:"event_type" example:"rate_limit_denied"`
	Severity   string                 `json:"severity" example:"medium"`
	UserID     string                 `json:"user_id,omitempty" example:"usr_123456789"`
	IP         string                 `json:"ip,omitempty" example:"203.0.113.7"`
	Endpoint   string                 `json:"endpoint,omitempty" example:"/api/v1/login"`
	Method     string                 `json:"method,omitempty" example:"POST"`
	StatusCode int                    `json:"status_code,omitempty" example:"429"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

type LogListResponse struct {
	Logs  []LogEntryInfo `json:"logs"`
	Total int            `json:"total" example:"100"`
}

type LogStatisticsResponse struct {
	Total         int            `json:"total" example:"512"`
	ByType        map[string]int `json:"by_type"`
	BySeverity    map[string]int `json:"by_severity"`
	DroppedWrites int64          `json:"dropped_writes" example:"0"`
	OldestEntry   *time.Time     `json:"oldest_entry,omitempty"`
	NewestEntry   *time.Time     `json:"newest_entry,omitempty"`
}

type ExportLogsRequest struct {
	Destination string `json:"destination" validate:"required,min=1,max=128" example:"security-2026-08.jsonl"`
	Type        string `json:"type,omitempty"`
	Severity    string `json:"severity,omitempty" validate:"omitempty,oneof=low medium high critical"`
}

func (r ExportLogsRequest) Validate() error {
	return GetValidator().Struct(r)
}

type ExportLogsResponse struct {
	Destination string `json:"destination" example:"exports/security-2026-08.jsonl"`
	Exported    int    `json:"exported" example:"512"`
	Archived    bool   `json:"archived" example:"true"`
}

type DashboardResponse struct {
	BlockedIPCount   int       `json:"blocked_ip_count" example:"4"`
	UnresolvedAlerts int       `json:"unresolved_alerts" example:"2"`
	RecentErrorCount int       `json:"recent_error_count" example:"17"`
	Status           string    `json:"status" example:"healthy"`
	Timestamp        time.Time `json:"timestamp"`
}
