package handlers

import (
	"time"

	"github.com/lac-hong-legacy/sentinel_api/dto"
)

type RateLimitServiceInterface interface {
	Stats() dto.RateLimitStatsResponse
	ResetIdentifier(identifier string) int
}

type IPBlockServiceInterface interface {
	IsIPBlocked(ip string) dto.BlockStatus
	BlockIP(ip, reason string, duration time.Duration, source string) dto.BlockedIPInfo
	UnblockIP(ip string) bool
	ListBlockedIPs() []dto.BlockedIPInfo
}

type APIKeyServiceInterface interface {
	CreateKey(req dto.CreateAPIKeyRequest) (*dto.CreateAPIKeyResponse, error)
	RevokeKey(id string) bool
	GetKey(id string) (*dto.APIKeyInfo, bool)
	ListKeys() []dto.APIKeyInfo
}

type SecurityMonitorServiceInterface interface {
	GetRecentAlerts(limit int, unresolvedOnly bool) []dto.AlertInfo
	ResolveAlert(id string) bool
	GetAlertStatistics() dto.AlertStatisticsResponse
	GetRecentLogs(limit int, eventType, severity string) []dto.LogEntryInfo
	GetLogStatistics() dto.LogStatisticsResponse
	ExportLogs(req dto.ExportLogsRequest) (*dto.ExportLogsResponse, error)
	GetDashboard() dto.DashboardResponse
}
