package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/sentinel_api/dto"
	"github.com/lac-hong-legacy/sentinel_api/shared"
)

type AdminHandler struct {
	rateLimitSvc RateLimitServiceInterface
	ipBlockSvc   IPBlockServiceInterface
	monitorSvc   SecurityMonitorServiceInterface
}

func NewAdminHandler(rateLimitSvc RateLimitServiceInterface, ipBlockSvc IPBlockServiceInterface, monitorSvc SecurityMonitorServiceInterface) *AdminHandler {
	return &AdminHandler{
		rateLimitSvc: rateLimitSvc,
		ipBlockSvc:   ipBlockSvc,
		monitorSvc:   monitorSvc,
	}
}

// @Summary List blocked IPs (Admin)
// @Description Get all currently blocked IP addresses (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Success 200 {object} shared.Response{data=dto.BlockedIPListResponse}
// @Router /api/v1/admin/blocked-ips [get]
func (h *AdminHandler) ListBlockedIPs(c *fiber.Ctx) error {
	blocked := h.ipBlockSvc.ListBlockedIPs()

	return shared.ResponseJSON(c, fiber.StatusOK, "Blocked IPs retrieved successfully", dto.BlockedIPListResponse{
		Blocked: blocked,
		Total:   len(blocked),
	})
}

// @Summary Block an IP (Admin)
// @Description Manually block an IP address (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param blockRequest body dto.BlockIPRequest true "Block request"
// @Success 200 {object} shared.Response{data=dto.BlockedIPInfo}
// @Router /api/v1/admin/blocked-ips [post]
func (h *AdminHandler) BlockIP(c *fiber.Ctx) error {
	var req dto.BlockIPRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Invalid request", err.Error())
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	duration := time.Duration(req.DurationMs) * time.Millisecond
	entry := h.ipBlockSvc.BlockIP(req.IP, req.Reason, duration, shared.BlockSourceManual)

	return shared.ResponseJSON(c, http.StatusOK, "IP blocked successfully", entry)
}

// @Summary Unblock an IP (Admin)
// @Description Remove an IP address from the block list (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param ip path string true "IP address"
// @Success 200 {object} shared.Response{data=nil}
// @Router /api/v1/admin/blocked-ips/{ip} [delete]
func (h *AdminHandler) UnblockIP(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if ip == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "IP address is required", nil)
	}

	if !h.ipBlockSvc.UnblockIP(ip) {
		return shared.ResponseJSON(c, http.StatusNotFound, "IP is not blocked", nil)
	}

	return shared.ResponseJSON(c, http.StatusOK, "IP unblocked successfully", nil)
}

// @Summary Check an IP (Admin)
// @Description Get the current block status of an IP address (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param ip path string true "IP address"
// @Success 200 {object} shared.Response{data=dto.BlockStatus}
// @Router /api/v1/admin/blocked-ips/{ip} [get]
func (h *AdminHandler) CheckIP(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if ip == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "IP address is required", nil)
	}

	status := h.ipBlockSvc.IsIPBlocked(ip)
	return shared.ResponseJSON(c, http.StatusOK, "IP status retrieved successfully", status)
}

// @Summary Rate limit stats (Admin)
// @Description Get tier configurations and active counter count (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Success 200 {object} shared.Response{data=dto.RateLimitStatsResponse}
// @Router /api/v1/admin/rate-limit/stats [get]
func (h *AdminHandler) RateLimitStats(c *fiber.Ctx) error {
	return shared.ResponseJSON(c, fiber.StatusOK, "Rate limit stats retrieved successfully", h.rateLimitSvc.Stats())
}

// @Summary Reset rate limit counters (Admin)
// @Description Clear rate limit counters for an identifier (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param identifier path string true "Client identifier (IP, user ID or key ID)"
// @Success 200 {object} shared.Response{data=nil}
// @Router /api/v1/admin/rate-limit/{identifier} [delete]
func (h *AdminHandler) ResetRateLimit(c *fiber.Ctx) error {
	identifier := c.Params("identifier")
	if identifier == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Identifier is required", nil)
	}

	cleared := h.rateLimitSvc.ResetIdentifier(identifier)
	return shared.ResponseJSON(c, http.StatusOK, "Rate limit counters reset", fiber.Map{"cleared": cleared})
}

// @Summary List alerts (Admin)
// @Description Get recent security alerts, newest first (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param limit query int false "Max alerts" default(50)
// @Param unresolved query bool false "Only unresolved alerts"
// @Success 200 {object} shared.Response{data=dto.AlertListResponse}
// @Router /api/v1/admin/alerts [get]
func (h *AdminHandler) ListAlerts(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	unresolvedOnly := c.Query("unresolved") == "true"

	alerts := h.monitorSvc.GetRecentAlerts(limit, unresolvedOnly)

	return shared.ResponseJSON(c, fiber.StatusOK, "Alerts retrieved successfully", dto.AlertListResponse{
		Alerts: alerts,
		Total:  len(alerts),
	})
}

// @Summary Resolve alert (Admin)
// @Description Mark a security alert as resolved (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param alertId path string true "Alert ID"
// @Success 200 {object} shared.Response{data=nil}
// @Router /api/v1/admin/alerts/{alertId}/resolve [post]
func (h *AdminHandler) ResolveAlert(c *fiber.Ctx) error {
	alertID := c.Params("alertId")
	if alertID == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Alert ID is required", nil)
	}

	if !h.monitorSvc.ResolveAlert(alertID) {
		return shared.ResponseJSON(c, http.StatusNotFound, "Alert not found", nil)
	}

	return shared.ResponseJSON(c, http.StatusOK, "Alert resolved successfully", nil)
}

// @Summary Alert statistics (Admin)
// @Description Get aggregate alert counts by type and severity (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Success 200 {object} shared.Response{data=dto.AlertStatisticsResponse}
// @Router /api/v1/admin/alerts/stats [get]
func (h *AdminHandler) AlertStatistics(c *fiber.Ctx) error {
	return shared.ResponseJSON(c, fiber.StatusOK, "Alert statistics retrieved successfully", h.monitorSvc.GetAlertStatistics())
}

// @Summary List security logs (Admin)
// @Description Get recent security log entries, newest first (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param limit query int false "Max entries" default(100)
// @Param type query string false "Event type filter"
// @Param severity query string false "Severity filter"
// @Success 200 {object} shared.Response{data=dto.LogListResponse}
// @Router /api/v1/admin/logs [get]
func (h *AdminHandler) ListLogs(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	logs := h.monitorSvc.GetRecentLogs(limit, c.Query("type"), c.Query("severity"))

	return shared.ResponseJSON(c, fiber.StatusOK, "Logs retrieved successfully", dto.LogListResponse{
		Logs:  logs,
		Total: len(logs),
	})
}

// @Summary Log statistics (Admin)
// @Description Get aggregate log counts and sink drop count (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Success 200 {object} shared.Response{data=dto.LogStatisticsResponse}
// @Router /api/v1/admin/logs/stats [get]
func (h *AdminHandler) LogStatistics(c *fiber.Ctx) error {
	return shared.ResponseJSON(c, fiber.StatusOK, "Log statistics retrieved successfully", h.monitorSvc.GetLogStatistics())
}

// @Summary Export security logs (Admin)
// @Description Export matching log entries to a JSONL file, optionally archived to object storage (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param exportRequest body dto.ExportLogsRequest true "Export request"
// @Success 200 {object} shared.Response{data=dto.ExportLogsResponse}
// @Router /api/v1/admin/logs/export [post]
func (h *AdminHandler) ExportLogs(c *fiber.Ctx) error {
	var req dto.ExportLogsRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Invalid request", err.Error())
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	result, err := h.monitorSvc.ExportLogs(req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Logs exported successfully", result)
}

// @Summary Security dashboard (Admin)
// @Description Get the aggregated security health snapshot (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Success 200 {object} shared.Response{data=dto.DashboardResponse}
// @Router /api/v1/admin/dashboard [get]
func (h *AdminHandler) Dashboard(c *fiber.Ctx) error {
	return shared.ResponseJSON(c, fiber.StatusOK, "Dashboard retrieved successfully", h.monitorSvc.GetDashboard())
}
