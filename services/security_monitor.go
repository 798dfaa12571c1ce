package services

import (
	gocontext "context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/lac-hong-legacy/sentinel_api/dto"
	"github.com/lac-hong-legacy/sentinel_api/model"
	"github.com/lac-hong-legacy/sentinel_api/shared"
)

// SecurityMonitorService aggregates alerts and security events from the
// defense pipeline. Reads are served from memory; durable writes go through
// an async sink that drops under backpressure rather than blocking callers.
type SecurityMonitorService struct {
	context.DefaultService

	alerts   []securityAlert
	alertsMu sync.RWMutex

	logs    []model.SecurityLog
	maxLogs int
	logsMu  sync.RWMutex

	sink          chan model.SecurityLog
	droppedWrites int64
	droppedMu     sync.Mutex

	denials   map[string]*denialRecord
	denialsMu sync.Mutex

	denialThreshold int
	denialWindow    time.Duration

	criticalBlockedIPs  int
	criticalUnresolved  int
	warningUnresolved   int
	retention           time.Duration
	retentionInterval   time.Duration
	recentErrorWindow   time.Duration
	exportDir           string
	exportArchivePrefix string

	now    func() time.Time
	closed chan struct{}

	sqlSvc   *SqliteService
	ipSvc    *IPBlockService
	minioSvc *MinioService
}

type securityAlert struct {
	ID         string
	Type       string
	Severity   string
	Message    string
	Context    map[string]interface{}
	CreatedAt  time.Time
	Resolved   bool
	ResolvedAt *time.Time
}

type denialRecord struct {
	count     int
	firstSeen time.Time
	alerted   bool
}

const SECURITY_MONITOR_SVC = "security_monitor_svc"

const sinkBufferSize = 1024

func (svc SecurityMonitorService) Id() string {
	return SECURITY_MONITOR_SVC
}

func (svc *SecurityMonitorService) Configure(ctx *context.Context) error {
	svc.initDefaults()

	if raw := os.Getenv("SECURITY_LOG_MAX"); raw != "" {
		maxLogs, err := strconv.Atoi(raw)
		if err != nil || maxLogs <= 0 {
			return fmt.Errorf("invalid SECURITY_LOG_MAX: %s", raw)
		}
		svc.maxLogs = maxLogs
	}

	if raw := os.Getenv("SECURITY_LOG_RETENTION"); raw != "" {
		retention, err := time.ParseDuration(raw)
		if err != nil || retention <= 0 {
			return fmt.Errorf("invalid SECURITY_LOG_RETENTION: %s", raw)
		}
		svc.retention = retention
	}

	if raw := os.Getenv("DENIAL_ALERT_THRESHOLD"); raw != "" {
		threshold, err := strconv.Atoi(raw)
		if err != nil || threshold <= 0 {
			return fmt.Errorf("invalid DENIAL_ALERT_THRESHOLD: %s", raw)
		}
		svc.denialThreshold = threshold
	}

	if raw := os.Getenv("DASHBOARD_CRITICAL_BLOCKED_IPS"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return fmt.Errorf("invalid DASHBOARD_CRITICAL_BLOCKED_IPS: %s", raw)
		}
		svc.criticalBlockedIPs = limit
	}

	if dir := os.Getenv("SECURITY_EXPORT_DIR"); dir != "" {
		svc.exportDir = dir
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *SecurityMonitorService) initDefaults() {
	svc.alerts = make([]securityAlert, 0)
	svc.logs = make([]model.SecurityLog, 0)
	svc.maxLogs = 10000
	svc.sink = make(chan model.SecurityLog, sinkBufferSize)
	svc.denials = make(map[string]*denialRecord)
	svc.denialThreshold = 10
	svc.denialWindow = 5 * time.Minute
	svc.criticalBlockedIPs = 100
	svc.criticalUnresolved = 50
	svc.warningUnresolved = 10
	svc.retention = 7 * 24 * time.Hour
	svc.retentionInterval = time.Hour
	svc.recentErrorWindow = 15 * time.Minute
	svc.exportDir = "exports"
	svc.exportArchivePrefix = "security-logs"
	svc.now = time.Now
	svc.closed = make(chan struct{}, 1)
}

func (svc *SecurityMonitorService) Start() error {
	svc.sqlSvc = svc.Service(SQLITE_SVC).(*SqliteService)
	svc.ipSvc = svc.Service(IP_BLOCK_SVC).(*IPBlockService)
	svc.minioSvc = svc.Service(MINIO_SVC).(*MinioService)

	go svc.runSink()
	go svc.startRetentionJob()

	return nil
}

func (svc *SecurityMonitorService) Shutdown() {
	close(svc.closed)
}

// ==================== ALERTS ====================

func (svc *SecurityMonitorService) CreateAlert(alertType, severity, message string, alertCtx map[string]interface{}) *dto.AlertInfo {
	alert := securityAlert{
		ID:        "alr_" + uuid.NewString(),
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Context:   alertCtx,
		CreatedAt: svc.now(),
	}

	svc.alertsMu.Lock()
	svc.alerts = append(svc.alerts, alert)
	svc.alertsMu.Unlock()

	securityAlertsTotal.WithLabelValues(severity).Inc()

	log.WithFields(log.Fields{
		"alert_id": alert.ID,
		"type":     alertType,
		"severity": severity,
	}).Warn(message)

	info := svc.toAlertInfo(alert)
	return &info
}

// GetRecentAlerts returns alerts newest first. A non-positive limit means
// no cap.
func (svc *SecurityMonitorService) GetRecentAlerts(limit int, unresolvedOnly bool) []dto.AlertInfo {
	svc.alertsMu.RLock()
	defer svc.alertsMu.RUnlock()

	alerts := make([]dto.AlertInfo, 0, len(svc.alerts))
	for i := len(svc.alerts) - 1; i >= 0; i-- {
		if unresolvedOnly && svc.alerts[i].Resolved {
			continue
		}
		alerts = append(alerts, svc.toAlertInfo(svc.alerts[i]))
		if limit > 0 && len(alerts) >= limit {
			break
		}
	}

	return alerts
}

// ResolveAlert is idempotent; resolving twice leaves the original
// resolution timestamp in place.
func (svc *SecurityMonitorService) ResolveAlert(id string) bool {
	svc.alertsMu.Lock()
	defer svc.alertsMu.Unlock()

	for i := range svc.alerts {
		if svc.alerts[i].ID != id {
			continue
		}
		if !svc.alerts[i].Resolved {
			svc.alerts[i].Resolved = true
			resolvedAt := svc.now()
			svc.alerts[i].ResolvedAt = &resolvedAt
		}
		return true
	}

	return false
}

func (svc *SecurityMonitorService) GetAlertStatistics() dto.AlertStatisticsResponse {
	svc.alertsMu.RLock()
	defer svc.alertsMu.RUnlock()

	stats := dto.AlertStatisticsResponse{
		Total:      len(svc.alerts),
		ByType:     make(map[string]int),
		BySeverity: make(map[string]int),
	}

	for i := range svc.alerts {
		stats.ByType[svc.alerts[i].Type]++
		stats.BySeverity[svc.alerts[i].Severity]++
		if !svc.alerts[i].Resolved {
			stats.Unresolved++
		}
	}

	return stats
}

func (svc *SecurityMonitorService) toAlertInfo(alert securityAlert) dto.AlertInfo {
	return dto.AlertInfo{
		ID:         alert.ID,
		Type:       alert.Type,
		Severity:   alert.Severity,
		Message:    alert.Message,
		Context:    alert.Context,
		CreatedAt:  alert.CreatedAt,
		Resolved:   alert.Resolved,
		ResolvedAt: alert.ResolvedAt,
	}
}

// ==================== EVENT LOG ====================

// LogEvent appends to the in-memory ring and enqueues the durable write.
// Well-known fields (ip, user_id, endpoint, method, status_code) are lifted
// into columns; everything else stays in details.
func (svc *SecurityMonitorService) LogEvent(eventType, severity, message string, fields map[string]interface{}) {
	entry := model.SecurityLog{
		ID:        "log_" + uuid.NewString(),
		Timestamp: svc.now(),
		EventType: eventType,
		Severity:  severity,
		Message:   message,
	}

	details := make(map[string]interface{})
	for key, value := range fields {
		switch key {
		case "ip":
			entry.IP, _ = value.(string)
		case "user_id":
			entry.UserID, _ = value.(string)
		case "endpoint":
			entry.Endpoint, _ = value.(string)
		case "method":
			entry.Method, _ = value.(string)
		case "status_code":
			entry.StatusCode = toInt(value)
		default:
			details[key] = value
		}
	}
	if len(details) > 0 {
		entry.Details = details
	}

	svc.logsMu.Lock()
	svc.logs = append(svc.logs, entry)
	if len(svc.logs) > svc.maxLogs {
		svc.logs = svc.logs[len(svc.logs)-svc.maxLogs:]
	}
	svc.logsMu.Unlock()

	select {
	case svc.sink <- entry:
	default:
		svc.droppedMu.Lock()
		svc.droppedWrites++
		svc.droppedMu.Unlock()
		securityLogDropsTotal.Inc()
	}
}

func toInt(value interface{}) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// GetRecentLogs returns entries newest first, optionally filtered by event
// type and severity.
func (svc *SecurityMonitorService) GetRecentLogs(limit int, eventType, severity string) []dto.LogEntryInfo {
	svc.logsMu.RLock()
	defer svc.logsMu.RUnlock()

	logs := make([]dto.LogEntryInfo, 0)
	for i := len(svc.logs) - 1; i >= 0; i-- {
		entry := svc.logs[i]
		if eventType != "" && entry.EventType != eventType {
			continue
		}
		if severity != "" && entry.Severity != severity {
			continue
		}
		logs = append(logs, svc.toLogInfo(entry))
		if limit > 0 && len(logs) >= limit {
			break
		}
	}

	return logs
}

func (svc *SecurityMonitorService) GetLogStatistics() dto.LogStatisticsResponse {
	svc.logsMu.RLock()
	stats := dto.LogStatisticsResponse{
		Total:      len(svc.logs),
		ByType:     make(map[string]int),
		BySeverity: make(map[string]int),
	}

	for i := range svc.logs {
		stats.ByType[svc.logs[i].EventType]++
		stats.BySeverity[svc.logs[i].Severity]++
	}

	if len(svc.logs) > 0 {
		oldest := svc.logs[0].Timestamp
		newest := svc.logs[len(svc.logs)-1].Timestamp
		stats.OldestEntry = &oldest
		stats.NewestEntry = &newest
	}
	svc.logsMu.RUnlock()

	svc.droppedMu.Lock()
	stats.DroppedWrites = svc.droppedWrites
	svc.droppedMu.Unlock()

	return stats
}

func (svc *SecurityMonitorService) toLogInfo(entry model.SecurityLog) dto.LogEntryInfo {
	return dto.LogEntryInfo{
		Timestamp:  entry.Timestamp,
		EventType:  entry.EventType,
		Severity:   entry.Severity,
		UserID:     entry.UserID,
		IP:         entry.IP,
		Endpoint:   entry.Endpoint,
		Method:     entry.Method,
		StatusCode: entry.StatusCode,
		Message:    entry.Message,
		Details:    entry.Details,
	}
}

// ==================== EXPORT ====================

// ExportLogs writes the matching entries as JSONL under the export
// directory and archives the file to object storage when configured.
func (svc *SecurityMonitorService) ExportLogs(req dto.ExportLogsRequest) (*dto.ExportLogsResponse, error) {
	entries := svc.GetRecentLogs(0, req.Type, req.Severity)

	name := filepath.Base(req.Destination)
	if !strings.HasSuffix(name, ".jsonl") {
		name += ".jsonl"
	}

	if err := os.MkdirAll(svc.exportDir, 0o755); err != nil {
		return nil, shared.NewInternalError(err, "Failed to prepare export directory")
	}

	path := filepath.Join(svc.exportDir, name)
	file, err := os.Create(path)
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to create export file")
	}
	defer file.Close()

	for i := range entries {
		line, err := sonic.Marshal(&entries[i])
		if err != nil {
			return nil, shared.NewInternalError(err, "Failed to serialize log entry")
		}
		if _, err := file.Write(append(line, '\n')); err != nil {
			return nil, shared.NewInternalError(err, "Failed to write export file")
		}
	}

	archived := false
	if svc.minioSvc != nil && svc.minioSvc.Enabled() {
		objectName := svc.exportArchivePrefix + "/" + name
		if err := svc.minioSvc.UploadFile(gocontext.Background(), objectName, path, "application/jsonl"); err != nil {
			log.WithError(err).WithField("object", objectName).Warn("Failed to archive log export")
		} else {
			archived = true
		}
	}

	svc.LogEvent(shared.EventTypeLogExport, shared.SeverityLow, "Security logs exported",
		map[string]interface{}{"destination": path, "exported": len(entries), "archived": archived})

	return &dto.ExportLogsResponse{
		Destination: path,
		Exported:    len(entries),
		Archived:    archived,
	}, nil
}

// ==================== DASHBOARD ====================

func (svc *SecurityMonitorService) GetDashboard() dto.DashboardResponse {
	now := svc.now()

	blockedCount := 0
	if svc.ipSvc != nil {
		blockedCount = len(svc.ipSvc.ListBlockedIPs())
	}

	unresolved := svc.GetAlertStatistics().Unresolved

	recentErrors := 0
	cutoff := now.Add(-svc.recentErrorWindow)
	svc.logsMu.RLock()
	for i := len(svc.logs) - 1; i >= 0; i-- {
		if svc.logs[i].Timestamp.Before(cutoff) {
			break
		}
		if svc.logs[i].Severity == shared.SeverityHigh || svc.logs[i].Severity == shared.SeverityCritical {
			recentErrors++
		}
	}
	svc.logsMu.RUnlock()

	status := shared.HealthStatusHealthy
	switch {
	case blockedCount > svc.criticalBlockedIPs || unresolved > svc.criticalUnresolved:
		status = shared.HealthStatusCritical
	case unresolved > svc.warningUnresolved:
		status = shared.HealthStatusWarning
	}

	return dto.DashboardResponse{
		BlockedIPCount:   blockedCount,
		UnresolvedAlerts: unresolved,
		RecentErrorCount: recentErrors,
		Status:           status,
		Timestamp:        now,
	}
}

// ==================== DENIAL DETECTOR ====================

// RecordRateLimitDenial tracks 429s per IP and raises one alert per window
// when an IP crosses the repeated-denial threshold.
func (svc *SecurityMonitorService) RecordRateLimitDenial(ip string) {
	if ip == "" {
		return
	}

	now := svc.now()

	svc.denialsMu.Lock()
	record, exists := svc.denials[ip]
	if !exists || now.Sub(record.firstSeen) > svc.denialWindow {
		record = &denialRecord{firstSeen: now}
		svc.denials[ip] = record
	}
	record.count++

	shouldAlert := record.count >= svc.denialThreshold && !record.alerted
	if shouldAlert {
		record.alerted = true
	}
	count := record.count
	svc.denialsMu.Unlock()

	if shouldAlert {
		svc.CreateAlert(shared.AlertTypeRepeatedDenials, shared.SeverityMedium,
			fmt.Sprintf("IP %s hit the rate limit %d times within %s", ip, count, svc.denialWindow),
			map[string]interface{}{"ip": ip, "denials": count})
	}
}

// ==================== RETENTION ====================

// PruneExpired drops ring entries and durable rows older than the retention
// window, plus stale denial trackers.
func (svc *SecurityMonitorService) PruneExpired() {
	now := svc.now()
	cutoff := now.Add(-svc.retention)

	svc.logsMu.Lock()
	firstKept := len(svc.logs)
	for i := range svc.logs {
		if !svc.logs[i].Timestamp.Before(cutoff) {
			firstKept = i
			break
		}
	}
	if firstKept > 0 {
		svc.logs = append([]model.SecurityLog(nil), svc.logs[firstKept:]...)
	}
	svc.logsMu.Unlock()

	svc.denialsMu.Lock()
	for ip, record := range svc.denials {
		if now.Sub(record.firstSeen) > svc.denialWindow {
			delete(svc.denials, ip)
		}
	}
	svc.denialsMu.Unlock()

	if svc.sqlSvc != nil {
		if err := svc.sqlSvc.CleanupSecurityLogs(cutoff); err != nil {
			log.WithError(err).Warn("Failed to prune persisted security logs")
		}
	}
}

func (svc *SecurityMonitorService) runSink() {
	for {
		select {
		case entry := <-svc.sink:
			if svc.sqlSvc == nil {
				continue
			}
			if err := svc.sqlSvc.AppendSecurityLog(&entry); err != nil {
				log.WithError(err).Warn("Failed to persist security log entry")
			}
		case <-svc.closed:
			return
		}
	}
}

func (svc *SecurityMonitorService) startRetentionJob() {
	ticker := time.NewTicker(svc.retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			svc.PruneExpired()
		case <-svc.closed:
			return
		}
	}
}
