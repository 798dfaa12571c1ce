package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/lac-hong-legacy/sentinel_api/dto"
	"github.com/lac-hong-legacy/sentinel_api/model"
	"github.com/lac-hong-legacy/sentinel_api/shared"
)

// IPBlockService keeps the ban list and the failed-attempt counter that
// feeds it. Both stores are independent of the rate limiter and take their
// own locks.
type IPBlockService struct {
	appContext.DefaultService

	blocked   map[string]*blockedEntry
	blockedMu sync.RWMutex

	failed   map[string]*failedAttempt
	failedMu sync.Mutex

	threshold      int
	failureWindow  time.Duration
	blockDuration  time.Duration
	sweepInterval  time.Duration
	monitoredPaths []string

	now    func() time.Time
	closed chan struct{}

	sqlSvc     *SqliteService
	redisSvc   *RedisService
	monitorSvc *SecurityMonitorService
}

type blockedEntry struct {
	reason       string
	source       string
	blockedAt    time.Time
	blockedUntil time.Time
}

type failedAttempt struct {
	count         int
	lastAttemptAt time.Time
}

const IP_BLOCK_SVC = "ip_block_svc"

const (
	defaultFailureThreshold = 5
	defaultFailureWindow    = 15 * time.Minute
	defaultBlockDuration    = time.Hour

	redisBlockPrefix = "ipblock:"
)

func (svc IPBlockService) Id() string {
	return IP_BLOCK_SVC
}

func (svc *IPBlockService) Configure(ctx *appContext.Context) error {
	svc.initDefaults()

	if raw := os.Getenv("FAILED_ATTEMPTS_THRESHOLD"); raw != "" {
		threshold, err := strconv.Atoi(raw)
		if err != nil || threshold <= 0 {
			return fmt.Errorf("invalid FAILED_ATTEMPTS_THRESHOLD: %s", raw)
		}
		svc.threshold = threshold
	}

	if raw := os.Getenv("FAILED_ATTEMPTS_WINDOW"); raw != "" {
		window, err := time.ParseDuration(raw)
		if err != nil || window <= 0 {
			return fmt.Errorf("invalid FAILED_ATTEMPTS_WINDOW: %s", raw)
		}
		svc.failureWindow = window
	}

	if raw := os.Getenv("IP_BLOCK_DURATION"); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			return fmt.Errorf("invalid IP_BLOCK_DURATION: %s", raw)
		}
		svc.blockDuration = duration
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *IPBlockService) initDefaults() {
	svc.blocked = make(map[string]*blockedEntry)
	svc.failed = make(map[string]*failedAttempt)
	svc.threshold = defaultFailureThreshold
	svc.failureWindow = defaultFailureWindow
	svc.blockDuration = defaultBlockDuration
	svc.sweepInterval = 5 * time.Minute
	svc.monitoredPaths = []string{"/login", "/register", "/search"}
	svc.now = time.Now
	svc.closed = make(chan struct{}, 1)
}

func (svc *IPBlockService) Start() error {
	svc.sqlSvc = svc.Service(SQLITE_SVC).(*SqliteService)
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)
	svc.monitorSvc = svc.Service(SECURITY_MONITOR_SVC).(*SecurityMonitorService)

	if err := svc.loadPersistedBlocks(); err != nil {
		return err
	}

	go svc.startCleanupJob()

	return nil
}

func (svc *IPBlockService) Shutdown() {
	close(svc.closed)
}

func (svc *IPBlockService) loadPersistedBlocks() error {
	entries, err := svc.sqlSvc.LoadActiveBlockedIPs(svc.now())
	if err != nil {
		return fmt.Errorf("failed to load blocked IPs: %w", err)
	}

	svc.blockedMu.Lock()
	for _, entry := range entries {
		svc.blocked[entry.IP] = &blockedEntry{
			reason:       entry.Reason,
			source:       entry.Source,
			blockedAt:    entry.BlockedAt,
			blockedUntil: entry.BlockedUntil,
		}
	}
	count := len(svc.blocked)
	svc.blockedMu.Unlock()

	blockedIPsActive.Set(float64(count))

	if count > 0 {
		log.WithField("count", count).Info("Restored blocked IPs from storage")
	}
	return nil
}

// ==================== BAN LIST ====================

// IsIPBlocked reports whether an IP is currently blocked. Expired entries
// are discovered lazily and removed here.
func (svc *IPBlockService) IsIPBlocked(ip string) dto.BlockStatus {
	now := svc.now()

	svc.blockedMu.RLock()
	entry, exists := svc.blocked[ip]
	svc.blockedMu.RUnlock()

	if exists {
		if now.Before(entry.blockedUntil) {
			unblockAt := entry.blockedUntil
			return dto.BlockStatus{Blocked: true, Reason: entry.reason, UnblockAt: &unblockAt}
		}
		svc.removeBlock(ip)
		return dto.BlockStatus{}
	}

	// Fall back to the shared cache so a block placed by another instance
	// is honored here too.
	if svc.redisSvc != nil && svc.redisSvc.Enabled() {
		if entry := svc.adoptReplicatedBlock(ip); entry != nil {
			unblockAt := entry.blockedUntil
			return dto.BlockStatus{Blocked: true, Reason: entry.reason, UnblockAt: &unblockAt}
		}
	}

	return dto.BlockStatus{}
}

func (svc *IPBlockService) adoptReplicatedBlock(ip string) *blockedEntry {
	ctx := context.Background()

	reason, err := svc.redisSvc.Get(ctx, redisBlockPrefix+ip)
	if err != nil || reason == "" {
		return nil
	}

	ttl, err := svc.redisSvc.TTL(ctx, redisBlockPrefix+ip)
	if err != nil || ttl <= 0 {
		return nil
	}

	now := svc.now()
	entry := &blockedEntry{
		reason:       reason,
		source:       shared.BlockSourceAuto,
		blockedAt:    now,
		blockedUntil: now.Add(ttl),
	}

	svc.blockedMu.Lock()
	svc.blocked[ip] = entry
	count := len(svc.blocked)
	svc.blockedMu.Unlock()

	blockedIPsActive.Set(float64(count))
	return entry
}

// BlockIP places or refreshes a block. Duration <= 0 falls back to the
// configured default.
func (svc *IPBlockService) BlockIP(ip, reason string, duration time.Duration, source string) dto.BlockedIPInfo {
	if duration <= 0 {
		duration = svc.blockDuration
	}

	now := svc.now()
	entry := &blockedEntry{
		reason:       reason,
		source:       source,
		blockedAt:    now,
		blockedUntil: now.Add(duration),
	}

	svc.blockedMu.Lock()
	svc.blocked[ip] = entry
	count := len(svc.blocked)
	svc.blockedMu.Unlock()

	blockedIPsActive.Set(float64(count))

	svc.persistBlock(ip, entry, duration)

	if svc.monitorSvc != nil {
		severity := shared.SeverityMedium
		if source == shared.BlockSourceAuto {
			severity = shared.SeverityHigh
			svc.monitorSvc.CreateAlert(shared.AlertTypeIPBlocked, severity,
				fmt.Sprintf("IP %s blocked automatically: %s", ip, reason),
				map[string]interface{}{"ip": ip, "reason": reason, "duration": duration.String()})
		}
		svc.monitorSvc.LogEvent(shared.EventTypeIPBlocked, severity,
			"IP blocked", map[string]interface{}{"ip": ip, "reason": reason, "source": source})
	}

	log.WithFields(log.Fields{"ip": ip, "reason": reason, "source": source}).Warn("IP blocked")

	return dto.BlockedIPInfo{
		IP:           ip,
		Reason:       entry.reason,
		Source:       entry.source,
		BlockedAt:    entry.blockedAt,
		BlockedUntil: entry.blockedUntil,
	}
}

// UnblockIP lifts a block. Unblocking an unknown IP is a no-op.
func (svc *IPBlockService) UnblockIP(ip string) bool {
	svc.blockedMu.RLock()
	_, exists := svc.blocked[ip]
	svc.blockedMu.RUnlock()

	if !exists {
		return false
	}

	svc.removeBlock(ip)

	if svc.monitorSvc != nil {
		svc.monitorSvc.LogEvent(shared.EventTypeIPUnblocked, shared.SeverityLow,
			"IP unblocked", map[string]interface{}{"ip": ip})
	}

	return true
}

func (svc *IPBlockService) removeBlock(ip string) {
	svc.blockedMu.Lock()
	delete(svc.blocked, ip)
	count := len(svc.blocked)
	svc.blockedMu.Unlock()

	blockedIPsActive.Set(float64(count))

	if svc.sqlSvc != nil {
		if err := svc.sqlSvc.DeleteBlockedIP(ip); err != nil {
			log.WithError(err).WithField("ip", ip).Warn("Failed to delete persisted block")
		}
	}

	if svc.redisSvc != nil && svc.redisSvc.Enabled() {
		if err := svc.redisSvc.Delete(context.Background(), redisBlockPrefix+ip); err != nil {
			log.WithError(err).WithField("ip", ip).Warn("Failed to delete replicated block")
		}
	}
}

func (svc *IPBlockService) persistBlock(ip string, entry *blockedEntry, duration time.Duration) {
	if svc.sqlSvc != nil {
		record := &model.BlockedIP{
			IP:           ip,
			Reason:       entry.reason,
			Source:       entry.source,
			BlockedAt:    entry.blockedAt,
			BlockedUntil: entry.blockedUntil,
		}
		if err := svc.sqlSvc.SaveBlockedIP(record); err != nil {
			log.WithError(err).WithField("ip", ip).Warn("Failed to persist block")
		}
	}

	if svc.redisSvc != nil && svc.redisSvc.Enabled() {
		if err := svc.redisSvc.Set(context.Background(), redisBlockPrefix+ip, entry.reason, duration); err != nil {
			log.WithError(err).WithField("ip", ip).Warn("Failed to replicate block")
		}
	}
}

// ListBlockedIPs returns active blocks, pruning expired entries on read.
func (svc *IPBlockService) ListBlockedIPs() []dto.BlockedIPInfo {
	now := svc.now()

	svc.blockedMu.Lock()
	result := make([]dto.BlockedIPInfo, 0, len(svc.blocked))
	for ip, entry := range svc.blocked {
		if !now.Before(entry.blockedUntil) {
			delete(svc.blocked, ip)
			continue
		}
		result = append(result, dto.BlockedIPInfo{
			IP:           ip,
			Reason:       entry.reason,
			Source:       entry.source,
			BlockedAt:    entry.blockedAt,
			BlockedUntil: entry.blockedUntil,
		})
	}
	count := len(svc.blocked)
	svc.blockedMu.Unlock()

	blockedIPsActive.Set(float64(count))

	sort.Slice(result, func(i, j int) bool {
		return result[i].BlockedAt.After(result[j].BlockedAt)
	})

	return result
}

// ==================== FAILED ATTEMPTS ====================

// RecordFailedAttempt counts a failure against an IP. The count resets to 1
// whenever the gap since the previous failure exceeds the failure window
// (sliding reset, not sliding sum). Crossing the threshold auto-blocks.
func (svc *IPBlockService) RecordFailedAttempt(ip string) {
	now := svc.now()

	svc.failedMu.Lock()
	record, exists := svc.failed[ip]
	if !exists || now.Sub(record.lastAttemptAt) > svc.failureWindow {
		record = &failedAttempt{}
		svc.failed[ip] = record
	}
	record.count++
	record.lastAttemptAt = now
	count := record.count
	if count >= svc.threshold {
		delete(svc.failed, ip)
	}
	svc.failedMu.Unlock()

	failedAttemptsTotal.Inc()

	if svc.monitorSvc != nil {
		svc.monitorSvc.LogEvent(shared.EventTypeFailedAttempt, shared.SeverityLow,
			"Failed attempt recorded", map[string]interface{}{"ip": ip, "count": count})
	}

	if count >= svc.threshold {
		svc.BlockIP(ip, fmt.Sprintf("%d failed attempts within %s", count, svc.failureWindow),
			svc.blockDuration, shared.BlockSourceAuto)
	}
}

// ResetFailedAttempts clears the counter, typically after a successful
// authentication.
func (svc *IPBlockService) ResetFailedAttempts(ip string) {
	svc.failedMu.Lock()
	delete(svc.failed, ip)
	svc.failedMu.Unlock()
}

// FailedAttemptCount returns the current in-window count for an IP.
func (svc *IPBlockService) FailedAttemptCount(ip string) int {
	svc.failedMu.Lock()
	defer svc.failedMu.Unlock()

	record, exists := svc.failed[ip]
	if !exists || svc.now().Sub(record.lastAttemptAt) > svc.failureWindow {
		return 0
	}
	return record.count
}

// IsSuspicious reports whether an IP has accumulated enough in-window
// failures to deserve the tighter rate-limit tier.
func (svc *IPBlockService) IsSuspicious(ip string) bool {
	return svc.FailedAttemptCount(ip)*2 >= svc.threshold
}

// ==================== MIDDLEWARE ====================

// Middleware rejects blocked IPs before any handler runs.
func (svc *IPBlockService) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := getClientIP(c)

		status := svc.IsIPBlocked(ip)
		if !status.Blocked {
			return c.Next()
		}

		ipBlockRejectionsTotal.Inc()

		if svc.monitorSvc != nil {
			svc.monitorSvc.LogEvent(shared.EventTypeIPBlockRejected, shared.SeverityMedium,
				"Request from blocked IP rejected", map[string]interface{}{
					"ip":          ip,
					"endpoint":    c.Path(),
					"method":      c.Method(),
					"status_code": fiber.StatusForbidden,
					"reason":      status.Reason,
				})
		}

		return c.Status(fiber.StatusForbidden).JSON(dto.IPBlockDeniedResponse{
			Success:     false,
			Message:     "Access temporarily blocked",
			Reason:      status.Reason,
			UnblockTime: status.UnblockAt,
		})
	}
}

// FailureObserver feeds authentication outcomes back into the failed-attempt
// counter. Handlers signal failure explicitly through locals; the status
// code is only a fallback. Response bodies are never inspected.
func (svc *IPBlockService) FailureObserver() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		path := c.Path()
		if !svc.isMonitoredPath(path) {
			return err
		}

		ip := getClientIP(c)
		outcome, _ := c.Locals(shared.AuthOutcome).(string)

		// A handler that returns an error has not written its status yet;
		// the error handler only runs once the chain unwinds. Derive the
		// status from the error itself before reading the response.
		status := c.Response().StatusCode()
		if appErr, ok := shared.GetAppError(err); ok {
			status = appErr.StatusCode
		} else {
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				status = fiberErr.Code
			}
		}

		switch {
		case outcome == shared.AuthOutcomeFailed:
			svc.RecordFailedAttempt(ip)
		case outcome == shared.AuthOutcomeSuccess:
			svc.ResetFailedAttempts(ip)
		case status == fiber.StatusUnauthorized || status == fiber.StatusForbidden:
			svc.RecordFailedAttempt(ip)
		case isAuthPath(path) && status >= 200 && status < 300:
			svc.ResetFailedAttempts(ip)
		}

		return err
	}
}

func (svc *IPBlockService) isMonitoredPath(path string) bool {
	for _, monitored := range svc.monitoredPaths {
		if strings.Contains(path, monitored) {
			return true
		}
	}
	return false
}

// ==================== BACKGROUND JOBS ====================

func (svc *IPBlockService) CleanupExpiredEntries() {
	now := svc.now()

	svc.blockedMu.Lock()
	for ip, entry := range svc.blocked {
		if !now.Before(entry.blockedUntil) {
			delete(svc.blocked, ip)
		}
	}
	count := len(svc.blocked)
	svc.blockedMu.Unlock()

	blockedIPsActive.Set(float64(count))

	svc.failedMu.Lock()
	for ip, record := range svc.failed {
		if now.Sub(record.lastAttemptAt) > svc.failureWindow {
			delete(svc.failed, ip)
		}
	}
	svc.failedMu.Unlock()

	if svc.sqlSvc != nil {
		if err := svc.sqlSvc.CleanupExpiredBlockedIPs(now); err != nil {
			log.WithError(err).Warn("Failed to sweep persisted blocks")
		}
	}
}

func (svc *IPBlockService) startCleanupJob() {
	ticker := time.NewTicker(svc.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			svc.CleanupExpiredEntries()
		case <-svc.closed:
			return
		}
	}
}
