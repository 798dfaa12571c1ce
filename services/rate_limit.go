package services

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/lac-hong-legacy/sentinel_api/dto"
	"github.com/lac-hong-legacy/sentinel_api/shared"
)

// RateLimitService implements fixed-window counting. A caller can burst up
// to twice the tier budget across a window boundary; tier thresholds are
// tuned with that in mind, so the algorithm must not be swapped for a
// sliding window without retuning them.
type RateLimitService struct {
	context.DefaultService

	tiers    map[string]*TierConfig
	counters map[string]*rateLimitCounter
	mutex    sync.RWMutex

	sweepInterval time.Duration
	now           func() time.Time
	closed        chan struct{}

	ipSvc      *IPBlockService
	monitorSvc *SecurityMonitorService
}

// TierConfig is a named rate-limit budget. Tiers are read at process start
// and never mutated at runtime.
type TierConfig struct {
	Tier        string
	Window      time.Duration
	MaxRequests int
	Description string
}

type rateLimitCounter struct {
	count         int
	windowResetAt time.Time
}

const RATE_LIMIT_SVC = "rate_limit_svc"

func (svc RateLimitService) Id() string {
	return RATE_LIMIT_SVC
}

func (svc *RateLimitService) Configure(ctx *context.Context) error {
	svc.initDefaults()

	for tier := range svc.tiers {
		if err := svc.applyEnvOverrides(tier); err != nil {
			return err
		}
	}

	if raw := os.Getenv("RATE_LIMIT_SWEEP_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil || interval <= 0 {
			return fmt.Errorf("invalid RATE_LIMIT_SWEEP_INTERVAL: %s", raw)
		}
		svc.sweepInterval = interval
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *RateLimitService) initDefaults() {
	svc.counters = make(map[string]*rateLimitCounter)
	svc.now = time.Now
	svc.closed = make(chan struct{}, 1)
	svc.sweepInterval = 5 * time.Minute

	svc.tiers = map[string]*TierConfig{
		shared.TierPublic: {
			Tier:        shared.TierPublic,
			Window:      time.Minute,
			MaxRequests: 60,
			Description: "Anonymous callers, keyed by IP",
		},
		shared.TierAuthenticated: {
			Tier:        shared.TierAuthenticated,
			Window:      time.Minute,
			MaxRequests: 300,
			Description: "Authenticated users, keyed by user ID",
		},
		shared.TierPremium: {
			Tier:        shared.TierPremium,
			Window:      time.Minute,
			MaxRequests: 1000,
			Description: "Premium and admin users",
		},
		shared.TierSuspicious: {
			Tier:        shared.TierSuspicious,
			Window:      time.Minute,
			MaxRequests: 10,
			Description: "IPs with a warm failed-attempt record",
		},
		shared.TierAuth: {
			Tier:        shared.TierAuth,
			Window:      15 * time.Minute,
			MaxRequests: 10,
			Description: "Login, registration and password endpoints",
		},
		shared.TierSearch: {
			Tier:        shared.TierSearch,
			Window:      time.Minute,
			MaxRequests: 30,
			Description: "Search endpoints",
		},
	}
}

func (svc *RateLimitService) applyEnvOverrides(tier string) error {
	cfg := svc.tiers[tier]
	prefix := "RATE_LIMIT_" + strings.ToUpper(tier)

	if raw := os.Getenv(prefix + "_MAX"); raw != "" {
		max, err := strconv.Atoi(raw)
		if err != nil || max <= 0 {
			return fmt.Errorf("invalid %s_MAX: %s", prefix, raw)
		}
		cfg.MaxRequests = max
	}

	if raw := os.Getenv(prefix + "_WINDOW_MS"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms <= 0 {
			return fmt.Errorf("invalid %s_WINDOW_MS: %s", prefix, raw)
		}
		cfg.Window = time.Duration(ms) * time.Millisecond
	}

	return nil
}

func (svc *RateLimitService) Start() error {
	svc.ipSvc = svc.Service(IP_BLOCK_SVC).(*IPBlockService)
	svc.monitorSvc = svc.Service(SECURITY_MONITOR_SVC).(*SecurityMonitorService)

	go svc.startCleanupJob()

	return nil
}

func (svc *RateLimitService) Shutdown() {
	close(svc.closed)
}

// ==================== CORE RATE LIMITING LOGIC ====================

// CheckRateLimit runs one fixed-window check. A counter past its reset time
// is treated as absent; denial never advances the counter.
func (svc *RateLimitService) CheckRateLimit(key string, cfg *TierConfig) dto.RateLimitResult {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	now := svc.now()

	counter, exists := svc.counters[key]
	if !exists || !now.Before(counter.windowResetAt) {
		counter = &rateLimitCounter{
			count:         1,
			windowResetAt: now.Add(cfg.Window),
		}
		svc.counters[key] = counter

		resetAt := counter.windowResetAt
		return dto.RateLimitResult{
			Allowed:   true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests - 1,
			ResetAt:   &resetAt,
		}
	}

	if counter.count < cfg.MaxRequests {
		counter.count++

		resetAt := counter.windowResetAt
		return dto.RateLimitResult{
			Allowed:   true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests - counter.count,
			ResetAt:   &resetAt,
		}
	}

	resetAt := counter.windowResetAt
	retryAfter := int((resetAt.Sub(now) + time.Second - 1) / time.Second)
	return dto.RateLimitResult{
		Allowed:    false,
		Limit:      cfg.MaxRequests,
		Remaining:  0,
		RetryAfter: retryAfter,
		ResetAt:    &resetAt,
	}
}

// ==================== MIDDLEWARE ====================

// Middleware applies tier-based rate limiting to every request that passed
// the IP-block check.
func (svc *RateLimitService) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cfg, identifier := svc.resolveTier(c)
		key := cfg.Tier + ":" + identifier

		result := svc.CheckRateLimit(key, cfg)
		svc.addRateLimitHeaders(c, result)

		if !result.Allowed {
			return svc.handleRateLimitExceeded(c, cfg, identifier, result)
		}

		return c.Next()
	}
}

func (svc *RateLimitService) resolveTier(c *fiber.Ctx) (*TierConfig, string) {
	path := c.Path()
	ip := getClientIP(c)

	// Endpoint overrides win over caller classification
	if isAuthPath(path) {
		return svc.tiers[shared.TierAuth], ip
	}
	if isSearchPath(path) {
		return svc.tiers[shared.TierSearch], ip
	}

	// Verified API keys carry their own budget
	if key, ok := apiKeyFromLocals(c); ok {
		return &TierConfig{
			Tier:        shared.TierAPIKey,
			Window:      time.Hour,
			MaxRequests: key.RateLimit,
			Description: "Per-key budget",
		}, key.ID
	}

	role, _ := c.Locals(shared.UserRole).(string)
	userID, _ := c.Locals(shared.UserID).(string)

	switch {
	case role == shared.RoleAdmin || role == shared.RolePremium:
		return svc.tiers[shared.TierPremium], userID
	case userID != "":
		return svc.tiers[shared.TierAuthenticated], userID
	case svc.ipSvc != nil && svc.ipSvc.IsSuspicious(ip):
		return svc.tiers[shared.TierSuspicious], ip
	default:
		return svc.tiers[shared.TierPublic], ip
	}
}

func isAuthPath(path string) bool {
	return strings.Contains(path, "/login") ||
		strings.Contains(path, "/register") ||
		strings.Contains(path, "/password")
}

func isSearchPath(path string) bool {
	return strings.Contains(path, "/search")
}

func (svc *RateLimitService) addRateLimitHeaders(c *fiber.Ctx, result dto.RateLimitResult) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if result.ResetAt != nil {
		c.Set("X-RateLimit-Reset", result.ResetAt.UTC().Format(time.RFC3339))
	}
}

func (svc *RateLimitService) handleRateLimitExceeded(c *fiber.Ctx, cfg *TierConfig, identifier string, result dto.RateLimitResult) error {
	c.Set("Retry-After", strconv.Itoa(result.RetryAfter))

	rateLimitDenialsTotal.WithLabelValues(cfg.Tier).Inc()

	if svc.monitorSvc != nil {
		svc.monitorSvc.LogEvent(shared.EventTypeRateLimitDenied, shared.SeverityMedium,
			"Rate limit exceeded", map[string]interface{}{
				"ip":          getClientIP(c),
				"endpoint":    c.Path(),
				"method":      c.Method(),
				"status_code": fiber.StatusTooManyRequests,
				"tier":        cfg.Tier,
				"identifier":  identifier,
			})
		svc.monitorSvc.RecordRateLimitDenial(getClientIP(c))
	}

	return c.Status(fiber.StatusTooManyRequests).JSON(dto.RateLimitDeniedResponse{
		Success:    false,
		Message:    "Too many requests. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}

// ==================== ADMIN ====================

func (svc *RateLimitService) Stats() dto.RateLimitStatsResponse {
	svc.mutex.RLock()
	active := len(svc.counters)
	svc.mutex.RUnlock()

	tiers := make(map[string]dto.TierConfigInfo, len(svc.tiers))
	for name, cfg := range svc.tiers {
		tiers[name] = dto.TierConfigInfo{
			Tier:        cfg.Tier,
			WindowMs:    cfg.Window.Milliseconds(),
			MaxRequests: cfg.MaxRequests,
			Description: cfg.Description,
		}
	}

	return dto.RateLimitStatsResponse{
		Tiers:          tiers,
		ActiveCounters: active,
		Timestamp:      svc.now(),
	}
}

// ResetIdentifier drops every tier counter for one identifier so an
// operator can clear an accidental lockout.
func (svc *RateLimitService) ResetIdentifier(identifier string) int {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	removed := 0
	suffix := ":" + identifier
	for key := range svc.counters {
		if strings.HasSuffix(key, suffix) {
			delete(svc.counters, key)
			removed++
		}
	}
	return removed
}

// ==================== BACKGROUND JOBS ====================

func (svc *RateLimitService) CleanupExpiredCounters() int {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	now := svc.now()
	removed := 0
	for key, counter := range svc.counters {
		if !now.Before(counter.windowResetAt) {
			delete(svc.counters, key)
			removed++
		}
	}
	return removed
}

func (svc *RateLimitService) startCleanupJob() {
	ticker := time.NewTicker(svc.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := svc.CleanupExpiredCounters()
			if removed > 0 {
				log.WithField("removed", removed).Debug("Rate limit counters swept")
			}
		case <-svc.closed:
			return
		}
	}
}

// ==================== UTILITY FUNCTIONS ====================

func getClientIP(c *fiber.Ctx) string {
	// Check for forwarded IP first (for load balancers/proxies)
	forwarded := c.Get("X-Forwarded-For")
	if forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			ip := strings.TrimSpace(ips[0])
			if ip != "" {
				return ip
			}
		}
	}

	realIP := c.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	cfIP := c.Get("CF-Connecting-IP")
	if cfIP != "" {
		return cfIP
	}

	ip, _, err := net.SplitHostPort(c.Context().RemoteAddr().String())
	if err != nil {
		return c.Context().RemoteAddr().String()
	}

	return ip
}
