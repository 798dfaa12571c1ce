package services

import (
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lac-hong-legacy/sentinel_api/dto"
	"github.com/lac-hong-legacy/sentinel_api/shared"
)

func newTestRateLimiter(start time.Time) (*RateLimitService, *time.Time) {
	svc := &RateLimitService{}
	svc.initDefaults()

	current := start
	svc.now = func() time.Time { return current }
	return svc, &current
}

func TestCheckRateLimit_FixedWindow(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, clock := newTestRateLimiter(start)

	cfg := &TierConfig{Tier: "test", Window: time.Minute, MaxRequests: 2}

	result := svc.CheckRateLimit("test:1.2.3.4", cfg)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.Remaining)
	require.NotNil(t, result.ResetAt)
	assert.Equal(t, start.Add(time.Minute), *result.ResetAt)

	*clock = start.Add(time.Second)
	result = svc.CheckRateLimit("test:1.2.3.4", cfg)
	assert.True(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)

	*clock = start.Add(2 * time.Second)
	result = svc.CheckRateLimit("test:1.2.3.4", cfg)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, 58, result.RetryAfter)

	// Window boundary: the counter resets and the full budget is available
	*clock = start.Add(time.Minute)
	result = svc.CheckRateLimit("test:1.2.3.4", cfg)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.Remaining)
}

func TestCheckRateLimit_DenialDoesNotConsume(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, clock := newTestRateLimiter(start)

	cfg := &TierConfig{Tier: "test", Window: time.Minute, MaxRequests: 1}

	assert.True(t, svc.CheckRateLimit("test:k", cfg).Allowed)

	// Denied requests never advance the counter, however many arrive
	for i := 0; i < 10; i++ {
		*clock = start.Add(time.Duration(i+1) * time.Second)
		assert.False(t, svc.CheckRateLimit("test:k", cfg).Allowed)
	}

	*clock = start.Add(time.Minute)
	assert.True(t, svc.CheckRateLimit("test:k", cfg).Allowed)
}

func TestCheckRateLimit_RetryAfterRoundsUp(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, clock := newTestRateLimiter(start)

	cfg := &TierConfig{Tier: "test", Window: time.Minute, MaxRequests: 1}
	svc.CheckRateLimit("test:k", cfg)

	*clock = start.Add(58*time.Second + 500*time.Millisecond)
	result := svc.CheckRateLimit("test:k", cfg)
	require.False(t, result.Allowed)
	assert.Equal(t, 2, result.RetryAfter)

	*clock = start.Add(59 * time.Second)
	result = svc.CheckRateLimit("test:k", cfg)
	require.False(t, result.Allowed)
	assert.Equal(t, 1, result.RetryAfter)
}

func TestCheckRateLimit_RemainingMonotonicWithinWindow(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestRateLimiter(start)

	cfg := &TierConfig{Tier: "test", Window: time.Minute, MaxRequests: 5}

	previous := cfg.MaxRequests
	for i := 0; i < 5; i++ {
		result := svc.CheckRateLimit("test:k", cfg)
		require.True(t, result.Allowed)
		assert.Less(t, result.Remaining, previous)
		previous = result.Remaining
	}
	assert.Equal(t, 0, previous)
}

func TestCheckRateLimit_IndependentKeys(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestRateLimiter(start)

	cfg := &TierConfig{Tier: "test", Window: time.Minute, MaxRequests: 1}

	assert.True(t, svc.CheckRateLimit("test:a", cfg).Allowed)
	assert.False(t, svc.CheckRateLimit("test:a", cfg).Allowed)
	assert.True(t, svc.CheckRateLimit("test:b", cfg).Allowed)
}

func TestDefaultTiers(t *testing.T) {
	svc := &RateLimitService{}
	svc.initDefaults()

	tests := []struct {
		tier   string
		window time.Duration
		max    int
	}{
		{"public", time.Minute, 60},
		{"authenticated", time.Minute, 300},
		{"premium", time.Minute, 1000},
		{"suspicious", time.Minute, 10},
		{"auth", 15 * time.Minute, 10},
		{"search", time.Minute, 30},
	}

	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			cfg, ok := svc.tiers[tt.tier]
			require.True(t, ok)
			assert.Equal(t, tt.window, cfg.Window)
			assert.Equal(t, tt.max, cfg.MaxRequests)
		})
	}
}

func TestResetIdentifier(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestRateLimiter(start)

	cfg := &TierConfig{Tier: "public", Window: time.Minute, MaxRequests: 1}
	svc.CheckRateLimit("public:1.2.3.4", cfg)
	svc.CheckRateLimit("auth:1.2.3.4", cfg)
	svc.CheckRateLimit("public:5.6.7.8", cfg)

	removed := svc.ResetIdentifier("1.2.3.4")
	assert.Equal(t, 2, removed)

	// The cleared identifier gets a fresh budget, others keep theirs
	assert.True(t, svc.CheckRateLimit("public:1.2.3.4", cfg).Allowed)
	assert.False(t, svc.CheckRateLimit("public:5.6.7.8", cfg).Allowed)
}

func TestCleanupExpiredCounters(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, clock := newTestRateLimiter(start)

	short := &TierConfig{Tier: "short", Window: time.Second, MaxRequests: 1}
	long := &TierConfig{Tier: "long", Window: time.Hour, MaxRequests: 1}

	svc.CheckRateLimit("short:k", short)
	svc.CheckRateLimit("long:k", long)

	*clock = start.Add(time.Minute)
	removed := svc.CleanupExpiredCounters()
	assert.Equal(t, 1, removed)

	svc.mutex.RLock()
	_, longExists := svc.counters["long:k"]
	_, shortExists := svc.counters["short:k"]
	svc.mutex.RUnlock()
	assert.True(t, longExists)
	assert.False(t, shortExists)
}

func TestStats(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestRateLimiter(start)

	cfg := svc.tiers["public"]
	svc.CheckRateLimit("public:1.2.3.4", cfg)
	svc.CheckRateLimit("public:5.6.7.8", cfg)

	stats := svc.Stats()
	assert.Equal(t, 2, stats.ActiveCounters)
	assert.Len(t, stats.Tiers, 6)
	assert.Equal(t, int64(60000), stats.Tiers["public"].WindowMs)
}

func TestMiddleware_PerKeyBudget(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	rlSvc, _ := newTestRateLimiter(start)
	keySvc, _ := newTestKeyService(start)

	created, err := keySvc.CreateKey(dto.CreateAPIKeyRequest{Name: "metered", RateLimit: 1})
	require.NoError(t, err)

	// Key verification must precede the limiter so the tier resolver can
	// charge the key's own budget
	app := fiber.New()
	service := app.Group("/api/v1/service", keySvc.Middleware(), rlSvc.Middleware())
	service.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	call := func() *http.Response {
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/service/ping", nil)
		req.Header.Set(shared.APIKeyHeader, created.Key)
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	resp := call()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("X-RateLimit-Limit"))

	resp = call()
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// The counter is keyed by the key ID, never by the caller IP
	rlSvc.mutex.RLock()
	_, keyed := rlSvc.counters["api_key:"+created.APIKey.ID]
	_, public := rlSvc.counters["public:203.0.113.7"]
	rlSvc.mutex.RUnlock()
	assert.True(t, keyed)
	assert.False(t, public)
}

func TestAuthAndSearchPathOverrides(t *testing.T) {
	tests := []struct {
		path   string
		isAuth bool
		isSrch bool
	}{
		{"/api/v1/login", true, false},
		{"/api/v1/register", true, false},
		{"/api/v1/password/reset", true, false},
		{"/api/v1/search", false, true},
		{"/api/v1/users", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.isAuth, isAuthPath(tt.path))
			assert.Equal(t, tt.isSrch, isSearchPath(tt.path))
		})
	}
}
