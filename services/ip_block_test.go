package services

import (
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lac-hong-legacy/sentinel_api/shared"
)

func newTestIPBlocker(start time.Time) (*IPBlockService, *time.Time) {
	svc := &IPBlockService{}
	svc.initDefaults()

	current := start
	svc.now = func() time.Time { return current }
	return svc, &current
}

func TestBlockIP_Lifecycle(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, clock := newTestIPBlocker(start)

	entry := svc.BlockIP("203.0.113.7", "abuse report", time.Hour, shared.BlockSourceManual)
	assert.Equal(t, start.Add(time.Hour), entry.BlockedUntil)

	status := svc.IsIPBlocked("203.0.113.7")
	require.True(t, status.Blocked)
	assert.Equal(t, "abuse report", status.Reason)
	require.NotNil(t, status.UnblockAt)
	assert.Equal(t, start.Add(time.Hour), *status.UnblockAt)

	// Expired blocks are discovered lazily on lookup
	*clock = start.Add(time.Hour)
	status = svc.IsIPBlocked("203.0.113.7")
	assert.False(t, status.Blocked)

	svc.blockedMu.RLock()
	_, exists := svc.blocked["203.0.113.7"]
	svc.blockedMu.RUnlock()
	assert.False(t, exists)
}

func TestBlockIP_DefaultDuration(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestIPBlocker(start)

	entry := svc.BlockIP("203.0.113.7", "abuse", 0, shared.BlockSourceManual)
	assert.Equal(t, start.Add(svc.blockDuration), entry.BlockedUntil)
}

func TestUnblockIP_Idempotent(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestIPBlocker(start)

	svc.BlockIP("203.0.113.7", "abuse", time.Hour, shared.BlockSourceManual)

	assert.True(t, svc.UnblockIP("203.0.113.7"))
	assert.False(t, svc.UnblockIP("203.0.113.7"))
	assert.False(t, svc.IsIPBlocked("203.0.113.7").Blocked)
}

func TestRecordFailedAttempt_ThresholdBlocks(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestIPBlocker(start)

	for i := 0; i < svc.threshold-1; i++ {
		svc.RecordFailedAttempt("203.0.113.7")
	}
	assert.False(t, svc.IsIPBlocked("203.0.113.7").Blocked)
	assert.Equal(t, svc.threshold-1, svc.FailedAttemptCount("203.0.113.7"))

	svc.RecordFailedAttempt("203.0.113.7")
	assert.True(t, svc.IsIPBlocked("203.0.113.7").Blocked)

	// Crossing the threshold consumes the attempt record
	assert.Equal(t, 0, svc.FailedAttemptCount("203.0.113.7"))
}

func TestRecordFailedAttempt_WindowReset(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, clock := newTestIPBlocker(start)

	for i := 0; i < svc.threshold-1; i++ {
		svc.RecordFailedAttempt("203.0.113.7")
	}

	// A gap longer than the window resets the count to one, it does not
	// subtract old attempts one by one
	*clock = start.Add(svc.failureWindow + time.Second)
	svc.RecordFailedAttempt("203.0.113.7")

	assert.Equal(t, 1, svc.FailedAttemptCount("203.0.113.7"))
	assert.False(t, svc.IsIPBlocked("203.0.113.7").Blocked)
}

func TestResetFailedAttempts(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestIPBlocker(start)

	svc.RecordFailedAttempt("203.0.113.7")
	svc.RecordFailedAttempt("203.0.113.7")
	svc.ResetFailedAttempts("203.0.113.7")

	assert.Equal(t, 0, svc.FailedAttemptCount("203.0.113.7"))
}

func TestIsSuspicious(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestIPBlocker(start)
	require.Equal(t, 5, svc.threshold)

	assert.False(t, svc.IsSuspicious("203.0.113.7"))

	svc.RecordFailedAttempt("203.0.113.7")
	svc.RecordFailedAttempt("203.0.113.7")
	assert.False(t, svc.IsSuspicious("203.0.113.7"))

	svc.RecordFailedAttempt("203.0.113.7")
	assert.True(t, svc.IsSuspicious("203.0.113.7"))
}

func TestListBlockedIPs(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, clock := newTestIPBlocker(start)

	svc.BlockIP("203.0.113.1", "first", time.Minute, shared.BlockSourceManual)
	*clock = start.Add(time.Second)
	svc.BlockIP("203.0.113.2", "second", time.Hour, shared.BlockSourceManual)

	blocked := svc.ListBlockedIPs()
	require.Len(t, blocked, 2)
	assert.Equal(t, "203.0.113.2", blocked[0].IP)

	// Listing prunes expired entries
	*clock = start.Add(2 * time.Minute)
	blocked = svc.ListBlockedIPs()
	require.Len(t, blocked, 1)
	assert.Equal(t, "203.0.113.2", blocked[0].IP)
}

func TestCleanupExpiredEntries(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, clock := newTestIPBlocker(start)

	svc.BlockIP("203.0.113.1", "short", time.Minute, shared.BlockSourceManual)
	svc.RecordFailedAttempt("203.0.113.9")

	*clock = start.Add(svc.failureWindow + time.Minute)
	svc.CleanupExpiredEntries()

	svc.blockedMu.RLock()
	blockedCount := len(svc.blocked)
	svc.blockedMu.RUnlock()
	assert.Equal(t, 0, blockedCount)
	assert.Equal(t, 0, svc.FailedAttemptCount("203.0.113.9"))
}

func TestMiddleware_RejectsBlockedIP(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestIPBlocker(start)
	svc.BlockIP("203.0.113.7", "abuse", time.Hour, shared.BlockSourceManual)

	app := fiber.New()
	app.Use(svc.Middleware())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestFailureObserver(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		handler       fiber.Handler
		expectedCount int
	}{
		{
			name: "explicit failure signal counts",
			path: "/login",
			handler: func(c *fiber.Ctx) error {
				c.Locals(shared.AuthOutcome, shared.AuthOutcomeFailed)
				return c.SendStatus(fiber.StatusOK)
			},
			expectedCount: 1,
		},
		{
			name: "status fallback counts without signal",
			path: "/login",
			handler: func(c *fiber.Ctx) error {
				return c.SendStatus(fiber.StatusUnauthorized)
			},
			expectedCount: 1,
		},
		{
			name: "returned app error counts before the status is written",
			path: "/login",
			handler: func(c *fiber.Ctx) error {
				return shared.NewUnauthorizedError(nil, "bad credentials")
			},
			expectedCount: 1,
		},
		{
			name: "returned fiber error counts",
			path: "/login",
			handler: func(c *fiber.Ctx) error {
				return fiber.ErrForbidden
			},
			expectedCount: 1,
		},
		{
			name: "returned internal error does not count",
			path: "/login",
			handler: func(c *fiber.Ctx) error {
				return shared.NewInternalError(nil, "storage down")
			},
			expectedCount: 0,
		},
		{
			name: "unmonitored path never counts",
			path: "/users",
			handler: func(c *fiber.Ctx) error {
				return c.SendStatus(fiber.StatusUnauthorized)
			},
			expectedCount: 0,
		},
		{
			name: "explicit success overrides error status",
			path: "/login",
			handler: func(c *fiber.Ctx) error {
				c.Locals(shared.AuthOutcome, shared.AuthOutcomeSuccess)
				return c.SendStatus(fiber.StatusUnauthorized)
			},
			expectedCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
			svc, _ := newTestIPBlocker(start)

			app := fiber.New()
			app.Use(svc.FailureObserver())
			app.Get(tt.path, tt.handler)

			req, _ := http.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("X-Forwarded-For", "203.0.113.7")
			_, err := app.Test(req)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedCount, svc.FailedAttemptCount("203.0.113.7"))
		})
	}
}

func TestFailureObserver_SuccessResetsCounter(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestIPBlocker(start)

	svc.RecordFailedAttempt("203.0.113.7")
	svc.RecordFailedAttempt("203.0.113.7")

	app := fiber.New()
	app.Use(svc.FailureObserver())
	app.Get("/login", func(c *fiber.Ctx) error {
		c.Locals(shared.AuthOutcome, shared.AuthOutcomeSuccess)
		return c.SendStatus(fiber.StatusOK)
	})

	req, _ := http.NewRequest(http.MethodGet, "/login", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	_, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, 0, svc.FailedAttemptCount("203.0.113.7"))
}
