package services

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lac-hong-legacy/sentinel_api/dto"
	"github.com/lac-hong-legacy/sentinel_api/shared"
)

func newTestKeyService(start time.Time) (*ApiKeyService, *time.Time) {
	svc := &ApiKeyService{}
	svc.initDefaults()
	svc.iterations = minHashIterations // keep tests fast

	current := start
	svc.now = func() time.Time { return current }
	return svc, &current
}

func TestCreateAndVerifyKey(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestKeyService(start)

	resp, err := svc.CreateKey(dto.CreateAPIKeyRequest{Name: "payments-api"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Key, "sk_"))
	assert.Equal(t, shared.KeyStatusActive, resp.APIKey.Status)
	assert.Equal(t, svc.defaultRateLimit, resp.APIKey.RateLimit)

	record := svc.VerifyKey(resp.Key)
	require.NotNil(t, record)
	assert.Equal(t, resp.APIKey.ID, record.ID)
	require.NotNil(t, record.LastUsedAt)
	assert.Equal(t, start, *record.LastUsedAt)

	assert.Nil(t, svc.VerifyKey("sk_not_a_real_key"))
}

func TestRevokeKey(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestKeyService(start)

	resp, err := svc.CreateKey(dto.CreateAPIKeyRequest{Name: "payments-api"})
	require.NoError(t, err)

	assert.True(t, svc.RevokeKey(resp.APIKey.ID))
	assert.Nil(t, svc.VerifyKey(resp.Key))

	// Revocation is terminal
	assert.False(t, svc.RevokeKey(resp.APIKey.ID))
	assert.False(t, svc.RevokeKey("key_unknown"))

	info, found := svc.GetKey(resp.APIKey.ID)
	require.True(t, found)
	assert.Equal(t, shared.KeyStatusRevoked, info.Status)
}

func TestVerifyKey_Expiry(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, clock := newTestKeyService(start)

	expiresAt := start.Add(time.Hour)
	resp, err := svc.CreateKey(dto.CreateAPIKeyRequest{Name: "short-lived", ExpiresAt: &expiresAt})
	require.NoError(t, err)

	require.NotNil(t, svc.VerifyKey(resp.Key))

	*clock = expiresAt
	assert.Nil(t, svc.VerifyKey(resp.Key))

	info, found := svc.GetKey(resp.APIKey.ID)
	require.True(t, found)
	assert.Equal(t, shared.KeyStatusExpired, info.Status)
}

func TestExpireKeysSweep(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, clock := newTestKeyService(start)

	expiresAt := start.Add(time.Hour)
	_, err := svc.CreateKey(dto.CreateAPIKeyRequest{Name: "short-lived", ExpiresAt: &expiresAt})
	require.NoError(t, err)
	_, err = svc.CreateKey(dto.CreateAPIKeyRequest{Name: "long-lived"})
	require.NoError(t, err)

	assert.Equal(t, 0, svc.ExpireKeys())

	*clock = start.Add(2 * time.Hour)
	assert.Equal(t, 1, svc.ExpireKeys())
	assert.Equal(t, 0, svc.ExpireKeys())
}

func TestHashKey(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestKeyService(start)

	hash := svc.HashKey("sk_secret")
	assert.Equal(t, hash, svc.HashKey("sk_secret"))
	assert.NotEqual(t, hash, svc.HashKey("sk_other"))
	assert.NotContains(t, hash, "sk_secret")
	assert.Len(t, hash, hashByteLength*2)

	// A different salt produces a different hash for the same input
	other := &ApiKeyService{}
	other.initDefaults()
	other.iterations = svc.iterations
	other.salt = []byte("another-salt")
	assert.NotEqual(t, hash, other.HashKey("sk_secret"))
}

func TestListKeys_NewestFirst(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, clock := newTestKeyService(start)

	_, err := svc.CreateKey(dto.CreateAPIKeyRequest{Name: "first"})
	require.NoError(t, err)
	*clock = start.Add(time.Minute)
	_, err = svc.CreateKey(dto.CreateAPIKeyRequest{Name: "second"})
	require.NoError(t, err)

	keys := svc.ListKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, "second", keys[0].Name)
	assert.Equal(t, "first", keys[1].Name)
}

func TestAPIKeyMiddleware(t *testing.T) {
	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestKeyService(start)

	plain, err := svc.CreateKey(dto.CreateAPIKeyRequest{Name: "open"})
	require.NoError(t, err)

	whitelisted, err := svc.CreateKey(dto.CreateAPIKeyRequest{
		Name:        "locked-ip",
		IPWhitelist: []string{"198.51.100.1"},
	})
	require.NoError(t, err)

	scoped, err := svc.CreateKey(dto.CreateAPIKeyRequest{
		Name:             "locked-path",
		AllowedEndpoints: []string{"/api/v1/service/ping"},
	})
	require.NoError(t, err)

	app := fiber.New()
	app.Use(svc.Middleware())
	app.Get("/api/v1/service/ping", func(c *fiber.Ctx) error {
		record, ok := apiKeyFromLocals(c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(record.ID)
	})
	app.Get("/api/v1/service/other", func(c *fiber.Ctx) error { return c.SendString("ok") })

	tests := []struct {
		name     string
		path     string
		key      string
		callerIP string
		expected int
	}{
		{"missing key", "/api/v1/service/ping", "", "203.0.113.7", fiber.StatusUnauthorized},
		{"invalid key", "/api/v1/service/ping", "sk_bogus", "203.0.113.7", fiber.StatusUnauthorized},
		{"valid key", "/api/v1/service/ping", plain.Key, "203.0.113.7", fiber.StatusOK},
		{"whitelisted ip allowed", "/api/v1/service/ping", whitelisted.Key, "198.51.100.1", fiber.StatusOK},
		{"other ip forbidden", "/api/v1/service/ping", whitelisted.Key, "203.0.113.7", fiber.StatusForbidden},
		{"scoped path allowed", "/api/v1/service/ping", scoped.Key, "203.0.113.7", fiber.StatusOK},
		{"out of scope forbidden", "/api/v1/service/other", scoped.Key, "203.0.113.7", fiber.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set(shared.APIKeyHeader, tt.key)
			}
			req.Header.Set("X-Forwarded-For", tt.callerIP)

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resp.StatusCode)
		})
	}
}
