package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"

	"github.com/lac-hong-legacy/sentinel_api/dto"
	"github.com/lac-hong-legacy/sentinel_api/model"
	"github.com/lac-hong-legacy/sentinel_api/shared"
)

// ApiKeyService owns key issuance and verification. Lookups run against an
// in-memory cache indexed by key hash; sqlite is the system of record.
type ApiKeyService struct {
	context.DefaultService

	byHash map[string]*model.APIKey
	byID   map[string]*model.APIKey
	mutex  sync.RWMutex

	salt             []byte
	iterations       int
	defaultRateLimit int
	sweepInterval    time.Duration

	now    func() time.Time
	closed chan struct{}

	sqlSvc     *SqliteService
	monitorSvc *SecurityMonitorService
}

const API_KEY_SVC = "api_key_svc"

const (
	keyPrefix         = "sk_"
	keyByteLength     = 32
	hashByteLength    = 32
	minHashIterations = 1000
)

func (svc ApiKeyService) Id() string {
	return API_KEY_SVC
}

func (svc *ApiKeyService) Configure(ctx *context.Context) error {
	svc.initDefaults()

	salt := os.Getenv("API_KEY_SALT")
	if salt == "" {
		return fmt.Errorf("API_KEY_SALT is required")
	}
	svc.salt = []byte(salt)

	if raw := os.Getenv("API_KEY_ITERATIONS"); raw != "" {
		iterations, err := strconv.Atoi(raw)
		if err != nil || iterations < minHashIterations {
			return fmt.Errorf("invalid API_KEY_ITERATIONS: %s (minimum %d)", raw, minHashIterations)
		}
		svc.iterations = iterations
	}

	if raw := os.Getenv("API_KEY_DEFAULT_RATE_LIMIT"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return fmt.Errorf("invalid API_KEY_DEFAULT_RATE_LIMIT: %s", raw)
		}
		svc.defaultRateLimit = limit
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *ApiKeyService) initDefaults() {
	svc.byHash = make(map[string]*model.APIKey)
	svc.byID = make(map[string]*model.APIKey)
	svc.iterations = 10000
	svc.defaultRateLimit = 1000
	svc.sweepInterval = 10 * time.Minute
	svc.now = time.Now
	svc.closed = make(chan struct{}, 1)
	svc.salt = []byte("sentinel-dev-salt")
}

func (svc *ApiKeyService) Start() error {
	svc.sqlSvc = svc.Service(SQLITE_SVC).(*SqliteService)
	svc.monitorSvc = svc.Service(SECURITY_MONITOR_SVC).(*SecurityMonitorService)

	if err := svc.loadPersistedKeys(); err != nil {
		return err
	}

	go svc.startExpirySweep()

	return nil
}

func (svc *ApiKeyService) Shutdown() {
	close(svc.closed)
}

func (svc *ApiKeyService) loadPersistedKeys() error {
	keys, err := svc.sqlSvc.LoadAPIKeys()
	if err != nil {
		return fmt.Errorf("failed to load API keys: %w", err)
	}

	svc.mutex.Lock()
	for i := range keys {
		key := keys[i]
		svc.byHash[key.HashedKey] = &key
		svc.byID[key.ID] = &key
	}
	svc.mutex.Unlock()

	if len(keys) > 0 {
		log.WithField("count", len(keys)).Info("Restored API keys from storage")
	}
	return nil
}

// ==================== HASHING ====================

// HashKey derives the stored form of a plaintext secret. Salted and
// iterated so a leaked table does not yield usable keys.
func (svc *ApiKeyService) HashKey(plaintext string) string {
	derived := pbkdf2.Key([]byte(plaintext), svc.salt, svc.iterations, hashByteLength, sha256.New)
	return hex.EncodeToString(derived)
}

func (svc *ApiKeyService) generatePlaintext() (string, error) {
	buf := make([]byte, keyByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	return keyPrefix + hex.EncodeToString(buf), nil
}

// ==================== LIFECYCLE ====================

// CreateKey issues a new key. The plaintext is returned here and nowhere
// else; only the hash is retained.
func (svc *ApiKeyService) CreateKey(req dto.CreateAPIKeyRequest) (*dto.CreateAPIKeyResponse, error) {
	plaintext, err := svc.generatePlaintext()
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to generate API key")
	}

	rateLimit := req.RateLimit
	if rateLimit <= 0 {
		rateLimit = svc.defaultRateLimit
	}

	record := &model.APIKey{
		ID:               "key_" + uuid.NewString(),
		HashedKey:        svc.HashKey(plaintext),
		Name:             req.Name,
		Description:      req.Description,
		OwnerID:          req.OwnerID,
		Status:           shared.KeyStatusActive,
		RateLimit:        rateLimit,
		CreatedAt:        svc.now(),
		ExpiresAt:        req.ExpiresAt,
		IPWhitelist:      req.IPWhitelist,
		AllowedEndpoints: req.AllowedEndpoints,
	}

	svc.mutex.Lock()
	svc.byHash[record.HashedKey] = record
	svc.byID[record.ID] = record
	svc.mutex.Unlock()

	if svc.sqlSvc != nil {
		if err := svc.sqlSvc.SaveAPIKey(record); err != nil {
			svc.mutex.Lock()
			delete(svc.byHash, record.HashedKey)
			delete(svc.byID, record.ID)
			svc.mutex.Unlock()
			return nil, shared.NewInternalError(svc.sqlSvc.HandleError(err), "Failed to persist API key")
		}
	}

	if svc.monitorSvc != nil {
		svc.monitorSvc.LogEvent(shared.EventTypeAPIKeyCreated, shared.SeverityLow,
			"API key created", map[string]interface{}{"key_id": record.ID, "name": record.Name})
	}

	return &dto.CreateAPIKeyResponse{
		Key:    plaintext,
		APIKey: svc.toInfo(record),
	}, nil
}

// VerifyKey resolves a presented plaintext to its record. Returns nil for
// unknown, revoked or expired keys; updates LastUsedAt on success.
func (svc *ApiKeyService) VerifyKey(plaintext string) *model.APIKey {
	hash := svc.HashKey(plaintext)
	now := svc.now()

	svc.mutex.Lock()
	record, exists := svc.byHash[hash]
	if !exists {
		svc.mutex.Unlock()
		apiKeyVerificationsTotal.WithLabelValues("unknown").Inc()
		return nil
	}

	if record.Status != shared.KeyStatusActive {
		status := record.Status
		svc.mutex.Unlock()
		apiKeyVerificationsTotal.WithLabelValues(status).Inc()
		return nil
	}

	if record.ExpiresAt != nil && !now.Before(*record.ExpiresAt) {
		record.Status = shared.KeyStatusExpired
		copied := *record
		svc.mutex.Unlock()
		svc.persistAsync(&copied)
		apiKeyVerificationsTotal.WithLabelValues(shared.KeyStatusExpired).Inc()
		return nil
	}

	lastUsed := now
	record.LastUsedAt = &lastUsed
	copied := *record
	svc.mutex.Unlock()

	svc.persistAsync(&copied)
	apiKeyVerificationsTotal.WithLabelValues("ok").Inc()

	return &copied
}

// RevokeKey marks a key revoked. Returns false when the key is unknown or
// already in a terminal state.
func (svc *ApiKeyService) RevokeKey(id string) bool {
	svc.mutex.Lock()
	record, exists := svc.byID[id]
	if !exists || record.Status != shared.KeyStatusActive {
		svc.mutex.Unlock()
		return false
	}
	record.Status = shared.KeyStatusRevoked
	copied := *record
	svc.mutex.Unlock()

	svc.persistAsync(&copied)

	if svc.monitorSvc != nil {
		svc.monitorSvc.LogEvent(shared.EventTypeAPIKeyRevoked, shared.SeverityMedium,
			"API key revoked", map[string]interface{}{"key_id": id})
	}

	return true
}

// GetKey returns key metadata. The secret is not recoverable.
func (svc *ApiKeyService) GetKey(id string) (*dto.APIKeyInfo, bool) {
	svc.mutex.RLock()
	record, exists := svc.byID[id]
	svc.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	info := svc.toInfo(record)
	return &info, true
}

func (svc *ApiKeyService) ListKeys() []dto.APIKeyInfo {
	svc.mutex.RLock()
	keys := make([]dto.APIKeyInfo, 0, len(svc.byID))
	for _, record := range svc.byID {
		keys = append(keys, svc.toInfo(record))
	}
	svc.mutex.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})

	return keys
}

func (svc *ApiKeyService) toInfo(record *model.APIKey) dto.APIKeyInfo {
	return dto.APIKeyInfo{
		ID:               record.ID,
		Name:             record.Name,
		Description:      record.Description,
		OwnerID:          record.OwnerID,
		Status:           record.Status,
		RateLimit:        record.RateLimit,
		CreatedAt:        record.CreatedAt,
		ExpiresAt:        record.ExpiresAt,
		LastUsedAt:       record.LastUsedAt,
		IPWhitelist:      record.IPWhitelist,
		AllowedEndpoints: record.AllowedEndpoints,
	}
}

func (svc *ApiKeyService) persistAsync(record *model.APIKey) {
	if svc.sqlSvc == nil {
		return
	}

	go func() {
		if err := svc.sqlSvc.UpdateAPIKey(record); err != nil {
			log.WithError(err).WithField("key_id", record.ID).Warn("Failed to persist API key update")
		}
	}()
}

// ==================== MIDDLEWARE ====================

// Middleware authenticates service callers by API key. 401 for a missing
// or unusable key, 403 when the key is valid but the caller IP or path is
// outside the key's grants.
func (svc *ApiKeyService) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		plaintext := c.Get(shared.APIKeyHeader)
		if plaintext == "" {
			return svc.reject(c, fiber.StatusUnauthorized, "API key required")
		}

		record := svc.VerifyKey(plaintext)
		if record == nil {
			return svc.reject(c, fiber.StatusUnauthorized, "Invalid or expired API key")
		}

		if len(record.IPWhitelist) > 0 {
			ip := getClientIP(c)
			if !containsString(record.IPWhitelist, ip) {
				return svc.reject(c, fiber.StatusForbidden, "Caller IP not whitelisted for this key")
			}
		}

		if len(record.AllowedEndpoints) > 0 && !svc.endpointAllowed(record, c.Path()) {
			return svc.reject(c, fiber.StatusForbidden, "Endpoint not allowed for this key")
		}

		c.Locals(shared.APIKeyLocal, record)
		return c.Next()
	}
}

func (svc *ApiKeyService) endpointAllowed(record *model.APIKey, path string) bool {
	for _, prefix := range record.AllowedEndpoints {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (svc *ApiKeyService) reject(c *fiber.Ctx, status int, message string) error {
	if svc.monitorSvc != nil {
		svc.monitorSvc.LogEvent(shared.EventTypeAPIKeyRejected, shared.SeverityMedium,
			message, map[string]interface{}{
				"ip":          getClientIP(c),
				"endpoint":    c.Path(),
				"method":      c.Method(),
				"status_code": status,
			})
	}

	return shared.ResponseJSON(c, status, message, nil)
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func apiKeyFromLocals(c *fiber.Ctx) (*model.APIKey, bool) {
	record, ok := c.Locals(shared.APIKeyLocal).(*model.APIKey)
	return record, ok && record != nil
}

// ==================== BACKGROUND JOBS ====================

// ExpireKeys transitions active keys past their expiry to the terminal
// expired status.
func (svc *ApiKeyService) ExpireKeys() int {
	now := svc.now()
	var expired []*model.APIKey

	svc.mutex.Lock()
	for _, record := range svc.byID {
		if record.Status == shared.KeyStatusActive && record.ExpiresAt != nil && !now.Before(*record.ExpiresAt) {
			record.Status = shared.KeyStatusExpired
			copied := *record
			expired = append(expired, &copied)
		}
	}
	svc.mutex.Unlock()

	for _, record := range expired {
		svc.persistAsync(record)
		if svc.monitorSvc != nil {
			svc.monitorSvc.CreateAlert(shared.AlertTypeKeyExpired, shared.SeverityLow,
				fmt.Sprintf("API key %s expired", record.ID),
				map[string]interface{}{"key_id": record.ID, "name": record.Name})
		}
	}

	return len(expired)
}

func (svc *ApiKeyService) startExpirySweep() {
	ticker := time.NewTicker(svc.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if expired := svc.ExpireKeys(); expired > 0 {
				log.WithField("expired", expired).Info("API keys expired by sweep")
			}
		case <-svc.closed:
			return
		}
	}
}
