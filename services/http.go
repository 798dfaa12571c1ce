package services

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	docs "github.com/lac-hong-legacy/sentinel_api/docs"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"

	"github.com/lac-hong-legacy/sentinel_api/services/handlers"
	"github.com/lac-hong-legacy/sentinel_api/shared"
)

type HttpService struct {
	context.DefaultService

	jwtSvc       *JWTService
	rateLimitSvc *RateLimitService
	ipBlockSvc   *IPBlockService
	keySvc       *ApiKeyService
	monitorSvc   *SecurityMonitorService
	monitoring   *MonitoringService

	adminHandler  *handlers.AdminHandler
	apiKeyHandler *handlers.APIKeyHandler

	port   int
	server *fiber.App
}

const HTTP_SVC = "http_svc"

func (svc HttpService) Id() string {
	return HTTP_SVC
}

func (svc *HttpService) Configure(ctx *context.Context) error {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		var err error
		if svc.port, err = strconv.Atoi(port); err != nil {
			return err
		}
	} else {
		svc.port = 8000
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	svc.jwtSvc = svc.Service(JWT_SVC).(*JWTService)
	svc.rateLimitSvc = svc.Service(RATE_LIMIT_SVC).(*RateLimitService)
	svc.ipBlockSvc = svc.Service(IP_BLOCK_SVC).(*IPBlockService)
	svc.keySvc = svc.Service(API_KEY_SVC).(*ApiKeyService)
	svc.monitorSvc = svc.Service(SECURITY_MONITOR_SVC).(*SecurityMonitorService)
	svc.monitoring = svc.Service(MONITORING_SVC).(*MonitoringService)

	svc.adminHandler = handlers.NewAdminHandler(svc.rateLimitSvc, svc.ipBlockSvc, svc.monitorSvc)
	svc.apiKeyHandler = handlers.NewAPIKeyHandler(svc.keySvc)

	docs.SwaggerInfo.BasePath = ""

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          svc.errorHandler,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-API-Key",
		AllowCredentials: false,
	}))

	// Defense pipeline. Order matters: blocked IPs are rejected before any
	// counter is touched, and the failure observer wraps everything below it.
	app.Use(MonitoringMiddleware(svc.monitoring))
	app.Use(svc.jwtSvc.OptionalAuth())
	app.Use(svc.ipBlockSvc.Middleware())
	app.Use(svc.ipBlockSvc.FailureObserver())

	// The limiter mounts per subtree, not app-wide, so the service group can
	// verify the API key first and the tier resolver charges the key's own
	// budget instead of the caller's public IP budget.
	rateLimit := svc.rateLimitSvc.Middleware()

	app.Get("/ping", rateLimit, svc.ping)
	app.Get("/swagger/*", rateLimit, swagger.HandlerDefault)

	v1 := app.Group("/api/v1")
	v1.Get("/ping", rateLimit, svc.ping)

	admin := v1.Group("/admin", rateLimit, svc.jwtSvc.RequiredAuth(), svc.jwtSvc.RequireRole(shared.RoleAdmin))

	admin.Get("/blocked-ips", svc.adminHandler.ListBlockedIPs)
	admin.Post("/blocked-ips", svc.adminHandler.BlockIP)
	admin.Get("/blocked-ips/:ip", svc.adminHandler.CheckIP)
	admin.Delete("/blocked-ips/:ip", svc.adminHandler.UnblockIP)

	admin.Get("/rate-limit/stats", svc.adminHandler.RateLimitStats)
	admin.Delete("/rate-limit/:identifier", svc.adminHandler.ResetRateLimit)

	admin.Get("/alerts", svc.adminHandler.ListAlerts)
	admin.Get("/alerts/stats", svc.adminHandler.AlertStatistics)
	admin.Post("/alerts/:alertId/resolve", svc.adminHandler.ResolveAlert)

	admin.Get("/logs", svc.adminHandler.ListLogs)
	admin.Get("/logs/stats", svc.adminHandler.LogStatistics)
	admin.Post("/logs/export", svc.adminHandler.ExportLogs)

	admin.Get("/dashboard", svc.adminHandler.Dashboard)

	admin.Post("/api-keys", svc.apiKeyHandler.CreateKey)
	admin.Get("/api-keys", svc.apiKeyHandler.ListKeys)
	admin.Get("/api-keys/:keyId", svc.apiKeyHandler.GetKey)
	admin.Delete("/api-keys/:keyId", svc.apiKeyHandler.RevokeKey)

	// Machine-to-machine surface. Every route here requires a valid API key
	// and is throttled against the key's own budget, so the key middleware
	// must run before the limiter.
	service := v1.Group("/service", svc.keySvc.Middleware(), rateLimit)
	service.Get("/ping", svc.ping)
	service.Get("/whoami", svc.whoami)

	app.Use(rateLimit, func(c *fiber.Ctx) error {
		return shared.ResponseNotFound(c)
	})

	svc.server = app
	return app.Listen(fmt.Sprintf(":%v", svc.port))
}

func (svc *HttpService) Shutdown() {
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

// @Summary Ping
// @Description This endpoint checks the health of the service
// @Tags health
// @Accept  json
// @Produce json
// @Success 200 {object} shared.Response{data=string}
// @Router /ping [get]
func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "max-age=10")

	return shared.ResponseJSON(c, http.StatusOK, "Success", "pong")
}

// @Summary Who am I
// @Description Returns the metadata of the API key used on this request
// @Tags service
// @Accept json
// @Produce json
// @Param X-API-Key header string true "API key"
// @Success 200 {object} shared.Response{data=dto.APIKeyInfo}
// @Router /api/v1/service/whoami [get]
func (svc *HttpService) whoami(c *fiber.Ctx) error {
	record, ok := apiKeyFromLocals(c)
	if !ok {
		return shared.ResponseUnauthorized(c)
	}

	info, found := svc.keySvc.GetKey(record.ID)
	if !found {
		return shared.ResponseNotFound(c)
	}

	return shared.ResponseJSON(c, http.StatusOK, "Success", info)
}

func (svc *HttpService) errorHandler(c *fiber.Ctx, err error) error {
	if err == nil {
		return nil
	}

	if appErr, ok := shared.GetAppError(err); ok {
		return shared.ResponseJSON(c, appErr.StatusCode, appErr.Message, appErr.Data)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return shared.ResponseJSON(c, fiberErr.Code, fiberErr.Message, nil)
	}

	return shared.ResponseInternalError(c, err)
}
