package main

import (
	"github.com/lac-hong-legacy/sentinel_api/services"

	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// @title Sentinel API
// @version 1.0
// @description Abuse mitigation and security monitoring service: tiered rate limiting, IP blocking, API key management and security event aggregation.
// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
func main() {
	err := godotenv.Load()
	if err != nil {
		log.Warn().Err(err).Msg("No .env file loaded")
	}

	ctx, err := context.NewCtx(
		&services.SqliteService{},
		&services.RedisService{},
		&services.MinioService{},
		&services.JWTService{},
		&services.MonitoringService{},

		&services.IPBlockService{},
		&services.SecurityMonitorService{},
		&services.RateLimitService{},
		&services.ApiKeyService{},

		&services.HttpService{},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build service context")
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err).Msg("Service context exited")
		return
	}
}
