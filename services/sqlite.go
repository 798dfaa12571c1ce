package services

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lac-hong-legacy/sentinel_api/model"
)

type SqliteService struct {
	context.DefaultService
	db *gorm.DB

	database string
}

const SQLITE_SVC = "sqlite_svc"

// Id returns Service ID
func (ds SqliteService) Id() string {
	return SQLITE_SVC
}

// Db Access to raw SqliteService db
func (ds SqliteService) Db() *gorm.DB {
	return ds.db
}

// Configure the service
func (ds *SqliteService) Configure(ctx *context.Context) error {
	ds.database = os.Getenv("DB_DATABASE")
	if ds.database == "" {
		ds.database = "sentinel.db"
	}

	return ds.DefaultService.Configure(ctx)
}

// Start the service and open connection to the database
// Migrate any tables that have changed since last runtime
func (ds *SqliteService) Start() (err error) {
	ds.db, err = gorm.Open(sqlite.Open(ds.database), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return err
	}

	models := []interface{}{
		&model.APIKey{},
		&model.BlockedIP{},
		&model.SecurityLog{},
	}

	err = ds.db.AutoMigrate(models...)
	if err != nil {
		log.Printf("Failed to migrate database: %v", err)
		return err
	}

	log.Println("Database connected and migrated successfully")
	return nil
}

func (ds *SqliteService) Shutdown() {
}

// ==================== API KEY METHODS ====================

func (ds *SqliteService) SaveAPIKey(key *model.APIKey) error {
	return ds.db.Create(key).Error
}

func (ds *SqliteService) UpdateAPIKey(key *model.APIKey) error {
	return ds.db.Save(key).Error
}

func (ds *SqliteService) LoadAPIKeys() ([]model.APIKey, error) {
	var keys []model.APIKey
	err := ds.db.Find(&keys).Error
	return keys, err
}

// ==================== BLOCKED IP METHODS ====================

func (ds *SqliteService) SaveBlockedIP(entry *model.BlockedIP) error {
	return ds.db.Save(entry).Error
}

func (ds *SqliteService) DeleteBlockedIP(ip string) error {
	return ds.db.Delete(&model.BlockedIP{}, "ip = ?", ip).Error
}

func (ds *SqliteService) LoadActiveBlockedIPs(now time.Time) ([]model.BlockedIP, error) {
	var entries []model.BlockedIP
	err := ds.db.Where("blocked_until > ?", now).Find(&entries).Error
	return entries, err
}

func (ds *SqliteService) CleanupExpiredBlockedIPs(now time.Time) error {
	return ds.db.Where("blocked_until <= ?", now).Delete(&model.BlockedIP{}).Error
}

// ==================== SECURITY LOG METHODS ====================

func (ds *SqliteService) AppendSecurityLog(entry *model.SecurityLog) error {
	return ds.db.Create(entry).Error
}

func (ds *SqliteService) CleanupSecurityLogs(olderThan time.Time) error {
	return ds.db.Where("timestamp < ?", olderThan).Delete(&model.SecurityLog{}).Error
}

func (ds *SqliteService) HandleError(err error) error {
	if err == nil {
		return nil
	}

	var statusCode int
	var errorType string

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		statusCode = http.StatusNotFound // 404
		errorType = "NOT_FOUND"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		statusCode = http.StatusConflict // 409
		errorType = "CONFLICT"
	case errors.Is(err, gorm.ErrInvalidTransaction):
		statusCode = http.StatusInternalServerError // 500
		errorType = "TRANSACTION_ERROR"
	default:
		// Check for SQLite-specific errors
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			statusCode = http.StatusConflict // 409
			errorType = "UNIQUE_CONSTRAINT"
		} else if strings.Contains(err.Error(), "no such table") {
			statusCode = http.StatusInternalServerError // 500
			errorType = "SCHEMA_ERROR"
		} else {
			statusCode = http.StatusInternalServerError // 500
			errorType = "INTERNAL_ERROR"
		}
	}

	logEntry := log.WithFields(log.Fields{
		"status_code": statusCode,
		"error_type":  errorType,
		"error":       err.Error(),
	})

	if statusCode >= 500 {
		logEntry.Error("Database error occurred")
	} else {
		logEntry.Warn("Database operation failed")
	}

	return fmt.Errorf("%s: %w", errorType, err)
}
