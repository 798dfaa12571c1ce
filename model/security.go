package model

import "time"

// SecurityLog is the durable append-only sink behind the in-memory ring.
type SecurityLog struct {
	ID         string                 `json:"id" gorm:"primaryKey;type:text;not null"`
	Timestamp  time.Time              `json:"timestamp" gorm:"index;not null"`
	EventType  string                 `json:"event_type" gorm:"index;size:64;not null"`
	Severity   string                 `json:"severity" gorm:"size:16;not null"`
	UserID     string                 `json:"user_id,omitempty" gorm:"size:64"`
	IP         string                 `json:"ip,omitempty" gorm:"size:64"`
	Endpoint   string                 `json:"endpoint,omitempty" gorm:"size:255"`
	Method     string                 `json:"method,omitempty" gorm:"size:8"`
	StatusCode int                    `json:"status_code,omitempty"`
	Message    string                 `json:"message" gorm:"type:text"`
	Details    map[string]interface{} `json:"details,omitempty" gorm:"serializer:json"`
}
