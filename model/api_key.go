package model

import "time"

// APIKey is the persisted form of an issued key. Only the derived hash is
// ever stored; the plaintext leaves the process once, at creation.
type APIKey struct {
	ID               string     `json:"id" gorm:"primaryKey;type:text;not null"`
	HashedKey        string     `json:"-" gorm:"uniqueIndex;size:128;not null"`
	Name             string     `json:"name" gorm:"size:128;not null"`
	Description      string     `json:"description" gorm:"type:text"`
	OwnerID          string     `json:"owner_id,omitempty" gorm:"index;size:64"`
	Status           string     `json:"status" gorm:"index;size:16;not null"`
	RateLimit        int        `json:"rate_limit" gorm:"not null;default:1000"`
	CreatedAt        time.Time  `json:"created_at" gorm:"not null"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty" gorm:"index"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	IPWhitelist      []string   `json:"ip_whitelist,omitempty" gorm:"serializer:json"`
	AllowedEndpoints []string   `json:"allowed_endpoints,omitempty" gorm:"serializer:json"`
}
