package model

import "time"

// BlockedIP survives restarts so a ban is not lifted by a redeploy.
// At most one row per IP; a row past BlockedUntil is logically unblocked.
type BlockedIP struct {
	IP           string    `json:"ip" gorm:"primaryKey;size:64;not null"`
	Reason       string    `json:"reason" gorm:"type:text"`
	Source       string    `json:"source" gorm:"size:16;not null"` // manual or auto
	BlockedAt    time.Time `json:"blocked_at" gorm:"not null"`
	BlockedUntil time.Time `json:"blocked_until" gorm:"index;not null"`
}
