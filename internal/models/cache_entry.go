package models

import (
	"time"
)

// CacheEntry is a fixed-window counter kept in the database when no Redis is configured.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Count     int64     `gorm:"not null;default:0"`
	ResetAt   time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
