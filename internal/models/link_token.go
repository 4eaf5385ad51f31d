package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LinkToken is a passwordless sign-in token. Only the SHA-256 hex digest of the raw
// value is stored.
type LinkToken struct {
	ID        string     `gorm:"primaryKey;type:uuid"`
	Email     string     `gorm:"not null;size:254;index:idx_link_tokens_lookup,priority:1"`
	TokenHash string     `gorm:"not null;size:64;index:idx_link_tokens_lookup,priority:2"`
	ExpiresAt time.Time  `gorm:"not null;index"`
	CreatedAt time.Time  `gorm:"not null"`
	UsedAt    *time.Time `gorm:"index"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (t *LinkToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
