package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog records security-relevant events. Raw tokens never appear in any column.
type AuditLog struct {
	ID           string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       *string        `gorm:"type:uuid;index" json:"userId,omitempty"`
	FirmID       *string        `gorm:"type:uuid;index" json:"firmId,omitempty"`
	Action       string         `gorm:"not null;index" json:"action"`
	ResourceType string         `gorm:"index" json:"resourceType,omitempty"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Result       string         `gorm:"not null" json:"result"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt    time.Time      `gorm:"index" json:"createdAt"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
