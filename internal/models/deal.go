package models

import "gorm.io/datatypes"

// Deal statuses.
const (
	DealStatusDraft     = "draft"
	DealStatusAnalyzing = "analyzing"
	DealStatusSynthesis = "synthesis"
	DealStatusReady     = "ready"
	DealStatusArchived  = "archived"
)

// Deal is a tenant-owned analysis engagement. Documents and workflows inherit the
// deal's firm.
type Deal struct {
	BaseModel

	Name          string         `gorm:"not null" json:"name"`
	TargetCompany string         `json:"targetCompany"`
	Sector        string         `json:"sector"`
	DealType      string         `json:"dealType"`
	Status        string         `gorm:"not null;default:draft;index" json:"status"`
	KeyQuestions  datatypes.JSON `json:"keyQuestions,omitempty"`
	Hypotheses    datatypes.JSON `json:"hypotheses,omitempty"`
	CreatedByID   string         `gorm:"type:uuid;not null" json:"createdById"`
	FirmID        string         `gorm:"type:uuid;not null;index" json:"firmId"`
}
