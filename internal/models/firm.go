package models

import "gorm.io/datatypes"

// Firm is the tenant. Every identity and deal belongs to exactly one firm.
type Firm struct {
	BaseModel

	Name string `gorm:"not null" json:"name"`
	// EmailDomain lets sign-ins from a claimed domain join this firm instead of
	// receiving a personal one.
	EmailDomain *string        `gorm:"uniqueIndex;size:255" json:"emailDomain,omitempty"`
	Settings    datatypes.JSON `json:"settings,omitempty"`
}
