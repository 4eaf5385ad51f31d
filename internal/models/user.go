package models

import "time"

// Identity roles.
const (
	RoleInvestor   = "investor"
	RoleConsultant = "consultant"
	RoleExpert     = "expert"
	RoleAdmin      = "admin"
)

// DefaultRole is assigned to auto-provisioned identities.
const DefaultRole = RoleConsultant

// User is a person who can sign in. Created on first successful link verification.
type User struct {
	BaseModel

	Email       string `gorm:"uniqueIndex;not null;size:254" json:"email"`
	DisplayName string `json:"displayName"`
	FirmID      string `gorm:"type:uuid;not null;index" json:"firmId"`
	Firm        *Firm  `gorm:"foreignKey:FirmID" json:"-"`
	Role        string `gorm:"not null;default:consultant" json:"role"`
	IsActive    bool   `gorm:"not null;default:true" json:"isActive"`

	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// ValidRole reports whether role is one of the known identity roles.
func ValidRole(role string) bool {
	switch role {
	case RoleInvestor, RoleConsultant, RoleExpert, RoleAdmin:
		return true
	default:
		return false
	}
}
