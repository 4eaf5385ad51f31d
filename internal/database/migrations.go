package database

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/insightconsole/backend/internal/models"
)

// DomainFirm maps a claimed email domain to the firm that owns sign-ins from it.
type DomainFirm struct {
	Domain string
	Name   string
}

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Firm{},
		&models.User{},
		&models.LinkToken{},
		&models.Deal{},
		&models.Document{},
		&models.Workflow{},
		&models.AuditLog{},
		&models.CacheEntry{},
	)
}

// SeedDomainFirms makes sure every configured domain has a firm claiming it. Existing
// firms are left untouched so renames made by operators survive restarts.
func SeedDomainFirms(db *gorm.DB, domains []DomainFirm) error {
	for _, entry := range domains {
		domain := strings.ToLower(strings.TrimSpace(entry.Domain))
		if domain == "" {
			return errors.New("seed firm: empty domain")
		}
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			name = domain
		}

		firm := models.Firm{Name: name, EmailDomain: &domain}
		if err := db.Where(models.Firm{EmailDomain: &domain}).Attrs(firm).FirstOrCreate(&models.Firm{}).Error; err != nil {
			return err
		}
	}
	return nil
}
