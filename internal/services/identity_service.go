package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/insightconsole/backend/internal/auth"
	"github.com/insightconsole/backend/internal/models"
	"github.com/insightconsole/backend/pkg/logger"
	"github.com/insightconsole/backend/pkg/metrics"
)

// IdentityService resolves identities by email and provisions them on first sign-in.
type IdentityService struct {
	db    *gorm.DB
	audit *AuditService
	now   func() time.Time
}

// NewIdentityService constructs an IdentityService.
func NewIdentityService(db *gorm.DB, audit *AuditService) (*IdentityService, error) {
	if db == nil {
		return nil, errors.New("identity service: db is required")
	}
	return &IdentityService{db: db, audit: audit, now: time.Now}, nil
}

// Get returns the identity with the given id.
func (s *IdentityService) Get(ctx context.Context, id string) (*models.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrIdentityNotFound
	}

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity service: get user: %w", err)
	}
	return &user, nil
}

// FindByEmail returns the identity registered for email.
func (s *IdentityService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	normalized, err := auth.NormalizeEmail(email)
	if err != nil {
		return nil, ErrIdentityNotFound
	}
	return s.findByEmail(ctx, s.db.WithContext(ctx), normalized)
}

// ResolveOrProvision returns the identity for email, creating it and its firm when none
// exists yet. The boolean reports whether a new identity was created.
func (s *IdentityService) ResolveOrProvision(ctx context.Context, email string) (*models.User, bool, error) {
	normalized, err := auth.NormalizeEmail(email)
	if err != nil {
		return nil, false, err
	}

	user, err := s.findByEmail(ctx, s.db.WithContext(ctx), normalized)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return nil, false, err
	}

	var created models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		firmID, err := s.firmFor(tx, normalized)
		if err != nil {
			return err
		}
		created = models.User{
			Email:       normalized,
			DisplayName: DisplayNameFromEmail(normalized),
			FirmID:      firmID,
			Role:        models.DefaultRole,
			IsActive:    true,
		}
		return tx.Create(&created).Error
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			// A concurrent sign-in provisioned the same email first.
			existing, findErr := s.findByEmail(ctx, s.db.WithContext(ctx), normalized)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("identity service: provision user: %w", err)
	}

	metrics.IdentitiesProvisioned.Inc()
	logger.WithModule("auth").Info("identity provisioned",
		zap.String("user_id", created.ID),
		zap.String("firm_id", created.FirmID),
	)
	s.audit.Record(ctx, AuditEntry{
		UserID:       created.ID,
		FirmID:       created.FirmID,
		Action:       AuditIdentityCreated,
		ResourceType: "user",
		ResourceID:   created.ID,
		Result:       AuditResultSuccess,
	})
	return &created, true, nil
}

// TouchLogin stamps last_login_at for the identity and returns the stamp.
func (s *IdentityService) TouchLogin(ctx context.Context, userID string) (time.Time, error) {
	now := s.now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_login_at", now)
	if result.Error != nil {
		return time.Time{}, fmt.Errorf("identity service: touch login: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return time.Time{}, ErrIdentityNotFound
	}
	return now, nil
}

func (s *IdentityService) findByEmail(ctx context.Context, db *gorm.DB, email string) (*models.User, error) {
	var user models.User
	err := db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity service: find user: %w", err)
	}
	return &user, nil
}

// firmFor returns the firm that claimed the email's domain, or creates a personal firm.
func (s *IdentityService) firmFor(tx *gorm.DB, email string) (string, error) {
	if domain := auth.EmailDomain(email); domain != "" {
		var firm models.Firm
		err := tx.Where("email_domain = ?", domain).First(&firm).Error
		switch {
		case err == nil:
			return firm.ID, nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return "", fmt.Errorf("identity service: lookup firm: %w", err)
		}
	}

	firm := models.Firm{Name: DisplayNameFromEmail(email)}
	if err := tx.Create(&firm).Error; err != nil {
		return "", fmt.Errorf("identity service: create firm: %w", err)
	}
	return firm.ID, nil
}

// DisplayNameFromEmail derives a readable name from the local part of an address,
// e.g. "jane.doe@example.com" becomes "Jane Doe".
func DisplayNameFromEmail(email string) string {
	local := email
	if at := strings.LastIndex(email, "@"); at >= 0 {
		local = email[:at]
	}
	if plus := strings.Index(local, "+"); plus >= 0 {
		local = local[:plus]
	}

	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	for i, part := range parts {
		r, size := utf8.DecodeRuneInString(part)
		parts[i] = string(unicode.ToUpper(r)) + part[size:]
	}
	if len(parts) == 0 {
		return email
	}
	return strings.Join(parts, " ")
}
