package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/insightconsole/backend/internal/models"
)

// Audit actions.
const (
	AuditLinkRequested   = "auth.link_requested"
	AuditLinkVerified    = "auth.link_verified"
	AuditSessionRefresh  = "auth.session_refreshed"
	AuditIdentityCreated = "identity.provisioned"
	AuditTenantDenied    = "tenancy.access_denied"
	AuditWorkflowQueued  = "workflow.queued"
)

// Audit results.
const (
	AuditResultSuccess = "success"
	AuditResultFailure = "failure"
	AuditResultDenied  = "denied"
)

// AuditEntry captures a single audit event to persist.
type AuditEntry struct {
	UserID       string
	FirmID       string
	Action       string
	ResourceType string
	ResourceID   string
	Result       string
	IPAddress    string
	UserAgent    string
	Metadata     map[string]any
}

// AuditFilters narrows audit queries to one firm and optional action.
type AuditFilters struct {
	FirmID string
	Action string
	Since  *time.Time
}

// AuditListOptions pages through a filtered audit query. Page is 1-based.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 200
)

// AuditService persists and retrieves audit log entries.
type AuditService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db, now: time.Now}, nil
}

// Log stores an audit entry, marshalling metadata into JSON form.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit service: action is required")
	}
	if strings.TrimSpace(entry.Result) == "" {
		return errors.New("audit service: result is required")
	}

	record := models.AuditLog{
		UserID:       optionalID(entry.UserID),
		FirmID:       optionalID(entry.FirmID),
		Action:       strings.TrimSpace(entry.Action),
		ResourceType: strings.TrimSpace(entry.ResourceType),
		ResourceID:   strings.TrimSpace(entry.ResourceID),
		Result:       strings.TrimSpace(entry.Result),
		IPAddress:    strings.TrimSpace(entry.IPAddress),
		UserAgent:    strings.TrimSpace(entry.UserAgent),
	}

	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		record.Metadata = datatypes.JSON(encoded)
	}

	return s.db.WithContext(ctx).Create(&record).Error
}

// List returns one page of a firm's audit entries, newest first, with the total number
// of matching rows.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.AuditLog, int64, error) {
	filters := opts.Filters
	if strings.TrimSpace(filters.FirmID) == "" {
		return nil, 0, errors.New("audit service: firm id is required")
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	size := opts.PageSize
	if size <= 0 {
		size = defaultAuditPageSize
	}
	if size > maxAuditPageSize {
		size = maxAuditPageSize
	}

	query := s.db.WithContext(ctx).Model(&models.AuditLog{}).Where("firm_id = ?", filters.FirmID)
	if action := strings.TrimSpace(filters.Action); action != "" {
		query = query.Where("action = ?", action)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count logs: %w", err)
	}

	logs := make([]models.AuditLog, 0, size)
	err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&logs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("audit service: list logs: %w", err)
	}
	return logs, total, nil
}

// CleanupOlderThan removes audit logs created more than days ago.
func (s *AuditService) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, errors.New("audit service: retention days must be positive")
	}

	cutoff := s.now().AddDate(0, 0, -days)
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup logs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func optionalID(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
