// Package tenancy decides whether a caller's firm owns a resource.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/insightconsole/backend/internal/services"
	"github.com/insightconsole/backend/pkg/logger"
	"github.com/insightconsole/backend/pkg/metrics"
)

// Kind names a tenant-scoped resource type.
type Kind string

// Resource kinds. Documents and workflows are owned through their deal.
const (
	KindDeal     Kind = "deal"
	KindDocument Kind = "document"
	KindWorkflow Kind = "workflow"
)

var (
	// ErrResourceNotFound indicates the resource does not exist.
	ErrResourceNotFound = errors.New("tenancy: resource not found")
	// ErrCrossTenant indicates the resource belongs to another firm.
	ErrCrossTenant = errors.New("tenancy: resource belongs to another tenant")
	// ErrUnknownKind indicates an unsupported resource kind.
	ErrUnknownKind = errors.New("tenancy: unknown resource kind")
)

// Option customises the Enforcer.
type Option func(*Enforcer)

// WithAudit records denials through the audit service.
func WithAudit(audit *services.AuditService) Option {
	return func(e *Enforcer) {
		e.audit = audit
	}
}

// Enforcer resolves a resource's owning firm and compares it with the caller's.
type Enforcer struct {
	db    *gorm.DB
	audit *services.AuditService
	log   *zap.Logger
}

// NewEnforcer constructs an Enforcer over db.
func NewEnforcer(db *gorm.DB, opts ...Option) (*Enforcer, error) {
	if db == nil {
		return nil, errors.New("tenancy: db is required")
	}
	e := &Enforcer{db: db, log: logger.WithModule("tenancy")}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Authorize returns nil when callerTenantID owns the resource, ErrResourceNotFound when
// it does not exist and ErrCrossTenant when another firm owns it.
func (e *Enforcer) Authorize(ctx context.Context, callerTenantID string, kind Kind, resourceID string) error {
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		metrics.TenantChecks.WithLabelValues(string(kind), "not_found").Inc()
		return ErrResourceNotFound
	}

	owner, err := e.OwnerOf(ctx, kind, resourceID)
	switch {
	case errors.Is(err, ErrResourceNotFound):
		metrics.TenantChecks.WithLabelValues(string(kind), "not_found").Inc()
		return err
	case err != nil:
		metrics.TenantChecks.WithLabelValues(string(kind), "error").Inc()
		return err
	}

	if callerTenantID == "" || owner != callerTenantID {
		metrics.TenantChecks.WithLabelValues(string(kind), "forbidden").Inc()
		e.log.Warn("cross-tenant access denied",
			zap.String("kind", string(kind)),
			zap.String("resource_id", resourceID),
			zap.String("caller_firm_id", callerTenantID),
		)
		e.recordDenial(ctx, callerTenantID, kind, resourceID)
		return ErrCrossTenant
	}

	metrics.TenantChecks.WithLabelValues(string(kind), "allow").Inc()
	return nil
}

// OwnerOf returns the firm id that owns the resource.
func (e *Enforcer) OwnerOf(ctx context.Context, kind Kind, resourceID string) (string, error) {
	db := e.db.WithContext(ctx)

	var query *gorm.DB
	switch kind {
	case KindDeal:
		query = db.Table("deals").Where("deals.id = ?", resourceID)
	case KindDocument:
		query = db.Table("documents").
			Joins("JOIN deals ON deals.id = documents.deal_id").
			Where("documents.id = ?", resourceID)
	case KindWorkflow:
		query = db.Table("workflows").
			Joins("JOIN deals ON deals.id = workflows.deal_id").
			Where("workflows.id = ?", resourceID)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	var owners []string
	if err := query.Limit(1).Pluck("deals.firm_id", &owners).Error; err != nil {
		return "", fmt.Errorf("tenancy: resolve %s owner: %w", kind, err)
	}
	if len(owners) == 0 {
		return "", ErrResourceNotFound
	}
	return owners[0], nil
}

func (e *Enforcer) recordDenial(ctx context.Context, callerTenantID string, kind Kind, resourceID string) {
	e.audit.Record(ctx, services.AuditEntry{
		FirmID:       callerTenantID,
		Action:       services.AuditTenantDenied,
		ResourceType: string(kind),
		ResourceID:   resourceID,
		Result:       services.AuditResultDenied,
	})
}
