package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/insightconsole/backend/internal/auditctx"
	"github.com/insightconsole/backend/pkg/logger"
)

// Record logs the supplied entry while tolerating audit failures. Request facts carried
// in ctx fill any field the entry leaves empty. A nil service records nothing.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) {
	if s == nil {
		return
	}
	if actor, ok := auditctx.FromContext(ctx); ok {
		if entry.UserID == "" {
			entry.UserID = actor.UserID
		}
		if entry.FirmID == "" {
			entry.FirmID = actor.FirmID
		}
		if entry.IPAddress == "" {
			entry.IPAddress = actor.IPAddress
		}
		if entry.UserAgent == "" {
			entry.UserAgent = actor.UserAgent
		}
	}
	if err := s.Log(ctx, entry); err != nil {
		logger.WithModule("audit").Warn("failed to record audit entry",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}
