package middleware

import (
	"context"
	stderrors "errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/insightconsole/backend/internal/tenancy"
	"github.com/insightconsole/backend/pkg/errors"
	"github.com/insightconsole/backend/pkg/logger"
	"github.com/insightconsole/backend/pkg/response"
)

// TenantAuthorizer decides whether a firm owns a resource.
type TenantAuthorizer interface {
	Authorize(ctx context.Context, callerTenantID string, kind tenancy.Kind, resourceID string) error
}

// RequireTenantResource checks that the caller's firm owns the resource named by the
// path parameter. It must run after Auth.
func RequireTenantResource(authorizer TenantAuthorizer, kind tenancy.Kind, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		firmID := c.GetString(CtxFirmIDKey)
		if firmID == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		err := authorizer.Authorize(c.Request.Context(), firmID, kind, c.Param(param))
		switch {
		case err == nil:
			c.Next()
		case stderrors.Is(err, tenancy.ErrResourceNotFound):
			response.Error(c, errors.ErrNotFound)
			c.Abort()
		case stderrors.Is(err, tenancy.ErrCrossTenant):
			response.Error(c, errors.ErrForbidden)
			c.Abort()
		default:
			logger.WithModule("tenancy").Error("tenant check failed",
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			response.Error(c, errors.ErrInternalServer)
			c.Abort()
		}
	}
}
