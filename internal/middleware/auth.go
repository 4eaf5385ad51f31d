package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/insightconsole/backend/internal/auditctx"
	iauth "github.com/insightconsole/backend/internal/auth"
	"github.com/insightconsole/backend/internal/models"
	"github.com/insightconsole/backend/pkg/errors"
	"github.com/insightconsole/backend/pkg/metrics"
	"github.com/insightconsole/backend/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"
	CtxFirmIDKey = "firmID"
	CtxRoleKey   = "role"
)

// Auth enforces bearer access tokens issued by the token service. Any failure is a 401
// before the handler runs.
func Auth(tokens *iauth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			metrics.AuthAttempts.WithLabelValues("bearer", "failure").Inc()
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := tokens.Verify(token, iauth.KindAccess)
		if err != nil {
			// Normalise all validation failures to 401
			metrics.AuthAttempts.WithLabelValues("bearer", "failure").Inc()
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.Subject)
		c.Set(CtxFirmIDKey, claims.TenantID)
		c.Set(CtxRoleKey, claims.Role)

		actor, _ := auditctx.FromContext(c.Request.Context())
		actor.UserID = claims.Subject
		actor.FirmID = claims.TenantID
		c.Request = c.Request.WithContext(auditctx.WithActor(c.Request.Context(), actor))

		c.Next()
	}
}

// AuditContext stores the client address and user agent in the request context so
// services can attribute audit entries.
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := auditctx.Actor{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		c.Request = c.Request.WithContext(auditctx.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// ClaimsFrom returns the verified claims placed by Auth.
func ClaimsFrom(c *gin.Context) (*iauth.SessionClaims, bool) {
	value, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*iauth.SessionClaims)
	return claims, ok && claims != nil
}

// RequireRole admits only callers whose access token carries one of roles. It must run
// after Auth. Unknown role names are ignored.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if models.ValidRole(role) {
			allowed[role] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		if _, ok := allowed[c.GetString(CtxRoleKey)]; !ok {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
