package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/insightconsole/backend/internal/ratelimit"
	"github.com/insightconsole/backend/pkg/logger"
	"github.com/insightconsole/backend/pkg/response"
)

// RateLimit spends one unit of class budget per request. The bucket is the
// authenticated user when Auth ran first, otherwise the client address.
func RateLimit(limiter *ratelimit.Limiter, class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := ratelimit.ScopeKey(c.GetString(CtxUserIDKey), c.ClientIP())
		decision, err := limiter.Consume(c.Request.Context(), class, scope)
		if err != nil {
			logger.WithModule("ratelimit").Error("rate limit misconfigured",
				zap.String("class", class),
				zap.Error(err),
			)
			c.Next()
			return
		}

		if !ApplyRateLimit(c, decision) {
			c.Abort()
			return
		}
		c.Next()
	}
}

// ApplyRateLimit writes the X-RateLimit headers for decision and, when it was rejected,
// the 429 response. It reports whether the request may continue.
func ApplyRateLimit(c *gin.Context, decision ratelimit.Decision) bool {
	if decision.FailedOpen {
		return true
	}

	c.Header("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if !decision.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}

	if decision.Allowed {
		return true
	}
	response.RateLimited(c, decision.RetryAfter)
	return false
}
