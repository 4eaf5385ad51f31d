package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/insightconsole/backend/internal/monitoring"
)

// Health runs the dependency probes. A down probe yields 503; degraded dependencies still
// answer 200.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			c.JSON(http.StatusOK, monitoring.HealthReport{Success: true, Status: monitoring.StatusUp})
			return
		}

		ctx := requestContext(c)
		report := manager.Evaluate(ctx)
		status := http.StatusOK
		if report.Status == monitoring.StatusDown {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	}
}
