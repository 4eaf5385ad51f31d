package checks

import (
	"context"
	"time"

	"github.com/insightconsole/backend/internal/monitoring"
)

const defaultRateStoreTimeout = 2 * time.Second

// Pinger is the minimal interface required to probe a rate-limit store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RateStore returns a readiness probe for the shared rate-limit store. The limiter fails
// open, so an unreachable store degrades the service instead of taking it down.
func RateStore(store Pinger, backend string, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("rate_limit_store", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if store == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "rate limit store not configured",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultRateStoreTimeout))
		defer cancel()

		if err := store.Ping(probeCtx); err != nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  backend + ": " + err.Error(),
				Duration: time.Since(start),
			}
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Details:  backend,
			Duration: time.Since(start),
		}
	})
}
