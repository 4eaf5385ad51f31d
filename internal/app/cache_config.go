package app

import (
	"strings"

	"github.com/insightconsole/backend/internal/cache"
	"github.com/insightconsole/backend/internal/ratelimit"
)

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		URL:       strings.TrimSpace(c.Redis.URL),
		Address:   strings.TrimSpace(c.Redis.Address),
		Username:  strings.TrimSpace(c.Redis.Username),
		Password:  c.Redis.Password,
		DB:        c.Redis.DB,
		TLS:       c.Redis.TLS,
		Timeout:   c.Redis.Timeout,
		KeyPrefix: c.Redis.KeyPrefix,
	}
}

// Policies converts the configured classes into limiter policies. Stock classes missing
// from the configuration keep their default budgets.
func (c RateLimitConfig) Policies() map[string]ratelimit.Policy {
	policies := ratelimit.DefaultPolicies()
	for name, class := range c.Classes {
		policies[strings.ToLower(strings.TrimSpace(name))] = ratelimit.Policy{
			Limit:  class.Limit,
			Window: class.Window,
		}
	}
	return policies
}

// LimiterOptions returns the limiter tuning options.
func (c RateLimitConfig) LimiterOptions() []ratelimit.Option {
	if c.StoreTimeout <= 0 {
		return nil
	}
	return []ratelimit.Option{ratelimit.WithStoreTimeout(c.StoreTimeout)}
}
