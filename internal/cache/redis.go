package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisTimeout = 2 * time.Second
	defaultKeyPrefix    = "insight:"
)

// RedisConfig captures connection parameters for the shared Redis store.
type RedisConfig struct {
	Address   string
	URL       string // redis:// or rediss:// URL; overrides Address when set
	Username  string
	Password  string
	DB        int
	TLS       bool
	Timeout   time.Duration
	KeyPrefix string
}

// consumeScript implements the fixed window in one round trip. The hash holds the
// count and the reset instant in unix milliseconds; the key TTL equals the window so
// storage self-cleans.
var consumeScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local reset_at = tonumber(redis.call('HGET', KEYS[1], 'reset_at') or '0')
if count == 0 or now_ms >= reset_at then
  reset_at = now_ms + window_ms
  redis.call('HSET', KEYS[1], 'count', 1, 'reset_at', reset_at)
  redis.call('PEXPIRE', KEYS[1], window_ms)
  return {1, 1, reset_at}
end
if count >= limit then
  return {0, count, reset_at}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count, reset_at}
`)

// RedisStore keeps counters in Redis. It is the canonical store for multi-instance
// deployments.
type RedisStore struct {
	client *redis.Client
	prefix string
	owned  bool
}

// NewRedisStore dials Redis and verifies connectivity before returning.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}

	store := NewRedisStoreFromClient(client, cfg.KeyPrefix)
	store.owned = true
	return store, nil
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps ownership.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func redisOptions(cfg RedisConfig) (*redis.Options, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}

	var opts *redis.Options
	if url := strings.TrimSpace(cfg.URL); url != "" {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		opts = parsed
	} else {
		addr := strings.TrimSpace(cfg.Address)
		if addr == "" {
			return nil, errors.New("redis: address is required")
		}
		opts = &redis.Options{
			Addr:     addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
		if cfg.TLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	opts.DialTimeout = timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout
	return opts, nil
}

// ConsumeWindow implements Store.
func (s *RedisStore) ConsumeWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (Window, error) {
	if s == nil || s.client == nil {
		return Window{}, fmt.Errorf("%w: redis store not initialised", ErrUnavailable)
	}
	if limit <= 0 || window <= 0 {
		return Window{}, fmt.Errorf("cache: invalid window limit=%d window=%s", limit, window)
	}

	res, err := consumeScript.Run(ctx, s.client, []string{s.prefix + key},
		limit, window.Milliseconds(), now.UnixMilli()).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 3 {
		return Window{}, fmt.Errorf("%w: unexpected script reply %v", ErrUnavailable, res)
	}

	return Window{
		Allowed: res[0] == 1,
		Count:   res[1],
		Limit:   limit,
		ResetAt: time.UnixMilli(res[2]),
	}, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("%w: redis store not initialised", ErrUnavailable)
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the client when the store created it.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}
