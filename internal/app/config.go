package app

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the Insight Console backend.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	App         AppConfig         `mapstructure:"app"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Tenancy     TenancyConfig     `mapstructure:"tenancy"`
	Email       EmailConfig       `mapstructure:"email"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Workflows   WorkflowsConfig   `mapstructure:"workflows"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// AppConfig describes how the product presents itself to users.
type AppConfig struct {
	Name string `mapstructure:"name"`
	// BaseURL is the web origin sign-in links point at.
	BaseURL    string `mapstructure:"base_url"`
	VerifyPath string `mapstructure:"verify_path"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	Postgres        DBAuthConfig  `mapstructure:"postgres"`
	MySQL           DBAuthConfig  `mapstructure:"mysql"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogSQL          bool          `mapstructure:"log_sql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	URL       string        `mapstructure:"url"`
	Address   string        `mapstructure:"address"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TLS       bool          `mapstructure:"tls"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT  JWTSettings  `mapstructure:"jwt"`
	Link LinkSettings `mapstructure:"link"`
}

// JWTSettings configures session tokens.
type JWTSettings struct {
	Secret string `mapstructure:"secret"`
	// PreviousSecrets still verify tokens but never sign, newest first.
	PreviousSecrets []string      `mapstructure:"previous_secrets"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTTL       time.Duration `mapstructure:"access_token_ttl"`
	RefreshTTL      time.Duration `mapstructure:"refresh_token_ttl"`
}

// LinkSettings configures sign-in links.
type LinkSettings struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// RateLimitConfig configures the fixed-window limiter.
type RateLimitConfig struct {
	// AllowMemoryFallback permits a process-local store when no shared store is available.
	AllowMemoryFallback bool                       `mapstructure:"allow_memory_fallback"`
	StoreTimeout        time.Duration              `mapstructure:"store_timeout"`
	Classes             map[string]RateClassConfig `mapstructure:"classes"`
}

// RateClassConfig is the budget of one limit class.
type RateClassConfig struct {
	Limit  int64         `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// TenancyConfig seeds firms that claim whole email domains.
type TenancyConfig struct {
	DomainFirms []DomainFirmConfig `mapstructure:"domain_firms"`
}

// DomainFirmConfig maps an email domain to a firm name.
type DomainFirmConfig struct {
	Domain string `mapstructure:"domain"`
	Name   string `mapstructure:"name"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
	// RatePerSecond caps outbound sends across the process.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MaintenanceConfig schedules background cleanup.
type MaintenanceConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	LinkTokenSweep     string        `mapstructure:"link_token_sweep"`
	LinkTokenRetention time.Duration `mapstructure:"link_token_retention"`
	AuditSweep         string        `mapstructure:"audit_sweep"`
	AuditRetentionDays int           `mapstructure:"audit_retention_days"`
	RateWindowSweep    string        `mapstructure:"rate_window_sweep"`
}

// WorkflowsConfig sizes the analysis runner.
type WorkflowsConfig struct {
	Workers    int           `mapstructure:"workers"`
	QueueSize  int           `mapstructure:"queue_size"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles the metrics endpoint.
type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// HealthConfig tunes readiness probes.
type HealthConfig struct {
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	// MaintenanceMaxAge flags a maintenance job as stale when it has not run for this long.
	MaintenanceMaxAge time.Duration `mapstructure:"maintenance_max_age"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("INSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// Validate reports settings the server cannot start without. Call it after
// ApplyRuntimeDefaults.
func (c *Config) Validate() error {
	var problems []string

	base, err := url.Parse(strings.TrimSpace(c.App.BaseURL))
	if c.App.BaseURL == "" || err != nil || base.Scheme == "" || base.Host == "" {
		problems = append(problems, "app.base_url must be an absolute URL")
	}
	if strings.TrimSpace(c.Auth.JWT.Secret) == "" {
		problems = append(problems, "auth.jwt.secret is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port is out of range")
	}
	for name, class := range c.RateLimit.Classes {
		if class.Limit <= 0 || class.Window <= 0 {
			problems = append(problems, fmt.Sprintf("ratelimit.classes.%s needs a positive limit and window", name))
		}
	}
	for i, firm := range c.Tenancy.DomainFirms {
		if strings.TrimSpace(firm.Domain) == "" {
			problems = append(problems, fmt.Sprintf("tenancy.domain_firms[%d].domain is required", i))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("app.name", "Insight Console")
	v.SetDefault("app.base_url", "")
	v.SetDefault("app.verify_path", "/auth/verify")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/insight.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.mysql.port", 3306)

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.url", "")
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.timeout", "5s")
	v.SetDefault("cache.redis.key_prefix", "insight:")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.previous_secrets", []string{})
	v.SetDefault("auth.jwt.issuer", "insight-console")
	v.SetDefault("auth.jwt.access_token_ttl", "1h")
	v.SetDefault("auth.jwt.refresh_token_ttl", "168h")
	v.SetDefault("auth.link.ttl", "15m")

	v.SetDefault("ratelimit.allow_memory_fallback", false)
	v.SetDefault("ratelimit.store_timeout", "250ms")
	v.SetDefault("ratelimit.classes.magic_link.limit", 3)
	v.SetDefault("ratelimit.classes.magic_link.window", "1h")
	v.SetDefault("ratelimit.classes.api.limit", 100)
	v.SetDefault("ratelimit.classes.api.window", "1m")
	v.SetDefault("ratelimit.classes.upload.limit", 20)
	v.SetDefault("ratelimit.classes.upload.window", "1h")
	v.SetDefault("ratelimit.classes.workflow.limit", 10)
	v.SetDefault("ratelimit.classes.workflow.window", "1h")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.from", "")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")
	v.SetDefault("email.rate_per_second", 5)
	v.SetDefault("email.burst", 10)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.link_token_sweep", "@hourly")
	v.SetDefault("maintenance.link_token_retention", "720h")
	v.SetDefault("maintenance.audit_sweep", "@daily")
	v.SetDefault("maintenance.audit_retention_days", 90)
	v.SetDefault("maintenance.rate_window_sweep", "@every 10m")

	v.SetDefault("workflows.workers", 2)
	v.SetDefault("workflows.queue_size", 64)
	v.SetDefault("workflows.job_timeout", "15m")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.health_check.probe_timeout", "2s")
	v.SetDefault("monitoring.health_check.maintenance_max_age", "3h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
