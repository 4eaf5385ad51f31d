package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/insightconsole/backend/internal/api"
	"github.com/insightconsole/backend/internal/app"
	"github.com/insightconsole/backend/internal/app/maintenance"
	iauth "github.com/insightconsole/backend/internal/auth"
	"github.com/insightconsole/backend/internal/cache"
	"github.com/insightconsole/backend/internal/database"
	"github.com/insightconsole/backend/internal/monitoring"
	"github.com/insightconsole/backend/internal/monitoring/checks"
	"github.com/insightconsole/backend/internal/ratelimit"
	"github.com/insightconsole/backend/internal/services"
	"github.com/insightconsole/backend/internal/tenancy"
	"github.com/insightconsole/backend/internal/workflows"
	"github.com/insightconsole/backend/pkg/logger"
	"github.com/insightconsole/backend/pkg/mail"
)

// Rate-limit store backends.
const (
	backendRedis    = "redis"
	backendDatabase = "database"
	backendMemory   = "memory"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB          *gorm.DB
	RateStore   cache.Store
	RateBackend string
	Runner      *workflows.Runner
	Cleaner     *maintenance.Cleaner
	Health      *monitoring.HealthManager
	Router      *gin.Engine
}

// bootstrapRuntime initialises databases, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			_ = stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.RateStore, stack.RateBackend, err = selectRateStore(ctx, cfg, stack.DB, log)
	if err != nil {
		return nil, err
	}

	tokens, err := iauth.NewTokenService(cfg.Auth.TokenServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise token service: %w", err)
	}

	linkStore, err := iauth.NewGormLinkStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise link store: %w", err)
	}
	links, err := iauth.NewLinkService(linkStore, cfg.Auth.LinkOptions()...)
	if err != nil {
		return nil, fmt.Errorf("initialise link service: %w", err)
	}

	audit, err := services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}
	identities, err := services.NewIdentityService(stack.DB, audit)
	if err != nil {
		return nil, fmt.Errorf("initialise identity service: %w", err)
	}
	deals, err := services.NewDealService(stack.DB, audit)
	if err != nil {
		return nil, fmt.Errorf("initialise deal service: %w", err)
	}

	mailer, err := buildMailer(cfg)
	if err != nil {
		return nil, err
	}
	signIn, err := services.NewSignInService(links, tokens, identities, mailer, audit,
		services.WithSignInBaseURL(cfg.App.BaseURL),
		services.WithSignInVerifyPath(cfg.App.VerifyPath),
		services.WithSignInSender(cfg.Email.SMTP.From),
		services.WithSignInAppName(cfg.App.Name),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise sign-in service: %w", err)
	}

	enforcer, err := tenancy.NewEnforcer(stack.DB, tenancy.WithAudit(audit))
	if err != nil {
		return nil, fmt.Errorf("initialise tenant enforcer: %w", err)
	}

	limiter, err := ratelimit.New(stack.RateStore, cfg.RateLimit.Policies(), cfg.RateLimit.LimiterOptions()...)
	if err != nil {
		return nil, fmt.Errorf("initialise rate limiter: %w", err)
	}

	stack.Runner, err = workflows.NewRunner(stack.DB, cfg.Workflows.RunnerConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise workflow runner: %w", err)
	}
	// Runs outlive the request and the signal context; Stop bounds them at shutdown.
	stack.Runner.Start(context.Background())

	if cfg.Maintenance.Enabled {
		var windows maintenance.WindowPurger
		if dbStore, ok := stack.RateStore.(*cache.DatabaseStore); ok {
			windows = dbStore
		}
		stack.Cleaner = maintenance.NewCleaner(linkStore, audit, windows,
			maintenance.WithLinkRetention(cfg.Maintenance.LinkTokenRetention),
			maintenance.WithLinkSchedule(cfg.Maintenance.LinkTokenSweep),
			maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
			maintenance.WithAuditSchedule(cfg.Maintenance.AuditSweep),
			maintenance.WithWindowSchedule(cfg.Maintenance.RateWindowSweep),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Health = monitoring.NewHealthManager()
	probeTimeout := cfg.Monitoring.Health.ProbeTimeout
	stack.Health.Register(checks.Database(stack.DB, probeTimeout))
	stack.Health.Register(checks.RateStore(stack.RateStore, stack.RateBackend, probeTimeout))
	if stack.Cleaner != nil {
		stack.Health.Register(checks.Maintenance(monitoring.Jobs(), cfg.Monitoring.Health.MaintenanceMaxAge))
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		Tokens:         tokens,
		SignIn:         signIn,
		Identities:     identities,
		Deals:          deals,
		Audit:          audit,
		Tenancy:        enforcer,
		Limiter:        limiter,
		Workflows:      stack.Runner,
		Health:         stack.Health,
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		DisableMetrics: !cfg.Monitoring.Prometheus.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background work and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) error {
	if s == nil {
		return nil
	}

	var errs error

	if s.Runner != nil {
		if err := s.Runner.Stop(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop workflow runner: %w", err))
		}
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.RateStore != nil {
		if err := s.RateStore.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close rate store: %w", err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db, cfg.Tenancy.Seeds()); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

// selectRateStore picks the shared counter store. Redis is preferred; the database is
// the shared fallback. The process-local store is only used when explicitly allowed and
// no Redis is configured.
func selectRateStore(ctx context.Context, cfg *app.Config, db *gorm.DB, log *zap.Logger) (cache.Store, string, error) {
	if cfg.Cache.Redis.Enabled {
		store, err := cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig())
		if err == nil {
			log.Info("rate limits backed by redis")
			return store, backendRedis, nil
		}
		if db == nil {
			return nil, "", fmt.Errorf("connect redis: %w", err)
		}
		log.Warn("redis unavailable; rate limits fall back to the database", zap.Error(err))
		return cache.NewDatabaseStore(db), backendDatabase, nil
	}

	if cfg.RateLimit.AllowMemoryFallback {
		log.Warn("rate limits are process-local; budgets are not shared between instances")
		return cache.NewMemoryStore(), backendMemory, nil
	}

	if db == nil {
		return nil, "", fmt.Errorf("rate limit store: no redis or database configured")
	}
	return cache.NewDatabaseStore(db), backendDatabase, nil
}

func buildMailer(cfg *app.Config) (mail.Mailer, error) {
	var mailer mail.Mailer = mail.LogMailer{Logger: logger.WithModule("mail")}
	if cfg.Email.SMTP.Enabled {
		smtp, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if err != nil {
			return nil, fmt.Errorf("initialise smtp mailer: %w", err)
		}
		mailer = smtp
	}
	return mail.NewThrottledMailer(mailer, cfg.Email.RatePerSecond, cfg.Email.Burst), nil
}
