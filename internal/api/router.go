package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	iauth "github.com/insightconsole/backend/internal/auth"
	"github.com/insightconsole/backend/internal/handlers"
	"github.com/insightconsole/backend/internal/middleware"
	"github.com/insightconsole/backend/internal/models"
	"github.com/insightconsole/backend/internal/monitoring"
	"github.com/insightconsole/backend/internal/ratelimit"
	"github.com/insightconsole/backend/internal/services"
	"github.com/insightconsole/backend/internal/tenancy"
)

// Dependencies bundles everything the HTTP surface needs.
type Dependencies struct {
	Tokens     *iauth.TokenService
	SignIn     *services.SignInService
	Identities *services.IdentityService
	Deals      *services.DealService
	Audit      *services.AuditService
	Tenancy    middleware.TenantAuthorizer
	Limiter    *ratelimit.Limiter
	Workflows  handlers.WorkflowQueue
	Health     *monitoring.HealthManager
	// CORSOrigins lists browser origins allowed to call the API. Empty allows any.
	CORSOrigins []string
	// TrustedProxies may set X-Forwarded-For. Nil trusts none and uses the peer address.
	TrustedProxies []string
	DisableMetrics bool
}

func (d Dependencies) validate() error {
	switch {
	case d.Tokens == nil:
		return fmt.Errorf("token service must be provided")
	case d.SignIn == nil:
		return fmt.Errorf("sign-in service must be provided")
	case d.Identities == nil:
		return fmt.Errorf("identity service must be provided")
	case d.Deals == nil:
		return fmt.Errorf("deal service must be provided")
	case d.Audit == nil:
		return fmt.Errorf("audit service must be provided")
	case d.Tenancy == nil:
		return fmt.Errorf("tenant authorizer must be provided")
	case d.Limiter == nil:
		return fmt.Errorf("rate limiter must be provided")
	case d.Workflows == nil:
		return fmt.Errorf("workflow queue must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Health == nil {
		deps.Health = monitoring.NewHealthManager()
	}

	r := gin.New()
	if err := r.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.AuditContext())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(deps.CORSOrigins...))
	r.NoRoute(middleware.NotFoundHandler)

	r.GET("/health", handlers.Health(deps.Health))
	if !deps.DisableMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	authHandler := handlers.NewAuthHandler(deps.SignIn, deps.Identities, deps.Limiter)

	// Public auth routes. request-link applies the magic_link class itself since it
	// keys on the submitted email as well as the client address.
	public := r.Group("/api/auth")
	{
		public.POST("/request-link", authHandler.RequestLink)
		public.GET("/verify", authHandler.VerifyLink)
		public.POST("/refresh", authHandler.Refresh)
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.Tokens))
	api.Use(middleware.RateLimit(deps.Limiter, ratelimit.ClassAPI))

	api.GET("/auth/me", authHandler.Me)

	auditHandler := handlers.NewAuditHandler(deps.Audit)
	api.GET("/audit", middleware.RequireRole(models.RoleAdmin), auditHandler.List)

	dealHandler := handlers.NewDealHandler(deps.Deals, deps.Workflows, deps.Audit)
	ownsDeal := middleware.RequireTenantResource(deps.Tenancy, tenancy.KindDeal, "id")

	deals := api.Group("/deals")
	{
		deals.GET("", dealHandler.List)
		deals.POST("", dealHandler.Create)
		deals.GET("/:id", ownsDeal, dealHandler.Get)
		deals.POST("/:id/documents", ownsDeal, middleware.RateLimit(deps.Limiter, ratelimit.ClassUpload), dealHandler.AddDocument)
		deals.POST("/:id/workflows", ownsDeal, middleware.RateLimit(deps.Limiter, ratelimit.ClassWorkflow), dealHandler.StartWorkflow)
	}

	api.GET("/documents/:id", middleware.RequireTenantResource(deps.Tenancy, tenancy.KindDocument, "id"), dealHandler.GetDocument)
	api.GET("/workflows/:id", middleware.RequireTenantResource(deps.Tenancy, tenancy.KindWorkflow, "id"), dealHandler.GetWorkflow)

	return r, nil
}
