package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/insightconsole/backend/internal/auth"
	"github.com/insightconsole/backend/internal/cache"
	"github.com/insightconsole/backend/internal/database/testutil"
	"github.com/insightconsole/backend/internal/monitoring"
	"github.com/insightconsole/backend/internal/ratelimit"
	"github.com/insightconsole/backend/internal/services"
	"github.com/insightconsole/backend/internal/tenancy"
	"github.com/insightconsole/backend/pkg/mail"
)

type nopQueue struct{}

func (nopQueue) Enqueue(string) (string, error) { return "job", nil }

func newDeps(t *testing.T) Dependencies {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	tokens, err := iauth.NewTokenService(iauth.TokenConfig{Secret: "router-test-secret-0123456789abcdefgh"})
	require.NoError(t, err)
	store, err := iauth.NewGormLinkStore(db)
	require.NoError(t, err)
	links, err := iauth.NewLinkService(store)
	require.NoError(t, err)
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)
	identities, err := services.NewIdentityService(db, audit)
	require.NoError(t, err)
	deals, err := services.NewDealService(db, audit)
	require.NoError(t, err)
	signIn, err := services.NewSignInService(links, tokens, identities, mail.LogMailer{}, audit)
	require.NoError(t, err)
	enforcer, err := tenancy.NewEnforcer(db)
	require.NoError(t, err)
	limiter, err := ratelimit.New(cache.NewMemoryStore(), nil)
	require.NoError(t, err)

	return Dependencies{
		Tokens:     tokens,
		SignIn:     signIn,
		Identities: identities,
		Deals:      deals,
		Audit:      audit,
		Tenancy:    enforcer,
		Limiter:    limiter,
		Workflows:  nopQueue{},
	}
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)

	_, err := NewRouter(Dependencies{})
	require.Error(t, err)

	deps := newDeps(t)
	deps.Limiter = nil
	_, err = NewRouter(deps)
	require.ErrorContains(t, err, "rate limiter")
}

func TestRouterRegistersRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, err := NewRouter(newDeps(t))
	require.NoError(t, err)

	registered := make(map[string]bool)
	for _, route := range router.Routes() {
		registered[route.Method+" "+route.Path] = true
	}

	for _, want := range []string{
		"GET /health",
		"GET /metrics",
		"POST /api/auth/request-link",
		"GET /api/auth/verify",
		"POST /api/auth/refresh",
		"GET /api/auth/me",
		"GET /api/audit",
		"GET /api/deals",
		"POST /api/deals",
		"GET /api/deals/:id",
		"POST /api/deals/:id/documents",
		"POST /api/deals/:id/workflows",
		"GET /api/documents/:id",
		"GET /api/workflows/:id",
	} {
		require.True(t, registered[want], "missing route %s", want)
	}
}

func TestRouterHealthAndNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	deps := newDeps(t)
	deps.Health = monitoring.NewHealthManager()
	deps.Health.Register(monitoring.NewCheck("rate_store", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "redis unreachable"}
	}))
	router, err := NewRouter(deps)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report monitoring.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, monitoring.StatusDegraded, report.Status)
	require.Len(t, report.Checks, 1)

	deps.Health.Register(monitoring.NewCheck("database", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown}
	}))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "ROUTE_NOT_FOUND")
}

func TestRouterServesMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, err := NewRouter(newDeps(t))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
