package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/insightconsole/backend/internal/app"
	"github.com/insightconsole/backend/internal/cache"
	"github.com/insightconsole/backend/internal/database/testutil"
	"github.com/insightconsole/backend/internal/models"
	"github.com/insightconsole/backend/pkg/mail"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)

	cfg.App.BaseURL = "https://deals.example.com"
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	cfg.Maintenance.Enabled = true
	cfg.Tenancy.DomainFirms = []app.DomainFirmConfig{{Domain: "acme.example", Name: "Acme Capital"}}

	_, err = app.ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBootstrapRuntimeServesRequests(t *testing.T) {
	cfg := testConfig(t)

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, stack.Shutdown(ctx, zap.NewNop()))
	})

	require.Equal(t, backendDatabase, stack.RateBackend)
	require.NotNil(t, stack.Cleaner)

	var firm models.Firm
	require.NoError(t, stack.DB.First(&firm, "email_domain = ?", "acme.example").Error)

	rec := httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body, err := json.Marshal(map[string]string{"email": "analyst@acme.example"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/request-link", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))

	var tokens int64
	require.NoError(t, stack.DB.Model(&models.LinkToken{}).Count(&tokens).Error)
	require.EqualValues(t, 1, tokens)

	rec = httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/deals", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBootstrapRuntimeRejectsBadDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"

	_, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "open database")
}

func TestSelectRateStore(t *testing.T) {
	log := zap.NewNop()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	t.Run("database by default", func(t *testing.T) {
		cfg := &app.Config{}
		store, backend, err := selectRateStore(context.Background(), cfg, db, log)
		require.NoError(t, err)
		require.Equal(t, backendDatabase, backend)
		require.IsType(t, &cache.DatabaseStore{}, store)
	})

	t.Run("memory only when allowed", func(t *testing.T) {
		cfg := &app.Config{RateLimit: app.RateLimitConfig{AllowMemoryFallback: true}}
		store, backend, err := selectRateStore(context.Background(), cfg, db, log)
		require.NoError(t, err)
		require.Equal(t, backendMemory, backend)
		require.IsType(t, &cache.MemoryStore{}, store)
	})

	t.Run("redis when reachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &app.Config{Cache: app.CacheConfig{Redis: app.RedisCacheConfig{Enabled: true, Address: mr.Addr()}}}
		store, backend, err := selectRateStore(context.Background(), cfg, db, log)
		require.NoError(t, err)
		require.Equal(t, backendRedis, backend)
		require.IsType(t, &cache.RedisStore{}, store)
		require.NoError(t, store.Close())
	})

	t.Run("database when redis is down", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := &app.Config{Cache: app.CacheConfig{Redis: app.RedisCacheConfig{Enabled: true, Address: addr, Timeout: 200 * time.Millisecond}}}
		store, backend, err := selectRateStore(context.Background(), cfg, db, log)
		require.NoError(t, err)
		require.Equal(t, backendDatabase, backend)
		require.IsType(t, &cache.DatabaseStore{}, store)

		_, _, err = selectRateStore(context.Background(), cfg, nil, log)
		require.ErrorContains(t, err, "connect redis")
	})
}

func TestBuildMailer(t *testing.T) {
	cfg := &app.Config{}
	mailer, err := buildMailer(cfg)
	require.NoError(t, err)
	require.IsType(t, mail.LogMailer{}, mailer)

	cfg.Email.RatePerSecond = 2
	mailer, err = buildMailer(cfg)
	require.NoError(t, err)
	require.IsType(t, &mail.ThrottledMailer{}, mailer)

	cfg.Email.SMTP.Enabled = true
	_, err = buildMailer(cfg)
	require.ErrorContains(t, err, "host is required")
}

func TestLoadApplicationConfig(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "missing"))
	require.ErrorContains(t, err, "does not exist")

	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("server:\n  port: 9191\n"), 0o600))

	cfg, err := loadApplicationConfig(file)
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)
}

func TestRunHelp(t *testing.T) {
	err := run(context.Background(), []string{"-h"})
	require.ErrorIs(t, err, flag.ErrHelp)
}
