package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/insightconsole/backend/internal/cache"
	"github.com/insightconsole/backend/internal/handlers/testutil"
	"github.com/insightconsole/backend/internal/models"
)

const invalidLinkMessage = "This sign-in link is invalid or has expired"

func requestLink(env *testutil.Env, email, ip string) int {
	env.T.Helper()
	rec := env.Do(testutil.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/request-link",
		Body:   map[string]string{"email": email},
		IP:     ip,
	})
	return rec.Code
}

func TestRequestLinkAlwaysSucceeds(t *testing.T) {
	env := testutil.NewEnv(t)

	rec := env.Do(testutil.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/request-link",
		Body:   map[string]string{"email": "  New.Person@Solo.Example "},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := testutil.DecodeJSON(t, rec)
	require.Equal(t, true, body["success"])
	require.NotEmpty(t, body["message"])

	msgs := env.Outbox.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, []string{"new.person@solo.example"}, msgs[0].To)
	require.Contains(t, msgs[0].Body, "https://app.insight.example/auth/verify?")
	require.Contains(t, msgs[0].Body, "email=new.person%40solo.example")

	var count int64
	require.NoError(t, env.DB.Model(&models.User{}).Count(&count).Error)
	require.Zero(t, count, "requesting a link must not provision an identity")
}

func TestRequestLinkRejectsInvalidEmail(t *testing.T) {
	env := testutil.NewEnv(t)

	for _, body := range []any{
		map[string]string{"email": "not-an-email"},
		map[string]string{"email": ""},
		map[string]string{},
		"{broken",
	} {
		rec := env.Do(testutil.Request{Method: http.MethodPost, Path: "/api/auth/request-link", Body: body})
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	}
	require.Empty(t, env.Outbox.Messages())

	var tokens int64
	require.NoError(t, env.DB.Model(&models.LinkToken{}).Count(&tokens).Error)
	require.Zero(t, tokens)
}

func TestRequestLinkRateLimitedPerAddress(t *testing.T) {
	env := testutil.NewEnv(t)

	for i, email := range []string{"a@solo.example", "b@solo.example", "c@solo.example"} {
		require.Equal(t, http.StatusOK, requestLink(env, email, "203.0.113.5"), "request %d", i)
	}

	rec := env.Do(testutil.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/request-link",
		Body:   map[string]string{"email": "d@solo.example"},
		IP:     "203.0.113.5",
	})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "3600", rec.Header().Get("Retry-After"))
	body := testutil.DecodeJSON(t, rec)
	require.EqualValues(t, 3600, body["retry_after"])
	require.Len(t, env.Outbox.Messages(), 3)

	// another address is unaffected
	require.Equal(t, http.StatusOK, requestLink(env, "d@solo.example", "203.0.113.6"))

	env.Clock.Advance(time.Hour)
	require.Equal(t, http.StatusOK, requestLink(env, "e@solo.example", "203.0.113.5"))
}

func TestRequestLinkRateLimitedPerEmail(t *testing.T) {
	env := testutil.NewEnv(t)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, requestLink(env, "target@solo.example", "203.0.113.1"+string(rune('0'+i))))
	}
	require.Equal(t, http.StatusTooManyRequests, requestLink(env, "Target@Solo.example", "203.0.113.99"))
}

func TestRequestLinkEmailRejectionSpendsAddressBudget(t *testing.T) {
	env := testutil.NewEnv(t)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, requestLink(env, "target@solo.example", "198.51.100.1"+string(rune('0'+i))))
	}

	// the address bucket is charged before the email bucket refuses
	require.Equal(t, http.StatusTooManyRequests, requestLink(env, "target@solo.example", "198.51.100.50"))
	require.Equal(t, http.StatusTooManyRequests, requestLink(env, "target@solo.example", "198.51.100.50"))
	require.Equal(t, http.StatusOK, requestLink(env, "other@solo.example", "198.51.100.50"))
	require.Equal(t, http.StatusTooManyRequests, requestLink(env, "third@solo.example", "198.51.100.50"))
}

func TestRequestLinkFailsOpenWhenStoreDown(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithRateStore(brokenStore{}))

	for i := 0; i < 5; i++ {
		rec := env.Do(testutil.Request{
			Method: http.MethodPost,
			Path:   "/api/auth/request-link",
			Body:   map[string]string{"email": "flaky@solo.example"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
	require.Len(t, env.Outbox.Messages(), 5)
}

func TestVerifyLinkIssuesSession(t *testing.T) {
	env := testutil.NewEnv(t)

	require.Equal(t, http.StatusOK, requestLink(env, "jane.doe@acme.example", ""))
	token := env.Outbox.LatestToken(t, "jane.doe@acme.example")

	rec := env.Do(testutil.Request{Method: http.MethodGet, Path: testutil.VerifyPath(token, "jane.doe@acme.example")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := testutil.DecodeJSON(t, rec)
	require.NotEmpty(t, body["accessToken"])
	require.NotEmpty(t, body["refreshToken"])
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	require.NotEmpty(t, user["id"])
	require.Equal(t, "jane.doe@acme.example", user["email"])
	require.Equal(t, "Jane Doe", user["displayName"])
	require.Equal(t, models.RoleConsultant, user["role"])

	var stored models.User
	require.NoError(t, env.DB.First(&stored, "email = ?", "jane.doe@acme.example").Error)
	require.NotNil(t, stored.LastLoginAt)

	var firm models.Firm
	require.NoError(t, env.DB.First(&firm, "id = ?", stored.FirmID).Error)
	require.Equal(t, "Acme Capital", firm.Name)

	// single use
	rec = env.Do(testutil.Request{Method: http.MethodGet, Path: testutil.VerifyPath(token, "jane.doe@acme.example")})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, invalidLinkMessage, testutil.DecodeJSON(t, rec)["error"])
}

func TestVerifyLinkOnlyLatestTokenWorks(t *testing.T) {
	env := testutil.NewEnv(t)

	require.Equal(t, http.StatusOK, requestLink(env, "pat@solo.example", "203.0.113.1"))
	first := env.Outbox.LatestToken(t, "pat@solo.example")
	require.Equal(t, http.StatusOK, requestLink(env, "pat@solo.example", "203.0.113.2"))
	second := env.Outbox.LatestToken(t, "pat@solo.example")
	require.NotEqual(t, first, second)

	rec := env.Do(testutil.Request{Method: http.MethodGet, Path: testutil.VerifyPath(first, "pat@solo.example")})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.Do(testutil.Request{Method: http.MethodGet, Path: testutil.VerifyPath(second, "pat@solo.example")})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyLinkFailures(t *testing.T) {
	env := testutil.NewEnv(t)

	require.Equal(t, http.StatusOK, requestLink(env, "late@solo.example", ""))
	token := env.Outbox.LatestToken(t, "late@solo.example")

	t.Run("missing parameters", func(t *testing.T) {
		rec := env.Do(testutil.Request{Method: http.MethodGet, Path: "/api/auth/verify?email=late%40solo.example"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong email", func(t *testing.T) {
		rec := env.Do(testutil.Request{Method: http.MethodGet, Path: testutil.VerifyPath(token, "other@solo.example")})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, invalidLinkMessage, testutil.DecodeJSON(t, rec)["error"])
	})

	t.Run("short token", func(t *testing.T) {
		rec := env.Do(testutil.Request{Method: http.MethodGet, Path: testutil.VerifyPath("abc", "late@solo.example")})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired", func(t *testing.T) {
		env.Clock.Advance(15*time.Minute + time.Second)
		rec := env.Do(testutil.Request{Method: http.MethodGet, Path: testutil.VerifyPath(token, "late@solo.example")})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, invalidLinkMessage, testutil.DecodeJSON(t, rec)["error"])
	})
}

func TestVerifyLinkRejectsInactiveIdentity(t *testing.T) {
	env := testutil.NewEnv(t)
	session := env.SignIn("gone@acme.example")

	require.NoError(t, env.DB.Model(&models.User{}).Where("id = ?", session.UserID).Update("is_active", false).Error)

	require.Equal(t, http.StatusOK, requestLink(env, "gone@acme.example", "203.0.113.77"))
	token := env.Outbox.LatestToken(t, "gone@acme.example")
	rec := env.Do(testutil.Request{Method: http.MethodGet, Path: testutil.VerifyPath(token, "gone@acme.example")})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.Do(testutil.Request{Method: http.MethodPost, Path: "/api/auth/refresh", Body: map[string]string{"refreshToken": session.RefreshToken}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefresh(t *testing.T) {
	env := testutil.NewEnv(t)
	session := env.SignIn("ref@acme.example")

	env.Clock.Advance(2 * time.Hour)

	rec := env.Do(testutil.Request{Method: http.MethodPost, Path: "/api/auth/refresh", Body: map[string]string{"refreshToken": session.RefreshToken}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	access, ok := testutil.DecodeJSON(t, rec)["accessToken"].(string)
	require.True(t, ok)

	rec = env.Do(testutil.Request{Method: http.MethodGet, Path: "/api/auth/me", Token: access})
	require.Equal(t, http.StatusOK, rec.Code)

	for name, body := range map[string]any{
		"access token":  map[string]string{"refreshToken": session.AccessToken},
		"garbage":       map[string]string{"refreshToken": "not.a.jwt"},
		"missing token": map[string]string{},
	} {
		rec := env.Do(testutil.Request{Method: http.MethodPost, Path: "/api/auth/refresh", Body: body})
		require.Equal(t, http.StatusUnauthorized, rec.Code, name)
		require.NotEmpty(t, testutil.DecodeJSON(t, rec)["error"], name)
	}

	env.Clock.Advance(7 * 24 * time.Hour)
	rec = env.Do(testutil.Request{Method: http.MethodPost, Path: "/api/auth/refresh", Body: map[string]string{"refreshToken": session.RefreshToken}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerAuthentication(t *testing.T) {
	env := testutil.NewEnv(t)
	session := env.SignIn("bearer@acme.example")

	rec := env.Do(testutil.Request{Method: http.MethodGet, Path: "/api/auth/me", Token: session.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	data, ok := testutil.DecodeJSON(t, rec)["data"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, session.FirmID, data["firmId"])

	cases := map[string]string{
		"no header":     "",
		"refresh token": session.RefreshToken,
		"tampered":      session.AccessToken + "x",
	}
	for name, token := range cases {
		rec := env.Do(testutil.Request{Method: http.MethodGet, Path: "/api/deals", Token: token})
		require.Equal(t, http.StatusUnauthorized, rec.Code, name)
		require.Equal(t, "Authentication required", testutil.DecodeJSON(t, rec)["error"], name)
	}

	env.Clock.Advance(time.Hour + time.Second)
	rec = env.Do(testutil.Request{Method: http.MethodGet, Path: "/api/deals", Token: session.AccessToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

type brokenStore struct{}

func (brokenStore) ConsumeWindow(context.Context, string, int64, time.Duration, time.Time) (cache.Window, error) {
	return cache.Window{}, errors.New("connection refused")
}

func (brokenStore) Ping(context.Context) error { return errors.New("connection refused") }

func (brokenStore) Close() error { return nil }
