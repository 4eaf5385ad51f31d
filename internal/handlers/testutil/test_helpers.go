package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/insightconsole/backend/internal/api"
	iauth "github.com/insightconsole/backend/internal/auth"
	"github.com/insightconsole/backend/internal/cache"
	"github.com/insightconsole/backend/internal/database"
	sharedtestutil "github.com/insightconsole/backend/internal/database/testutil"
	"github.com/insightconsole/backend/internal/ids"
	"github.com/insightconsole/backend/internal/models"
	"github.com/insightconsole/backend/internal/ratelimit"
	"github.com/insightconsole/backend/internal/services"
	"github.com/insightconsole/backend/internal/tenancy"
	"github.com/insightconsole/backend/pkg/mail"
)

const (
	// ClaimedDomain belongs to a seeded firm, so every address under it shares a tenant.
	ClaimedDomain = "acme.example"
	// DefaultIP is the peer address used by Do unless a request sets its own.
	DefaultIP = "192.0.2.10"

	jwtSecret = "handler-tests-signing-secret-0123456789"
)

var linkTokenPattern = regexp.MustCompile(`[?&]token=([A-Za-z0-9_-]+)`)

// Clock is a settable time source shared by every service in an Env.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Outbox records outgoing mail.
type Outbox struct {
	mu       sync.Mutex
	messages []mail.Message
}

// Send implements mail.Mailer.
func (o *Outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	o.messages = append(o.messages, msg)
	o.mu.Unlock()
	return nil
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []mail.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]mail.Message(nil), o.messages...)
}

// LatestToken extracts the raw link token from the newest message sent to email.
func (o *Outbox) LatestToken(t *testing.T, email string) string {
	t.Helper()
	msgs := o.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		for _, to := range msgs[i].To {
			if to != email {
				continue
			}
			match := linkTokenPattern.FindStringSubmatch(msgs[i].Body)
			require.Len(t, match, 2, "link missing from message body")
			return match[1]
		}
	}
	t.Fatalf("no message sent to %s", email)
	return ""
}

// Queue records enqueued workflows and can be told to reject them.
type Queue struct {
	mu       sync.Mutex
	accepted []string
	Reject   error
}

// Enqueue implements handlers.WorkflowQueue.
func (q *Queue) Enqueue(workflowID string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Reject != nil {
		return "", q.Reject
	}
	q.accepted = append(q.accepted, workflowID)
	return ids.New(), nil
}

// Enqueued lists the workflow ids accepted so far.
func (q *Queue) Enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.accepted...)
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	Tokens *iauth.TokenService
	Clock  *Clock
	Outbox *Outbox
	Queue  *Queue
	Store  *cache.MemoryStore
}

// EnvOption customises NewEnv.
type EnvOption func(*envConfig)

type envConfig struct {
	store    cache.Store
	policies map[string]ratelimit.Policy
}

// WithRateStore swaps the rate-limit backend.
func WithRateStore(store cache.Store) EnvOption {
	return func(cfg *envConfig) { cfg.store = store }
}

// WithPolicies overrides the rate-limit classes.
func WithPolicies(policies map[string]ratelimit.Policy) EnvOption {
	return func(cfg *envConfig) { cfg.policies = policies }
}

// NewEnv provisions a fresh handler test environment with migrations and seed data applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	memory := cache.NewMemoryStore()
	cfg := envConfig{store: memory}
	for _, opt := range opts {
		opt(&cfg)
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithDomainFirms(database.DomainFirm{
		Domain: ClaimedDomain,
		Name:   "Acme Capital",
	}))
	clock := &Clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	outbox := &Outbox{}
	queue := &Queue{}

	tokens, err := iauth.NewTokenService(iauth.TokenConfig{
		Secret: jwtSecret,
		Issuer: "handler-tests",
		Clock:  clock.Now,
	})
	require.NoError(t, err)

	linkStore, err := iauth.NewGormLinkStore(db)
	require.NoError(t, err)
	links, err := iauth.NewLinkService(linkStore, iauth.WithLinkClock(clock.Now))
	require.NoError(t, err)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)
	identities, err := services.NewIdentityService(db, audit)
	require.NoError(t, err)
	deals, err := services.NewDealService(db, audit)
	require.NoError(t, err)
	signIn, err := services.NewSignInService(links, tokens, identities, outbox, audit,
		services.WithSignInBaseURL("https://app.insight.example"),
		services.WithSignInSender("no-reply@insight.example"),
	)
	require.NoError(t, err)

	enforcer, err := tenancy.NewEnforcer(db, tenancy.WithAudit(audit))
	require.NoError(t, err)

	limiter, err := ratelimit.New(cfg.store, cfg.policies, ratelimit.WithClock(clock.Now))
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		Tokens:     tokens,
		SignIn:     signIn,
		Identities: identities,
		Deals:      deals,
		Audit:      audit,
		Tenancy:    enforcer,
		Limiter:    limiter,
		Workflows:  queue,
	})
	require.NoError(t, err)

	return &Env{
		T:      t,
		DB:     db,
		Router: router,
		Tokens: tokens,
		Clock:  clock,
		Outbox: outbox,
		Queue:  queue,
		Store:  memory,
	}
}

// Request describes a call made through Do.
type Request struct {
	Method string
	Path   string
	Body   any
	Token  string
	IP     string
}

// Do issues a request against the router and returns the recorder.
func (e *Env) Do(req Request) *httptest.ResponseRecorder {
	e.T.Helper()

	var body *bytes.Buffer
	switch v := req.Body.(type) {
	case nil:
		body = &bytes.Buffer{}
	case string:
		body = bytes.NewBufferString(v)
	default:
		payload, err := json.Marshal(v)
		require.NoError(e.T, err)
		body = bytes.NewBuffer(payload)
	}

	httpReq := httptest.NewRequest(req.Method, req.Path, body)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	ip := req.IP
	if ip == "" {
		ip = DefaultIP
	}
	httpReq.RemoteAddr = ip + ":41234"

	rec := httptest.NewRecorder()
	e.Router.ServeHTTP(rec, httpReq)
	return rec
}

// Session is a signed-in caller.
type Session struct {
	UserID       string
	FirmID       string
	Email        string
	AccessToken  string
	RefreshToken string
}

// SignIn runs the full link flow for email and returns the resulting session. Each call
// uses its own client address so the link budget of other tests is untouched.
func (e *Env) SignIn(email string) Session {
	e.T.Helper()

	ip := "198.51.100." + string(rune('1'+len(e.Outbox.Messages())%9))
	rec := e.Do(Request{Method: http.MethodPost, Path: "/api/auth/request-link", Body: map[string]string{"email": email}, IP: ip})
	require.Equal(e.T, http.StatusOK, rec.Code, rec.Body.String())

	token := e.Outbox.LatestToken(e.T, email)
	rec = e.Do(Request{Method: http.MethodGet, Path: VerifyPath(token, email)})
	require.Equal(e.T, http.StatusOK, rec.Code, rec.Body.String())

	var payload struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		User         struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(e.T, json.Unmarshal(rec.Body.Bytes(), &payload))

	claims, err := e.Tokens.Verify(payload.AccessToken, iauth.KindAccess)
	require.NoError(e.T, err)

	return Session{
		UserID:       payload.User.ID,
		FirmID:       claims.TenantID,
		Email:        email,
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
}

// Promote stores a new role for the session's identity and swaps in an access token
// minted through the refresh endpoint, so the claims carry the role.
func (e *Env) Promote(session Session, role string) Session {
	e.T.Helper()

	require.NoError(e.T, e.DB.Model(&models.User{}).Where("id = ?", session.UserID).Update("role", role).Error)

	rec := e.Do(Request{Method: http.MethodPost, Path: "/api/auth/refresh", Body: map[string]string{"refreshToken": session.RefreshToken}})
	require.Equal(e.T, http.StatusOK, rec.Code, rec.Body.String())

	var payload struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(e.T, json.Unmarshal(rec.Body.Bytes(), &payload))
	session.AccessToken = payload.AccessToken
	return session
}

// VerifyPath builds the verify URL for a raw token.
func VerifyPath(token, email string) string {
	return "/api/auth/verify?token=" + token + "&email=" + url.QueryEscape(email)
}

// DecodeJSON unmarshals a recorder body into a generic map.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
