package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/insightconsole/backend/internal/cache"
	"github.com/insightconsole/backend/pkg/logger"
	"github.com/insightconsole/backend/pkg/metrics"
)

// Limit classes.
const (
	ClassMagicLink = "magic_link"
	ClassAPI       = "api"
	ClassUpload    = "upload"
	ClassWorkflow  = "workflow"
)

const defaultStoreTimeout = 250 * time.Millisecond

var (
	// ErrUnknownClass is returned for a class with no configured policy.
	ErrUnknownClass = errors.New("ratelimit: unknown class")
	// ErrRateLimited marks a request rejected because its window budget is spent.
	ErrRateLimited = errors.New("ratelimit: limit exceeded")
)

// Policy is the fixed-window budget of a class.
type Policy struct {
	Limit  int64
	Window time.Duration
}

// DefaultPolicies returns the stock class budgets.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		ClassMagicLink: {Limit: 3, Window: time.Hour},
		ClassAPI:       {Limit: 100, Window: time.Minute},
		ClassUpload:    {Limit: 20, Window: time.Hour},
		ClassWorkflow:  {Limit: 10, Window: time.Hour},
	}
}

// Decision is the outcome of one Consume call.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
	// FailedOpen is set when the store could not be reached and the request was let through.
	FailedOpen bool
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithStoreTimeout bounds each store round trip.
func WithStoreTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// Limiter applies fixed-window budgets per class and scope over a shared store.
type Limiter struct {
	store    cache.Store
	policies map[string]Policy
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// New validates policies and constructs a Limiter.
func New(store cache.Store, policies map[string]Policy, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: store is required")
	}
	if len(policies) == 0 {
		policies = DefaultPolicies()
	}

	copied := make(map[string]Policy, len(policies))
	for class, policy := range policies {
		if policy.Limit <= 0 || policy.Window <= 0 {
			return nil, fmt.Errorf("ratelimit: class %q needs a positive limit and window", class)
		}
		copied[class] = policy
	}

	l := &Limiter{
		store:    store,
		policies: copied,
		timeout:  defaultStoreTimeout,
		now:      time.Now,
		log:      logger.WithModule("ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Policy returns the budget configured for class.
func (l *Limiter) Policy(class string) (Policy, bool) {
	p, ok := l.policies[class]
	return p, ok
}

// Consume spends one unit of class budget for scope. Store failures never reject a
// request: the decision is allowed with FailedOpen set and the failure is logged.
func (l *Limiter) Consume(ctx context.Context, class, scope string) (Decision, error) {
	policy, ok := l.policies[class]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}

	now := l.now()
	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	window, err := l.store.ConsumeWindow(storeCtx, Key(class, scope), policy.Limit, policy.Window, now)
	if err != nil {
		l.log.Warn("rate limit store unavailable, allowing request",
			zap.String("class", class),
			zap.Error(err),
		)
		metrics.RateLimitDecisions.WithLabelValues(class, "fail_open").Inc()
		return Decision{Allowed: true, Limit: policy.Limit, Remaining: policy.Limit, FailedOpen: true}, nil
	}

	decision := Decision{
		Allowed:   window.Allowed,
		Limit:     policy.Limit,
		Remaining: window.Remaining(),
		ResetAt:   window.ResetAt,
	}
	if !window.Allowed {
		decision.RetryAfter = window.ResetAt.Sub(now)
		if decision.RetryAfter < 0 {
			decision.RetryAfter = 0
		}
		metrics.RateLimitDecisions.WithLabelValues(class, "reject").Inc()
	} else {
		metrics.RateLimitDecisions.WithLabelValues(class, "allow").Inc()
	}
	return decision, nil
}

// Key builds the store key for a class and scope.
func Key(class, scope string) string {
	return "ratelimit:" + class + ":" + scope
}

// ScopeKey prefers the authenticated subject and falls back to the client address.
func ScopeKey(subjectID, clientIP string) string {
	if subjectID = strings.TrimSpace(subjectID); subjectID != "" {
		return "user:" + subjectID
	}
	if clientIP = strings.TrimSpace(clientIP); clientIP != "" {
		return "ip:" + clientIP
	}
	return "ip:unknown"
}

// EmailScope keys a bucket on a normalised email address.
func EmailScope(email string) string {
	return "email:" + strings.ToLower(strings.TrimSpace(email))
}
