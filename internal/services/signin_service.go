package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/insightconsole/backend/internal/auth"
	"github.com/insightconsole/backend/internal/models"
	"github.com/insightconsole/backend/pkg/logger"
	"github.com/insightconsole/backend/pkg/mail"
	"github.com/insightconsole/backend/pkg/metrics"
)

const defaultVerifyPath = "/auth/verify"

// SignInOption customises the SignInService.
type SignInOption func(*SignInService)

// WithSignInBaseURL sets the public origin used in emailed links.
func WithSignInBaseURL(base string) SignInOption {
	return func(s *SignInService) {
		s.baseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

// WithSignInVerifyPath overrides the path of the page that redeems links.
func WithSignInVerifyPath(path string) SignInOption {
	return func(s *SignInService) {
		if path = strings.TrimSpace(path); path != "" {
			s.verifyPath = "/" + strings.TrimLeft(path, "/")
		}
	}
}

// WithSignInSender sets the From address of link emails.
func WithSignInSender(from string) SignInOption {
	return func(s *SignInService) {
		s.from = strings.TrimSpace(from)
	}
}

// WithSignInAppName sets the product name used in email copy.
func WithSignInAppName(name string) SignInOption {
	return func(s *SignInService) {
		if name = strings.TrimSpace(name); name != "" {
			s.appName = name
		}
	}
}

// SignInResult is returned after a successful link verification.
type SignInResult struct {
	User        *models.User
	Tokens      auth.TokenPair
	Provisioned bool
}

// SignInService orchestrates passwordless sign-in: link issuance and delivery, link
// redemption into a session, and session refresh.
type SignInService struct {
	links      *auth.LinkService
	tokens     *auth.TokenService
	identities *IdentityService
	mailer     mail.Mailer
	audit      *AuditService

	baseURL    string
	verifyPath string
	from       string
	appName    string
}

// NewSignInService wires the sign-in flow together.
func NewSignInService(links *auth.LinkService, tokens *auth.TokenService, identities *IdentityService, mailer mail.Mailer, audit *AuditService, opts ...SignInOption) (*SignInService, error) {
	if links == nil {
		return nil, errors.New("sign-in service: link service is required")
	}
	if tokens == nil {
		return nil, errors.New("sign-in service: token service is required")
	}
	if identities == nil {
		return nil, errors.New("sign-in service: identity service is required")
	}
	if mailer == nil {
		return nil, errors.New("sign-in service: mailer is required")
	}

	service := &SignInService{
		links:      links,
		tokens:     tokens,
		identities: identities,
		mailer:     mailer,
		audit:      audit,
		verifyPath: defaultVerifyPath,
		appName:    "Insight Console",
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// RequestLink issues a fresh link for email and mails it. The outcome is identical for
// known and unknown addresses.
func (s *SignInService) RequestLink(ctx context.Context, email string) error {
	normalized, err := auth.NormalizeEmail(email)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("request_link", "failure").Inc()
		return err
	}

	raw, err := s.links.Issue(ctx, normalized)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("request_link", "error").Inc()
		return err
	}

	message := mail.Message{
		From:    s.from,
		To:      []string{normalized},
		Subject: fmt.Sprintf("Your %s sign-in link", s.appName),
		Body:    s.linkBody(s.LinkURL(raw, normalized)),
	}
	if err := s.mailer.Send(ctx, message); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		metrics.AuthAttempts.WithLabelValues("request_link", "error").Inc()
		return fmt.Errorf("sign-in service: send link: %w", err)
	}

	metrics.AuthAttempts.WithLabelValues("request_link", "success").Inc()
	entry := AuditEntry{
		Action: AuditLinkRequested,
		Result: AuditResultSuccess,
		Metadata: map[string]any{
			"email_domain": auth.EmailDomain(normalized),
		},
	}
	// attribute requests for known identities so their firm's audit trail shows them
	if user, err := s.identities.FindByEmail(ctx, normalized); err == nil {
		entry.UserID = user.ID
		entry.FirmID = user.FirmID
	}
	s.audit.Record(ctx, entry)
	return nil
}

// VerifyLink redeems a link, provisioning the identity on first use, and returns a
// fresh session.
func (s *SignInService) VerifyLink(ctx context.Context, email, raw string) (*SignInResult, error) {
	verified, err := s.links.Verify(ctx, email, raw)
	if err != nil {
		s.recordFailure(ctx, "verify_link", AuditLinkVerified, err)
		return nil, err
	}

	user, provisioned, err := s.identities.ResolveOrProvision(ctx, verified)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("verify_link", "error").Inc()
		return nil, err
	}
	if !user.IsActive {
		s.recordFailure(ctx, "verify_link", AuditLinkVerified, ErrIdentityInactive)
		return nil, ErrIdentityInactive
	}

	pair, err := s.tokens.IssuePair(subjectOf(user))
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("verify_link", "error").Inc()
		return nil, err
	}

	if stamped, err := s.identities.TouchLogin(ctx, user.ID); err != nil {
		logger.WithModule("auth").Warn("failed to stamp last login",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	} else {
		user.LastLoginAt = &stamped
	}

	metrics.AuthAttempts.WithLabelValues("verify_link", "success").Inc()
	s.audit.Record(ctx, AuditEntry{
		UserID:       user.ID,
		FirmID:       user.FirmID,
		Action:       AuditLinkVerified,
		ResourceType: "user",
		ResourceID:   user.ID,
		Result:       AuditResultSuccess,
		Metadata:     map[string]any{"provisioned": provisioned},
	})
	return &SignInResult{User: user, Tokens: pair, Provisioned: provisioned}, nil
}

// Refresh exchanges a refresh token for a new access token. The identity is reloaded so
// that role or firm changes and deactivation take effect.
func (s *SignInService) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	claims, err := s.tokens.Verify(refreshToken, auth.KindRefresh)
	if err != nil {
		s.recordFailure(ctx, "refresh", AuditSessionRefresh, err)
		return "", time.Time{}, err
	}

	user, err := s.identities.Get(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			s.recordFailure(ctx, "refresh", AuditSessionRefresh, err)
		} else {
			metrics.AuthAttempts.WithLabelValues("refresh", "error").Inc()
		}
		return "", time.Time{}, err
	}
	if !user.IsActive {
		s.recordFailure(ctx, "refresh", AuditSessionRefresh, ErrIdentityInactive)
		return "", time.Time{}, ErrIdentityInactive
	}

	access, expiresAt, err := s.tokens.Issue(subjectOf(user), auth.KindAccess, s.tokens.AccessTTL())
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("refresh", "error").Inc()
		return "", time.Time{}, err
	}

	metrics.AuthAttempts.WithLabelValues("refresh", "success").Inc()
	return access, expiresAt, nil
}

// LinkURL composes the emailed verification URL.
func (s *SignInService) LinkURL(raw, email string) string {
	query := url.Values{}
	query.Set("token", raw)
	query.Set("email", email)
	return s.baseURL + s.verifyPath + "?" + query.Encode()
}

func (s *SignInService) linkBody(link string) string {
	return fmt.Sprintf("Sign in to %s by opening the link below:\n%s\n\nThe link expires in %d minutes and can be used once. If you did not request it, you can ignore this message.\n",
		s.appName, link, int(s.links.TTL().Minutes()))
}

func (s *SignInService) recordFailure(ctx context.Context, operation, action string, err error) {
	result := "failure"
	if errors.Is(err, auth.ErrStoreUnavailable) {
		result = "error"
	}
	metrics.AuthAttempts.WithLabelValues(operation, result).Inc()
	if result == "error" {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Action:   action,
		Result:   AuditResultFailure,
		Metadata: map[string]any{"reason": failureReason(err)},
	})
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrLinkExpired):
		return "expired"
	case errors.Is(err, auth.ErrLinkAlreadyUsed):
		return "already_used"
	case errors.Is(err, auth.ErrInvalidLink), errors.Is(err, auth.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, auth.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, auth.ErrWrongTokenKind):
		return "wrong_kind"
	case errors.Is(err, auth.ErrInvalidSignature), errors.Is(err, auth.ErrMalformedToken):
		return "invalid_token"
	case errors.Is(err, ErrIdentityInactive):
		return "inactive"
	case errors.Is(err, ErrIdentityNotFound):
		return "unknown_identity"
	default:
		return "other"
	}
}

func subjectOf(user *models.User) auth.Subject {
	return auth.Subject{
		UserID:   user.ID,
		TenantID: user.FirmID,
		Email:    user.Email,
		Role:     user.Role,
	}
}
