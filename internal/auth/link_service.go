package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/insightconsole/backend/internal/models"
	"github.com/insightconsole/backend/pkg/crypto"
	"github.com/insightconsole/backend/pkg/validator"
)

const (
	// DefaultLinkTTL is how long a sign-in link stays valid.
	DefaultLinkTTL = 15 * time.Minute
	// MinLinkTokenLength is the shortest raw token that can have been issued.
	MinLinkTokenLength = 40

	// emailRule matches the binding tag on sign-in request bodies.
	emailRule = "required,email,max=254"
)

// LinkOption customises the LinkService.
type LinkOption func(*LinkService)

// WithLinkTTL overrides the link lifetime.
func WithLinkTTL(d time.Duration) LinkOption {
	return func(s *LinkService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithLinkClock injects a custom time source.
func WithLinkClock(clock func() time.Time) LinkOption {
	return func(s *LinkService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// LinkService issues and consumes single-use sign-in link tokens. Only the latest
// token issued for an email can be redeemed.
type LinkService struct {
	store LinkStore
	ttl   time.Duration
	now   func() time.Time
}

// NewLinkService constructs a LinkService backed by store.
func NewLinkService(store LinkStore, opts ...LinkOption) (*LinkService, error) {
	if store == nil {
		return nil, errors.New("link service: store is required")
	}

	service := &LinkService{
		store: store,
		ttl:   DefaultLinkTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// TTL returns the configured link lifetime.
func (s *LinkService) TTL() time.Duration { return s.ttl }

// Issue creates a fresh token for email, invalidating any earlier one, and returns the
// raw value. The raw value is never persisted.
func (s *LinkService) Issue(ctx context.Context, email string) (string, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}

	raw, err := crypto.GenerateToken(crypto.LinkTokenBytes)
	if err != nil {
		return "", fmt.Errorf("link service: generate token: %w", err)
	}

	now := s.now()
	token := &models.LinkToken{
		Email:     email,
		TokenHash: crypto.HashToken(raw),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.Replace(ctx, token); err != nil {
		return "", err
	}
	return raw, nil
}

// Verify consumes the token issued for email and returns the normalised email.
func (s *LinkService) Verify(ctx context.Context, email, raw string) (string, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	raw = strings.TrimSpace(raw)
	if len(raw) < MinLinkTokenLength {
		return "", fmt.Errorf("%w: token too short", ErrInvalidInput)
	}

	hash := crypto.HashToken(raw)
	token, err := s.store.Find(ctx, email, hash)
	if err != nil {
		return "", err
	}
	if !crypto.ConstantTimeEqual(token.TokenHash, hash) {
		return "", ErrInvalidLink
	}

	now := s.now()
	if now.After(token.ExpiresAt) {
		return "", ErrLinkExpired
	}
	if token.UsedAt != nil {
		return "", ErrLinkAlreadyUsed
	}

	if err := s.store.MarkUsed(ctx, token.ID, now); err != nil {
		return "", err
	}
	return email, nil
}

// NormalizeEmail trims and lowercases an address and checks it against the same
// rule request bodies are bound with.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validator.ValidateVar(email, emailRule); err != nil {
		return "", fmt.Errorf("%w: email", ErrInvalidInput)
	}
	return email, nil
}

// EmailDomain returns the part after the last '@' of a normalised address.
func EmailDomain(email string) string {
	if at := strings.LastIndex(email, "@"); at >= 0 {
		return email[at+1:]
	}
	return ""
}
