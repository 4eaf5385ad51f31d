package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultAccessTokenTTL is the fallback lifetime of access tokens.
	DefaultAccessTokenTTL = time.Hour
	// DefaultRefreshTokenTTL is the fallback lifetime of refresh tokens.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	// MinSecretLength is the shortest HMAC secret accepted.
	MinSecretLength = 32
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// TokenConfig bundles the configuration required to build a TokenService.
type TokenConfig struct {
	Secret string
	// PreviousSecrets are accepted for verification only, newest first.
	PreviousSecrets []string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Clock           func() time.Time
}

// Subject is the principal a token is issued to.
type Subject struct {
	UserID   string
	TenantID string
	Email    string
	Role     string
}

// SessionClaims represents the claims embedded in issued tokens.
type SessionClaims struct {
	TenantID string    `json:"tid"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
	Kind     TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// Principal returns the subject the claims describe.
func (c *SessionClaims) Principal() Subject {
	return Subject{UserID: c.RegisteredClaims.Subject, TenantID: c.TenantID, Email: c.Email, Role: c.Role}
}

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type signingKey struct {
	id     string
	secret []byte
}

// TokenService issues and verifies HMAC-SHA256 signed session tokens. It keeps no
// server-side session state.
type TokenService struct {
	current    signingKey
	verifiers  []signingKey
	keys       map[string]signingKey
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

// NewTokenService constructs a TokenService when provided with the required configuration.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("token service: secret must be at least %d bytes", MinSecretLength)
	}

	current := newSigningKey(cfg.Secret)
	verifiers := []signingKey{current}
	for _, previous := range cfg.PreviousSecrets {
		if strings.TrimSpace(previous) == "" || previous == cfg.Secret {
			continue
		}
		verifiers = append(verifiers, newSigningKey(previous))
	}
	keys := make(map[string]signingKey, len(verifiers))
	for _, key := range verifiers {
		if _, taken := keys[key.id]; !taken {
			keys[key.id] = key
		}
	}

	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &TokenService{
		current:    current,
		verifiers:  verifiers,
		keys:       keys,
		issuer:     cfg.Issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
		parser:     jwt.NewParser(opts...),
	}, nil
}

func newSigningKey(secret string) signingKey {
	sum := sha256.Sum256([]byte(secret))
	return signingKey{id: hex.EncodeToString(sum[:4]), secret: []byte(secret)}
}

// AccessTTL returns the access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// Issue signs a token of kind for subject, valid for ttl.
func (s *TokenService) Issue(subject Subject, kind TokenKind, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject.UserID) == "" {
		return "", time.Time{}, errors.New("token service: user id is required")
	}
	if kind != KindAccess && kind != KindRefresh {
		return "", time.Time{}, fmt.Errorf("token service: unknown kind %q", kind)
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("token service: ttl must be positive")
	}

	now := s.now()
	expiresAt := now.Add(ttl)
	claims := &SessionClaims{
		TenantID: subject.TenantID,
		Email:    subject.Email,
		Role:     subject.Role,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.UserID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = s.current.id
	signed, err := token.SignedString(s.current.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token service: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssuePair issues an access token and a refresh token for subject.
func (s *TokenService) IssuePair(subject Subject) (TokenPair, error) {
	access, accessExp, err := s.Issue(subject, KindAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.Issue(subject, KindRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify checks structure, signature, expiry and kind, in that order. The kid header
// picks the secret; a token without one is tried against the current secret first,
// then each previous secret.
func (s *TokenService) Verify(tokenString string, kind TokenKind) (*SessionClaims, error) {
	if tokenString == "" || strings.Count(tokenString, ".") != 2 {
		return nil, ErrMalformedToken
	}

	claims, err := s.parse(tokenString, s.keyByID)
	if errors.Is(err, errNoKeyID) {
		// tokens without a kid are tried against every accepted secret
		for _, key := range s.verifiers {
			secret := key.secret
			claims, err = s.parse(tokenString, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			})
			if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
				break
			}
		}
	}
	if err != nil {
		return nil, classifyParseError(err)
	}
	if claims.RegisteredClaims.Subject == "" {
		return nil, ErrMalformedToken
	}
	if claims.Kind != kind {
		return nil, ErrWrongTokenKind
	}
	return claims, nil
}

var errNoKeyID = errors.New("token has no key id")

func (s *TokenService) parse(tokenString string, keyFunc jwt.Keyfunc) (*SessionClaims, error) {
	var claims SessionClaims
	if _, err := s.parser.ParseWithClaims(tokenString, &claims, keyFunc); err != nil {
		return nil, err
	}
	return &claims, nil
}

// keyByID selects the secret named by the token's kid header.
func (s *TokenService) keyByID(token *jwt.Token) (interface{}, error) {
	raw, present := token.Header["kid"]
	if !present {
		return nil, errNoKeyID
	}
	id, _ := raw.(string)
	key, ok := s.keys[id]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", id)
	}
	return key.secret, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}
