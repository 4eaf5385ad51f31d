package app

import (
	"strings"

	"github.com/insightconsole/backend/internal/auth"
)

// TokenServiceConfig converts AuthConfig into the parameters expected by the token service.
func (c AuthConfig) TokenServiceConfig() auth.TokenConfig {
	previous := make([]string, 0, len(c.JWT.PreviousSecrets))
	for _, secret := range c.JWT.PreviousSecrets {
		if secret = strings.TrimSpace(secret); secret != "" {
			previous = append(previous, secret)
		}
	}

	return auth.TokenConfig{
		Secret:          c.JWT.Secret,
		PreviousSecrets: previous,
		Issuer:          c.JWT.Issuer,
		AccessTokenTTL:  c.JWT.AccessTTL,
		RefreshTokenTTL: c.JWT.RefreshTTL,
	}
}

// LinkOptions converts the link settings into LinkService options.
func (c AuthConfig) LinkOptions() []auth.LinkOption {
	if c.Link.TTL <= 0 {
		return nil
	}
	return []auth.LinkOption{auth.WithLinkTTL(c.Link.TTL)}
}
