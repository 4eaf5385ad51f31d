package auth

import "errors"

var (
	// ErrInvalidInput marks a request rejected before any store access.
	ErrInvalidInput = errors.New("auth: invalid input")
	// ErrInvalidLink indicates no link token matches the supplied email and token.
	ErrInvalidLink = errors.New("auth: invalid link")
	// ErrLinkExpired indicates the link token outlived its validity window.
	ErrLinkExpired = errors.New("auth: link expired")
	// ErrLinkAlreadyUsed indicates the link token was already consumed.
	ErrLinkAlreadyUsed = errors.New("auth: link already used")

	// ErrMalformedToken indicates a session token that cannot be parsed.
	ErrMalformedToken = errors.New("auth: malformed token")
	// ErrInvalidSignature indicates a session token not signed by any accepted secret.
	ErrInvalidSignature = errors.New("auth: invalid signature")
	// ErrTokenExpired indicates a session token past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrWrongTokenKind indicates an access token used as a refresh token or the reverse.
	ErrWrongTokenKind = errors.New("auth: wrong token kind")

	// ErrStoreUnavailable wraps persistence failures.
	ErrStoreUnavailable = errors.New("auth: store unavailable")
)

// IsLinkFailure reports whether err is one of the link verification failures that
// collapse to a single client-facing message.
func IsLinkFailure(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidLink) ||
		errors.Is(err, ErrLinkExpired) ||
		errors.Is(err, ErrLinkAlreadyUsed)
}

// IsTokenFailure reports whether err came from session token verification.
func IsTokenFailure(err error) bool {
	return errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrWrongTokenKind)
}
