package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
)

// LinkTokenBytes is the entropy of a sign-in link token (256 bits).
const LinkTokenBytes = 32

var errShortRead = errors.New("crypto: short read from random source")

// Reader is the randomness source used by GenerateToken. Tests may replace it.
var Reader io.Reader = rand.Reader

// GenerateToken returns a random URL-safe token of the requested byte length.
func GenerateToken(length int) (string, error) {
	buffer := make([]byte, length)
	n, err := io.ReadFull(Reader, buffer)
	if err != nil {
		return "", err
	}
	if n != length {
		return "", errShortRead
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// HashToken returns the lowercase hex SHA-256 digest of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual compares two strings without leaking timing information.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
