package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

var (
	ErrTokenMissing   = errors.New("token missing")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenExpired   = errors.New("token expired")
)

// TokenSource is the opaque accessor the connection layer pulls
// credentials from. The second return is false when no token of that
// kind is stored.
type TokenSource interface {
	Token(kind TokenKind) (string, bool)
}

// StaticTokens is a fixed in-memory TokenSource.
type StaticTokens map[TokenKind]string

func (s StaticTokens) Token(kind TokenKind) (string, bool) {
	tok, ok := s[kind]
	return tok, ok && tok != ""
}

// CheckExpiry decodes a JWT locally and reports whether it is already
// expired or unparseable. The signature is deliberately not verified:
// the server owns that, this check only avoids a doomed network
// round-trip with a token we can see is stale.
func CheckExpiry(tokenString string) error {
	if tokenString == "" {
		return ErrTokenMissing
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return ErrTokenMalformed
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return ErrTokenMalformed
	}
	if exp != nil && exp.Before(time.Now()) {
		return ErrTokenExpired
	}
	return nil
}
