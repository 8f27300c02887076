// Package auth resolves bearer credentials to verified user identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// An Identity is the verified result of a credential check.
type Identity struct {
	UserID string
	Handle string
}

// ErrInvalidToken covers missing, malformed, expired and mis-signed
// credentials alike; callers get no finer detail.
var ErrInvalidToken = errors.New("invalid or expired token")

// A Verifier validates a bearer credential and resolves it to an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Claims is the JWT payload issued by the auth service.
type Claims struct {
	UserID string `json:"user_id"`
	Handle string `json:"handle"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens. Token issuance lives in the auth
// service; this side only verifies.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier returns a verifier for the given shared secret.
func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret cannot be empty")
	}
	return &JWTVerifier{secret: []byte(secret)}, nil
}

// Verify parses and validates the token, returning the embedded identity.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.UserID, Handle: claims.Handle}, nil
}

// Sign issues a token for the identity. Kept for tests and tooling; the
// production issuer is the auth service.
func (v *JWTVerifier) Sign(id Identity, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: id.UserID,
		Handle: id.Handle,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   id.UserID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
