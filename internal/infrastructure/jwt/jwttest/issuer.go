// Package jwttest mints RS256 tokens that a jwtinfra.Provider accepts. The
// service itself never signs; tokens come from the auth service.
package jwttest

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	jwtinfra "github.com/go-registration-api/internal/infrastructure/jwt"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Issuer holds a throwaway key pair.
type Issuer struct {
	key *rsa.PrivateKey
}

func NewIssuer(t testing.TB) *Issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &Issuer{key: key}
}

// Provider verifies tokens from this issuer.
func (i *Issuer) Provider() *jwtinfra.Provider {
	return jwtinfra.NewProviderFromKey(&i.key.PublicKey)
}

// Token signs claims for userID and role expiring after ttl; a negative ttl
// yields an already expired token.
func (i *Issuer) Token(t testing.TB, userID, role string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwtinfra.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}).SignedString(i.key)
	require.NoError(t, err)
	return signed
}
