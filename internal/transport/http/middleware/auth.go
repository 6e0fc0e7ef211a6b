package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-registration-api/internal/domain"
	jwtinfra "github.com/go-registration-api/internal/infrastructure/jwt"
	"github.com/go-registration-api/internal/logging"
	"go.uber.org/zap"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenVerifier is satisfied by *jwtinfra.Provider.
type TokenVerifier interface {
	Verify(token string) (*jwtinfra.Claims, error)
}

// Auth returns middleware that validates the Bearer JWT and injects claims into context.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeJSONError(w, domain.ErrUnauthorized.WithReason("missing or invalid authorization header"))
				return
			}
			claims, err := verifier.Verify(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				writeJSONError(w, domain.ErrUnauthorized.WithReason("invalid or expired token"))
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			logger := logging.FromContext(ctx).With(zap.String("user_id", claims.UserID))
			next.ServeHTTP(w, r.WithContext(logging.NewContext(ctx, logger)))
		})
	}
}

// ClaimsFromContext extracts JWT claims from the request context.
func ClaimsFromContext(ctx context.Context) (*jwtinfra.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*jwtinfra.Claims)
	return c, ok
}

// WithClaims returns ctx carrying claims, as Auth would have left it.
func WithClaims(ctx context.Context, claims *jwtinfra.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}
