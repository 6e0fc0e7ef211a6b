package middleware

import (
	"net/http"

	"github.com/go-registration-api/internal/domain"
)

// Gate rejects requests with 423 while enabled reports false.
func Gate(enabled func() bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled() {
				writeJSONError(w, domain.ErrRegistrationDisabled)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
