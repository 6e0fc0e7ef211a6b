package middleware

import (
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-registration-api/internal/logging"
	"go.uber.org/zap"
)

// Logger stores a request-scoped logger tagged with the chi request id in the context.
// It must run after chimiddleware.RequestID.
func Logger(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With(
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r.WithContext(logging.NewContext(r.Context(), logger)))
		})
	}
}
