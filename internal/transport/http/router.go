package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-registration-api/internal/config"
	jwtinfra "github.com/go-registration-api/internal/infrastructure/jwt"
	"github.com/go-registration-api/internal/transport/http/handler"
	appmiddleware "github.com/go-registration-api/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(appmiddleware.Logger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Device-Type", "X-Platform"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.Tokens != nil {
		authMw = appmiddleware.Auth(deps.Tokens)
	} else {
		authMw = func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"code":401,"message":"unauthorized"}}`))
			})
		}
	}

	// 5 requests/second, burst of 10, applied to the public registration steps.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)
	gate := appmiddleware.Gate(deps.Switch.Enabled)

	healthH := handler.NewHealthHandler()
	registrationH := handler.NewRegistrationHandler(deps.Registration, deps.Switch)
	referralH := handler.NewReferralHandler(deps.Referrals)
	onboardingH := handler.NewOnboardingHandler(deps.Onboarding)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Get("/registration/enabled", registrationH.Enabled)
		r.With(sensitiveRL.Limit, gate).Post("/registration/{action}", registrationH.Action)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Get("/referrals", referralH.List)
			r.With(gate).Post("/onboarding/{action}", onboardingH.Action)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(jwtinfra.RoleAdmin))

				r.Post("/admin/registration/{action}", registrationH.Toggle)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
	})

	return r
}
