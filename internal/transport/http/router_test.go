package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-registration-api/internal/application/registration"
	"github.com/go-registration-api/internal/config"
	jwtinfra "github.com/go-registration-api/internal/infrastructure/jwt"
	"github.com/go-registration-api/internal/infrastructure/jwt/jwttest"
	"github.com/stretchr/testify/assert"
)

func newRouter(t *testing.T, toggle *registration.Switch) (http.Handler, *jwttest.Issuer) {
	t.Helper()
	iss := jwttest.NewIssuer(t)
	cfg := &config.Config{AllowedOrigins: []string{"*"}}
	return NewRouter(cfg, &Deps{Switch: toggle, Tokens: iss.Provider()}), iss
}

func do(h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_EnabledIsNeverGated(t *testing.T) {
	h, _ := newRouter(t, registration.NewSwitch(false))

	rr := do(h, http.MethodGet, "/v1/registration/enabled", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"enabled":false}`, rr.Body.String())
}

func TestRouter_RegistrationGated(t *testing.T) {
	h, _ := newRouter(t, registration.NewSwitch(false))

	rr := do(h, http.MethodPost, "/v1/registration/getState", "")

	assert.Equal(t, http.StatusLocked, rr.Code)
}

func TestRouter_AdminToggle(t *testing.T) {
	toggle := registration.NewSwitch(true)
	h, tokens := newRouter(t, toggle)

	user := tokens.Token(t, "cuser", "user", time.Hour)
	assert.Equal(t, http.StatusForbidden, do(h, http.MethodPost, "/v1/admin/registration/disable", user).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPost, "/v1/admin/registration/disable", "").Code)
	assert.True(t, toggle.Enabled())

	admin := tokens.Token(t, "cadmin", jwtinfra.RoleAdmin, time.Hour)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/v1/admin/registration/disable", admin).Code)
	assert.False(t, toggle.Enabled())
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	h, _ := newRouter(t, registration.NewSwitch(true))

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/v1/health-check/ping", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/v1/users", "").Code)
}
