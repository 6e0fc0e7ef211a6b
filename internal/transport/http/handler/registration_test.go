package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-registration-api/internal/application/onboarding"
	"github.com/go-registration-api/internal/application/referral"
	"github.com/go-registration-api/internal/application/registration"
	"github.com/go-registration-api/internal/domain"
	jwtinfra "github.com/go-registration-api/internal/infrastructure/jwt"
	"github.com/go-registration-api/internal/pkg/contact"
	"github.com/go-registration-api/internal/transport/http/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockRegistrationSvc struct{ mock.Mock }

func (m *mockRegistrationSvc) GetState(ctx context.Context, c contact.Contact) (registration.Result, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(registration.Result), args.Error(1)
}

func (m *mockRegistrationSvc) FirstStep(ctx context.Context, in registration.FirstStepInput) (registration.Result, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(registration.Result), args.Error(1)
}

func (m *mockRegistrationSvc) Verify(ctx context.Context, c contact.Contact, code string) (registration.Result, error) {
	args := m.Called(ctx, c, code)
	return args.Get(0).(registration.Result), args.Error(1)
}

func (m *mockRegistrationSvc) SetUsername(ctx context.Context, c contact.Contact, username, referralID string) (registration.Result, error) {
	args := m.Called(ctx, c, username, referralID)
	return args.Get(0).(registration.Result), args.Error(1)
}

func (m *mockRegistrationSvc) ToBlockChain(ctx context.Context, in registration.ToBlockChainInput) (registration.Result, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(registration.Result), args.Error(1)
}

func (m *mockRegistrationSvc) ResendCode(ctx context.Context, c contact.Contact) (registration.Result, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(registration.Result), args.Error(1)
}

func (m *mockRegistrationSvc) CreateIdentity(ctx context.Context, in registration.IdentityInput) (registration.Result, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(registration.Result), args.Error(1)
}

func (m *mockRegistrationSvc) AppendReferralParent(ctx context.Context, referralID string, target registration.ReferralTarget) error {
	return m.Called(ctx, referralID, target).Error(0)
}

func (m *mockRegistrationSvc) DeleteTestAccount(ctx context.Context, in registration.DeleteInput) error {
	return m.Called(ctx, in).Error(0)
}

type mockReferralSvc struct {
	mock.Mock
	referral.Service
}

func (m *mockReferralSvc) ListReferrals(ctx context.Context, userID string, offset, limit int) (referral.Page, error) {
	args := m.Called(ctx, userID, offset, limit)
	return args.Get(0).(referral.Page), args.Error(1)
}

type mockOnboardingSvc struct{ mock.Mock }

func (m *mockOnboardingSvc) CommunitySubscriptions(ctx context.Context, userID string, ids []string) (onboarding.Result, error) {
	args := m.Called(ctx, userID, ids)
	return args.Get(0).(onboarding.Result), args.Error(1)
}

func (m *mockOnboardingSvc) DeviceSwitched(ctx context.Context, userID, deviceType string) (onboarding.Result, error) {
	args := m.Called(ctx, userID, deviceType)
	return args.Get(0).(onboarding.Result), args.Error(1)
}

func (m *mockOnboardingSvc) SharedLink(ctx context.Context, userID string) (onboarding.Result, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(onboarding.Result), args.Error(1)
}

// --- helpers ---

// serve routes one request through a chi router so URL params resolve.
func serve(method, pattern, target, body string, h http.HandlerFunc, claims *jwtinfra.Claims) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if claims != nil {
		req = req.WithContext(middleware.WithClaims(req.Context(), claims))
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func postAction(h *RegistrationHandler, action, body string) *httptest.ResponseRecorder {
	return serve(http.MethodPost, "/v1/registration/{action}", "/v1/registration/"+action, body, h.Action, nil)
}

func errorBody(t *testing.T, rr *httptest.ResponseRecorder) domain.Error {
	t.Helper()
	var env struct {
		Error domain.Error `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env))
	return env.Error
}

func phone(t *testing.T, raw string) contact.Contact {
	t.Helper()
	c, err := contact.Phone(raw)
	require.NoError(t, err)
	return c
}

// --- registration ---

func TestRegistration_GetState(t *testing.T) {
	svc := &mockRegistrationSvc{}
	svc.On("GetState", mock.Anything, phone(t, "+380000000000")).
		Return(registration.Result{CurrentState: domain.StateVerify}, nil)
	h := NewRegistrationHandler(svc, registration.NewSwitch(true))

	rr := postAction(h, "getState", `{"phone":"380000000000"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"currentState":"verify"}`, rr.Body.String())
}

func TestRegistration_GetState_NoContact(t *testing.T) {
	h := NewRegistrationHandler(&mockRegistrationSvc{}, registration.NewSwitch(true))

	rr := postAction(h, "getState", `{}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, domain.CodeInvalidContact, errorBody(t, rr).Code)
}

func TestRegistration_FirstStep_PassesClientInfo(t *testing.T) {
	svc := &mockRegistrationSvc{}
	svc.On("FirstStep", mock.Anything, mock.MatchedBy(func(in registration.FirstStepInput) bool {
		return in.Contact.Value == "+380000000000" && in.Captcha == "tok" && in.CaptchaType == "android" && in.ReferralID == "cref"
	})).Return(registration.Result{CurrentState: domain.StateVerify}, nil)
	h := NewRegistrationHandler(svc, registration.NewSwitch(true))

	rr := postAction(h, "firstStep", `{"phone":"+380000000000","captcha":"tok","captchaType":"android","referralId":"cref"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

func TestRegistration_FirstStep_BadCaptchaType(t *testing.T) {
	h := NewRegistrationHandler(&mockRegistrationSvc{}, registration.NewSwitch(true))

	rr := postAction(h, "firstStep", `{"phone":"+380000000000","captcha":"tok","captchaType":"desktop"}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, domain.CodeBadRequest, errorBody(t, rr).Code)
}

func TestRegistration_Verify_NumericCode(t *testing.T) {
	svc := &mockRegistrationSvc{}
	svc.On("Verify", mock.Anything, phone(t, "+380000000000"), "1234").
		Return(registration.Result{CurrentState: domain.StateSetUsername}, nil)
	h := NewRegistrationHandler(svc, registration.NewSwitch(true))

	rr := postAction(h, "verify", `{"phone":"+380000000000","code":1234}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

func TestRegistration_Verify_EscapedStringCode(t *testing.T) {
	svc := &mockRegistrationSvc{}
	svc.On("Verify", mock.Anything, phone(t, "+380000000000"), "123").
		Return(registration.Result{CurrentState: domain.StateSetUsername}, nil)
	h := NewRegistrationHandler(svc, registration.NewSwitch(true))

	rr := postAction(h, "verify", `{"phone":"+380000000000","code":"12\u0033"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

func TestRegistration_Verify_NonScalarCodeRejected(t *testing.T) {
	svc := &mockRegistrationSvc{}
	h := NewRegistrationHandler(svc, registration.NewSwitch(true))

	for _, body := range []string{
		`{"phone":"+380000000000","code":true}`,
		`{"phone":"+380000000000","code":{"v":"1234"}}`,
	} {
		rr := postAction(h, "verify", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		assert.Equal(t, domain.CodeBadRequest, errorBody(t, rr).Code)
	}
	svc.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
}

func TestRegistration_DomainErrorEnvelope(t *testing.T) {
	svc := &mockRegistrationSvc{}
	svc.On("Verify", mock.Anything, mock.Anything, "9999").
		Return(registration.Result{}, domain.ErrInvalidStep.WithState(domain.StateSetUsername))
	h := NewRegistrationHandler(svc, registration.NewSwitch(true))

	rr := postAction(h, "verify", `{"phone":"+380000000000","code":"9999"}`)

	assert.Equal(t, http.StatusConflict, rr.Code)
	e := errorBody(t, rr)
	assert.Equal(t, domain.CodeInvalidStep, e.Code)
	assert.Equal(t, domain.StateSetUsername, e.CurrentState)
}

func TestRegistration_ToBlockChain_RequiresKeys(t *testing.T) {
	h := NewRegistrationHandler(&mockRegistrationSvc{}, registration.NewSwitch(true))

	rr := postAction(h, "toBlockChain", `{"phone":"+380000000000","username":"alice"}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegistration_DeleteAccount(t *testing.T) {
	svc := &mockRegistrationSvc{}
	svc.On("DeleteTestAccount", mock.Anything, registration.DeleteInput{TestingPass: "pass", TargetUserID: "ctest"}).Return(domain.ErrForbidden)
	h := NewRegistrationHandler(svc, registration.NewSwitch(true))

	rr := postAction(h, "deleteAccount", `{"testingPass":"pass","targetUser":"ctest"}`)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRegistration_UnexpectedErrorIsInternal(t *testing.T) {
	svc := &mockRegistrationSvc{}
	svc.On("ResendCode", mock.Anything, mock.Anything).Return(registration.Result{}, assert.AnError)
	h := NewRegistrationHandler(svc, registration.NewSwitch(true))

	rr := postAction(h, "resendSmsCode", `{"phone":"+380000000000"}`)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal error", errorBody(t, rr).Message)
}

func TestRegistration_UnknownAction(t *testing.T) {
	h := NewRegistrationHandler(&mockRegistrationSvc{}, registration.NewSwitch(true))

	rr := postAction(h, "login", `{}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegistration_ToggleAndEnabled(t *testing.T) {
	toggle := registration.NewSwitch(true)
	h := NewRegistrationHandler(&mockRegistrationSvc{}, toggle)

	rr := serve(http.MethodPost, "/v1/admin/registration/{action}", "/v1/admin/registration/disable", "", h.Toggle, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, toggle.Enabled())

	rr = serve(http.MethodGet, "/v1/registration/enabled", "/v1/registration/enabled", "", h.Enabled, nil)
	assert.JSONEq(t, `{"enabled":false}`, rr.Body.String())
}

// --- referrals ---

func TestReferrals_List(t *testing.T) {
	svc := &mockReferralSvc{}
	svc.On("ListReferrals", mock.Anything, "cref", 5, 10).
		Return(referral.Page{Items: []string{"cuser"}, Total: 6, Offset: 5, Limit: 10}, nil)
	h := NewReferralHandler(svc)

	rr := serve(http.MethodGet, "/v1/referrals", "/v1/referrals?offset=5&limit=10", "", h.List, &jwtinfra.Claims{UserID: "cref"})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"items":["cuser"],"total":6,"offset":5,"limit":10}`, rr.Body.String())
}

func TestReferrals_List_BadOffset(t *testing.T) {
	h := NewReferralHandler(&mockReferralSvc{})

	rr := serve(http.MethodGet, "/v1/referrals", "/v1/referrals?offset=-1", "", h.List, &jwtinfra.Claims{UserID: "cref"})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// --- onboarding ---

func TestOnboarding_UsesClaimsUserID(t *testing.T) {
	svc := &mockOnboardingSvc{}
	svc.On("CommunitySubscriptions", mock.Anything, "cuser", []string{"a", "b", "c"}).
		Return(onboarding.Result{Rewarded: true, Transfers: 3}, nil)
	h := NewOnboardingHandler(svc)

	rr := serve(http.MethodPost, "/v1/onboarding/{action}", "/v1/onboarding/communitySubscriptions",
		`{"communityIds":["a","b","c"]}`, h.Action, &jwtinfra.Claims{UserID: "cuser"})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"rewarded":true,"transfers":3}`, rr.Body.String())
}

func TestOnboarding_DeviceTypeFromHeader(t *testing.T) {
	svc := &mockOnboardingSvc{}
	svc.On("DeviceSwitched", mock.Anything, "cuser", "ios").Return(onboarding.Result{}, nil)
	h := NewOnboardingHandler(svc)

	r := chi.NewRouter()
	r.Post("/v1/onboarding/{action}", h.Action)
	req := httptest.NewRequest(http.MethodPost, "/v1/onboarding/deviceSwitched", nil)
	req.Header.Set("X-Device-Type", "ios")
	req = req.WithContext(middleware.WithClaims(req.Context(), &jwtinfra.Claims{UserID: "cuser"}))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

func TestOnboarding_NoClaims(t *testing.T) {
	h := NewOnboardingHandler(&mockOnboardingSvc{})

	rr := serve(http.MethodPost, "/v1/onboarding/{action}", "/v1/onboarding/sharedLink", "", h.Action, nil)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHealth_Ping(t *testing.T) {
	rr := serve(http.MethodGet, "/v1/health-check/{action}", "/v1/health-check/ping", "", NewHealthHandler().Ping, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"pong"}`, rr.Body.String())
}
