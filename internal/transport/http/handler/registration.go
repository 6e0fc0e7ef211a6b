package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-registration-api/internal/application/registration"
	"github.com/go-registration-api/internal/domain"
	"github.com/go-registration-api/internal/pkg/contact"
	"github.com/go-registration-api/internal/pkg/device"
)

// flexString accepts a JSON string or number. Mobile clients send codes as numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("want a string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

// registrationRequest is the union of every action's fields; each action checks its own.
type registrationRequest struct {
	Phone       string     `json:"phone"`
	Email       string     `json:"email"`
	Identity    string     `json:"identity"`
	Provider    string     `json:"provider"`
	Code        flexString `json:"code"`
	Captcha     string     `json:"captcha"`
	CaptchaType string     `json:"captchaType" validate:"omitempty,oneof=web android ios"`
	ReferralID  string     `json:"referralId"`
	TestingPass string     `json:"testingPass"`
	Username    string     `json:"username" validate:"omitempty,max=64"`
	UserID      string     `json:"userId"`
	OwnerKey    string     `json:"publicOwnerKey"`
	ActiveKey   string     `json:"publicActiveKey"`
	SecureKey   string     `json:"secureKey"`
	TargetUser  string     `json:"targetUser"`
	TargetPhone string     `json:"targetPhone"`
}

// RegistrationHandler serves POST /v1/registration/{action}.
type RegistrationHandler struct {
	svc    registration.Service
	toggle *registration.Switch
}

func NewRegistrationHandler(svc registration.Service, toggle *registration.Switch) *RegistrationHandler {
	return &RegistrationHandler{svc: svc, toggle: toggle}
}

func (h *RegistrationHandler) Action(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if err := decode(r, &req); err != nil {
		httpError(w, r, err)
		return
	}
	ctx := r.Context()

	var (
		res interface{}
		err error
	)
	switch chi.URLParam(r, "action") {
	case "getState":
		var c contact.Contact
		if c, err = contact.Resolve(req.Phone, req.Email, req.Identity); err == nil {
			res, err = h.svc.GetState(ctx, c)
		}
	case "firstStep":
		res, err = h.firstStep(r, req, contact.Phone, req.Phone)
	case "firstStepEmail":
		res, err = h.firstStep(r, req, contact.Email, req.Email)
	case "verify":
		res, err = h.verify(r, req, contact.Phone, req.Phone)
	case "verifyEmail":
		res, err = h.verify(r, req, contact.Email, req.Email)
	case "setUsername":
		if req.Username == "" {
			err = domain.ErrInvalidUsername.WithReason("EMPTY")
			break
		}
		var c contact.Contact
		if c, err = contact.Resolve(req.Phone, req.Email, req.Identity); err == nil {
			res, err = h.svc.SetUsername(ctx, c, req.Username, req.ReferralID)
		}
	case "toBlockChain":
		if req.Username == "" || req.OwnerKey == "" || req.ActiveKey == "" {
			err = domain.ErrBadRequest.WithReason("username, publicOwnerKey and publicActiveKey are required")
			break
		}
		var c contact.Contact
		if c, err = contact.Resolve(req.Phone, req.Email, req.Identity); err == nil {
			res, err = h.svc.ToBlockChain(ctx, registration.ToBlockChainInput{
				Contact:   c,
				UserID:    req.UserID,
				Username:  req.Username,
				OwnerKey:  req.OwnerKey,
				ActiveKey: req.ActiveKey,
			})
		}
	case "resendSmsCode":
		res, err = h.resend(r, contact.Phone, req.Phone)
	case "resendEmailCode":
		res, err = h.resend(r, contact.Email, req.Email)
	case "createIdentity":
		if req.Identity == "" || req.Provider == "" || req.SecureKey == "" {
			err = domain.ErrBadRequest.WithReason("identity, provider and secureKey are required")
			break
		}
		res, err = h.svc.CreateIdentity(ctx, registration.IdentityInput{
			Identity:  req.Identity,
			Provider:  req.Provider,
			SecureKey: req.SecureKey,
			Client:    device.FromRequest(r),
		})
	case "appendReferralParent":
		err = h.svc.AppendReferralParent(ctx, req.ReferralID, registration.ReferralTarget{
			Phone:    req.Phone,
			Email:    req.Email,
			Identity: req.Identity,
			UserID:   req.UserID,
		})
		res = MessageEnvelope{Message: "ok"}
	case "deleteAccount":
		if req.TestingPass == "" {
			err = domain.ErrBadRequest.WithReason("testingPass is required")
			break
		}
		err = h.svc.DeleteTestAccount(ctx, registration.DeleteInput{
			TestingPass:  req.TestingPass,
			TargetUserID: req.TargetUser,
			TargetPhone:  req.TargetPhone,
		})
		res = MessageEnvelope{Message: "ok"}
	default:
		err = domain.ErrBadRequest.WithReason("unknown action")
	}
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *RegistrationHandler) firstStep(r *http.Request, req registrationRequest, parse func(string) (contact.Contact, error), raw string) (registration.Result, error) {
	if req.Captcha == "" && req.TestingPass == "" {
		return registration.Result{}, domain.ErrBadRequest.WithReason("captcha is required")
	}
	c, err := parse(raw)
	if err != nil {
		return registration.Result{}, err
	}
	return h.svc.FirstStep(r.Context(), registration.FirstStepInput{
		Contact:     c,
		Captcha:     req.Captcha,
		CaptchaType: req.CaptchaType,
		ReferralID:  req.ReferralID,
		TestingPass: req.TestingPass,
		Client:      device.FromRequest(r),
	})
}

func (h *RegistrationHandler) verify(r *http.Request, req registrationRequest, parse func(string) (contact.Contact, error), raw string) (registration.Result, error) {
	if req.Code == "" {
		return registration.Result{}, domain.ErrBadRequest.WithReason("code is required")
	}
	c, err := parse(raw)
	if err != nil {
		return registration.Result{}, err
	}
	return h.svc.Verify(r.Context(), c, string(req.Code))
}

func (h *RegistrationHandler) resend(r *http.Request, parse func(string) (contact.Contact, error), raw string) (registration.Result, error) {
	c, err := parse(raw)
	if err != nil {
		return registration.Result{}, err
	}
	return h.svc.ResendCode(r.Context(), c)
}

// Enabled reports the switch; it is never gated.
func (h *RegistrationHandler) Enabled(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, EnabledEnvelope{Enabled: h.toggle.Enabled()})
}

// Toggle serves POST /v1/admin/registration/{action}.
func (h *RegistrationHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "enable":
		h.toggle.Enable()
	case "disable":
		h.toggle.Disable()
	default:
		writeError(w, domain.ErrBadRequest.WithReason("unknown action"))
		return
	}
	writeJSON(w, http.StatusOK, EnabledEnvelope{Enabled: h.toggle.Enabled()})
}
