package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-registration-api/internal/application/onboarding"
	"github.com/go-registration-api/internal/domain"
	"github.com/go-registration-api/internal/pkg/device"
	"github.com/go-registration-api/internal/transport/http/middleware"
)

type onboardingRequest struct {
	CommunityIDs []string `json:"communityIds" validate:"omitempty,dive,max=64"`
	DeviceType   string   `json:"deviceType"`
}

// OnboardingHandler serves POST /v1/onboarding/{action} for the authenticated user.
type OnboardingHandler struct {
	svc onboarding.Service
}

func NewOnboardingHandler(svc onboarding.Service) *OnboardingHandler {
	return &OnboardingHandler{svc: svc}
}

func (h *OnboardingHandler) Action(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, domain.ErrUnauthorized)
		return
	}
	var req onboardingRequest
	if err := decode(r, &req); err != nil {
		httpError(w, r, err)
		return
	}

	var (
		res onboarding.Result
		err error
	)
	switch chi.URLParam(r, "action") {
	case "communitySubscriptions":
		res, err = h.svc.CommunitySubscriptions(r.Context(), claims.UserID, req.CommunityIDs)
	case "deviceSwitched":
		dt := req.DeviceType
		if dt == "" {
			dt = r.Header.Get(device.HeaderDeviceType)
		}
		res, err = h.svc.DeviceSwitched(r.Context(), claims.UserID, dt)
	case "sharedLink":
		res, err = h.svc.SharedLink(r.Context(), claims.UserID)
	default:
		err = domain.ErrBadRequest.WithReason("unknown action")
	}
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
