package handler

import (
	"net/http"
	"strconv"

	"github.com/go-registration-api/internal/application/referral"
	"github.com/go-registration-api/internal/domain"
	"github.com/go-registration-api/internal/transport/http/middleware"
)

// ReferralHandler lists the users the caller referred.
type ReferralHandler struct {
	svc referral.Service
}

func NewReferralHandler(svc referral.Service) *ReferralHandler {
	return &ReferralHandler{svc: svc}
}

func (h *ReferralHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, domain.ErrUnauthorized)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		httpError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", referral.DefaultPageLimit)
	if err != nil {
		httpError(w, r, err)
		return
	}
	page, err := h.svc.ListReferrals(r.Context(), claims.UserID, offset, limit)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.ErrBadRequest.WithReason(name + " must be a non-negative integer")
	}
	return n, nil
}
