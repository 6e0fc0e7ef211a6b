package http

import (
	"github.com/go-registration-api/internal/application/onboarding"
	"github.com/go-registration-api/internal/application/referral"
	"github.com/go-registration-api/internal/application/registration"
	"github.com/go-registration-api/internal/transport/http/middleware"
	"go.uber.org/zap"
)

// Deps holds the services the router exposes.
type Deps struct {
	Registration registration.Service
	Referrals    referral.Service
	Onboarding   onboarding.Service
	Switch       *registration.Switch
	Tokens       middleware.TokenVerifier // nil makes authenticated routes answer 401
	Logger       *zap.Logger
}
