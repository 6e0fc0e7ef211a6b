// Package registration drives a contact from its first step to an on-chain account.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-registration-api/internal/application/referral"
	"github.com/go-registration-api/internal/application/verification"
	"github.com/go-registration-api/internal/domain"
	"github.com/go-registration-api/internal/logging"
	"github.com/go-registration-api/internal/metrics"
	"github.com/go-registration-api/internal/pkg/contact"
	"go.uber.org/zap"
)

// Result is returned by every step. Retry times are set only by steps that issue a code.
type Result struct {
	CurrentState   domain.State `json:"currentState"`
	UserID         string       `json:"userId,omitempty"`
	Username       string       `json:"username,omitempty"`
	NextSmsRetry   *time.Time   `json:"nextSmsRetry,omitempty"`
	NextEmailRetry *time.Time   `json:"nextEmailRetry,omitempty"`
}

type FirstStepInput struct {
	Contact     contact.Contact
	Captcha     string
	CaptchaType string
	ReferralID  string
	TestingPass string
	Client      domain.ClientInfo
}

type ToBlockChainInput struct {
	Contact   contact.Contact
	UserID    string
	Username  string
	OwnerKey  string
	ActiveKey string
}

type IdentityInput struct {
	Identity  string
	Provider  string
	SecureKey string
	Client    domain.ClientInfo
}

// ReferralTarget names the record appendReferralParent links: a contact or a user id.
type ReferralTarget struct {
	Phone    string
	Email    string
	Identity string
	UserID   string
}

type DeleteInput struct {
	TestingPass  string
	TargetUserID string
	TargetPhone  string
}

type Service interface {
	GetState(ctx context.Context, c contact.Contact) (Result, error)
	FirstStep(ctx context.Context, in FirstStepInput) (Result, error)
	Verify(ctx context.Context, c contact.Contact, code string) (Result, error)
	SetUsername(ctx context.Context, c contact.Contact, username, referralID string) (Result, error)
	ToBlockChain(ctx context.Context, in ToBlockChainInput) (Result, error)
	ResendCode(ctx context.Context, c contact.Contact) (Result, error)
	CreateIdentity(ctx context.Context, in IdentityInput) (Result, error)
	AppendReferralParent(ctx context.Context, referralID string, target ReferralTarget) error
	DeleteTestAccount(ctx context.Context, in DeleteInput) error
}

type store interface {
	Create(ctx context.Context, reg *domain.Registration) error
	Get(ctx context.Context, contactKey string) (*domain.Registration, error)
	FindByPlain(ctx context.Context, channel domain.Channel, plain string) (*domain.Registration, error)
	FindByUserID(ctx context.Context, userID string) (*domain.Registration, error)
	Update(ctx context.Context, contactKey string, u domain.Update) error
	Delete(ctx context.Context, contactKey string) error
}

type chainClient interface {
	RegisterAccount(ctx context.Context, userID, username, ownerKey, activeKey string) (string, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	GenerateUserID(ctx context.Context) (string, error)
	Account(ctx context.Context, userID string) (*domain.ChainAccount, error)
}

var errForeignAccount = errors.New("chain account belongs to another registration")

type captchaVerifier interface {
	Verify(ctx context.Context, token, clientType string) error
}

type locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

type service struct {
	repo             store
	chain            chainClient
	captcha          captchaVerifier
	codes            verification.Service
	referrals        referral.Service
	locker           locker
	toggle           *Switch
	logger           *zap.Logger
	testingPassHash  string
	identityKeyHash  string
	referralRequired bool
	now              func() time.Time
}

type ServiceDeps struct {
	Repo             store
	Chain            chainClient
	Captcha          captchaVerifier
	Codes            verification.Service
	Referrals        referral.Service
	Locker           locker
	Switch           *Switch
	Logger           *zap.Logger
	TestingPassHash  string
	IdentityKeyHash  string
	ReferralRequired bool
	Now              func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		repo:             deps.Repo,
		chain:            deps.Chain,
		captcha:          deps.Captcha,
		codes:            deps.Codes,
		referrals:        deps.Referrals,
		locker:           deps.Locker,
		toggle:           deps.Switch,
		logger:           deps.Logger,
		testingPassHash:  deps.TestingPassHash,
		identityKeyHash:  deps.IdentityKeyHash,
		referralRequired: deps.ReferralRequired,
		now:              deps.Now,
	}
	if s.locker == nil {
		s.locker = noopLocker{}
	}
	if s.toggle == nil {
		s.toggle = NewSwitch(true)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func (s *service) log(ctx context.Context) *zap.Logger {
	return logging.FromContextOr(ctx, s.logger)
}

func (s *service) guard() error {
	if !s.toggle.Enabled() {
		return domain.ErrRegistrationDisabled
	}
	return nil
}

// observe records the outcome of step; call it deferred with the named error.
func observe(step string, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = strconv.Itoa(domain.AsError(*err).Code)
	}
	metrics.Step(step, outcome)
}

// load finds the record for c by salted key, falling back to the raw contact for
// records written before keys were hashed.
func (s *service) load(ctx context.Context, c contact.Contact) (*domain.Registration, error) {
	reg, err := s.repo.Get(ctx, c.Key())
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return reg, err
	}
	return s.repo.FindByPlain(ctx, c.Channel, c.Value)
}

// loadForStep loads the record and requires it to be unregistered and in one of allowed.
func (s *service) loadForStep(ctx context.Context, c contact.Contact, allowed ...domain.State) (*domain.Registration, error) {
	reg, err := s.load(ctx, c)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrInvalidStep.WithState(c.Channel.InitialState())
	}
	if err != nil {
		return nil, err
	}
	if err := checkStep(reg, allowed...); err != nil {
		return nil, err
	}
	return reg, nil
}

func checkStep(reg *domain.Registration, allowed ...domain.State) error {
	if reg.IsRegistered {
		return domain.ErrAlreadyRegistered.WithState(domain.StateRegistered)
	}
	for _, st := range allowed {
		if reg.State == st {
			return nil
		}
	}
	return domain.ErrInvalidStep.WithState(reg.State)
}

// lost reloads after a failed conditional write and reports where the record is now.
func (s *service) lost(ctx context.Context, c contact.Contact) error {
	reg, err := s.load(ctx, c)
	if err != nil {
		return fmt.Errorf("reload after conflict: %w", err)
	}
	if reg.IsRegistered {
		return domain.ErrAlreadyRegistered.WithState(domain.StateRegistered)
	}
	return domain.ErrInvalidStep.WithState(reg.State).WithProvider(reg.Provider)
}

// ownsAccount reports whether the chain account reg.UserID was created for reg:
// no other registration holds the id, and the account carries reg's username
// and the submitted owner key.
func (s *service) ownsAccount(ctx context.Context, reg *domain.Registration, ownerKey string) (bool, error) {
	holder, err := s.repo.FindByUserID(ctx, reg.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("find holder of %s: %w", reg.UserID, err)
	case holder.ContactKey != reg.ContactKey:
		return false, nil
	}
	acct, err := s.chain.Account(ctx, reg.UserID)
	if err != nil {
		return false, fmt.Errorf("fetch account %s: %w", reg.UserID, err)
	}
	return ownerKey != "" && acct.Username == reg.Username && acct.OwnerKey == ownerKey, nil
}

// creditReferrer reads the record back after a registration or referral link
// commits. Whichever of the two commits last sees both and credits; the
// referral_credited guard keeps it to one credit when both do.
func (s *service) creditReferrer(ctx context.Context, contactKey string) {
	reg, err := s.repo.Get(ctx, contactKey)
	if err != nil {
		s.log(ctx).Warn("reload for referral credit failed", zap.Error(err))
		return
	}
	if _, err := s.referrals.Credit(ctx, reg); err != nil {
		s.log(ctx).Warn("referral credit failed", zap.String("user_id", reg.UserID), zap.Error(err))
	}
}

func (s *service) lock(ctx context.Context, key string) (func(), error) {
	return s.locker.Lock(ctx, key)
}

func requireCodeChannel(c contact.Contact) error {
	if c.Channel != domain.ChannelPhone && c.Channel != domain.ChannelEmail {
		return domain.ErrInvalidStep.WithState(c.Channel.InitialState())
	}
	return nil
}

func withRetry(res Result, ch domain.Channel, next time.Time) Result {
	if ch == domain.ChannelEmail {
		res.NextEmailRetry = &next
	} else {
		res.NextSmsRetry = &next
	}
	return res
}
