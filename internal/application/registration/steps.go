package registration

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-registration-api/internal/domain"
	"github.com/go-registration-api/internal/metrics"
	"github.com/go-registration-api/internal/pkg/contact"
	"github.com/go-registration-api/internal/pkg/id"
	"github.com/go-registration-api/internal/pkg/secret"
	"github.com/go-registration-api/internal/pkg/username"
	"go.uber.org/zap"
)

func (s *service) GetState(ctx context.Context, c contact.Contact) (res Result, err error) {
	defer observe("getState", &err)
	if err := s.guard(); err != nil {
		return Result{}, err
	}
	reg, err := s.load(ctx, c)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{CurrentState: c.Channel.InitialState()}, nil
	}
	if err != nil {
		return Result{}, err
	}
	res = Result{CurrentState: reg.State}
	if reg.State.Rank() >= domain.StateToBlockChain.Rank() {
		res.UserID, res.Username = reg.UserID, reg.Username
	}
	return res, nil
}

func (s *service) FirstStep(ctx context.Context, in FirstStepInput) (res Result, err error) {
	defer observe("firstStep", &err)
	if err := s.guard(); err != nil {
		return Result{}, err
	}
	c := in.Contact
	if err := requireCodeChannel(c); err != nil {
		return Result{}, err
	}
	release, err := s.lock(ctx, c.Key())
	if err != nil {
		return Result{}, err
	}
	defer release()

	reg, err := s.load(ctx, c)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return Result{}, err
	}
	initial := c.Channel.InitialState()
	if reg != nil {
		if err := checkStep(reg, initial); err != nil {
			return Result{}, err
		}
	}

	testing := secret.Match(s.testingPassHash, in.TestingPass)
	if !testing {
		if err := s.captcha.Verify(ctx, in.Captcha, in.CaptchaType); err != nil {
			return Result{}, err
		}
	}
	if in.ReferralID != "" || s.referralRequired {
		if err := s.referrals.Validate(ctx, in.ReferralID); err != nil {
			return Result{}, err
		}
	}

	issued, err := s.codes.Issue(ctx, c, testing)
	if err != nil {
		return Result{}, err
	}
	next := c.Channel.VerifyState()

	if reg == nil {
		now := s.now()
		err = s.repo.Create(ctx, &domain.Registration{
			ContactKey:       c.Key(),
			RegistrationID:   id.New(),
			Channel:          c.Channel,
			ContactPlain:     c.Value,
			ContactHash:      c.Hash(),
			State:            next,
			VerificationCode: issued.Code,
			CodeIssuedAt:     issued.IssuedAt,
			ReferralID:       in.ReferralID,
			DeviceType:       in.Client.DeviceType,
			IsTestingSystem:  testing,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	} else {
		set := map[string]interface{}{
			domain.FieldState:            string(next),
			domain.FieldVerificationCode: issued.Code,
			domain.FieldCodeIssuedAt:     issued.IssuedAt,
			domain.FieldResendCount:      0,
			domain.FieldIsTestingSystem:  testing,
		}
		if in.Client.DeviceType != "" {
			set[domain.FieldDeviceType] = in.Client.DeviceType
		}
		cond := domain.Condition{State: initial, Unregistered: true}
		if in.ReferralID != "" && reg.ReferralID == "" {
			set[domain.FieldReferralID] = in.ReferralID
			cond.Absent = []string{domain.FieldReferralID}
		}
		err = s.repo.Update(ctx, reg.ContactKey, domain.Update{Set: set, Expect: cond})
	}
	if errors.Is(err, domain.ErrConflict) {
		return Result{}, s.lost(ctx, c)
	}
	if err != nil {
		return Result{}, err
	}
	return withRetry(Result{CurrentState: next}, c.Channel, issued.NextRetry), nil
}

func (s *service) Verify(ctx context.Context, c contact.Contact, code string) (res Result, err error) {
	defer observe("verify", &err)
	if err := s.guard(); err != nil {
		return Result{}, err
	}
	if err := requireCodeChannel(c); err != nil {
		return Result{}, err
	}
	release, err := s.lock(ctx, c.Key())
	if err != nil {
		return Result{}, err
	}
	defer release()

	verifyState := c.Channel.VerifyState()
	reg, err := s.loadForStep(ctx, c, verifyState, domain.StateSetUsername)
	if err != nil {
		return Result{}, err
	}
	if reg.State == domain.StateSetUsername {
		if reg.Verified && s.codes.Matches(reg.VerificationCode, code) {
			return Result{CurrentState: domain.StateSetUsername}, nil
		}
		return Result{}, domain.ErrInvalidStep.WithState(reg.State)
	}
	if !s.codes.Matches(reg.VerificationCode, code) {
		return Result{}, domain.ErrWrongCode.WithState(reg.State)
	}

	err = s.repo.Update(ctx, reg.ContactKey, domain.Update{
		Set: map[string]interface{}{
			domain.FieldState:    string(domain.StateSetUsername),
			domain.FieldVerified: true,
		},
		Expect: domain.Condition{State: verifyState, Unregistered: true},
	})
	if errors.Is(err, domain.ErrConflict) {
		// A concurrent verify with the same code is still a success.
		cur, lerr := s.load(ctx, c)
		if lerr == nil && !cur.IsRegistered && cur.State == domain.StateSetUsername && s.codes.Matches(cur.VerificationCode, code) {
			return Result{CurrentState: domain.StateSetUsername}, nil
		}
		return Result{}, s.lost(ctx, c)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{CurrentState: domain.StateSetUsername}, nil
}

func (s *service) SetUsername(ctx context.Context, c contact.Contact, name, referralID string) (res Result, err error) {
	defer observe("setUsername", &err)
	if err := s.guard(); err != nil {
		return Result{}, err
	}
	release, err := s.lock(ctx, c.Key())
	if err != nil {
		return Result{}, err
	}
	defer release()

	reg, err := s.loadForStep(ctx, c, domain.StateSetUsername, domain.StateToBlockChain)
	if err != nil {
		return Result{}, err
	}
	if reg.State == domain.StateToBlockChain {
		return s.resumeUsername(reg, name)
	}

	if reason := username.Validate(name); reason != "" {
		return Result{}, domain.ErrInvalidUsername.WithState(reg.State).WithReason(reason)
	}
	taken, err := s.chain.UsernameTaken(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return Result{}, domain.ErrUsernameTaken.WithState(reg.State)
	}

	if referralID == "" && s.referralRequired && reg.ReferralID == "" {
		return Result{}, domain.ErrInvalidReferral.WithState(reg.State).WithReason("referral required")
	}
	if referralID != "" && reg.ReferralID == "" {
		if err := s.referrals.Validate(ctx, referralID); err != nil {
			return Result{}, err
		}
	}

	userID, err := s.chain.GenerateUserID(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("generate user id: %w", err)
	}

	err = s.repo.Update(ctx, reg.ContactKey, domain.Update{
		Set: map[string]interface{}{
			domain.FieldUsername: name,
			domain.FieldUserID:   userID,
			domain.FieldState:    string(domain.StateToBlockChain),
		},
		Expect: domain.Condition{State: domain.StateSetUsername, Unregistered: true},
	})
	if errors.Is(err, domain.ErrConflict) {
		cur, lerr := s.load(ctx, c)
		if lerr != nil {
			return Result{}, fmt.Errorf("reload after conflict: %w", lerr)
		}
		if cur.IsRegistered || cur.State != domain.StateToBlockChain {
			return Result{}, s.lost(ctx, c)
		}
		return s.resumeUsername(cur, name)
	}
	if err != nil {
		return Result{}, err
	}
	reg.UserID, reg.Username = userID, name

	if referralID != "" {
		if _, err := s.referrals.Link(ctx, reg, referralID); err != nil {
			s.log(ctx).Warn("link referral failed",
				zap.String("user_id", userID), zap.String("referral_id", referralID), zap.Error(err))
		}
	}
	return Result{CurrentState: domain.StateToBlockChain, UserID: userID, Username: name}, nil
}

// resumeUsername answers a repeated setUsername once a user id was already reserved.
func (s *service) resumeUsername(reg *domain.Registration, name string) (Result, error) {
	if reg.Username != name {
		return Result{}, domain.ErrUsernameMismatch.WithState(reg.State)
	}
	return Result{CurrentState: domain.StateToBlockChain, UserID: reg.UserID, Username: reg.Username}, nil
}

func (s *service) ToBlockChain(ctx context.Context, in ToBlockChainInput) (res Result, err error) {
	defer observe("toBlockChain", &err)
	if err := s.guard(); err != nil {
		return Result{}, err
	}
	c := in.Contact
	release, err := s.lock(ctx, c.Key())
	if err != nil {
		return Result{}, err
	}
	defer release()

	reg, err := s.loadForStep(ctx, c, domain.StateToBlockChain)
	if err != nil {
		return Result{}, err
	}
	if reg.Username != in.Username {
		return Result{}, domain.ErrUsernameMismatch.WithState(reg.State)
	}
	if reg.UserID != in.UserID {
		return Result{}, domain.ErrUserIDMismatch.WithState(reg.State)
	}

	logger := s.log(ctx).With(zap.String("user_id", reg.UserID))
	txID, err := s.chain.RegisterAccount(ctx, reg.UserID, reg.Username, in.OwnerKey, in.ActiveKey)
	if errors.Is(err, domain.ErrUserIDTaken) {
		// Only an account carrying this record's username and owner key is ours.
		var owned bool
		if owned, err = s.ownsAccount(ctx, reg, in.OwnerKey); err == nil && !owned {
			err = errForeignAccount
		}
		if err == nil {
			logger.Info("account already on chain for this registration, completing")
		}
	}
	if err != nil {
		logger.Warn("chain write failed", zap.Error(err))
		return Result{}, domain.ErrChainWriteFailed.WithState(reg.State)
	}

	now := s.now()
	set := map[string]interface{}{
		domain.FieldState:        string(domain.StateRegistered),
		domain.FieldIsRegistered: true,
		domain.FieldRegisteredAt: now,
		domain.FieldContactPlain: c.Masked(),
		domain.FieldContactHash:  c.Hash(),
	}
	if txID != "" {
		set[domain.FieldTransactionID] = txID
	}
	err = s.repo.Update(ctx, reg.ContactKey, domain.Update{
		Set:    set,
		Expect: domain.Condition{State: domain.StateToBlockChain, Unregistered: true},
	})
	if errors.Is(err, domain.ErrConflict) {
		return Result{}, s.lost(ctx, c)
	}
	if err != nil {
		return Result{}, err
	}
	metrics.Registered()
	logger.Info("account registered", zap.String("transaction_id", txID))

	s.creditReferrer(ctx, reg.ContactKey)
	return Result{CurrentState: domain.StateRegistered, UserID: reg.UserID, Username: reg.Username}, nil
}

func (s *service) ResendCode(ctx context.Context, c contact.Contact) (res Result, err error) {
	defer observe("resendCode", &err)
	if err := s.guard(); err != nil {
		return Result{}, err
	}
	if err := requireCodeChannel(c); err != nil {
		return Result{}, err
	}
	release, err := s.lock(ctx, c.Key())
	if err != nil {
		return Result{}, err
	}
	defer release()

	verifyState := c.Channel.VerifyState()
	reg, err := s.loadForStep(ctx, c, verifyState)
	if err != nil {
		return Result{}, err
	}
	if err := s.codes.CheckResend(reg); err != nil {
		return Result{}, err
	}
	// Claim the resend slot before delivering, so concurrent resends cannot
	// both pass the limit check.
	claimed := reg.ResendCount + 1
	err = s.repo.Update(ctx, reg.ContactKey, domain.Update{
		Set: map[string]interface{}{
			domain.FieldResendCount:  claimed,
			domain.FieldCodeIssuedAt: s.now(),
		},
		Expect: domain.Condition{State: verifyState, Unregistered: true, ResendCount: &reg.ResendCount},
	})
	if errors.Is(err, domain.ErrConflict) {
		return Result{}, s.lostResend(ctx, c, verifyState)
	}
	if err != nil {
		return Result{}, err
	}

	issued, err := s.codes.Issue(ctx, c, reg.IsTestingSystem)
	if err != nil {
		return Result{}, err
	}
	err = s.repo.Update(ctx, reg.ContactKey, domain.Update{
		Set: map[string]interface{}{
			domain.FieldVerificationCode: issued.Code,
			domain.FieldCodeIssuedAt:     issued.IssuedAt,
		},
		Expect: domain.Condition{State: verifyState, Unregistered: true, ResendCount: &claimed},
	})
	if errors.Is(err, domain.ErrConflict) {
		return Result{}, s.lostResend(ctx, c, verifyState)
	}
	if err != nil {
		return Result{}, err
	}
	return withRetry(Result{CurrentState: verifyState}, c.Channel, issued.NextRetry), nil
}

// lostResend reports a resend that lost its slot to a concurrent one. While the
// record still waits for a code the caller is told when to retry.
func (s *service) lostResend(ctx context.Context, c contact.Contact, verifyState domain.State) error {
	reg, err := s.load(ctx, c)
	if err != nil {
		return err
	}
	if reg.IsRegistered || reg.State != verifyState {
		return s.lost(ctx, c)
	}
	if err := s.codes.CheckResend(reg); err != nil {
		return err
	}
	return domain.ErrTryLater.WithState(reg.State).WithNextRetry(s.codes.NextRetry(reg.CodeIssuedAt))
}

func (s *service) CreateIdentity(ctx context.Context, in IdentityInput) (res Result, err error) {
	defer observe("createIdentity", &err)
	if err := s.guard(); err != nil {
		return Result{}, err
	}
	if !secret.Match(s.identityKeyHash, in.SecureKey) {
		return Result{}, domain.ErrWrongSecureKey
	}
	c, err := contact.Identity(in.Identity, in.Provider)
	if err != nil {
		return Result{}, err
	}
	release, err := s.lock(ctx, c.Key())
	if err != nil {
		return Result{}, err
	}
	defer release()

	reg, err := s.load(ctx, c)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		now := s.now()
		err = s.repo.Create(ctx, &domain.Registration{
			ContactKey:     c.Key(),
			RegistrationID: id.New(),
			Channel:        domain.ChannelIdentity,
			ContactPlain:   c.Value,
			ContactHash:    c.Hash(),
			Provider:       in.Provider,
			State:          domain.StateSetUsername,
			Verified:       true,
			DeviceType:     in.Client.DeviceType,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	case err != nil:
		return Result{}, err
	case reg.IsRegistered || reg.State != domain.StateCreateIdentity:
		return Result{}, domain.ErrInvalidStep.WithState(reg.State).WithProvider(reg.Provider)
	default:
		err = s.repo.Update(ctx, reg.ContactKey, domain.Update{
			Set: map[string]interface{}{
				domain.FieldState:    string(domain.StateSetUsername),
				domain.FieldVerified: true,
				domain.FieldProvider: in.Provider,
			},
			Expect: domain.Condition{State: domain.StateCreateIdentity, Unregistered: true},
		})
	}
	if errors.Is(err, domain.ErrConflict) {
		return Result{}, s.lost(ctx, c)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{CurrentState: domain.StateSetUsername}, nil
}

func (s *service) AppendReferralParent(ctx context.Context, referralID string, target ReferralTarget) (err error) {
	defer observe("appendReferralParent", &err)
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.referrals.Validate(ctx, referralID); err != nil {
		return err
	}

	var reg *domain.Registration
	if target.UserID != "" {
		if target.Phone != "" || target.Email != "" || target.Identity != "" {
			return domain.ErrInvalidContact.WithReason("exactly one of phone, email, identity, userId is required")
		}
		reg, err = s.repo.FindByUserID(ctx, target.UserID)
	} else {
		var c contact.Contact
		if c, err = contact.Resolve(target.Phone, target.Email, target.Identity); err != nil {
			return err
		}
		reg, err = s.load(ctx, c)
	}
	if err != nil {
		return err
	}

	linked, err := s.referrals.Link(ctx, reg, referralID)
	if err != nil || !linked {
		return err
	}
	s.creditReferrer(ctx, reg.ContactKey)
	return nil
}

func (s *service) DeleteTestAccount(ctx context.Context, in DeleteInput) (err error) {
	defer observe("deleteAccount", &err)
	if err := s.guard(); err != nil {
		return err
	}
	if !secret.Match(s.testingPassHash, in.TestingPass) {
		return domain.ErrUnauthorized
	}

	var reg *domain.Registration
	switch {
	case in.TargetUserID != "":
		reg, err = s.repo.FindByUserID(ctx, in.TargetUserID)
	case in.TargetPhone != "":
		var c contact.Contact
		if c, err = contact.Phone(in.TargetPhone); err != nil {
			return err
		}
		reg, err = s.load(ctx, c)
	default:
		return domain.ErrInvalidContact.WithReason("targetUser or targetPhone is required")
	}
	if err != nil {
		return err
	}
	if !reg.IsTestingSystem {
		return domain.ErrForbidden
	}
	if err := s.repo.Delete(ctx, reg.ContactKey); err != nil {
		return err
	}
	s.log(ctx).Info("test account deleted", zap.String("registration_id", reg.RegistrationID))
	return nil
}
