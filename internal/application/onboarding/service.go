// Package onboarding pays one-off token rewards to registered users for
// completing onboarding actions.
package onboarding

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-registration-api/internal/application/background"
	"github.com/go-registration-api/internal/domain"
	"github.com/go-registration-api/internal/metrics"
	"github.com/go-registration-api/internal/pkg/device"
	"github.com/go-registration-api/internal/pkg/id"
	"github.com/hashicorp/go-multierror"
)

// Triggers, also used as metric labels and memo prefixes.
const (
	TriggerCommunities    = "onboarding-communities"
	TriggerDeviceSwitched = "onboarding-device-switched"
	TriggerSharedLink     = "onboarding-shared-link"
)

// Result reports whether this call claimed the reward and how many transfers it queued.
type Result struct {
	Rewarded  bool `json:"rewarded"`
	Transfers int  `json:"transfers"`
}

type Service interface {
	CommunitySubscriptions(ctx context.Context, userID string, communityIDs []string) (Result, error)
	DeviceSwitched(ctx context.Context, userID, deviceType string) (Result, error)
	SharedLink(ctx context.Context, userID string) (Result, error)
}

type store interface {
	FindByUserID(ctx context.Context, userID string) (*domain.Registration, error)
	Update(ctx context.Context, contactKey string, u domain.Update) error
}

type transferer interface {
	TransferTokens(ctx context.Context, to, amount, memo string) error
}

type service struct {
	repo        store
	chain       transferer
	tasks       background.Dispatcher
	communities int
	amount      string
}

type ServiceDeps struct {
	Repo        store
	Chain       transferer
	Tasks       background.Dispatcher
	Communities int
	Amount      string
}

func NewService(deps ServiceDeps) Service {
	return &service{
		repo:        deps.Repo,
		chain:       deps.Chain,
		tasks:       deps.Tasks,
		communities: max(deps.Communities, 1),
		amount:      deps.Amount,
	}
}

func (s *service) registered(ctx context.Context, userID string) (*domain.Registration, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	reg, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !reg.IsRegistered {
		return nil, domain.ErrInvalidStep.WithState(reg.State)
	}
	return reg, nil
}

// claim flips the guard with a conditional write. False means someone else already did.
func (s *service) claim(ctx context.Context, reg *domain.Registration, guard string, u domain.Update) (bool, error) {
	if u.Set == nil {
		u.Set = map[string]interface{}{}
	}
	u.Set[guard] = true
	u.Expect = domain.Condition{Unclaimed: []string{guard}}
	err := s.repo.Update(ctx, reg.ContactKey, u)
	if errors.Is(err, domain.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) CommunitySubscriptions(ctx context.Context, userID string, communityIDs []string) (Result, error) {
	ids := distinct(communityIDs)
	if len(ids) < s.communities {
		return Result{}, domain.ErrBadRequest.WithReason(fmt.Sprintf("at least %d communities required", s.communities))
	}
	reg, err := s.registered(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if reg.OnboardingCommunityRewarded {
		return Result{}, nil
	}
	ids = ids[:s.communities]
	ok, err := s.claim(ctx, reg, domain.FieldOnboardingCommunityRewarded, domain.Update{
		AddToSet: map[string][]string{domain.FieldOnboardingCommunities: ids},
	})
	if err != nil || !ok {
		return Result{}, err
	}
	s.reward(ctx, TriggerCommunities, reg.UserID, len(ids))
	return Result{Rewarded: true, Transfers: len(ids)}, nil
}

func (s *service) DeviceSwitched(ctx context.Context, userID, deviceType string) (Result, error) {
	dt := device.Normalize(deviceType)
	if dt == "" {
		return Result{}, domain.ErrBadRequest.WithReason("unknown device type")
	}
	reg, err := s.registered(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if reg.OnboardingDeviceSwitched || dt == reg.DeviceType {
		return Result{}, nil
	}
	ok, err := s.claim(ctx, reg, domain.FieldOnboardingDeviceSwitched, domain.Update{})
	if err != nil || !ok {
		return Result{}, err
	}
	s.reward(ctx, TriggerDeviceSwitched, reg.UserID, 1)
	return Result{Rewarded: true, Transfers: 1}, nil
}

func (s *service) SharedLink(ctx context.Context, userID string) (Result, error) {
	reg, err := s.registered(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if reg.OnboardingSharedLink {
		return Result{}, nil
	}
	ok, err := s.claim(ctx, reg, domain.FieldOnboardingSharedLink, domain.Update{})
	if err != nil || !ok {
		return Result{}, err
	}
	s.reward(ctx, TriggerSharedLink, reg.UserID, 1)
	return Result{Rewarded: true, Transfers: 1}, nil
}

// reward queues n transfers as one background task; failures are aggregated.
func (s *service) reward(ctx context.Context, trigger, to string, n int) {
	metrics.Reward(trigger)
	s.tasks.Go(ctx, trigger, func(ctx context.Context) error {
		var result *multierror.Error
		for i := 0; i < n; i++ {
			if err := s.chain.TransferTokens(ctx, to, s.amount, id.Memo(trigger)); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return result.ErrorOrNil()
	})
}

func distinct(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
