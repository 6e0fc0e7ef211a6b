// Package referral validates referrers, links referred users and credits the
// referrer once a referred account exists on chain.
package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-registration-api/internal/application/background"
	"github.com/go-registration-api/internal/domain"
	"github.com/go-registration-api/internal/pkg/id"
	lru "github.com/hashicorp/golang-lru"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Page is one slice of a referrer's referred user ids.
type Page struct {
	Items  []string `json:"items"`
	Total  int      `json:"total"`
	Offset int      `json:"offset"`
	Limit  int      `json:"limit"`
}

type Service interface {
	// Validate fails with InvalidReferral unless referralID is special or a registered user.
	Validate(ctx context.Context, referralID string) error
	IsSpecial(referralID string) bool
	// Link sets target's referrer if it has none. Reports whether this call linked it.
	Link(ctx context.Context, target *domain.Registration, referralID string) (bool, error)
	// Credit claims target's one-time credit guard, then appends target to its
	// referrer's set and pays the bonus in the background. Reports whether this
	// call claimed the guard.
	Credit(ctx context.Context, target *domain.Registration) (bool, error)
	ListReferrals(ctx context.Context, userID string, offset, limit int) (Page, error)
}

type store interface {
	FindByUserID(ctx context.Context, userID string) (*domain.Registration, error)
	Update(ctx context.Context, contactKey string, u domain.Update) error
}

type transferer interface {
	TransferTokens(ctx context.Context, to, amount, memo string) error
}

type service struct {
	repo         store
	chain        transferer
	tasks        background.Dispatcher
	special      map[string]struct{}
	known        *lru.Cache
	bonusEnabled bool
	bonusAmount  string
}

type ServiceDeps struct {
	Repo         store
	Chain        transferer
	Tasks        background.Dispatcher
	Special      []string
	CacheSize    int
	BonusEnabled bool
	BonusAmount  string
}

func NewService(deps ServiceDeps) (Service, error) {
	size := deps.CacheSize
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("referral cache: %w", err)
	}
	special := make(map[string]struct{}, len(deps.Special))
	for _, s := range deps.Special {
		if s != "" {
			special[s] = struct{}{}
		}
	}
	return &service{
		repo:         deps.Repo,
		chain:        deps.Chain,
		tasks:        deps.Tasks,
		special:      special,
		known:        cache,
		bonusEnabled: deps.BonusEnabled,
		bonusAmount:  deps.BonusAmount,
	}, nil
}

func (s *service) IsSpecial(referralID string) bool {
	_, ok := s.special[referralID]
	return ok
}

func (s *service) Validate(ctx context.Context, referralID string) error {
	if referralID == "" {
		return domain.ErrInvalidReferral.WithReason("empty referral")
	}
	if s.IsSpecial(referralID) {
		return nil
	}
	if _, ok := s.known.Get(referralID); ok {
		return nil
	}
	ref, err := s.repo.FindByUserID(ctx, referralID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrInvalidReferral.WithReason("unknown referrer")
	}
	if err != nil {
		return err
	}
	if !ref.IsRegistered {
		return domain.ErrInvalidReferral.WithReason("referrer not registered")
	}
	s.known.Add(referralID, struct{}{})
	return nil
}

func (s *service) Link(ctx context.Context, target *domain.Registration, referralID string) (bool, error) {
	if target.ReferralID != "" {
		return false, nil
	}
	if target.UserID != "" && target.UserID == referralID {
		return false, domain.ErrInvalidReferral.WithReason("self referral")
	}
	err := s.repo.Update(ctx, target.ContactKey, domain.Update{
		Set:    map[string]interface{}{domain.FieldReferralID: referralID},
		Expect: domain.Condition{Absent: []string{domain.FieldReferralID}},
	})
	if errors.Is(err, domain.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	target.ReferralID = referralID
	return true, nil
}

func (s *service) Credit(ctx context.Context, target *domain.Registration) (bool, error) {
	referralID, userID := target.ReferralID, target.UserID
	if referralID == "" || userID == "" || !target.IsRegistered || s.IsSpecial(referralID) {
		return false, nil
	}
	err := s.repo.Update(ctx, target.ContactKey, domain.Update{
		Set:    map[string]interface{}{domain.FieldReferralCredited: true},
		Expect: domain.Condition{Unclaimed: []string{domain.FieldReferralCredited}},
	})
	if errors.Is(err, domain.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim referral credit for %s: %w", userID, err)
	}
	target.ReferralCredited = true

	s.tasks.Go(ctx, "referral.append", func(ctx context.Context) error {
		ref, err := s.repo.FindByUserID(ctx, referralID)
		if err != nil {
			return fmt.Errorf("find referrer %s: %w", referralID, err)
		}
		return s.repo.Update(ctx, ref.ContactKey, domain.Update{
			AddToSet: map[string][]string{domain.FieldReferrals: {userID}},
		})
	})
	if !s.bonusEnabled || target.IsTestingSystem {
		return true, nil
	}
	s.tasks.Go(ctx, "referral.bonus", func(ctx context.Context) error {
		return s.chain.TransferTokens(ctx, referralID, s.bonusAmount, id.Memo("referral"))
	})
	return true, nil
}

func (s *service) ListReferrals(ctx context.Context, userID string, offset, limit int) (Page, error) {
	if userID == "" {
		return Page{}, domain.ErrUnauthorized
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	reg, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return Page{}, err
	}
	page := Page{Items: []string{}, Total: len(reg.Referrals), Offset: offset, Limit: limit}
	if offset < len(reg.Referrals) {
		page.Items = reg.Referrals[offset:min(offset+limit, len(reg.Referrals))]
	}
	return page, nil
}
