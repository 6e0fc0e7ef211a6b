package onboarding

import (
	"context"
	"errors"
	"testing"

	"github.com/go-registration-api/internal/application/background"
	"github.com/go-registration-api/internal/domain"
	"github.com/go-registration-api/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChain struct{ mock.Mock }

func (m *mockChain) TransferTokens(ctx context.Context, to, amount, memo string) error {
	return m.Called(ctx, to, amount, memo).Error(0)
}

func setup(t *testing.T) (*memory.RegistrationStore, *mockChain, Service) {
	t.Helper()
	store := memory.NewRegistrationStore()
	chain := &mockChain{}
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &domain.Registration{
		ContactKey: "phone#u", UserID: "cuser", State: domain.StateRegistered, IsRegistered: true, DeviceType: domain.DeviceWeb,
	}))
	require.NoError(t, store.Create(ctx, &domain.Registration{
		ContactKey: "phone#p", UserID: "cpending", State: domain.StateToBlockChain,
	}))
	svc := NewService(ServiceDeps{Repo: store, Chain: chain, Tasks: background.Inline{}, Communities: 3, Amount: "1.000 CMN"})
	return store, chain, svc
}

func TestCommunitySubscriptions_RewardsFirstNOnce(t *testing.T) {
	store, chain, svc := setup(t)
	chain.On("TransferTokens", mock.Anything, "cuser", "1.000 CMN", mock.Anything).Return(nil)
	ctx := context.Background()

	res, err := svc.CommunitySubscriptions(ctx, "cuser", []string{"a", "b", "a", "c", "d"})
	require.NoError(t, err)
	assert.Equal(t, Result{Rewarded: true, Transfers: 3}, res)

	res, err = svc.CommunitySubscriptions(ctx, "cuser", []string{"e", "f", "g"})
	require.NoError(t, err)
	assert.False(t, res.Rewarded)

	chain.AssertNumberOfCalls(t, "TransferTokens", 3)
	reg, err := store.Get(ctx, "phone#u")
	require.NoError(t, err)
	assert.True(t, reg.OnboardingCommunityRewarded)
	assert.Equal(t, []string{"a", "b", "c"}, reg.OnboardingCommunities)
}

func TestCommunitySubscriptions_TooFew(t *testing.T) {
	_, _, svc := setup(t)
	_, err := svc.CommunitySubscriptions(context.Background(), "cuser", []string{"a", "a", "b"})
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
}

func TestTriggers_RequireRegisteredUser(t *testing.T) {
	_, _, svc := setup(t)
	ctx := context.Background()

	_, err := svc.SharedLink(ctx, "cpending")
	assert.True(t, errors.Is(err, domain.ErrInvalidStep))

	_, err = svc.SharedLink(ctx, "cghost")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = svc.SharedLink(ctx, "")
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestDeviceSwitched(t *testing.T) {
	_, chain, svc := setup(t)
	chain.On("TransferTokens", mock.Anything, "cuser", "1.000 CMN", mock.Anything).Return(nil)
	ctx := context.Background()

	res, err := svc.DeviceSwitched(ctx, "cuser", "web")
	require.NoError(t, err)
	assert.False(t, res.Rewarded, "same device type is not a switch")

	res, err = svc.DeviceSwitched(ctx, "cuser", "android")
	require.NoError(t, err)
	assert.True(t, res.Rewarded)

	res, err = svc.DeviceSwitched(ctx, "cuser", "ios")
	require.NoError(t, err)
	assert.False(t, res.Rewarded)
	chain.AssertNumberOfCalls(t, "TransferTokens", 1)

	_, err = svc.DeviceSwitched(ctx, "cuser", "toaster")
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
}

func TestSharedLink_OnceAndFailureSwallowed(t *testing.T) {
	_, chain, svc := setup(t)
	chain.On("TransferTokens", mock.Anything, "cuser", "1.000 CMN", mock.Anything).Return(errors.New("chain down"))
	ctx := context.Background()

	res, err := svc.SharedLink(ctx, "cuser")
	require.NoError(t, err)
	assert.True(t, res.Rewarded)

	res, err = svc.SharedLink(ctx, "cuser")
	require.NoError(t, err)
	assert.False(t, res.Rewarded)
	chain.AssertNumberOfCalls(t, "TransferTokens", 1)
}

// staleStore hands out a copy read before another request claimed the guard.
type staleStore struct {
	*memory.RegistrationStore
	stale *domain.Registration
}

func (s *staleStore) FindByUserID(context.Context, string) (*domain.Registration, error) {
	c := *s.stale
	return &c, nil
}

func TestSharedLink_ConcurrentClaimPaysOnce(t *testing.T) {
	store, chain, _ := setup(t)
	chain.On("TransferTokens", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()
	stale, err := store.Get(ctx, "phone#u")
	require.NoError(t, err)
	svc := NewService(ServiceDeps{Repo: &staleStore{RegistrationStore: store, stale: stale}, Chain: chain, Tasks: background.Inline{}, Amount: "1.000 CMN"})

	first, err := svc.SharedLink(ctx, "cuser")
	require.NoError(t, err)
	second, err := svc.SharedLink(ctx, "cuser")
	require.NoError(t, err)

	assert.True(t, first.Rewarded)
	assert.False(t, second.Rewarded)
	chain.AssertNumberOfCalls(t, "TransferTokens", 1)
}
