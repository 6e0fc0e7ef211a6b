package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/go-registration-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *RegistrationStore, reg *domain.Registration) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), reg))
}

func TestCreate_Duplicate_ReturnsConflict(t *testing.T) {
	s := NewRegistrationStore()
	seed(t, s, &domain.Registration{ContactKey: "phone#a", State: domain.StateVerify})

	err := s.Create(context.Background(), &domain.Registration{ContactKey: "phone#a"})
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestGet_NotFound(t *testing.T) {
	_, err := NewRegistrationStore().Get(context.Background(), "phone#missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestUpdate_StateCondition(t *testing.T) {
	s := NewRegistrationStore()
	seed(t, s, &domain.Registration{ContactKey: "phone#a", State: domain.StateSetUsername})
	ctx := context.Background()

	err := s.Update(ctx, "phone#a", domain.Update{
		Set:    map[string]interface{}{domain.FieldState: string(domain.StateToBlockChain)},
		Expect: domain.Condition{State: domain.StateVerify, Unregistered: true},
	})
	assert.True(t, errors.Is(err, domain.ErrConflict))

	err = s.Update(ctx, "phone#a", domain.Update{
		Set:    map[string]interface{}{domain.FieldState: string(domain.StateToBlockChain)},
		Expect: domain.Condition{State: domain.StateSetUsername, Unregistered: true},
	})
	require.NoError(t, err)

	reg, err := s.Get(ctx, "phone#a")
	require.NoError(t, err)
	assert.Equal(t, domain.StateToBlockChain, reg.State)
	assert.False(t, reg.UpdatedAt.IsZero())
}

func TestUpdate_MissingRecord_ReturnsConflict(t *testing.T) {
	err := NewRegistrationStore().Update(context.Background(), "phone#none", domain.Update{
		Set: map[string]interface{}{domain.FieldVerified: true},
	})
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestUpdate_RegisteredRecordRejectsUnregisteredCondition(t *testing.T) {
	s := NewRegistrationStore()
	seed(t, s, &domain.Registration{ContactKey: "phone#a", State: domain.StateRegistered, IsRegistered: true})

	err := s.Update(context.Background(), "phone#a", domain.Update{
		Set:    map[string]interface{}{domain.FieldUsername: "other"},
		Expect: domain.Condition{Unregistered: true},
	})
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestUpdate_AbsentIsFirstWriteWins(t *testing.T) {
	s := NewRegistrationStore()
	seed(t, s, &domain.Registration{ContactKey: "phone#a"})
	ctx := context.Background()
	link := func(ref string) error {
		return s.Update(ctx, "phone#a", domain.Update{
			Set:    map[string]interface{}{domain.FieldReferralID: ref},
			Expect: domain.Condition{Absent: []string{domain.FieldReferralID}},
		})
	}

	require.NoError(t, link("cfirst"))
	assert.True(t, errors.Is(link("csecond"), domain.ErrConflict))

	reg, err := s.Get(ctx, "phone#a")
	require.NoError(t, err)
	assert.Equal(t, "cfirst", reg.ReferralID)
}

func TestUpdate_AddToSetDeduplicates(t *testing.T) {
	s := NewRegistrationStore()
	seed(t, s, &domain.Registration{ContactKey: "phone#a", UserID: "cref"})
	ctx := context.Background()
	add := domain.Update{AddToSet: map[string][]string{domain.FieldReferrals: {"cuser1"}}}

	require.NoError(t, s.Update(ctx, "phone#a", add))
	require.NoError(t, s.Update(ctx, "phone#a", add))
	require.NoError(t, s.Update(ctx, "phone#a", domain.Update{
		AddToSet: map[string][]string{domain.FieldReferrals: {"cuser0"}},
	}))

	reg, err := s.FindByUserID(ctx, "cref")
	require.NoError(t, err)
	assert.Equal(t, []string{"cuser0", "cuser1"}, reg.Referrals)
}

func TestUpdate_UnclaimedGuard(t *testing.T) {
	s := NewRegistrationStore()
	seed(t, s, &domain.Registration{ContactKey: "phone#a"})
	ctx := context.Background()
	claim := domain.Update{
		Set:    map[string]interface{}{domain.FieldOnboardingSharedLink: true},
		Expect: domain.Condition{Unclaimed: []string{domain.FieldOnboardingSharedLink}},
	}

	require.NoError(t, s.Update(ctx, "phone#a", claim))
	assert.True(t, errors.Is(s.Update(ctx, "phone#a", claim), domain.ErrConflict))
}

func TestUpdate_ResendCountGuard(t *testing.T) {
	s := NewRegistrationStore()
	seed(t, s, &domain.Registration{ContactKey: "phone#a", State: domain.StateVerify})
	ctx := context.Background()
	bump := func(from int) error {
		return s.Update(ctx, "phone#a", domain.Update{
			Set:    map[string]interface{}{domain.FieldResendCount: from + 1},
			Expect: domain.Condition{State: domain.StateVerify, ResendCount: &from},
		})
	}

	require.NoError(t, bump(0))
	// a second writer that also read 0 loses
	assert.True(t, errors.Is(bump(0), domain.ErrConflict))
	require.NoError(t, bump(1))

	reg, err := s.Get(ctx, "phone#a")
	require.NoError(t, err)
	assert.Equal(t, 2, reg.ResendCount)
}

func TestFindByPlain_MatchesChannel(t *testing.T) {
	s := NewRegistrationStore()
	seed(t, s, &domain.Registration{ContactKey: "phone#a", Channel: domain.ChannelPhone, ContactPlain: "+380000000000"})
	ctx := context.Background()

	reg, err := s.FindByPlain(ctx, domain.ChannelPhone, "+380000000000")
	require.NoError(t, err)
	assert.Equal(t, "phone#a", reg.ContactKey)

	_, err = s.FindByPlain(ctx, domain.ChannelEmail, "+380000000000")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestDelete(t *testing.T) {
	s := NewRegistrationStore()
	seed(t, s, &domain.Registration{ContactKey: "phone#a"})
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, "phone#a"))
	_, err := s.Get(ctx, "phone#a")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
