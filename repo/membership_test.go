package repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flant/compliance-sync/consts"
	"github.com/flant/compliance-sync/fixtures"
	"github.com/flant/compliance-sync/model"
)

func Test_MembershipRepository_GetByUserAndTeam(t *testing.T) {
	membershipRepo := NewMembershipRepository(seededTxn(t))

	m, err := membershipRepo.GetByUserAndTeam(fixtures.Username6, fixtures.TeamID1)

	require.NoError(t, err)
	require.Equal(t, "MBR", m.RoleCode)

	_, err = membershipRepo.GetByUserAndTeam(fixtures.Username6, 999)
	require.ErrorIs(t, err, consts.ErrNotFound)
}

func Test_MembershipRepository_ListByUser(t *testing.T) {
	membershipRepo := NewMembershipRepository(seededTxn(t))

	memberships, err := membershipRepo.ListByUser(fixtures.Username6)

	require.NoError(t, err)
	require.Len(t, memberships, 3)
}

func Test_MembershipRepository_ListActiveByUser(t *testing.T) {
	tx := seededTxn(t)
	membershipRepo := NewMembershipRepository(tx)
	require.NoError(t, membershipRepo.Put(&model.Membership{
		Username:       fixtures.Username6,
		TeamID:         fixtures.TeamID4,
		RoleCode:       "MBR",
		EffectiveFrom:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		EffectiveUntil: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	}))

	active, err := membershipRepo.ListActiveByUser(fixtures.Username6, time.Now())

	require.NoError(t, err)
	require.Len(t, active, 3)
}

func Test_MembershipRepository_DeleteByTeam(t *testing.T) {
	tx := seededTxn(t)
	membershipRepo := NewMembershipRepository(tx)

	affected, err := membershipRepo.DeleteByTeam(fixtures.TeamID1)

	require.NoError(t, err)
	require.Equal(t, []string{fixtures.Username6}, affected)
	remaining, err := membershipRepo.ListByTeam(fixtures.TeamID1)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func Test_MembershipRepository_UpsertByCompositeKey(t *testing.T) {
	tx := seededTxn(t)
	membershipRepo := NewMembershipRepository(tx)

	require.NoError(t, membershipRepo.Put(&model.Membership{
		Username: fixtures.Username6,
		TeamID:   fixtures.TeamID1,
		RoleCode: "LDR",
	}))

	memberships, err := membershipRepo.ListByUser(fixtures.Username6)
	require.NoError(t, err)
	require.Len(t, memberships, 3)
	m, err := membershipRepo.GetByUserAndTeam(fixtures.Username6, fixtures.TeamID1)
	require.NoError(t, err)
	require.Equal(t, "LDR", m.RoleCode)
}
