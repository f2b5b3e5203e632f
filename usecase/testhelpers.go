package usecase

import (
	"testing"

	hcmemdb "github.com/hashicorp/go-memdb"
	"github.com/stretchr/testify/require"

	"github.com/flant/compliance-sync/fixtures"
	"github.com/flant/compliance-sync/model"
	"github.com/flant/compliance-sync/repo"
)

func RunFixtures(t *testing.T, fixtureFns ...func(t *testing.T, store *hcmemdb.MemDB)) *hcmemdb.MemDB {
	store, err := repo.NewStore()
	require.NoError(t, err)
	for _, fixture := range fixtureFns {
		fixture(t, store)
	}
	return store
}

func createUsers(t *testing.T, userRepo *repo.UserRepository, users ...model.User) {
	for _, user := range users {
		tmp := user
		err := userRepo.Put(&tmp)
		require.NoError(t, err)
	}
}

func UserFixture(t *testing.T, store *hcmemdb.MemDB) {
	tx := store.Txn(true)
	createUsers(t, repo.NewUserRepository(tx), fixtures.Users()...)
	tx.Commit()
}

func createTeams(t *testing.T, teamRepo *repo.TeamRepository, teams ...model.Team) {
	for _, team := range teams {
		tmp := team
		err := teamRepo.Put(&tmp)
		require.NoError(t, err)
	}
}

func TeamFixture(t *testing.T, store *hcmemdb.MemDB) {
	tx := store.Txn(true)
	createTeams(t, repo.NewTeamRepository(tx), fixtures.Teams()...)
	tx.Commit()
}

func createMemberships(t *testing.T, membershipRepo *repo.MembershipRepository, memberships ...model.Membership) {
	for _, m := range memberships {
		tmp := m
		err := membershipRepo.Put(&tmp)
		require.NoError(t, err)
	}
}

func MembershipFixture(t *testing.T, store *hcmemdb.MemDB) {
	tx := store.Txn(true)
	createMemberships(t, repo.NewMembershipRepository(tx), fixtures.Memberships()...)
	tx.Commit()
}
