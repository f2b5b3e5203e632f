package internal

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	hcmemdb "github.com/hashicorp/go-memdb"
	"github.com/stretchr/testify/require"

	"github.com/flant/compliance-sync/clients"
	"github.com/flant/compliance-sync/consts"
	"github.com/flant/compliance-sync/fixtures"
	"github.com/flant/compliance-sync/model"
	"github.com/flant/compliance-sync/repo"
)

type pushRecorder struct {
	created []*model.DesiredConfiguration
	updated []*model.DesiredConfiguration
}

func (v *pushRecorder) GetAllUsers(_ context.Context) ([]clients.VendorUser, error) {
	return nil, nil
}

func (v *pushRecorder) GetAllGroups(_ context.Context) ([]string, error) {
	return nil, nil
}

func (v *pushRecorder) GetAllVisibilityProfiles(_ context.Context) ([]string, error) {
	return nil, nil
}

func (v *pushRecorder) CreateUser(_ context.Context, dc *model.DesiredConfiguration) error {
	v.created = append(v.created, dc)
	return nil
}

func (v *pushRecorder) UpdateUser(_ context.Context, dc *model.DesiredConfiguration) error {
	v.updated = append(v.updated, dc)
	return nil
}

func (v *pushRecorder) updatedUsernames() []string {
	usernames := []string{}
	for _, dc := range v.updated {
		usernames = append(usernames, dc.Username)
	}
	return usernames
}

type stubDirectory struct {
	users map[string]*model.User
}

func (d *stubDirectory) FetchAllUsers(_ context.Context) ([]model.User, error) {
	return nil, nil
}

func (d *stubDirectory) FetchUserByUsername(_ context.Context, username string) (*model.User, error) {
	user, found := d.users[username]
	if !found {
		return nil, consts.ErrNotFound
	}
	u := *user
	return &u, nil
}

func seedStore(t *testing.T) *hcmemdb.MemDB {
	t.Helper()
	store, err := repo.NewStore()
	require.NoError(t, err)
	tx := store.Txn(true)
	for _, user := range fixtures.Users() {
		tmp := user
		require.NoError(t, repo.NewUserRepository(tx).Put(&tmp))
	}
	for _, team := range fixtures.Teams() {
		tmp := team
		require.NoError(t, repo.NewTeamRepository(tx).Put(&tmp))
	}
	for _, m := range fixtures.Memberships() {
		tmp := m
		require.NoError(t, repo.NewMembershipRepository(tx).Put(&tmp))
	}
	tx.Commit()
	return store
}

func newTestProcessor(t *testing.T, store *hcmemdb.MemDB, directory clients.Directory) (*Processor, *pushRecorder, *Stats) {
	t.Helper()
	vendor := &pushRecorder{}
	stats := NewStats()
	if directory == nil {
		directory = &stubDirectory{}
	}
	return NewProcessor(store, vendor, directory, stats, hclog.NewNullLogger()), vendor, stats
}

func Test_HandleDataChange_SecondDeliveryIsNoOp(t *testing.T) {
	store := seedStore(t)
	p, vendor, _ := newTestProcessor(t, store, nil)
	ev := model.DirectoryEvent{
		Username:   fixtures.Username2,
		ChangeType: model.DataChange,
		Property:   "location",
		NewValue:   "OU=Branch 220,DC=corp",
	}

	require.NoError(t, p.HandleDirectoryEvent(context.Background(), ev))
	require.NoError(t, p.HandleDirectoryEvent(context.Background(), ev))

	// the first delivery pushes, the redelivery diffs against the stored
	// configuration and skips
	require.Len(t, vendor.updated, 1)
	require.Equal(t, fixtures.Username2, vendor.updated[0].Username)
}

func Test_HandleDataChange_ImpactfulCascadesToReports(t *testing.T) {
	store := seedStore(t)
	p, vendor, _ := newTestProcessor(t, store, nil)

	err := p.HandleDirectoryEvent(context.Background(), model.DirectoryEvent{
		Username:   fixtures.Username5,
		ChangeType: model.DataChange,
		Property:   "title",
		NewValue:   "Vice President",
	})

	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		fixtures.Username1, fixtures.Username3, fixtures.Username4,
		fixtures.Username5, fixtures.Username6,
	}, vendor.updatedUsernames())
}

func Test_HandleDataChange_ManagerChangeDoesNotCascade(t *testing.T) {
	store := seedStore(t)
	p, vendor, _ := newTestProcessor(t, store, nil)

	err := p.HandleDirectoryEvent(context.Background(), model.DirectoryEvent{
		Username:   fixtures.Username2,
		ChangeType: model.DataChange,
		Property:   "manager",
		NewValue:   fixtures.Username5,
	})

	require.NoError(t, err)
	require.Equal(t, []string{fixtures.Username2}, vendor.updatedUsernames())
	stored, err := repo.NewUserRepository(store.Txn(false)).GetByUsername(fixtures.Username2)
	require.NoError(t, err)
	require.Equal(t, fixtures.Username5, stored.ManagerUsername)
}

func Test_HandleDataChange_UnrecognizedPropertyIsPoison(t *testing.T) {
	store := seedStore(t)
	p, vendor, stats := newTestProcessor(t, store, nil)

	err := p.HandleDirectoryEvent(context.Background(), model.DirectoryEvent{
		Username:   fixtures.Username2,
		ChangeType: model.DataChange,
		Property:   "shoeSize",
		NewValue:   "44",
	})

	require.NoError(t, err)
	require.Empty(t, vendor.updated)
	require.EqualValues(t, 1, stats.Poison.Load())
}

func Test_HandleTermination_PushesInactiveUnconditionally(t *testing.T) {
	store := seedStore(t)
	p, vendor, _ := newTestProcessor(t, store, nil)

	err := p.HandleDirectoryEvent(context.Background(), model.DirectoryEvent{
		Username:   fixtures.Username2,
		ChangeType: model.TerminatedUser,
	})

	require.NoError(t, err)
	require.Len(t, vendor.updated, 1)
	require.False(t, vendor.updated[0].Active)
	stored, err := repo.NewUserRepository(store.Txn(false)).GetByUsername(fixtures.Username2)
	require.NoError(t, err)
	require.False(t, stored.Active)
}

func Test_HandleTermination_UnknownUserIgnored(t *testing.T) {
	store := seedStore(t)
	p, vendor, _ := newTestProcessor(t, store, nil)

	err := p.HandleDirectoryEvent(context.Background(), model.DirectoryEvent{
		Username:   "p999999",
		ChangeType: model.TerminatedUser,
	})

	require.NoError(t, err)
	require.Empty(t, vendor.updated)
}

func Test_HandleNewUser_FetchesFullProfile(t *testing.T) {
	store := seedStore(t)
	directory := &stubDirectory{users: map[string]*model.User{
		"p100010": {
			Username:        "p100010",
			EmployeeID:      "e1010",
			FirstName:       "Noah",
			LastName:        "Becker",
			Title:           "Underwriter",
			Location:        "OU=Home Office,DC=corp",
			ManagerUsername: fixtures.Username5,
			Country:         "US",
			Active:          true,
		},
	}}
	p, vendor, _ := newTestProcessor(t, store, directory)

	err := p.HandleDirectoryEvent(context.Background(), model.DirectoryEvent{
		Username:   "p100010",
		ChangeType: model.NewUser,
	})

	require.NoError(t, err)
	stored, err := repo.NewUserRepository(store.Txn(false)).GetByUsername("p100010")
	require.NoError(t, err)
	require.Equal(t, fixtures.Username5, stored.ManagerUsername)
	require.Equal(t, []string{"p100010"}, vendor.updatedUsernames())
}

func Test_HandleNewUser_DanglingManagerNulled(t *testing.T) {
	store := seedStore(t)
	directory := &stubDirectory{users: map[string]*model.User{
		"p100011": {
			Username:        "p100011",
			FirstName:       "Lea",
			LastName:        "Novak",
			Location:        "OU=Home Office,DC=corp",
			ManagerUsername: "p999999",
			Country:         "US",
			Active:          true,
		},
	}}
	p, _, _ := newTestProcessor(t, store, directory)

	err := p.HandleDirectoryEvent(context.Background(), model.DirectoryEvent{
		Username:   "p100011",
		ChangeType: model.NewUser,
	})

	require.NoError(t, err)
	stored, err := repo.NewUserRepository(store.Txn(false)).GetByUsername("p100011")
	require.NoError(t, err)
	require.Empty(t, stored.ManagerUsername)
}

func Test_HandleTeamEvent_DeactivationCascades(t *testing.T) {
	store := seedStore(t)
	p, vendor, _ := newTestProcessor(t, store, nil)
	end := time.Now()

	err := p.HandleTeamEvent(context.Background(), model.TeamEvent{
		TeamID:           fixtures.TeamID1,
		EffectiveEndDate: &end,
	})

	require.NoError(t, err)
	tx := store.Txn(false)
	team, err := repo.NewTeamRepository(tx).GetByID(fixtures.TeamID1)
	require.NoError(t, err)
	require.False(t, team.Active)
	members, err := repo.NewMembershipRepository(tx).ListByTeam(fixtures.TeamID1)
	require.NoError(t, err)
	require.Empty(t, members)
	// the former member is recalculated from the two remaining teams
	require.Len(t, vendor.updated, 1)
	require.Equal(t, fixtures.Username6, vendor.updated[0].Username)
	require.Equal(t, "Vis_HarborTrading", vendor.updated[0].VisibilityProfile)
}

func Test_HandleTeamEvent_MemberLeaveShrinksCoverage(t *testing.T) {
	store := seedStore(t)
	p, vendor, _ := newTestProcessor(t, store, nil)

	err := p.HandleTeamEvent(context.Background(), model.TeamEvent{
		TeamID:  fixtures.TeamID1,
		Members: []model.MemberDelta{{EmployeeID: "e1006", Leave: true}},
	})

	require.NoError(t, err)
	_, err = repo.NewMembershipRepository(store.Txn(false)).
		GetByUserAndTeam(fixtures.Username6, fixtures.TeamID1)
	require.ErrorIs(t, err, consts.ErrNotFound)
	require.Len(t, vendor.updated, 1)
	require.Equal(t, "Vis_HarborTrading", vendor.updated[0].VisibilityProfile)
}

func Test_HandleTeamEvent_JoinCreatesUnknownTeam(t *testing.T) {
	store := seedStore(t)
	p, vendor, _ := newTestProcessor(t, store, nil)

	err := p.HandleTeamEvent(context.Background(), model.TeamEvent{
		TeamID:   600,
		TeamKind: model.TeamVTM,
		TeamName: "Lakeside Partners",
		Members:  []model.MemberDelta{{EmployeeID: "e1001", RoleCode: "MBR"}},
	})

	require.NoError(t, err)
	tx := store.Txn(false)
	team, err := repo.NewTeamRepository(tx).GetByID(600)
	require.NoError(t, err)
	require.True(t, team.Active)
	require.Equal(t, "Lakeside Partners", team.Name)
	_, err = repo.NewMembershipRepository(tx).GetByUserAndTeam(fixtures.Username1, 600)
	require.NoError(t, err)
	require.Equal(t, []string{fixtures.Username1}, vendor.updatedUsernames())
}

func Test_HandleTeamEvent_ManagementRoleCascadesToReports(t *testing.T) {
	store := seedStore(t)
	p, vendor, _ := newTestProcessor(t, store, nil)

	err := p.HandleTeamEvent(context.Background(), model.TeamEvent{
		TeamID:   fixtures.TeamID1,
		TeamKind: model.TeamVTM,
		TeamName: "Vintage Motors",
		Members:  []model.MemberDelta{{EmployeeID: "e1004", RoleCode: "MGR"}},
	})

	require.NoError(t, err)
	usernames := vendor.updatedUsernames()
	require.Contains(t, usernames, fixtures.Username4)
	require.Contains(t, usernames, fixtures.Username2) // direct report
	require.Contains(t, usernames, fixtures.Username6) // fellow team member
}

func Test_HandleTeamEvent_UnknownEmployeeIgnored(t *testing.T) {
	store := seedStore(t)
	p, vendor, _ := newTestProcessor(t, store, nil)

	err := p.HandleTeamEvent(context.Background(), model.TeamEvent{
		TeamID:  fixtures.TeamID1,
		Members: []model.MemberDelta{{EmployeeID: "e9999", RoleCode: "MBR"}},
	})

	require.NoError(t, err)
	require.Empty(t, vendor.updated)
}

func Test_HandleTeamEvent_PastEndDateMeansLeave(t *testing.T) {
	store := seedStore(t)
	p, _, _ := newTestProcessor(t, store, nil)
	past := time.Now().Add(-24 * time.Hour)

	err := p.HandleTeamEvent(context.Background(), model.TeamEvent{
		TeamID:  fixtures.TeamID1,
		Members: []model.MemberDelta{{EmployeeID: "e1006", EffectiveEndDate: &past}},
	})

	require.NoError(t, err)
	_, err = repo.NewMembershipRepository(store.Txn(false)).
		GetByUserAndTeam(fixtures.Username6, fixtures.TeamID1)
	require.ErrorIs(t, err, consts.ErrNotFound)
}
