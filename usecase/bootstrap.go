package usecase

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	hcmemdb "github.com/hashicorp/go-memdb"

	"github.com/flant/compliance-sync/clients"
	"github.com/flant/compliance-sync/model"
	"github.com/flant/compliance-sync/repo"
)

// Bootstrapper seeds an empty mirror store from the directory and the team
// registry. A failed bootstrap prevents startup: an inconsistent seed poisons
// everything downstream. Individual bad records never fail the run, they are
// logged and repaired (dangling manager refs nulled, unresolvable memberships
// skipped).
type Bootstrapper struct {
	store     *hcmemdb.MemDB
	directory clients.Directory
	registry  clients.TeamRegistry
	logger    hclog.Logger
}

func NewBootstrapper(store *hcmemdb.MemDB, directory clients.Directory, registry clients.TeamRegistry, parentLogger hclog.Logger) *Bootstrapper {
	return &Bootstrapper{
		store:     store,
		directory: directory,
		registry:  registry,
		logger:    parentLogger.Named("bootstrap"),
	}
}

func (b *Bootstrapper) Run(ctx context.Context) error {
	users, err := b.directory.FetchAllUsers(ctx)
	if err != nil {
		return fmt.Errorf("fetching directory users: %w", err)
	}
	b.logger.Info("directory fetched", "users", len(users))

	teams, err := b.discoverTeams(ctx, users)
	if err != nil {
		return err
	}
	b.logger.Info("teams discovered", "teams", len(teams))

	return b.persist(users, teams)
}

// discoverTeams queries the registry once per branch leader. The registry has
// no bulk listing, so discovery is driven from the directory side.
func (b *Bootstrapper) discoverTeams(ctx context.Context, users []model.User) ([]*clients.TeamWithMembers, error) {
	managed := map[string]struct{}{}
	for i := range users {
		if users[i].ManagerUsername != "" {
			managed[users[i].ManagerUsername] = struct{}{}
		}
	}

	discovered := map[int]struct{}{}
	teamIDs := []int{}
	for i := range users {
		u := &users[i]
		if _, isManager := managed[u.Username]; !isManager || !u.IsBranchLocated() {
			continue
		}
		summaries, err := b.registry.FetchTeamsForLeader(ctx, u.Username)
		if err != nil {
			return nil, fmt.Errorf("fetching teams for leader %s: %w", u.Username, err)
		}
		for _, s := range summaries {
			if _, found := discovered[s.ID]; found {
				continue
			}
			discovered[s.ID] = struct{}{}
			teamIDs = append(teamIDs, s.ID)
		}
	}

	teams := make([]*clients.TeamWithMembers, 0, len(teamIDs))
	for _, id := range teamIDs {
		team, err := b.registry.FetchTeamDetails(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetching team %d: %w", id, err)
		}
		teams = append(teams, team)
	}
	return teams, nil
}

// persist is the single atomic phase: wipe, insert users with manager refs
// cleared, reapply validated refs in a second pass, insert teams, insert
// resolvable memberships. The two-pass user insert avoids any dependence on
// insertion order of the self-referencing manager key.
func (b *Bootstrapper) persist(users []model.User, teams []*clients.TeamWithMembers) error {
	txn := b.store.Txn(true)
	defer txn.Abort()

	userRepo := repo.NewUserRepository(txn)
	teamRepo := repo.NewTeamRepository(txn)
	membershipRepo := repo.NewMembershipRepository(txn)

	for _, wipe := range []func() error{membershipRepo.Wipe, teamRepo.Wipe, userRepo.Wipe} {
		if err := wipe(); err != nil {
			return err
		}
	}

	present := map[string]struct{}{}
	byEmployeeID := map[string]string{}
	for i := range users {
		present[users[i].Username] = struct{}{}
		if users[i].EmployeeID != "" {
			byEmployeeID[users[i].EmployeeID] = users[i].Username
		}
	}

	for i := range users {
		u := users[i] // copy, the original slice keeps its manager refs
		u.ManagerUsername = ""
		if err := userRepo.Put(&u); err != nil {
			return err
		}
	}
	for i := range users {
		manager := users[i].ManagerUsername
		if manager == "" {
			continue
		}
		if _, found := present[manager]; !found {
			b.logger.Warn("dangling manager reference dropped",
				"user", users[i].Username, "manager", manager)
			continue
		}
		stored, err := userRepo.GetByUsername(users[i].Username)
		if err != nil {
			return err
		}
		updated := *stored
		updated.ManagerUsername = manager
		if err := userRepo.Put(&updated); err != nil {
			return err
		}
	}

	for _, team := range teams {
		if err := teamRepo.Put(&model.Team{
			ID:     team.ID,
			Name:   team.Name,
			Kind:   team.Kind,
			Active: true,
		}); err != nil {
			return err
		}
		for _, member := range team.Members {
			username, found := byEmployeeID[member.EmployeeID]
			if !found {
				b.logger.Warn("membership skipped, employee id unresolved",
					"team", team.ID, "employee_id", member.EmployeeID)
				continue
			}
			if err := membershipRepo.Put(&model.Membership{
				Username:       username,
				TeamID:         team.ID,
				RoleCode:       member.RoleCode,
				EffectiveFrom:  member.EffectiveFrom,
				EffectiveUntil: member.EffectiveUntil,
			}); err != nil {
				return err
			}
		}
	}

	txn.Commit()
	b.logger.Info("bootstrap persisted", "users", len(users), "teams", len(teams))
	return nil
}
