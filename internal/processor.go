package internal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	hcmemdb "github.com/hashicorp/go-memdb"

	"github.com/flant/compliance-sync/clients"
	"github.com/flant/compliance-sync/consts"
	"github.com/flant/compliance-sync/model"
	"github.com/flant/compliance-sync/repo"
	"github.com/flant/compliance-sync/usecase"
)

// Processor applies change events to the mirror store and pushes the
// resulting configurations to the vendor. Each event is one write txn; the
// pushes happen after the txn commits, so a vendor failure never rolls back
// local state. Per-user push failures are logged and counted, the rest of
// the blast radius still goes out; the true-up run corrects whatever failed.
type Processor struct {
	store     *hcmemdb.MemDB
	vendor    clients.Vendor
	directory clients.Directory
	stats     *Stats
	logger    hclog.Logger
}

func NewProcessor(store *hcmemdb.MemDB, vendor clients.Vendor, directory clients.Directory, stats *Stats, parentLogger hclog.Logger) *Processor {
	return &Processor{
		store:     store,
		vendor:    vendor,
		directory: directory,
		stats:     stats,
		logger:    parentLogger.Named("processor"),
	}
}

// push is one scheduled vendor update. Unforced pushes were already diffed
// against the previously calculated configuration.
type push struct {
	dc *model.DesiredConfiguration
}

// Ready reports whether the mirror store was seeded. Processing events
// against an empty mirror would misclassify every user.
func (p *Processor) Ready() error {
	txn := p.store.Txn(false)
	defer txn.Abort()
	empty, err := repo.IsEmpty(txn)
	if err != nil {
		return err
	}
	if empty {
		return consts.ErrEmptyStore
	}
	return nil
}

func (p *Processor) HandleDirectoryEvent(ctx context.Context, ev model.DirectoryEvent) error {
	switch ev.ChangeType {
	case model.TerminatedUser:
		return p.handleTermination(ctx, ev.Username)
	case model.DataChange:
		return p.handleDataChange(ctx, ev)
	case model.NewUser:
		return p.handleNewUser(ctx, ev.Username)
	}
	p.stats.Poison.Inc()
	p.logger.Error(fmt.Sprintf("unknown directory change type %q", ev.ChangeType))
	return nil
}

func (p *Processor) handleTermination(ctx context.Context, username string) error {
	txn := p.store.Txn(true)
	defer txn.Abort()
	users := repo.NewUserRepository(txn)

	user, err := users.GetByUsername(username)
	if errors.Is(err, consts.ErrNotFound) {
		p.logger.Warn("termination for unknown user", "user", username)
		return nil
	}
	if err != nil {
		return err
	}
	updated := *user
	updated.Active = false
	if err := users.Put(&updated); err != nil {
		return err
	}

	calc := usecase.NewCalculator(txn)
	dc, err := p.recalculate(calc, users, username)
	if err != nil {
		return err
	}
	txn.Commit()

	// termination is pushed unconditionally
	p.pushAll(ctx, []push{{dc: dc}})
	return nil
}

func (p *Processor) handleDataChange(ctx context.Context, ev model.DirectoryEvent) error {
	prop, recognized := model.LookupProperty(ev.Property)
	if !recognized {
		p.stats.Poison.Inc()
		p.logger.Error(fmt.Sprintf("unrecognized directory property %q", ev.Property))
		return nil
	}

	txn := p.store.Txn(true)
	defer txn.Abort()
	users := repo.NewUserRepository(txn)

	user, err := users.GetByUsername(ev.Username)
	if errors.Is(err, consts.ErrNotFound) {
		p.logger.Warn("data change for unknown user", "user", ev.Username, "property", ev.Property)
		return nil
	}
	if err != nil {
		return err
	}

	previous := cachedConfiguration(user)
	updated := *user
	prop.Apply(&updated, ev.NewValue)
	if err := users.Put(&updated); err != nil {
		return err
	}

	calc := usecase.NewCalculator(txn)
	pushes := []push{}

	dc, err := p.recalculate(calc, users, ev.Username)
	if err != nil {
		return err
	}
	// the primary user is pushed only when the configuration moved
	if dc.NotEqual(previous) {
		pushes = append(pushes, push{dc: dc})
	}

	if prop.Impactful {
		// blast radius: the user's direct reports, pushed without diffing
		// (their previous state is not cached)
		reports, err := users.DirectReports(ev.Username)
		if err != nil {
			return err
		}
		for _, report := range reports {
			reportDC, err := p.recalculate(calc, users, report.Username)
			if err != nil {
				return err
			}
			pushes = append(pushes, push{dc: reportDC})
		}
	}

	txn.Commit()
	p.pushAll(ctx, pushes)
	return nil
}

// handleNewUser re-fetches the full profile from the directory: the event
// itself carries no attributes.
func (p *Processor) handleNewUser(ctx context.Context, username string) error {
	user, err := p.directory.FetchUserByUsername(ctx, username)
	if errors.Is(err, consts.ErrNotFound) {
		p.logger.Warn("new-user event for a user the directory does not know", "user", username)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching new user %s: %w", username, err)
	}

	txn := p.store.Txn(true)
	defer txn.Abort()
	users := repo.NewUserRepository(txn)

	stored := *user
	if stored.ManagerUsername != "" {
		if _, err := users.GetByUsername(stored.ManagerUsername); errors.Is(err, consts.ErrNotFound) {
			p.logger.Warn("dangling manager reference dropped",
				"user", stored.Username, "manager", stored.ManagerUsername)
			stored.ManagerUsername = ""
		} else if err != nil {
			return err
		}
	}
	if err := users.Put(&stored); err != nil {
		return err
	}

	calc := usecase.NewCalculator(txn)
	dc, err := p.recalculate(calc, users, stored.Username)
	if err != nil {
		return err
	}
	txn.Commit()

	p.pushAll(ctx, []push{{dc: dc}})
	return nil
}

func (p *Processor) HandleTeamEvent(ctx context.Context, ev model.TeamEvent) error {
	if ev.EffectiveEndDate != nil && len(ev.Members) == 0 {
		return p.handleTeamDeactivation(ctx, ev)
	}
	if len(ev.Members) == 0 {
		p.logger.Warn("team event without member delta ignored", "team", ev.TeamID)
		return nil
	}
	return p.handleMemberDelta(ctx, ev, ev.Members[0])
}

func (p *Processor) handleTeamDeactivation(ctx context.Context, ev model.TeamEvent) error {
	txn := p.store.Txn(true)
	defer txn.Abort()
	users := repo.NewUserRepository(txn)
	teams := repo.NewTeamRepository(txn)
	memberships := repo.NewMembershipRepository(txn)

	team, err := teams.GetByID(ev.TeamID)
	if errors.Is(err, consts.ErrNotFound) {
		p.logger.Warn("deactivation for unknown team", "team", ev.TeamID)
		return nil
	}
	if err != nil {
		return err
	}
	updated := *team
	updated.Active = false
	if err := teams.Put(&updated); err != nil {
		return err
	}
	affected, err := memberships.DeleteByTeam(ev.TeamID)
	if err != nil {
		return err
	}

	pushes, err := p.recalculateAll(txn, users, affected)
	if err != nil {
		return err
	}
	txn.Commit()
	p.pushAll(ctx, pushes)
	return nil
}

func (p *Processor) handleMemberDelta(ctx context.Context, ev model.TeamEvent, delta model.MemberDelta) error {
	now := time.Now()

	txn := p.store.Txn(true)
	defer txn.Abort()
	users := repo.NewUserRepository(txn)
	teams := repo.NewTeamRepository(txn)
	memberships := repo.NewMembershipRepository(txn)

	member, err := users.GetByEmployeeID(delta.EmployeeID)
	if errors.Is(err, consts.ErrNotFound) {
		p.logger.Warn("member delta for unknown employee id",
			"team", ev.TeamID, "employee_id", delta.EmployeeID)
		return nil
	}
	if err != nil {
		return err
	}

	leaving := delta.Leave ||
		(delta.EffectiveEndDate != nil && delta.EffectiveEndDate.Before(now))

	affected := map[string]struct{}{member.Username: {}}
	cascadeToReports := false

	if leaving {
		// removal can change precedence coverage for everyone who stays
		err := memberships.Delete(member.Username, ev.TeamID)
		if err != nil && !errors.Is(err, consts.ErrNotFound) {
			return err
		}
	} else {
		if err := p.upsertTeam(teams, ev); err != nil {
			return err
		}
		m := &model.Membership{
			Username: member.Username,
			TeamID:   ev.TeamID,
			RoleCode: delta.RoleCode,
		}
		if ev.EffectiveBeginDate != nil {
			m.EffectiveFrom = *ev.EffectiveBeginDate
		}
		if delta.EffectiveEndDate != nil {
			m.EffectiveUntil = *delta.EffectiveEndDate
		}
		if err := memberships.Put(m); err != nil {
			return err
		}
		cascadeToReports = m.ImpliesManagement()
	}

	remaining, err := memberships.ListByTeam(ev.TeamID)
	if err != nil {
		return err
	}
	for _, m := range remaining {
		affected[m.Username] = struct{}{}
	}
	if cascadeToReports {
		reports, err := users.DirectReports(member.Username)
		if err != nil {
			return err
		}
		for _, report := range reports {
			affected[report.Username] = struct{}{}
		}
	}

	pushes, err := p.recalculateAll(txn, users, setToSlice(affected))
	if err != nil {
		return err
	}
	txn.Commit()
	p.pushAll(ctx, pushes)
	return nil
}

func (p *Processor) upsertTeam(teams *repo.TeamRepository, ev model.TeamEvent) error {
	team, err := teams.GetByID(ev.TeamID)
	if errors.Is(err, consts.ErrNotFound) {
		return teams.Put(&model.Team{
			ID:     ev.TeamID,
			Name:   ev.TeamName,
			Kind:   ev.TeamKind,
			Active: true,
		})
	}
	if err != nil {
		return err
	}
	if ev.TeamName != "" && (team.Name != ev.TeamName || team.Kind != ev.TeamKind) {
		updated := *team
		updated.Name = ev.TeamName
		updated.Kind = ev.TeamKind
		return teams.Put(&updated)
	}
	return nil
}

// recalculate derives the fresh configuration for one user and stores it on
// the mirror row so the next event can diff against it.
func (p *Processor) recalculate(calc *usecase.Calculator, users *repo.UserRepository, username string) (*model.DesiredConfiguration, error) {
	dc, err := calc.Calculate(username)
	if err != nil {
		return nil, err
	}
	user, err := users.GetByUsername(username)
	if err != nil {
		return nil, err
	}
	updated := *user
	updated.CalculatedProfile = dc.VisibilityProfile
	updated.CalculatedGroups = dc.Groups
	if err := users.Put(&updated); err != nil {
		return nil, err
	}
	return dc, nil
}

func (p *Processor) recalculateAll(txn *hcmemdb.Txn, users *repo.UserRepository, usernames []string) ([]push, error) {
	calc := usecase.NewCalculator(txn)
	pushes := make([]push, 0, len(usernames))
	for _, username := range usernames {
		dc, err := p.recalculate(calc, users, username)
		if errors.Is(err, consts.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		pushes = append(pushes, push{dc: dc})
	}
	return pushes, nil
}

// pushAll runs after the txn committed. One failed push never blocks the
// remaining ones.
func (p *Processor) pushAll(ctx context.Context, pushes []push) {
	for _, item := range pushes {
		p.stats.Pending.Inc()
		err := p.vendor.UpdateUser(ctx, item.dc)
		p.stats.Pending.Dec()
		if err != nil {
			p.stats.Failed.Inc()
			p.logger.Error(fmt.Sprintf("pushing %s: %s", item.dc.Username, err.Error()))
			continue
		}
		p.stats.Sent.Inc()
	}
}

func cachedConfiguration(user *model.User) *model.DesiredConfiguration {
	if user.CalculatedProfile == "" && len(user.CalculatedGroups) == 0 {
		return nil // nothing calculated yet, NotEqual(nil) is always true
	}
	return &model.DesiredConfiguration{
		Username:          user.Username,
		FirstName:         user.FirstName,
		LastName:          user.LastName,
		VisibilityProfile: user.CalculatedProfile,
		Groups:            user.CalculatedGroups,
		Active:            user.Active,
	}
}

func setToSlice(set map[string]struct{}) []string {
	slice := make([]string, 0, len(set))
	for k := range set {
		slice = append(slice, k)
	}
	sort.Strings(slice)
	return slice
}
