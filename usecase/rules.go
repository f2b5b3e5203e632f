package usecase

import (
	"fmt"
	"sort"
	"strings"
	"time"

	hcmemdb "github.com/hashicorp/go-memdb"

	"github.com/flant/compliance-sync/model"
	"github.com/flant/compliance-sync/repo"
)

// Base field-submitter groups, keyed by country and placement.
var submitterGroups = map[string]string{
	"US/HO": "US Home Office Submitters",
	"US/BR": "US Branch Submitters",
	"CA/HO": "CA Home Office Submitters",
	"CA/BR": "CA Branch Submitters",
}

func submitterGroup(country string, homeOffice bool) string {
	placement := "BR"
	if homeOffice {
		placement = "HO"
	}
	return submitterGroups[country+"/"+placement]
}

var sanitizer = strings.NewReplacer(" ", "", ".", "")

func sanitize(s string) string {
	return sanitizer.Replace(s)
}

// Calculator derives DesiredConfigurations from the current store state.
// It is read-only over the txn and memoizes results for the duration of one
// pass, so recalculating a leader once per blast radius stays cheap. The
// cache lives and dies with the Calculator; it is never shared across passes.
type Calculator struct {
	db    *hcmemdb.Txn
	now   time.Time
	cache map[string]*model.DesiredConfiguration

	users       *repo.UserRepository
	teams       *repo.TeamRepository
	memberships *repo.MembershipRepository
}

func NewCalculator(tx *hcmemdb.Txn) *Calculator {
	return &Calculator{
		db:          tx,
		now:         time.Now(),
		cache:       map[string]*model.DesiredConfiguration{},
		users:       repo.NewUserRepository(tx),
		teams:       repo.NewTeamRepository(tx),
		memberships: repo.NewMembershipRepository(tx),
	}
}

// Calculate is the rules engine entry point. It fails with consts.ErrNotFound
// when the username is absent. Visibility profile and groups are produced
// together as one value and are never updated independently.
func Calculate(tx *hcmemdb.Txn, username string) (*model.DesiredConfiguration, error) {
	return NewCalculator(tx).Calculate(username)
}

func (c *Calculator) Calculate(username string) (*model.DesiredConfiguration, error) {
	if dc, found := c.cache[username]; found {
		return dc, nil
	}
	user, err := c.users.GetByUsername(username)
	if err != nil {
		return nil, err
	}

	memberships, err := c.memberships.ListActiveByUser(username, c.now)
	if err != nil {
		return nil, err
	}

	var profile string
	var groups []string
	if len(memberships) > 1 {
		// More than one active membership: the precedence algorithm
		// overrides the type-based path entirely.
		profile, groups, err = c.multiTeamConfiguration(user, memberships)
	} else {
		profile, groups, err = c.typeConfiguration(user, memberships)
	}
	if err != nil {
		return nil, err
	}

	dc := &model.DesiredConfiguration{
		Username:          user.Username,
		FirstName:         user.FirstName,
		LastName:          user.LastName,
		VisibilityProfile: profile,
		Groups:            normalizeGroups(groups),
		Active:            user.Active,
	}
	c.cache[username] = dc
	return dc, nil
}

func (c *Calculator) typeConfiguration(user *model.User, memberships []*model.Membership) (string, []string, error) {
	isLeader, err := c.users.IsLeader(user.Username)
	if err != nil {
		return "", nil, err
	}
	class := model.Classify(isLeader, user.IsHomeOffice(), user.IsBranchLocated())

	switch class {
	case model.ClassHO:
		return "Vis-" + user.Country + "-HO", []string{submitterGroup(user.Country, true)}, nil
	case model.ClassBR:
		return "Vis-" + user.Country + "-BR", []string{submitterGroup(user.Country, false)}, nil
	case model.ClassHOBR:
		return "Vis-" + user.Country + "-HOBR",
			[]string{submitterGroup(user.Country, true), submitterGroup(user.Country, false)}, nil
	case model.ClassHOLeader:
		return c.leaderConfiguration(user)
	case model.ClassBRTeam:
		return c.branchTeamConfiguration(user, memberships)
	}
	return "", nil, nil
}

// leaderConfiguration builds a personal visibility profile for a home-office
// leader and one group per direct report, combining the report's inferred
// placement and country with the leader's identity.
func (c *Calculator) leaderConfiguration(user *model.User) (string, []string, error) {
	profile := fmt.Sprintf("Vis_HO_%s_%s_(%s)",
		sanitize(user.FirstName), sanitize(user.LastName), user.Username)

	reports, err := c.users.DirectReports(user.Username)
	if err != nil {
		return "", nil, err
	}
	groups := []string{submitterGroup(user.Country, true)}
	for _, report := range reports {
		placement := "BR"
		if report.IsHomeOffice() {
			placement = "HO"
		}
		groups = append(groups, fmt.Sprintf("%s %s %s %s (%s)",
			placement, report.Country, user.FirstName, user.LastName, user.Username))
	}
	return profile, groups, nil
}

// branchTeamConfiguration derives the configuration of a leader outside the
// home office from the leader's own memberships. The profile is taken from
// the lexicographically last generated group name: the source behavior picked
// an arbitrary set element, which is made deterministic here.
func (c *Calculator) branchTeamConfiguration(user *model.User, memberships []*model.Membership) (string, []string, error) {
	generated := []string{}
	for _, m := range memberships {
		team, err := c.teams.GetByID(m.TeamID)
		if err != nil {
			return "", nil, err
		}
		generated = append(generated, fmt.Sprintf("%s %s %s", user.Country, team.Name, team.Kind))
	}
	if len(generated) == 0 {
		// A leader without memberships degrades to the static branch profile.
		return "Vis-" + user.Country + "-BR", []string{submitterGroup(user.Country, false)}, nil
	}
	sort.Strings(generated)
	profile := "Vis_" + sanitize(generated[len(generated)-1])
	groups := append(generated, submitterGroup(user.Country, false))
	return profile, groups, nil
}

// multiTeamConfiguration implements the VTM > HTM > SFA precedence coverage:
// every VTM team is included unconditionally; an HTM or SFA team is included
// only when it covers at least one member no higher-precedence team already
// covers. Other team kinds never contribute.
func (c *Calculator) multiTeamConfiguration(user *model.User, memberships []*model.Membership) (string, []string, error) {
	byKind := map[model.TeamKind][]*model.Team{}
	for _, m := range memberships {
		team, err := c.teams.GetByID(m.TeamID)
		if err != nil {
			return "", nil, err
		}
		byKind[team.Kind] = append(byKind[team.Kind], team)
	}
	for _, teams := range byKind {
		sort.Slice(teams, func(i, j int) bool { return teams[i].Name < teams[j].Name })
	}

	covered := map[string]struct{}{}
	included := []*model.Team{}

	for _, team := range byKind[model.TeamVTM] {
		included = append(included, team)
		if err := c.coverMembers(team.ID, covered); err != nil {
			return "", nil, err
		}
	}
	for _, kind := range []model.TeamKind{model.TeamHTM, model.TeamSFA} {
		for _, team := range byKind[kind] {
			covers, err := c.coversNewMember(team.ID, covered)
			if err != nil {
				return "", nil, err
			}
			if !covers {
				continue
			}
			included = append(included, team)
			if err := c.coverMembers(team.ID, covered); err != nil {
				return "", nil, err
			}
		}
	}

	if len(included) == 0 {
		// every membership is of a non-precedence kind, fall back to the
		// type-based path instead of emitting an empty group name
		return c.typeConfiguration(user, memberships)
	}

	names := make([]string, 0, len(included))
	for _, team := range included {
		names = append(names, sanitize(team.Name))
	}
	sort.Strings(names)
	groupName := strings.Join(names, "_")
	groups := []string{groupName, submitterGroup(user.Country, user.IsHomeOffice())}
	return "Vis_" + groupName, groups, nil
}

func (c *Calculator) coverMembers(teamID int, covered map[string]struct{}) error {
	members, err := c.memberships.ListByTeam(teamID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.ActiveAt(c.now) {
			covered[m.Username] = struct{}{}
		}
	}
	return nil
}

func (c *Calculator) coversNewMember(teamID int, covered map[string]struct{}) (bool, error) {
	members, err := c.memberships.ListByTeam(teamID)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if !m.ActiveAt(c.now) {
			continue
		}
		if _, found := covered[m.Username]; !found {
			return true, nil
		}
	}
	return false, nil
}

func normalizeGroups(groups []string) []string {
	seen := map[string]struct{}{}
	result := make([]string, 0, len(groups))
	for _, g := range groups {
		if g == "" {
			continue
		}
		if _, found := seen[g]; found {
			continue
		}
		seen[g] = struct{}{}
		result = append(result, g)
	}
	sort.Strings(result)
	return result
}
