package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/flant/compliance-sync/consts"
	"github.com/flant/compliance-sync/model"
)

type TeamSummary struct {
	ID   int            `json:"crbtId"`
	Name string         `json:"name"`
	Kind model.TeamKind `json:"teamType"`
}

// TeamMember identity is employeeId-keyed; callers cross-reference it to a
// User by employee id, never by username.
type TeamMember struct {
	EmployeeID     string    `json:"employeeId"`
	RoleCode       string    `json:"roleCode"`
	EffectiveFrom  time.Time `json:"effectiveBeginDate"`
	EffectiveUntil time.Time `json:"effectiveEndDate"`
}

type TeamWithMembers struct {
	TeamSummary
	Active  bool         `json:"active"`
	Members []TeamMember `json:"members"`
}

// TeamRegistry is the team-ownership collaborator. It is lookup-oriented:
// there is no bulk team listing, discovery is driven from the directory side
// one query per branch leader.
type TeamRegistry interface {
	FetchTeamsForLeader(ctx context.Context, username string) ([]TeamSummary, error)
	FetchTeamDetails(ctx context.Context, teamID int) (*TeamWithMembers, error)
}

type HTTPTeamRegistry struct {
	Client  *http.Client
	BaseURL string
}

func NewHTTPTeamRegistry(baseURL string) *HTTPTeamRegistry {
	return &HTTPTeamRegistry{
		Client:  cleanhttp.DefaultPooledClient(),
		BaseURL: baseURL,
	}
}

func (c *HTTPTeamRegistry) FetchTeamsForLeader(ctx context.Context, username string) ([]TeamSummary, error) {
	var teams []TeamSummary
	if err := c.getJSON(ctx, c.BaseURL+"/teams?leader="+username, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

func (c *HTTPTeamRegistry) FetchTeamDetails(ctx context.Context, teamID int) (*TeamWithMembers, error) {
	var team TeamWithMembers
	if err := c.getJSON(ctx, c.BaseURL+"/teams/"+strconv.Itoa(teamID), &team); err != nil {
		return nil, err
	}
	return &team, nil
}

func (c *HTTPTeamRegistry) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return consts.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wrong response: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
