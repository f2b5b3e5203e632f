package fixtures

import (
	"github.com/flant/compliance-sync/model"
)

const (
	TeamID1 = 501 // VTM
	TeamID2 = 502 // HTM
	TeamID3 = 503 // SFA
	TeamID4 = 504 // ACM
	TeamID5 = 505 // VTM, branch leader's own team
)

func Teams() []model.Team {
	return []model.Team{
		{ID: TeamID1, Name: "Vintage Motors", Kind: model.TeamVTM, Active: true},
		{ID: TeamID2, Name: "Harbor Trading", Kind: model.TeamHTM, Active: true},
		{ID: TeamID3, Name: "Summit Financial", Kind: model.TeamSFA, Active: true},
		{ID: TeamID4, Name: "Archive Committee", Kind: model.TeamACM, Active: true},
		{ID: TeamID5, Name: "Coastal Group", Kind: model.TeamVTM, Active: true},
	}
}
