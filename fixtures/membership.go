package fixtures

import (
	"time"

	"github.com/flant/compliance-sync/model"
)

func Memberships() []model.Membership {
	from := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	return []model.Membership{
		{Username: Username6, TeamID: TeamID1, RoleCode: "MBR", EffectiveFrom: from},
		{Username: Username6, TeamID: TeamID2, RoleCode: "MBR", EffectiveFrom: from},
		{Username: Username6, TeamID: TeamID3, RoleCode: "MBR", EffectiveFrom: from},
		{Username: Username4, TeamID: TeamID5, RoleCode: "LDR", EffectiveFrom: from},
	}
}
