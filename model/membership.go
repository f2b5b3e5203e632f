package model

import (
	"strconv"
	"time"
)

const MembershipType = "membership" // memdb table name

// Membership joins a User to a Team with role metadata. A membership with a
// past EffectiveUntil is logically inactive but is not purged eagerly.
type Membership struct {
	Username       string    `json:"username"`
	TeamID         int       `json:"team_id"`
	RoleCode       string    `json:"role_code"`
	EffectiveFrom  time.Time `json:"effective_from"`
	EffectiveUntil time.Time `json:"effective_until"` // zero means open-ended
}

// Key is the composite memdb primary key.
func (m *Membership) Key() string {
	return m.Username + "/" + strconv.Itoa(m.TeamID)
}

func (m *Membership) TeamIDString() string {
	return strconv.Itoa(m.TeamID)
}

func (m *Membership) ActiveAt(now time.Time) bool {
	if !m.EffectiveFrom.IsZero() && m.EffectiveFrom.After(now) {
		return false
	}
	if !m.EffectiveUntil.IsZero() && !m.EffectiveUntil.After(now) {
		return false
	}
	return true
}

// ImpliesManagement reports whether the role cascades recalculation to the
// member's direct reports.
func (m *Membership) ImpliesManagement() bool {
	return m.RoleCode == "MGR" || m.RoleCode == "LDR"
}
