package model

import "time"

// DirectoryChangeType is the change category of one directory event.
type DirectoryChangeType string

const (
	NewUser        DirectoryChangeType = "NewUser"
	TerminatedUser DirectoryChangeType = "TerminatedUser"
	DataChange     DirectoryChangeType = "DataChange"
)

// DirectoryEvent is one message of the directory-changes topic.
// Delivery is at-least-once; applying the same property value twice is a
// no-op by construction.
type DirectoryEvent struct {
	Username   string              `json:"pjNumber"`
	ChangeType DirectoryChangeType `json:"changeType"`
	Property   string              `json:"property"`
	OldValue   string              `json:"beforeValue"`
	NewValue   string              `json:"newValue"`
}

// MemberDelta carries the single member change of one team event. Member
// identity is employeeId-keyed and must be cross-referenced to a User.
type MemberDelta struct {
	EmployeeID       string     `json:"employeeId"`
	RoleCode         string     `json:"roleCode"`
	EffectiveEndDate *time.Time `json:"effectiveEndDate"`
	Leave            bool       `json:"leave"`
}

// TeamEvent is one message of the team-changes topic. An event with a
// non-nil EffectiveEndDate and no member delta deactivates the team.
type TeamEvent struct {
	TeamID             int           `json:"crbtId"`
	TeamKind           TeamKind      `json:"teamType"`
	TeamName           string        `json:"teamName"`
	EffectiveBeginDate *time.Time    `json:"effectiveBeginDate"`
	EffectiveEndDate   *time.Time    `json:"effectiveEndDate"`
	Members            []MemberDelta `json:"members"`
}
