package model

import (
	"regexp"
	"strings"
)

const UserType = "user" // memdb table name

// User is the local mirror of one personnel directory record.
type User struct {
	Username        string `json:"username"` // PK, stable directory identifier
	EmployeeID      string `json:"employee_id"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Title           string `json:"title"`
	Location        string `json:"location"`         // distinguished-name style placement marker
	ManagerUsername string `json:"manager_username"` // weak reference, empty means no manager
	Country         string `json:"country"`
	Active          bool   `json:"active"`

	// Last configuration pushed to the vendor for this user. Not directory
	// data; kept on the mirror row so the event processor can skip no-op
	// pushes for the primary user of a change.
	CalculatedProfile string   `json:"calculated_profile"`
	CalculatedGroups  []string `json:"calculated_groups"`
}

const (
	homeOfficeMarker = "Home Office"
	branchMarker     = "Branch"
)

var branchTitleRE = regexp.MustCompile(`Branch|Remote Support|On-Caller`)

func (u *User) IsHomeOffice() bool {
	return strings.Contains(u.Location, homeOfficeMarker)
}

func (u *User) IsBranchLocated() bool {
	return strings.Contains(u.Location, branchMarker) || branchTitleRE.MatchString(u.Title)
}

func (u *User) ObjType() string {
	return UserType
}

func (u *User) ObjId() string {
	return u.Username
}

// Classification derives one of six user types from three booleans.
// Leadership wins over placement; mixed placement maps to HOBR.
type Classification string

const (
	ClassHOLeader    Classification = "HO_LEADER"
	ClassBRTeam      Classification = "BR_TEAM"
	ClassHOBR        Classification = "HOBR"
	ClassHO          Classification = "HO"
	ClassBR          Classification = "BR"
	ClassUnspecified Classification = "UNSPECIFIED"
)

func Classify(isLeader, homeOffice, branch bool) Classification {
	switch {
	case isLeader && homeOffice:
		return ClassHOLeader
	case isLeader:
		return ClassBRTeam
	case homeOffice && branch:
		return ClassHOBR
	case homeOffice:
		return ClassHO
	case branch:
		return ClassBR
	}
	return ClassUnspecified
}
