package model

const TeamType = "team" // memdb table name

// TeamKind is the small fixed vocabulary of team types. VTM, HTM and SFA are
// precedence-significant (in that order) for the multi-team algorithm.
type TeamKind string

const (
	TeamVTM TeamKind = "VTM"
	TeamHTM TeamKind = "HTM"
	TeamSFA TeamKind = "SFA"
	TeamACM TeamKind = "ACM"
)

type Team struct {
	ID     int      `json:"id"` // PK
	Name   string   `json:"name"`
	Kind   TeamKind `json:"kind"`
	Active bool     `json:"active"`
}

func (t *Team) ObjType() string {
	return TeamType
}
