package model

// Property is one recognized directory attribute. Each entry carries its own
// apply function and its impactfulness flag, so an unrecognized property is a
// lookup miss instead of a silently ignored switch case.
//
// Impactful properties widen the blast radius to the user's direct reports.
// Manager reassignment is deliberately non-impactful for the mover: the
// source system only treats the mover's reports as blast radius, never the
// old or new manager themselves. That behavior is kept as documented.
type Property struct {
	Name      string
	Impactful bool
	Apply     func(u *User, value string)
}

var properties = map[string]Property{
	"manager": {
		Name:      "manager",
		Impactful: false,
		Apply:     func(u *User, v string) { u.ManagerUsername = v },
	},
	"title": {
		Name:      "title",
		Impactful: true,
		Apply:     func(u *User, v string) { u.Title = v },
	},
	"location": {
		Name:      "location",
		Impactful: true,
		Apply:     func(u *User, v string) { u.Location = v },
	},
	"active": {
		Name:      "active",
		Impactful: true,
		Apply:     func(u *User, v string) { u.Active = v == "true" },
	},
	"employeeId": {
		Name:      "employeeId",
		Impactful: false,
		Apply:     func(u *User, v string) { u.EmployeeID = v },
	},
	"country": {
		Name:      "country",
		Impactful: true,
		Apply:     func(u *User, v string) { u.Country = v },
	},
}

func LookupProperty(name string) (Property, bool) {
	p, ok := properties[name]
	return p, ok
}
