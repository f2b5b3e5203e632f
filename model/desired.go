package model

// DesiredConfiguration is the ephemeral result of one rules-engine run.
// Profile and groups always travel together: a caller never observes a
// configuration with a stale profile but fresh groups or vice versa.
// Equality between two instances is the basis for drift/no-op detection.
type DesiredConfiguration struct {
	Username          string   `json:"username"`
	FirstName         string   `json:"first_name"`
	LastName          string   `json:"last_name"`
	VisibilityProfile string   `json:"visibility_profile"`
	Groups            []string `json:"groups"` // kept sorted
	Active            bool     `json:"active"`
}

func (d *DesiredConfiguration) Equal(other *DesiredConfiguration) bool {
	if other == nil {
		return false
	}
	if d.Username != other.Username ||
		d.FirstName != other.FirstName ||
		d.LastName != other.LastName ||
		d.VisibilityProfile != other.VisibilityProfile ||
		d.Active != other.Active {
		return false
	}
	if len(d.Groups) != len(other.Groups) {
		return false
	}
	for i := range d.Groups {
		if d.Groups[i] != other.Groups[i] {
			return false
		}
	}
	return true
}

func (d *DesiredConfiguration) NotEqual(other *DesiredConfiguration) bool {
	return !d.Equal(other)
}
