package model

// RegionAction is the action carried by malleability_region: a client
// announcing it is entering or leaving a malleable code region (the
// window during which the coordinator may safely resize it).
type RegionAction uint8

const (
	RegionEnter RegionAction = iota
	RegionLeave
)

func (a RegionAction) String() string {
	switch a {
	case RegionEnter:
		return "Enter"
	case RegionLeave:
		return "Leave"
	default:
		return "Unknown"
	}
}
