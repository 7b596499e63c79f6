package trades

import "handytoknow/internal/infra/stripe"

type AccessState string

const (
	AccessFull    AccessState = "full"
	AccessLimited AccessState = "limited"
	AccessLocked  AccessState = "locked"
)

// ComputeAccessState derives what a trade may do from its subscription
// status: paying trades get everything, past_due trades keep their listing
// but cannot use credits, everyone else is locked.
func ComputeAccessState(status string) AccessState {
	switch stripe.NormalizeStatus(status) {
	case stripe.StatusActive, stripe.StatusTrialing:
		return AccessFull
	case stripe.StatusPastDue:
		return AccessLimited
	default:
		return AccessLocked
	}
}

func CapabilitiesFor(state AccessState) []string {
	switch state {
	case AccessFull:
		return []string{"listing", "receive_leads", "use_credits"}
	case AccessLimited:
		return []string{"listing"}
	default:
		return []string{}
	}
}

// CanSignIn reports whether a trade with this status may log in.
func CanSignIn(status string) bool {
	return ComputeAccessState(status) != AccessLocked
}
