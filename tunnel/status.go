package tunnel

// Status is the runtime state of a tunnel.
type Status int

const (
	// StatusInactive means the tunnel is down.
	StatusInactive Status = iota
	// StatusWaiting means activation is queued behind another tunnel's deactivation.
	StatusWaiting
	// StatusActivating means the backend is bringing the tunnel up.
	StatusActivating
	// StatusActive means the tunnel is up.
	StatusActive
	// StatusDeactivating means the backend is taking the tunnel down.
	StatusDeactivating
	// StatusReasserting means an active tunnel is reconnecting in place.
	StatusReasserting
	// StatusRestarting means the tunnel is being brought down and up again.
	StatusRestarting
)

// String returns a human-readable status string.
func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "Inactive"
	case StatusWaiting:
		return "Waiting"
	case StatusActivating:
		return "Activating"
	case StatusActive:
		return "Active"
	case StatusDeactivating:
		return "Deactivating"
	case StatusReasserting:
		return "Reactivating"
	case StatusRestarting:
		return "Restarting"
	default:
		return "Unknown"
	}
}

// IsOn reports whether a toggle for this status shows as switched on.
// Everything except inactive and deactivating counts as on.
func (s Status) IsOn() bool {
	return s != StatusInactive && s != StatusDeactivating
}
