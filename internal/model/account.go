package model

// CanTransitionAccount is the sandbox account pool state machine guard.
// Quarantine is reachable from any state (drift detection or manual action)
// and only leaves via retry-cleanup or eject.
func CanTransitionAccount(from, to AccountStatus) bool {
	if to == AccountQuarantine {
		return from != AccountQuarantine
	}
	switch from {
	case AccountAvailable:
		return to == AccountActive || to == AccountCleanUp
	case AccountActive:
		return to == AccountFrozen || to == AccountCleanUp
	case AccountFrozen:
		return to == AccountActive || to == AccountCleanUp
	case AccountCleanUp:
		return to == AccountAvailable
	case AccountQuarantine:
		return to == AccountCleanUp
	}
	return false
}

// AccountStatusForLease mirrors a monitored lease status onto the backing
// account's pool status.
func AccountStatusForLease(s LeaseStatus) (AccountStatus, bool) {
	switch s {
	case LeaseActive:
		return AccountActive, true
	case LeaseFrozen:
		return AccountFrozen, true
	}
	return "", false
}
