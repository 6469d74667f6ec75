package model

import "fmt"

// IsMonitoredLease reports whether the status carries an assigned account
// under active budget/duration tracking.
func IsMonitoredLease(s LeaseStatus) bool {
	switch s {
	case LeaseActive, LeaseFrozen:
		return true
	case LeasePendingApproval, LeaseApprovalDenied,
		LeaseExpired, LeaseBudgetExceeded, LeaseManuallyTerminated,
		LeaseAccountQuarantined, LeaseEjected:
		return false
	}
	return false
}

func IsPendingLease(s LeaseStatus) bool {
	return s == LeasePendingApproval
}

// IsTerminalLease reports whether the status is absorbing. Only terminal
// leases are eligible for TTL deletion.
func IsTerminalLease(s LeaseStatus) bool {
	switch s {
	case LeaseApprovalDenied, LeaseExpired, LeaseBudgetExceeded,
		LeaseManuallyTerminated, LeaseAccountQuarantined, LeaseEjected:
		return true
	case LeasePendingApproval, LeaseActive, LeaseFrozen:
		return false
	}
	return false
}

// CanTransitionLease is the lease state machine guard. Terminal states are
// absorbing; freeze is one-directional (re-activation requires a new lease).
func CanTransitionLease(from, to LeaseStatus) bool {
	if IsTerminalLease(from) {
		return false
	}
	switch from {
	case LeasePendingApproval:
		return to == LeaseActive || to == LeaseApprovalDenied
	case LeaseActive:
		switch to {
		case LeaseFrozen, LeaseExpired, LeaseBudgetExceeded,
			LeaseManuallyTerminated, LeaseAccountQuarantined, LeaseEjected:
			return true
		}
		return false
	case LeaseFrozen:
		switch to {
		case LeaseExpired, LeaseBudgetExceeded,
			LeaseManuallyTerminated, LeaseAccountQuarantined, LeaseEjected:
			return true
		}
		return false
	}
	return false
}

// ValidateLease enforces the variant invariants of the tagged union: only
// monitored variants carry an account and calendar bounds, only terminal
// variants carry an end date or reaper TTL.
func ValidateLease(l Lease) error {
	monitored := IsMonitoredLease(l.Status)
	terminal := IsTerminalLease(l.Status)

	if monitored && l.AWSAccountID == "" {
		return fmt.Errorf("lease %s is %s but has no aws account id", l.UUID, l.Status)
	}
	if !monitored && !terminal && l.AWSAccountID != "" {
		return fmt.Errorf("lease %s is %s but carries aws account id %s", l.UUID, l.Status, l.AWSAccountID)
	}
	if monitored && l.StartDate == nil {
		return fmt.Errorf("lease %s is %s but has no start date", l.UUID, l.Status)
	}
	if terminal && l.EndDate == nil {
		return fmt.Errorf("lease %s is %s but has no end date", l.UUID, l.Status)
	}
	if !terminal && l.ExpiresAt != nil {
		return fmt.Errorf("lease %s is %s but has a reaper ttl", l.UUID, l.Status)
	}
	return nil
}

// TerminalStatusForReason maps a termination reason onto the lease status it
// produces.
func TerminalStatusForReason(reason TerminationReason) (LeaseStatus, bool) {
	switch reason {
	case TerminationExpired:
		return LeaseExpired, true
	case TerminationBudgetExceeded:
		return LeaseBudgetExceeded, true
	case TerminationManual:
		return LeaseManuallyTerminated, true
	case TerminationQuarantine:
		return LeaseAccountQuarantined, true
	case TerminationEjected:
		return LeaseEjected, true
	}
	return "", false
}

type TerminationReason string

const (
	TerminationExpired        TerminationReason = "Expired"
	TerminationBudgetExceeded TerminationReason = "BudgetExceeded"
	TerminationManual         TerminationReason = "ManuallyTerminated"
	TerminationQuarantine     TerminationReason = "AccountQuarantined"
	TerminationEjected        TerminationReason = "Ejected"
)
