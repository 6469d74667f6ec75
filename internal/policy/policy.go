// Package policy validates leases and templates against the currently
// active GlobalConfig snapshot. Validation is a pure function of its
// inputs and always runs before any mutation is attempted.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/halcyonops/sandbox-control-plane/internal/model"
)

var ErrLeaseQuotaExceeded = errors.New("lease quota exceeded")

// ValidationError names the offending field and the limit it violated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// ValidateTemplate checks a lease template against the global ceilings.
func ValidateTemplate(tpl model.LeaseTemplate, gc model.GlobalConfig) error {
	if gc.RequireMaxBudget && tpl.MaxSpend == nil {
		return &ValidationError{Field: "maxSpend", Message: "max budget must be provided"}
	}
	if tpl.MaxSpend != nil && gc.MaxBudget != nil && *tpl.MaxSpend > *gc.MaxBudget {
		return &ValidationError{
			Field:   "maxSpend",
			Message: fmt.Sprintf("%.2f exceeds global max budget %.2f", *tpl.MaxSpend, *gc.MaxBudget),
		}
	}
	if gc.RequireMaxDuration && tpl.LeaseDurationInHours == nil {
		return &ValidationError{Field: "leaseDurationInHours", Message: "max duration must be provided"}
	}
	if tpl.LeaseDurationInHours != nil && gc.MaxDurationHours != nil && *tpl.LeaseDurationInHours > *gc.MaxDurationHours {
		return &ValidationError{
			Field:   "leaseDurationInHours",
			Message: fmt.Sprintf("%.1fh exceeds global max duration %.1fh", *tpl.LeaseDurationInHours, *gc.MaxDurationHours),
		}
	}
	return nil
}

// ValidateLeaseActivation guards PendingApproval -> Active. Once an account
// is assigned, the calendar bounds (expirationDate - startDate) are
// authoritative over the template's nominal duration.
func ValidateLeaseActivation(l model.Lease, gc model.GlobalConfig) error {
	if gc.RequireMaxBudget && l.MaxSpend == nil {
		return &ValidationError{Field: "maxSpend", Message: "max budget must be provided"}
	}
	if l.MaxSpend != nil && gc.MaxBudget != nil && *l.MaxSpend > *gc.MaxBudget {
		return &ValidationError{
			Field:   "maxSpend",
			Message: fmt.Sprintf("%.2f exceeds global max budget %.2f", *l.MaxSpend, *gc.MaxBudget),
		}
	}
	if gc.RequireMaxDuration && l.ExpirationDate == nil {
		return &ValidationError{Field: "expirationDate", Message: "max duration must be provided"}
	}
	if l.StartDate != nil && l.ExpirationDate != nil && gc.MaxDurationHours != nil {
		hours := l.ExpirationDate.Sub(*l.StartDate).Hours()
		if hours > *gc.MaxDurationHours {
			return &ValidationError{
				Field:   "expirationDate",
				Message: fmt.Sprintf("%.1fh exceeds global max duration %.1fh", hours, *gc.MaxDurationHours),
			}
		}
	}
	return nil
}

// CheckLeaseQuota enforces the per-user non-terminal lease ceiling.
func CheckLeaseQuota(activeCount int, gc model.GlobalConfig) error {
	if gc.MaxLeasesPerUser > 0 && activeCount >= gc.MaxLeasesPerUser {
		return fmt.Errorf("%w: %d of %d leases in use", ErrLeaseQuotaExceeded, activeCount, gc.MaxLeasesPerUser)
	}
	return nil
}

// MonitoredBounds derives the calendar bounds for a lease activated at now
// under the given template.
func MonitoredBounds(tpl model.LeaseTemplate, now time.Time) (start time.Time, expiration *time.Time) {
	start = now.UTC()
	if tpl.LeaseDurationInHours != nil {
		exp := start.Add(time.Duration(*tpl.LeaseDurationInHours * float64(time.Hour)))
		expiration = &exp
	}
	return start, expiration
}
