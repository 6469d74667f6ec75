package model

import "time"

type LeaseStatus string

const (
	LeasePendingApproval    LeaseStatus = "PendingApproval"
	LeaseApprovalDenied     LeaseStatus = "ApprovalDenied"
	LeaseActive             LeaseStatus = "Active"
	LeaseFrozen             LeaseStatus = "Frozen"
	LeaseExpired            LeaseStatus = "Expired"
	LeaseBudgetExceeded     LeaseStatus = "BudgetExceeded"
	LeaseManuallyTerminated LeaseStatus = "ManuallyTerminated"
	LeaseAccountQuarantined LeaseStatus = "AccountQuarantined"
	LeaseEjected            LeaseStatus = "Ejected"
)

type Lease struct {
	UUID       string
	Owner      string
	TemplateID string
	Status     LeaseStatus
	Comments   string
	ApprovedBy string

	// Monitored variants only.
	AWSAccountID       string
	StartDate          *time.Time
	ExpirationDate     *time.Time
	TotalCostAccrued   float64
	MaxSpend           *float64
	BudgetThresholds   []float64
	DurationThresholds []float64

	// Terminal variants only.
	EndDate   *time.Time
	ExpiresAt *time.Time

	CreatedAt     time.Time
	LastModified  time.Time
	Version       int
	SchemaVersion int
}

type AccountStatus string

const (
	AccountAvailable  AccountStatus = "Available"
	AccountActive     AccountStatus = "Active"
	AccountFrozen     AccountStatus = "Frozen"
	AccountCleanUp    AccountStatus = "CleanUp"
	AccountQuarantine AccountStatus = "Quarantine"
)

type CleanupExecutionContext struct {
	ExecutionID string
	StartedAt   time.Time
}

type SandboxAccount struct {
	ID            string
	Status        AccountStatus
	Name          string
	Email         string
	Cleanup       *CleanupExecutionContext
	LastModified  time.Time
	Version       int
	SchemaVersion int
}

type LeaseTemplate struct {
	ID                   string
	Name                 string
	Description          string
	MaxSpend             *float64
	BudgetThresholds     []float64
	LeaseDurationInHours *float64
	DurationThresholds   []float64
	RequiresApproval     bool
	CreatedBy            string
	CreatedAt            time.Time
	SchemaVersion        int
}

type GlobalConfig struct {
	Version            int
	MaxBudget          *float64
	RequireMaxBudget   bool
	MaxDurationHours   *float64
	RequireMaxDuration bool
	MaxLeasesPerUser   int
	TTLDays            int
}

// TerminalTTL computes when a lease entering a terminal state becomes
// eligible for reaping under the retention policy.
func (gc GlobalConfig) TerminalTTL(now time.Time) *time.Time {
	if gc.TTLDays <= 0 {
		return nil
	}
	t := now.Add(time.Duration(gc.TTLDays) * 24 * time.Hour)
	return &t
}
