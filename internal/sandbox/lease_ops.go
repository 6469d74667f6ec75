package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/halcyonops/sandbox-control-plane/internal/directory"
	"github.com/halcyonops/sandbox-control-plane/internal/model"
	"github.com/halcyonops/sandbox-control-plane/internal/policy"
	"github.com/halcyonops/sandbox-control-plane/internal/saga"
	"github.com/halcyonops/sandbox-control-plane/internal/store"
)

func newUUID() string { return uuid.NewString() }

type RequestLeaseInput struct {
	OwnerEmail string
	TemplateID string
	Comments   string
}

// RequestLease validates the request against the active policy snapshot and
// creates a PendingApproval lease. When the template does not require
// approval and an Available account exists, the lease is activated in the
// same call through the claim saga.
func (s *Service) RequestLease(ctx context.Context, in RequestLeaseInput) (*model.Lease, error) {
	gc, err := s.store.GetGlobalConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global config: %w", err)
	}
	tpl, err := s.store.GetTemplate(ctx, in.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", in.TemplateID, err)
	}
	if err := policy.ValidateTemplate(*tpl, *gc); err != nil {
		return nil, err
	}
	count, err := s.store.CountNonTerminalLeasesByOwner(ctx, in.OwnerEmail)
	if err != nil {
		return nil, fmt.Errorf("count leases for %s: %w", in.OwnerEmail, err)
	}
	if err := policy.CheckLeaseQuota(count, *gc); err != nil {
		return nil, err
	}
	user, err := s.identity.GetUserFromEmail(ctx, in.OwnerEmail)
	if err != nil {
		return nil, err
	}

	pending := model.Lease{
		UUID:               s.newID(),
		Owner:              in.OwnerEmail,
		TemplateID:         tpl.ID,
		Status:             model.LeasePendingApproval,
		Comments:           in.Comments,
		MaxSpend:           tpl.MaxSpend,
		BudgetThresholds:   tpl.BudgetThresholds,
		DurationThresholds: tpl.DurationThresholds,
	}

	if tpl.RequiresApproval {
		created, err := s.store.CreateLease(ctx, pending)
		if err != nil {
			return nil, err
		}
		s.publish(ctx, model.LeaseEvent(model.EventLeaseRequested, *created, nil))
		return created, nil
	}

	acct, err := s.store.OldestAvailableAccount(ctx)
	if errors.Is(err, store.ErrNotFound) {
		// Nothing to claim: the lease waits for a reviewer or a freed account.
		created, err := s.store.CreateLease(ctx, pending)
		if err != nil {
			return nil, err
		}
		s.publish(ctx, model.LeaseEvent(model.EventLeaseRequested, *created, nil))
		return created, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan available accounts: %w", err)
	}

	activated := pending
	activated.Status = model.LeaseActive
	activated.ApprovedBy = "auto"
	activated.AWSAccountID = acct.ID
	start, exp := policy.MonitoredBounds(*tpl, s.now())
	activated.StartDate = &start
	activated.ExpirationDate = exp
	if err := policy.ValidateLeaseActivation(activated, *gc); err != nil {
		return nil, err
	}

	var created *model.Lease
	err = s.runSaga(ctx, "request_lease",
		saga.New("create_lease_record",
			func(c context.Context) error {
				out, err := s.store.CreateLease(c, activated)
				created = out
				return err
			},
			func(c context.Context) error { return s.store.DeleteLease(c, activated.UUID) },
		),
		saga.New("claim_account",
			func(c context.Context) error {
				_, err := s.store.ClaimAvailableAccount(c, acct.ID)
				return err
			},
			func(c context.Context) error { return s.store.ReleaseAccount(c, acct.ID) },
		),
		saga.New("move_account_to_active",
			func(c context.Context) error {
				return s.directory.MoveAccount(c, acct.ID, directory.PoolAvailable, directory.PoolActive)
			},
			func(c context.Context) error {
				return s.directory.MoveAccount(c, acct.ID, directory.PoolActive, directory.PoolAvailable)
			},
		),
		saga.New("grant_user_access",
			func(c context.Context) error { return s.identity.AssignUserAccess(c, acct.ID, user.ID) },
			func(c context.Context) error { return s.identity.RevokeUserAccess(c, acct.ID, user.ID) },
		),
	)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, model.LeaseEvent(model.EventLeaseRequested, *created, nil))
	s.publish(ctx, model.LeaseEvent(model.EventLeaseApproved, *created, map[string]any{"approved_by": "auto"}))
	return created, nil
}

// ApproveLease activates a pending lease by claiming an Available account.
func (s *Service) ApproveLease(ctx context.Context, leaseID, approver string) (*model.Lease, error) {
	gc, err := s.store.GetGlobalConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global config: %w", err)
	}
	lease, err := s.store.GetLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if !model.IsPendingLease(lease.Status) {
		return nil, invalidState("lease", lease.UUID, string(lease.Status), "approve")
	}
	tpl, err := s.store.GetTemplate(ctx, lease.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", lease.TemplateID, err)
	}
	user, err := s.identity.GetUserFromEmail(ctx, lease.Owner)
	if err != nil {
		return nil, err
	}
	acct, err := s.store.OldestAvailableAccount(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoAvailableAccount
	}
	if err != nil {
		return nil, fmt.Errorf("scan available accounts: %w", err)
	}

	prev := *lease
	activated := *lease
	activated.Status = model.LeaseActive
	activated.ApprovedBy = approver
	activated.AWSAccountID = acct.ID
	start, exp := policy.MonitoredBounds(*tpl, s.now())
	activated.StartDate = &start
	activated.ExpirationDate = exp
	if err := policy.ValidateLeaseActivation(activated, *gc); err != nil {
		return nil, err
	}

	var updated *model.Lease
	err = s.runSaga(ctx, "approve_lease",
		saga.New("activate_lease_record",
			func(c context.Context) error {
				out, err := s.store.UpdateLease(c, activated)
				updated = out
				return err
			},
			func(c context.Context) error {
				restore := prev
				restore.Version = updated.Version
				_, err := s.store.UpdateLease(c, restore)
				return err
			},
		),
		saga.New("claim_account",
			func(c context.Context) error {
				_, err := s.store.ClaimAvailableAccount(c, acct.ID)
				return err
			},
			func(c context.Context) error { return s.store.ReleaseAccount(c, acct.ID) },
		),
		saga.New("move_account_to_active",
			func(c context.Context) error {
				return s.directory.MoveAccount(c, acct.ID, directory.PoolAvailable, directory.PoolActive)
			},
			func(c context.Context) error {
				return s.directory.MoveAccount(c, acct.ID, directory.PoolActive, directory.PoolAvailable)
			},
		),
		saga.New("grant_user_access",
			func(c context.Context) error { return s.identity.AssignUserAccess(c, acct.ID, user.ID) },
			func(c context.Context) error { return s.identity.RevokeUserAccess(c, acct.ID, user.ID) },
		),
	)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, model.LeaseEvent(model.EventLeaseApproved, *updated, map[string]any{"approved_by": approver}))
	return updated, nil
}

// DenyLease is a single conditional update; no saga is needed.
func (s *Service) DenyLease(ctx context.Context, leaseID, denier string) (*model.Lease, error) {
	gc, err := s.store.GetGlobalConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global config: %w", err)
	}
	lease, err := s.store.GetLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if !model.IsPendingLease(lease.Status) {
		return nil, invalidState("lease", lease.UUID, string(lease.Status), "deny")
	}

	now := s.now().UTC()
	denied := *lease
	denied.Status = model.LeaseApprovalDenied
	denied.ApprovedBy = denier
	denied.EndDate = &now
	denied.ExpiresAt = gc.TerminalTTL(now)

	updated, err := s.store.UpdateLease(ctx, denied)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, model.LeaseEvent(model.EventLeaseDenied, *updated, map[string]any{"denied_by": denier}))
	return updated, nil
}

// FreezeLease suspends an active lease, mirroring the freeze onto the
// backing account. Unfreezing is not an operation: a frozen lease either
// terminates or stays frozen.
func (s *Service) FreezeLease(ctx context.Context, leaseID, reason string) (*model.Lease, error) {
	lease, err := s.store.GetLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if lease.Status != model.LeaseActive {
		return nil, invalidState("lease", lease.UUID, string(lease.Status), "freeze")
	}

	prev := *lease
	frozen := *lease
	frozen.Status = model.LeaseFrozen

	var updated *model.Lease
	err = s.runSaga(ctx, "freeze_lease",
		saga.New("freeze_lease_record",
			func(c context.Context) error {
				out, err := s.store.UpdateLease(c, frozen)
				updated = out
				return err
			},
			func(c context.Context) error {
				restore := prev
				restore.Version = updated.Version
				_, err := s.store.UpdateLease(c, restore)
				return err
			},
		),
		saga.New("move_account_to_frozen",
			func(c context.Context) error {
				return s.directory.MoveAccount(c, lease.AWSAccountID, directory.PoolActive, directory.PoolFrozen)
			},
			func(c context.Context) error {
				return s.directory.MoveAccount(c, lease.AWSAccountID, directory.PoolFrozen, directory.PoolActive)
			},
		),
		saga.New("mark_account_frozen",
			func(c context.Context) error {
				_, err := s.store.SetAccountStatus(c, lease.AWSAccountID, model.AccountActive, model.AccountFrozen, nil)
				return err
			},
			func(c context.Context) error {
				_, err := s.store.SetAccountStatus(c, lease.AWSAccountID, model.AccountFrozen, model.AccountActive, nil)
				return err
			},
		),
	)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, model.LeaseEvent(model.EventLeaseFrozen, *updated, map[string]any{"reason": reason}))
	return updated, nil
}

// TerminateLease moves a monitored lease to the terminal state for the
// given reason and sends the backing account to cleanup.
func (s *Service) TerminateLease(ctx context.Context, leaseID string, reason model.TerminationReason) (*model.Lease, error) {
	gc, err := s.store.GetGlobalConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global config: %w", err)
	}
	lease, err := s.store.GetLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	terminalStatus, ok := model.TerminalStatusForReason(reason)
	if !ok {
		return nil, fmt.Errorf("unknown termination reason %q", reason)
	}
	if !model.CanTransitionLease(lease.Status, terminalStatus) {
		return nil, invalidState("lease", lease.UUID, string(lease.Status), "terminate")
	}
	user, err := s.identity.GetUserFromEmail(ctx, lease.Owner)
	if err != nil {
		return nil, err
	}
	fromAccountStatus, ok := model.AccountStatusForLease(lease.Status)
	if !ok {
		return nil, invalidState("lease", lease.UUID, string(lease.Status), "terminate")
	}
	fromPool := directory.PoolForStatus(fromAccountStatus)

	now := s.now().UTC()
	prev := *lease
	terminal := *lease
	terminal.Status = terminalStatus
	terminal.EndDate = &now
	terminal.ExpiresAt = gc.TerminalTTL(now)

	cleanup := &model.CleanupExecutionContext{ExecutionID: s.newID(), StartedAt: now}
	accountID := lease.AWSAccountID

	var updated *model.Lease
	err = s.runSaga(ctx, "terminate_lease",
		saga.New("revoke_user_access",
			func(c context.Context) error { return s.identity.RevokeUserAccess(c, accountID, user.ID) },
			func(c context.Context) error { return s.identity.AssignUserAccess(c, accountID, user.ID) },
		),
		saga.New("terminate_lease_record",
			func(c context.Context) error {
				out, err := s.store.UpdateLease(c, terminal)
				updated = out
				return err
			},
			func(c context.Context) error {
				restore := prev
				restore.Version = updated.Version
				_, err := s.store.UpdateLease(c, restore)
				return err
			},
		),
		saga.New("move_account_to_cleanup",
			func(c context.Context) error {
				return s.directory.MoveAccount(c, accountID, fromPool, directory.PoolCleanUp)
			},
			func(c context.Context) error {
				return s.directory.MoveAccount(c, accountID, directory.PoolCleanUp, fromPool)
			},
		),
		saga.New("mark_account_cleanup",
			func(c context.Context) error {
				_, err := s.store.SetAccountStatus(c, accountID, fromAccountStatus, model.AccountCleanUp, cleanup)
				return err
			},
			func(c context.Context) error {
				_, err := s.store.SetAccountStatus(c, accountID, model.AccountCleanUp, fromAccountStatus, nil)
				return err
			},
		),
	)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, model.LeaseEvent(model.EventLeaseTerminated, *updated, map[string]any{"reason": string(reason)}))
	s.publish(ctx, model.AccountEvent(model.EventCleanAccountRequest, accountID, map[string]any{
		"execution_id": cleanup.ExecutionID,
	}))
	return updated, nil
}
