package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/halcyonops/sandbox-control-plane/internal/directory"
	"github.com/halcyonops/sandbox-control-plane/internal/identity"
	"github.com/halcyonops/sandbox-control-plane/internal/model"
	"github.com/halcyonops/sandbox-control-plane/internal/saga"
	"github.com/halcyonops/sandbox-control-plane/internal/store"
)

// EjectAccount removes an account from the managed pool, moving it to the
// exit pool for manual removal from the organization.
//
// When a non-terminal lease backs the account, all identity access is
// revoked and the lease is closed as Ejected before the move, publishing
// LeaseTerminated alongside AccountEjected. The
// revocation steps are a one-way prefix: if the move fails afterwards they
// are not rolled back, because revoked access is independently safe to
// leave in place. An account with no backing lease gets only the move.
func (s *Service) EjectAccount(ctx context.Context, accountID string) error {
	pool, err := s.directory.AccountPool(ctx, accountID)
	if err != nil {
		return err
	}
	lease, err := s.store.FindNonTerminalLeaseByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("find lease for account %s: %w", accountID, err)
	}

	var steps []saga.Step
	if lease != nil {
		gc, err := s.store.GetGlobalConfig(ctx)
		if err != nil {
			return fmt.Errorf("load global config: %w", err)
		}
		now := s.now().UTC()
		terminal := *lease
		terminal.Status = model.LeaseEjected
		terminal.EndDate = &now
		terminal.ExpiresAt = gc.TerminalTTL(now)

		steps = append(steps,
			saga.New("revoke_all_user_access",
				func(c context.Context) error { return s.identity.RevokeAllUserAccess(c, accountID) },
				nil,
			),
			saga.New("revoke_manager_group",
				func(c context.Context) error { return s.identity.RevokeGroupAccess(c, accountID, identity.RoleManager) },
				nil,
			),
			saga.New("revoke_admin_group",
				func(c context.Context) error { return s.identity.RevokeGroupAccess(c, accountID, identity.RoleAdmin) },
				nil,
			),
			saga.New("eject_lease_record",
				func(c context.Context) error {
					_, err := s.store.UpdateLease(c, terminal)
					return err
				},
				nil,
			),
		)
	}
	steps = append(steps,
		saga.New("move_account_to_exit",
			func(c context.Context) error { return s.directory.MoveAccount(c, accountID, pool, directory.PoolExit) },
			nil,
		),
		saga.New("delete_account_record",
			func(c context.Context) error {
				err := s.store.DeleteAccount(c, accountID)
				if errors.Is(err, store.ErrNotFound) {
					return nil
				}
				return err
			},
			nil,
		),
	)
	if err := s.runSaga(ctx, "eject_account", steps...); err != nil {
		return err
	}

	detail := map[string]any{"from_pool": string(pool)}
	if lease != nil {
		detail["lease_uuid"] = lease.UUID
	}
	s.publish(ctx, model.AccountEvent(model.EventAccountEjected, accountID, detail))
	if lease != nil {
		closed := *lease
		closed.Status = model.LeaseEjected
		s.publish(ctx, model.LeaseEvent(model.EventLeaseTerminated, closed, map[string]any{
			"reason": string(model.TerminationEjected),
		}))
	}
	return nil
}

// RegisterAccount admits a newly donated account from the entry pool. The
// account enters through CleanUp so it is scrubbed before first lease.
func (s *Service) RegisterAccount(ctx context.Context, accountID string) (*model.SandboxAccount, error) {
	pool, err := s.directory.AccountPool(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if pool != directory.PoolEntry {
		return nil, fmt.Errorf("account %s is in pool %s, not %s: %w",
			accountID, pool, directory.PoolEntry, directory.ErrAccountNotFound)
	}
	desc, err := s.directory.DescribeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	cleanup := &model.CleanupExecutionContext{ExecutionID: s.newID(), StartedAt: s.now().UTC()}
	record := model.SandboxAccount{
		ID:      accountID,
		Status:  model.AccountCleanUp,
		Name:    desc.Name,
		Email:   desc.Email,
		Cleanup: cleanup,
	}

	var created *model.SandboxAccount
	err = s.runSaga(ctx, "register_account",
		saga.New("move_account_to_cleanup",
			func(c context.Context) error {
				return s.directory.MoveAccount(c, accountID, directory.PoolEntry, directory.PoolCleanUp)
			},
			func(c context.Context) error {
				return s.directory.MoveAccount(c, accountID, directory.PoolCleanUp, directory.PoolEntry)
			},
		),
		saga.New("create_account_record",
			func(c context.Context) error {
				out, err := s.store.CreateAccount(c, record)
				created = out
				return err
			},
			func(c context.Context) error { return s.store.DeleteAccount(c, accountID) },
		),
		saga.New("assign_manager_group",
			func(c context.Context) error { return s.identity.AssignGroupAccess(c, accountID, identity.RoleManager) },
			func(c context.Context) error { return s.identity.RevokeGroupAccess(c, accountID, identity.RoleManager) },
		),
		saga.New("assign_admin_group",
			func(c context.Context) error { return s.identity.AssignGroupAccess(c, accountID, identity.RoleAdmin) },
			func(c context.Context) error { return s.identity.RevokeGroupAccess(c, accountID, identity.RoleAdmin) },
		),
	)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, model.AccountEvent(model.EventCleanAccountRequest, accountID, map[string]any{
		"execution_id": cleanup.ExecutionID,
	}))
	return created, nil
}

// RetryCleanup re-requests automated cleanup. An account already in CleanUp
// only gets the event republished; any other eligible state is moved to
// CleanUp first.
func (s *Service) RetryCleanup(ctx context.Context, accountID string) (*model.SandboxAccount, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if acct.Status == model.AccountCleanUp {
		executionID := s.newID()
		if acct.Cleanup != nil {
			executionID = acct.Cleanup.ExecutionID
		}
		s.publish(ctx, model.AccountEvent(model.EventCleanAccountRequest, accountID, map[string]any{
			"execution_id": executionID,
		}))
		return acct, nil
	}

	if !model.CanTransitionAccount(acct.Status, model.AccountCleanUp) {
		return nil, invalidState("account", acct.ID, string(acct.Status), "retry cleanup")
	}

	fromPool := directory.PoolForStatus(acct.Status)
	cleanup := &model.CleanupExecutionContext{ExecutionID: s.newID(), StartedAt: s.now().UTC()}

	var updated *model.SandboxAccount
	err = s.runSaga(ctx, "retry_cleanup",
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
				out, err := s.store.SetAccountStatus(c, accountID, acct.Status, model.AccountCleanUp, cleanup)
				updated = out
				return err
			},
			func(c context.Context) error {
				_, err := s.store.SetAccountStatus(c, accountID, model.AccountCleanUp, acct.Status, nil)
				return err
			},
		),
	)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, model.AccountEvent(model.EventCleanAccountRequest, accountID, map[string]any{
		"execution_id": cleanup.ExecutionID,
	}))
	return updated, nil
}

// QuarantineAccount isolates an account after drift detection or a manual
// report. Any backing lease is closed with the AccountQuarantined reason.
func (s *Service) QuarantineAccount(ctx context.Context, accountID, reason string) (*model.SandboxAccount, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !model.CanTransitionAccount(acct.Status, model.AccountQuarantine) {
		return nil, invalidState("account", acct.ID, string(acct.Status), "quarantine")
	}
	lease, err := s.store.FindNonTerminalLeaseByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("find lease for account %s: %w", accountID, err)
	}

	fromPool := directory.PoolForStatus(acct.Status)
	steps := []saga.Step{
		saga.New("move_account_to_quarantine",
			func(c context.Context) error {
				return s.directory.MoveAccount(c, accountID, fromPool, directory.PoolQuarantine)
			},
			func(c context.Context) error {
				return s.directory.MoveAccount(c, accountID, directory.PoolQuarantine, fromPool)
			},
		),
	}

	var updated *model.SandboxAccount
	steps = append(steps, saga.New("mark_account_quarantined",
		func(c context.Context) error {
			out, err := s.store.SetAccountStatus(c, accountID, acct.Status, model.AccountQuarantine, nil)
			updated = out
			return err
		},
		func(c context.Context) error {
			_, err := s.store.SetAccountStatus(c, accountID, model.AccountQuarantine, acct.Status, nil)
			return err
		},
	))

	if lease != nil {
		gc, err := s.store.GetGlobalConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load global config: %w", err)
		}
		now := s.now().UTC()
		prev := *lease
		terminal := *lease
		terminal.Status = model.LeaseAccountQuarantined
		terminal.EndDate = &now
		terminal.ExpiresAt = gc.TerminalTTL(now)

		var terminated *model.Lease
		steps = append(steps, saga.New("quarantine_lease_record",
			func(c context.Context) error {
				out, err := s.store.UpdateLease(c, terminal)
				terminated = out
				return err
			},
			func(c context.Context) error {
				restore := prev
				restore.Version = terminated.Version
				_, err := s.store.UpdateLease(c, restore)
				return err
			},
		))
	}

	if err := s.runSaga(ctx, "quarantine_account", steps...); err != nil {
		return nil, err
	}

	detail := map[string]any{"reason": reason}
	if lease != nil {
		detail["lease_uuid"] = lease.UUID
	}
	s.publish(ctx, model.AccountEvent(model.EventAccountQuarantined, accountID, detail))
	if lease != nil {
		closed := *lease
		closed.Status = model.LeaseAccountQuarantined
		s.publish(ctx, model.LeaseEvent(model.EventLeaseTerminated, closed, map[string]any{
			"reason": string(model.TerminationQuarantine),
		}))
	}
	return updated, nil
}
