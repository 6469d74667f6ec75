package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/halcyonops/sandbox-control-plane/internal/model"
)

const accountColumns = `id, status, name, email, cleanup_execution_id, cleanup_started_at,
       last_modified, version, schema_version`

func scanAccount(row pgx.Row) (*model.SandboxAccount, error) {
	var a model.SandboxAccount
	var execID *string
	var execStarted *time.Time
	if err := row.Scan(
		&a.ID, &a.Status, &a.Name, &a.Email, &execID, &execStarted,
		&a.LastModified, &a.Version, &a.SchemaVersion,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if execID != nil && execStarted != nil {
		a.Cleanup = &model.CleanupExecutionContext{ExecutionID: *execID, StartedAt: *execStarted}
	}
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a model.SandboxAccount) (*model.SandboxAccount, error) {
	const q = `
insert into sandbox_accounts
  (id, status, name, email, cleanup_execution_id, cleanup_started_at, last_modified, version, schema_version)
values
  ($1, $2, $3, $4, $5, $6, now(), 1, $7)
returning ` + accountColumns
	var execID *string
	var execStarted *time.Time
	if a.Cleanup != nil {
		execID = &a.Cleanup.ExecutionID
		execStarted = &a.Cleanup.StartedAt
	}
	out, err := scanAccount(s.db.QueryRow(ctx, q, a.ID, a.Status, a.Name, a.Email, execID, execStarted, SchemaVersion))
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	return out, err
}

func (s *Store) GetAccount(ctx context.Context, id string) (*model.SandboxAccount, error) {
	const q = `select ` + accountColumns + ` from sandbox_accounts where id = $1`
	return scanAccount(s.db.QueryRow(ctx, q, id))
}

// UpdateAccount is conditional on the version the caller previously read.
func (s *Store) UpdateAccount(ctx context.Context, a model.SandboxAccount) (*model.SandboxAccount, error) {
	const q = `
update sandbox_accounts
set status = $2, name = $3, email = $4, cleanup_execution_id = $5, cleanup_started_at = $6,
    last_modified = now(), version = version + 1, schema_version = $7
where id = $1 and version = $8
returning ` + accountColumns
	var execID *string
	var execStarted *time.Time
	if a.Cleanup != nil {
		execID = &a.Cleanup.ExecutionID
		execStarted = &a.Cleanup.StartedAt
	}
	out, err := scanAccount(s.db.QueryRow(ctx, q, a.ID, a.Status, a.Name, a.Email, execID, execStarted, SchemaVersion, a.Version))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := s.GetAccount(ctx, a.ID); getErr == nil {
			return nil, ErrConcurrentModification
		}
		return nil, ErrNotFound
	}
	return out, err
}

// ClaimAvailableAccount atomically takes an Available account for a lease
// activation. The expected-status compare is the sole concurrency control
// between racing activations: the loser gets ErrConcurrentModification.
func (s *Store) ClaimAvailableAccount(ctx context.Context, accountID string) (*model.SandboxAccount, error) {
	const q = `
update sandbox_accounts
set status = 'Active', last_modified = now(), version = version + 1, schema_version = $2
where id = $1 and status = 'Available'
returning ` + accountColumns
	out, err := scanAccount(s.db.QueryRow(ctx, q, accountID, SchemaVersion))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := s.GetAccount(ctx, accountID); getErr == nil {
			return nil, ErrConcurrentModification
		}
		return nil, ErrNotFound
	}
	return out, err
}

// ReleaseAccount is the compensation for ClaimAvailableAccount.
func (s *Store) ReleaseAccount(ctx context.Context, accountID string) error {
	const q = `
update sandbox_accounts
set status = 'Available', last_modified = now(), version = version + 1
where id = $1 and status = 'Active'`
	tag, err := s.db.Exec(ctx, q, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAccountStatus moves an account to a new pool status unconditionally on
// version (used when mirroring directory moves the orchestrator already
// serialized). The state machine guard still applies.
func (s *Store) SetAccountStatus(ctx context.Context, accountID string, from, to model.AccountStatus, cleanup *model.CleanupExecutionContext) (*model.SandboxAccount, error) {
	const q = `
update sandbox_accounts
set status = $3, cleanup_execution_id = $4, cleanup_started_at = $5,
    last_modified = now(), version = version + 1, schema_version = $6
where id = $1 and status = $2
returning ` + accountColumns
	var execID *string
	var execStarted *time.Time
	if cleanup != nil {
		execID = &cleanup.ExecutionID
		execStarted = &cleanup.StartedAt
	}
	out, err := scanAccount(s.db.QueryRow(ctx, q, accountID, from, to, execID, execStarted, SchemaVersion))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := s.GetAccount(ctx, accountID); getErr == nil {
			return nil, ErrConcurrentModification
		}
		return nil, ErrNotFound
	}
	return out, err
}

// DeleteAccount removes an account record after ejection from the pool.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `delete from sandbox_accounts where id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAccountsByStatus pages accounts oldest-modified first so recently
// cleaned accounts rest before reuse.
func (s *Store) ListAccountsByStatus(ctx context.Context, status model.AccountStatus, pageToken string, pageSize int) ([]model.SandboxAccount, string, error) {
	size := clampPageSize(pageSize)
	const q = `
select ` + accountColumns + `
from sandbox_accounts
where status = $1 and id > $2
order by id asc
limit $3`
	rows, err := s.db.Query(ctx, q, status, pageToken, size+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := make([]model.SandboxAccount, 0, size)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > size {
		out = out[:size]
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

// OldestAvailableAccount picks the auto-approval claim candidate.
func (s *Store) OldestAvailableAccount(ctx context.Context) (*model.SandboxAccount, error) {
	const q = `
select ` + accountColumns + `
from sandbox_accounts
where status = 'Available'
order by last_modified asc
limit 1`
	return scanAccount(s.db.QueryRow(ctx, q))
}
