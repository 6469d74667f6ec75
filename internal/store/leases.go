package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/halcyonops/sandbox-control-plane/internal/model"
)

const leaseColumns = `uuid, owner, template_id, status, comments, approved_by,
       coalesce(aws_account_id, ''), start_date, expiration_date,
       total_cost_accrued, max_spend, budget_thresholds, duration_thresholds,
       end_date, expires_at, created_at, last_modified, version, schema_version`

func scanLease(row pgx.Row) (*model.Lease, error) {
	var l model.Lease
	if err := row.Scan(
		&l.UUID, &l.Owner, &l.TemplateID, &l.Status, &l.Comments, &l.ApprovedBy,
		&l.AWSAccountID, &l.StartDate, &l.ExpirationDate,
		&l.TotalCostAccrued, &l.MaxSpend, &l.BudgetThresholds, &l.DurationThresholds,
		&l.EndDate, &l.ExpiresAt, &l.CreatedAt, &l.LastModified, &l.Version, &l.SchemaVersion,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (s *Store) CreateLease(ctx context.Context, l model.Lease) (*model.Lease, error) {
	if err := model.ValidateLease(l); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	const q = `
insert into leases
  (uuid, owner, template_id, status, comments, approved_by, aws_account_id,
   start_date, expiration_date, total_cost_accrued, max_spend,
   budget_thresholds, duration_thresholds, end_date, expires_at,
   created_at, last_modified, version, schema_version)
values
  ($1, $2, $3, $4, $5, $6, nullif($7, ''), $8, $9, $10, $11, $12, $13, $14, $15, $16, $16, 1, $17)
returning ` + leaseColumns
	return scanLease(s.db.QueryRow(ctx, q,
		l.UUID, l.Owner, l.TemplateID, l.Status, l.Comments, l.ApprovedBy, l.AWSAccountID,
		l.StartDate, l.ExpirationDate, l.TotalCostAccrued, l.MaxSpend,
		l.BudgetThresholds, l.DurationThresholds, l.EndDate, l.ExpiresAt,
		now, SchemaVersion,
	))
}

func (s *Store) GetLease(ctx context.Context, uuid string) (*model.Lease, error) {
	const q = `select ` + leaseColumns + ` from leases where uuid = $1`
	return scanLease(s.db.QueryRow(ctx, q, uuid))
}

// UpdateLease writes the full lease record conditionally on the version the
// caller previously read. The version the caller holds is the expected
// value; a mismatch means a concurrent writer won.
func (s *Store) UpdateLease(ctx context.Context, l model.Lease) (*model.Lease, error) {
	if err := model.ValidateLease(l); err != nil {
		return nil, err
	}
	const q = `
update leases
set status = $2, comments = $3, approved_by = $4, aws_account_id = nullif($5, ''),
    start_date = $6, expiration_date = $7, total_cost_accrued = $8, max_spend = $9,
    budget_thresholds = $10, duration_thresholds = $11, end_date = $12, expires_at = $13,
    last_modified = now(), version = version + 1, schema_version = $14
where uuid = $1 and version = $15
returning ` + leaseColumns
	out, err := scanLease(s.db.QueryRow(ctx, q,
		l.UUID, l.Status, l.Comments, l.ApprovedBy, l.AWSAccountID,
		l.StartDate, l.ExpirationDate, l.TotalCostAccrued, l.MaxSpend,
		l.BudgetThresholds, l.DurationThresholds, l.EndDate, l.ExpiresAt,
		SchemaVersion, l.Version,
	))
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing row from a lost race.
		if _, getErr := s.GetLease(ctx, l.UUID); getErr == nil {
			return nil, ErrConcurrentModification
		}
		return nil, ErrNotFound
	}
	return out, err
}

func (s *Store) DeleteLease(ctx context.Context, uuid string) error {
	tag, err := s.db.Exec(ctx, `delete from leases where uuid = $1`, uuid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListLeasesByOwner(ctx context.Context, owner, pageToken string, pageSize int) ([]model.Lease, string, error) {
	const q = `
select ` + leaseColumns + `
from leases
where owner = $1 and uuid > $2
order by uuid asc
limit $3`
	return s.listLeases(ctx, q, owner, pageToken, clampPageSize(pageSize))
}

// ListMonitoredLeases pages through Active and Frozen leases for the
// budget/duration monitor.
func (s *Store) ListMonitoredLeases(ctx context.Context, pageToken string, pageSize int) ([]model.Lease, string, error) {
	const q = `
select ` + leaseColumns + `
from leases
where status in ('Active', 'Frozen') and uuid > $1
order by uuid asc
limit $2`
	return s.listLeases(ctx, q, pageToken, clampPageSize(pageSize))
}

func (s *Store) listLeases(ctx context.Context, q string, args ...any) ([]model.Lease, string, error) {
	size := args[len(args)-1].(int)
	args[len(args)-1] = size + 1

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := make([]model.Lease, 0, size)
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > size {
		out = out[:size]
		next = out[len(out)-1].UUID
	}
	return out, next, nil
}

// CountNonTerminalLeasesByOwner backs the per-user lease quota. Pending
// requests count toward the quota alongside monitored leases.
func (s *Store) CountNonTerminalLeasesByOwner(ctx context.Context, owner string) (int, error) {
	const q = `
select count(*)
from leases
where owner = $1 and status in ('PendingApproval', 'Active', 'Frozen')`
	var n int
	if err := s.db.QueryRow(ctx, q, owner).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// FindNonTerminalLeaseByAccount returns the lease currently backing an
// account, if any. At most one non-terminal lease may reference an account.
func (s *Store) FindNonTerminalLeaseByAccount(ctx context.Context, accountID string) (*model.Lease, error) {
	const q = `
select ` + leaseColumns + `
from leases
where aws_account_id = $1 and status in ('PendingApproval', 'Active', 'Frozen')
limit 1`
	l, err := scanLease(s.db.QueryRow(ctx, q, accountID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return l, err
}

// ReapExpiredLeases deletes terminal leases whose retention TTL has passed.
func (s *Store) ReapExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	const q = `
delete from leases
where expires_at is not null and expires_at <= $1
  and status in ('ApprovalDenied', 'Expired', 'BudgetExceeded', 'ManuallyTerminated', 'AccountQuarantined', 'Ejected')`
	tag, err := s.db.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
