package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/halcyonops/sandbox-control-plane/internal/model"
)

const templateColumns = `id, name, description, max_spend, budget_thresholds,
       lease_duration_in_hours, duration_thresholds, requires_approval,
       created_by, created_at, schema_version`

func scanTemplate(row pgx.Row) (*model.LeaseTemplate, error) {
	var t model.LeaseTemplate
	if err := row.Scan(
		&t.ID, &t.Name, &t.Description, &t.MaxSpend, &t.BudgetThresholds,
		&t.LeaseDurationInHours, &t.DurationThresholds, &t.RequiresApproval,
		&t.CreatedBy, &t.CreatedAt, &t.SchemaVersion,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t model.LeaseTemplate) (*model.LeaseTemplate, error) {
	const q = `
insert into lease_templates
  (id, name, description, max_spend, budget_thresholds, lease_duration_in_hours,
   duration_thresholds, requires_approval, created_by, created_at, schema_version)
values
  ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), $10)
returning ` + templateColumns
	out, err := scanTemplate(s.db.QueryRow(ctx, q,
		t.ID, t.Name, t.Description, t.MaxSpend, t.BudgetThresholds,
		t.LeaseDurationInHours, t.DurationThresholds, t.RequiresApproval,
		t.CreatedBy, SchemaVersion,
	))
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	return out, err
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*model.LeaseTemplate, error) {
	const q = `select ` + templateColumns + ` from lease_templates where id = $1`
	return scanTemplate(s.db.QueryRow(ctx, q, id))
}

// UpdateTemplate is an explicit admin edit; it does not retroactively
// change leases already requested against the template.
func (s *Store) UpdateTemplate(ctx context.Context, t model.LeaseTemplate) (*model.LeaseTemplate, error) {
	const q = `
update lease_templates
set name = $2, description = $3, max_spend = $4, budget_thresholds = $5,
    lease_duration_in_hours = $6, duration_thresholds = $7, requires_approval = $8,
    schema_version = $9
where id = $1
returning ` + templateColumns
	return scanTemplate(s.db.QueryRow(ctx, q,
		t.ID, t.Name, t.Description, t.MaxSpend, t.BudgetThresholds,
		t.LeaseDurationInHours, t.DurationThresholds, t.RequiresApproval,
		SchemaVersion,
	))
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `delete from lease_templates where id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListTemplates(ctx context.Context, pageToken string, pageSize int) ([]model.LeaseTemplate, string, error) {
	size := clampPageSize(pageSize)
	const q = `
select ` + templateColumns + `
from lease_templates
where id > $1
order by id asc
limit $2`
	rows, err := s.db.Query(ctx, q, pageToken, size+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := make([]model.LeaseTemplate, 0, size)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, *t)
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
