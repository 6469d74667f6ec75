package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/halcyonops/sandbox-control-plane/internal/model"
)

// GetGlobalConfig returns the currently active policy ceiling snapshot.
// Callers re-read per operation; the snapshot is never pinned to a saga.
func (s *Store) GetGlobalConfig(ctx context.Context) (*model.GlobalConfig, error) {
	const q = `
select version, max_budget, require_max_budget, max_duration_hours,
       require_max_duration, max_leases_per_user, ttl_days
from global_config
order by version desc
limit 1`
	var gc model.GlobalConfig
	if err := s.db.QueryRow(ctx, q).Scan(
		&gc.Version, &gc.MaxBudget, &gc.RequireMaxBudget, &gc.MaxDurationHours,
		&gc.RequireMaxDuration, &gc.MaxLeasesPerUser, &gc.TTLDays,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &gc, nil
}

// PutGlobalConfig appends a new config version conditionally on the version
// the admin previously read, so concurrent edits cannot silently clobber.
func (s *Store) PutGlobalConfig(ctx context.Context, gc model.GlobalConfig) (*model.GlobalConfig, error) {
	const q = `
insert into global_config
  (version, max_budget, require_max_budget, max_duration_hours,
   require_max_duration, max_leases_per_user, ttl_days, created_at)
select $1 + 1, $2, $3, $4, $5, $6, $7, now()
where (select coalesce(max(version), 0) from global_config) = $1
returning version, max_budget, require_max_budget, max_duration_hours,
          require_max_duration, max_leases_per_user, ttl_days`
	var out model.GlobalConfig
	if err := s.db.QueryRow(ctx, q,
		gc.Version, gc.MaxBudget, gc.RequireMaxBudget, gc.MaxDurationHours,
		gc.RequireMaxDuration, gc.MaxLeasesPerUser, gc.TTLDays,
	).Scan(
		&out.Version, &out.MaxBudget, &out.RequireMaxBudget, &out.MaxDurationHours,
		&out.RequireMaxDuration, &out.MaxLeasesPerUser, &out.TTLDays,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConcurrentModification
		}
		return nil, err
	}
	return &out, nil
}
