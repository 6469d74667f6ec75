package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/halcyonops/sandbox-control-plane/internal/model"
)

var leaseColNames = []string{
	"uuid", "owner", "template_id", "status", "comments", "approved_by",
	"aws_account_id", "start_date", "expiration_date",
	"total_cost_accrued", "max_spend", "budget_thresholds", "duration_thresholds",
	"end_date", "expires_at", "created_at", "last_modified", "version", "schema_version",
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func leaseRow(uuid, owner string, status model.LeaseStatus, accountID string, version int) *pgxmock.Rows {
	now := time.Now().UTC()
	var start *time.Time
	if model.IsMonitoredLease(status) {
		start = &now
	}
	var end *time.Time
	if model.IsTerminalLease(status) {
		end = &now
	}
	return pgxmock.NewRows(leaseColNames).AddRow(
		uuid, owner, "tpl_1", status, "", "",
		accountID, start, (*time.Time)(nil),
		0.0, (*float64)(nil), []float64{}, []float64{},
		end, (*time.Time)(nil), now, now, version, SchemaVersion,
	)
}

var accountColNames = []string{
	"id", "status", "name", "email", "cleanup_execution_id", "cleanup_started_at",
	"last_modified", "version", "schema_version",
}

func accountRow(id string, status model.AccountStatus, version int) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows(accountColNames).AddRow(
		id, status, "", "", (*string)(nil), (*time.Time)(nil), now, version, SchemaVersion,
	)
}

func TestUpdateLease_VersionMismatchIsConcurrentModification(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	now := time.Now().UTC()
	l := model.Lease{
		UUID: "lease_1", Owner: "dev@example.com", TemplateID: "tpl_1",
		Status: model.LeaseActive, AWSAccountID: "111122223333",
		StartDate: &now, Version: 3,
	}

	// Conditional update matches nothing, then the row turns out to exist.
	mock.ExpectQuery(regexp.QuoteMeta("update leases")).
		WithArgs(anyArgs(15)...).
		WillReturnRows(pgxmock.NewRows(leaseColNames))
	mock.ExpectQuery(regexp.QuoteMeta("select")).
		WithArgs("lease_1").
		WillReturnRows(leaseRow("lease_1", "dev@example.com", model.LeaseActive, "111122223333", 4))

	s := New(mock)
	_, err = s.UpdateLease(context.Background(), l)
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateLease_MissingRowIsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	now := time.Now().UTC()
	l := model.Lease{
		UUID: "lease_gone", Owner: "dev@example.com", TemplateID: "tpl_1",
		Status: model.LeaseActive, AWSAccountID: "111122223333",
		StartDate: &now, Version: 1,
	}

	mock.ExpectQuery(regexp.QuoteMeta("update leases")).
		WithArgs(anyArgs(15)...).
		WillReturnRows(pgxmock.NewRows(leaseColNames))
	mock.ExpectQuery(regexp.QuoteMeta("select")).
		WithArgs("lease_gone").
		WillReturnRows(pgxmock.NewRows(leaseColNames))

	s := New(mock)
	_, err = s.UpdateLease(context.Background(), l)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateLease_RejectsInvalidVariant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	// Monitored lease with no account never reaches the database.
	now := time.Now().UTC()
	l := model.Lease{UUID: "lease_bad", Status: model.LeaseActive, StartDate: &now}
	s := New(mock)
	if _, err := s.UpdateLease(context.Background(), l); err == nil {
		t.Fatal("expected variant validation error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected db traffic: %v", err)
	}
}

func TestClaimAvailableAccount_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("update sandbox_accounts")).
		WithArgs("111122223333", SchemaVersion).
		WillReturnRows(accountRow("111122223333", model.AccountActive, 2))

	s := New(mock)
	acct, err := s.ClaimAvailableAccount(context.Background(), "111122223333")
	if err != nil {
		t.Fatalf("ClaimAvailableAccount returned err: %v", err)
	}
	if acct.Status != model.AccountActive {
		t.Fatalf("expected Active, got %s", acct.Status)
	}
}

func TestClaimAvailableAccount_LostRaceIsConcurrentModification(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	// Account exists but was claimed by the other activation first.
	mock.ExpectQuery(regexp.QuoteMeta("update sandbox_accounts")).
		WithArgs("111122223333", SchemaVersion).
		WillReturnRows(pgxmock.NewRows(accountColNames))
	mock.ExpectQuery(regexp.QuoteMeta("select")).
		WithArgs("111122223333").
		WillReturnRows(accountRow("111122223333", model.AccountActive, 2))

	s := New(mock)
	_, err = s.ClaimAvailableAccount(context.Background(), "111122223333")
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestReleaseAccount_RequiresActiveStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("update sandbox_accounts")).
		WithArgs("111122223333").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	s := New(mock)
	if err := s.ReleaseAccount(context.Background(), "111122223333"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListLeasesByOwner_Pagination(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	rows := leaseRow("lease_a", "dev@example.com", model.LeasePendingApproval, "", 1)
	now := time.Now().UTC()
	rows.AddRow(
		"lease_b", "dev@example.com", "tpl_1", model.LeasePendingApproval, "", "",
		"", (*time.Time)(nil), (*time.Time)(nil),
		0.0, (*float64)(nil), []float64{}, []float64{},
		(*time.Time)(nil), (*time.Time)(nil), now, now, 1, SchemaVersion,
	)
	rows.AddRow(
		"lease_c", "dev@example.com", "tpl_1", model.LeasePendingApproval, "", "",
		"", (*time.Time)(nil), (*time.Time)(nil),
		0.0, (*float64)(nil), []float64{}, []float64{},
		(*time.Time)(nil), (*time.Time)(nil), now, now, 1, SchemaVersion,
	)

	// page size 2, third row signals another page.
	mock.ExpectQuery(regexp.QuoteMeta("select")).
		WithArgs("dev@example.com", "", 3).
		WillReturnRows(rows)

	s := New(mock)
	leases, next, err := s.ListLeasesByOwner(context.Background(), "dev@example.com", "", 2)
	if err != nil {
		t.Fatalf("ListLeasesByOwner returned err: %v", err)
	}
	if len(leases) != 2 {
		t.Fatalf("expected 2 leases, got %d", len(leases))
	}
	if next != "lease_b" {
		t.Fatalf("expected next token lease_b, got %q", next)
	}
}

func TestReapExpiredLeases(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("delete from leases")).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	s := New(mock)
	n, err := s.ReapExpiredLeases(context.Background(), now)
	if err != nil {
		t.Fatalf("ReapExpiredLeases returned err: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 reaped, got %d", n)
	}
}

func TestPutGlobalConfig_StaleVersionConflicts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("insert into global_config")).
		WithArgs(anyArgs(7)...).
		WillReturnRows(pgxmock.NewRows([]string{
			"version", "max_budget", "require_max_budget", "max_duration_hours",
			"require_max_duration", "max_leases_per_user", "ttl_days",
		}))

	s := New(mock)
	_, err = s.PutGlobalConfig(context.Background(), model.GlobalConfig{Version: 3})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}
