package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/halcyonops/sandbox-control-plane/internal/directory"
	"github.com/halcyonops/sandbox-control-plane/internal/events"
	"github.com/halcyonops/sandbox-control-plane/internal/identity"
	"github.com/halcyonops/sandbox-control-plane/internal/model"
	"github.com/halcyonops/sandbox-control-plane/internal/policy"
	"github.com/halcyonops/sandbox-control-plane/internal/store"
)

func f64(v float64) *float64 { return &v }

func assertEventTypes(t *testing.T, pub *events.FakePublisher, want ...model.EventType) {
	t.Helper()
	got := pub.Types()
	if len(got) != len(want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("published %v, want %v", got, want)
		}
	}
}

func assertLog(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("call log %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call log %v, want %v", got, want)
		}
	}
}

func defaultUserLookup(m *mockIdentity) {
	m.getUserFromEmail = func(_ context.Context, email string) (*identity.User, error) {
		return &identity.User{ID: "u-1", Email: email}, nil
	}
}

func TestRequestLease_RequiresApproval(t *testing.T) {
	st := &mockStore{
		getGlobalConfig: func(context.Context) (*model.GlobalConfig, error) {
			return &model.GlobalConfig{TTLDays: 30}, nil
		},
		getTemplate: func(_ context.Context, id string) (*model.LeaseTemplate, error) {
			return &model.LeaseTemplate{ID: id, MaxSpend: f64(100), LeaseDurationInHours: f64(48), RequiresApproval: true}, nil
		},
		countNonTerminal: func(context.Context, string) (int, error) { return 0, nil },
		createLease: func(_ context.Context, l model.Lease) (*model.Lease, error) {
			out := l
			out.Version = 1
			return &out, nil
		},
	}
	ids := &mockIdentity{}
	defaultUserLookup(ids)
	pub := events.NewFakePublisher()
	svc := newTestService(st, ids, &mockDirectory{}, pub)

	lease, err := svc.RequestLease(context.Background(), RequestLeaseInput{
		OwnerEmail: "dev@example.com",
		TemplateID: "tpl-1",
		Comments:   "demo env",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if lease.Status != model.LeasePendingApproval {
		t.Fatalf("status = %s, want PendingApproval", lease.Status)
	}
	if lease.AWSAccountID != "" {
		t.Fatalf("pending lease must not carry an account, got %s", lease.AWSAccountID)
	}
	assertEventTypes(t, pub, model.EventLeaseRequested)
}

func TestRequestLease_AutoApproveClaimsAccount(t *testing.T) {
	var log []string
	st := &mockStore{
		getGlobalConfig: func(context.Context) (*model.GlobalConfig, error) {
			return &model.GlobalConfig{TTLDays: 30}, nil
		},
		getTemplate: func(_ context.Context, id string) (*model.LeaseTemplate, error) {
			return &model.LeaseTemplate{ID: id, MaxSpend: f64(100), LeaseDurationInHours: f64(48)}, nil
		},
		countNonTerminal: func(context.Context, string) (int, error) { return 0, nil },
		oldestAvailable: func(context.Context) (*model.SandboxAccount, error) {
			return &model.SandboxAccount{ID: "111122223333", Status: model.AccountAvailable}, nil
		},
		createLease: func(_ context.Context, l model.Lease) (*model.Lease, error) {
			log = append(log, "create_lease")
			if l.Status != model.LeaseActive {
				t.Errorf("created lease status = %s, want Active", l.Status)
			}
			if l.ApprovedBy != "auto" {
				t.Errorf("approvedBy = %q, want auto", l.ApprovedBy)
			}
			out := l
			out.Version = 1
			return &out, nil
		},
		claimAvailable: func(_ context.Context, id string) (*model.SandboxAccount, error) {
			log = append(log, "claim "+id)
			return &model.SandboxAccount{ID: id, Status: model.AccountActive}, nil
		},
	}
	ids := &mockIdentity{
		assignUserAccess: func(_ context.Context, accountID, userID string) error {
			log = append(log, fmt.Sprintf("grant %s %s", accountID, userID))
			return nil
		},
	}
	defaultUserLookup(ids)
	dir := &mockDirectory{
		moveAccount: func(_ context.Context, _ string, from, to directory.Pool) error {
			log = append(log, fmt.Sprintf("move %s->%s", from, to))
			return nil
		},
	}
	pub := events.NewFakePublisher()
	svc := newTestService(st, ids, dir, pub)

	lease, err := svc.RequestLease(context.Background(), RequestLeaseInput{
		OwnerEmail: "dev@example.com",
		TemplateID: "tpl-1",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if lease.AWSAccountID != "111122223333" {
		t.Fatalf("account = %s, want 111122223333", lease.AWSAccountID)
	}
	if lease.StartDate == nil || !lease.StartDate.Equal(testNow) {
		t.Fatalf("start date = %v, want %v", lease.StartDate, testNow)
	}
	if lease.ExpirationDate == nil || !lease.ExpirationDate.Equal(testNow.Add(48*time.Hour)) {
		t.Fatalf("expiration = %v, want +48h", lease.ExpirationDate)
	}
	assertLog(t, log, []string{
		"create_lease",
		"claim 111122223333",
		"move Available->Active",
		"grant 111122223333 u-1",
	})
	assertEventTypes(t, pub, model.EventLeaseRequested, model.EventLeaseApproved)
}

func TestRequestLease_AutoApproveNoAvailableAccount(t *testing.T) {
	st := &mockStore{
		getGlobalConfig: func(context.Context) (*model.GlobalConfig, error) {
			return &model.GlobalConfig{}, nil
		},
		getTemplate: func(_ context.Context, id string) (*model.LeaseTemplate, error) {
			return &model.LeaseTemplate{ID: id, LeaseDurationInHours: f64(48)}, nil
		},
		countNonTerminal: func(context.Context, string) (int, error) { return 0, nil },
		oldestAvailable: func(context.Context) (*model.SandboxAccount, error) {
			return nil, store.ErrNotFound
		},
		createLease: func(_ context.Context, l model.Lease) (*model.Lease, error) {
			if l.Status != model.LeasePendingApproval {
				t.Errorf("status = %s, want PendingApproval", l.Status)
			}
			out := l
			out.Version = 1
			return &out, nil
		},
	}
	ids := &mockIdentity{}
	defaultUserLookup(ids)
	pub := events.NewFakePublisher()
	svc := newTestService(st, ids, &mockDirectory{}, pub)

	if _, err := svc.RequestLease(context.Background(), RequestLeaseInput{
		OwnerEmail: "dev@example.com",
		TemplateID: "tpl-1",
	}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	assertEventTypes(t, pub, model.EventLeaseRequested)
}

func TestRequestLease_GrantFailureCompensatesInReverse(t *testing.T) {
	boom := errors.New("sso unavailable")
	var log []string
	st := &mockStore{
		getGlobalConfig: func(context.Context) (*model.GlobalConfig, error) {
			return &model.GlobalConfig{}, nil
		},
		getTemplate: func(_ context.Context, id string) (*model.LeaseTemplate, error) {
			return &model.LeaseTemplate{ID: id, LeaseDurationInHours: f64(48)}, nil
		},
		countNonTerminal: func(context.Context, string) (int, error) { return 0, nil },
		oldestAvailable: func(context.Context) (*model.SandboxAccount, error) {
			return &model.SandboxAccount{ID: "111122223333", Status: model.AccountAvailable}, nil
		},
		createLease: func(_ context.Context, l model.Lease) (*model.Lease, error) {
			log = append(log, "create_lease")
			out := l
			out.Version = 1
			return &out, nil
		},
		claimAvailable: func(_ context.Context, id string) (*model.SandboxAccount, error) {
			log = append(log, "claim")
			return &model.SandboxAccount{ID: id}, nil
		},
		releaseAccount: func(_ context.Context, id string) error {
			log = append(log, "release")
			return nil
		},
		deleteLease: func(_ context.Context, uuid string) error {
			log = append(log, "delete_lease")
			return nil
		},
	}
	ids := &mockIdentity{
		assignUserAccess: func(context.Context, string, string) error {
			log = append(log, "grant")
			return boom
		},
	}
	defaultUserLookup(ids)
	dir := &mockDirectory{
		moveAccount: func(_ context.Context, _ string, from, to directory.Pool) error {
			log = append(log, fmt.Sprintf("move %s->%s", from, to))
			return nil
		},
	}
	pub := events.NewFakePublisher()
	svc := newTestService(st, ids, dir, pub)

	_, err := svc.RequestLease(context.Background(), RequestLeaseInput{
		OwnerEmail: "dev@example.com",
		TemplateID: "tpl-1",
	})
	var terr *TransactionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransactionError, got %v", err)
	}
	if !terr.Retryable() {
		t.Fatalf("fully rolled back run must be retryable: %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause not preserved: %v", err)
	}
	assertLog(t, log, []string{
		"create_lease",
		"claim",
		"move Available->Active",
		"grant",
		"move Active->Available",
		"release",
		"delete_lease",
	})
	assertEventTypes(t, pub)
}

func TestRequestLease_QuotaExceeded(t *testing.T) {
	st := &mockStore{
		getGlobalConfig: func(context.Context) (*model.GlobalConfig, error) {
			return &model.GlobalConfig{MaxLeasesPerUser: 2}, nil
		},
		getTemplate: func(_ context.Context, id string) (*model.LeaseTemplate, error) {
			return &model.LeaseTemplate{ID: id}, nil
		},
		countNonTerminal: func(context.Context, string) (int, error) { return 2, nil },
	}
	pub := events.NewFakePublisher()
	svc := newTestService(st, &mockIdentity{}, &mockDirectory{}, pub)

	_, err := svc.RequestLease(context.Background(), RequestLeaseInput{
		OwnerEmail: "dev@example.com",
		TemplateID: "tpl-1",
	})
	if !errors.Is(err, policy.ErrLeaseQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	assertEventTypes(t, pub)
}

func TestRequestLease_RequiredBudgetMissing(t *testing.T) {
	st := &mockStore{
		getGlobalConfig: func(context.Context) (*model.GlobalConfig, error) {
			return &model.GlobalConfig{MaxBudget: f64(1000), RequireMaxBudget: true}, nil
		},
		getTemplate: func(_ context.Context, id string) (*model.LeaseTemplate, error) {
			return &model.LeaseTemplate{ID: id}, nil
		},
	}
	svc := newTestService(st, &mockIdentity{}, &mockDirectory{}, events.NewFakePublisher())

	_, err := svc.RequestLease(context.Background(), RequestLeaseInput{
		OwnerEmail: "dev@example.com",
		TemplateID: "tpl-1",
	})
	var verr *policy.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(err.Error(), "max budget must be provided") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestApproveLease(t *testing.T) {
	pending := model.Lease{
		UUID:       "l-1",
		Owner:      "dev@example.com",
		TemplateID: "tpl-1",
		Status:     model.LeasePendingApproval,
		MaxSpend:   f64(100),
		Version:    3,
	}
	st := &mockStore{
		getGlobalConfig: func(context.Context) (*model.GlobalConfig, error) {
			return &model.GlobalConfig{}, nil
		},
		getLease: func(_ context.Context, uuid string) (*model.Lease, error) {
			l := pending
			return &l, nil
		},
		getTemplate: func(_ context.Context, id string) (*model.LeaseTemplate, error) {
			return &model.LeaseTemplate{ID: id, MaxSpend: f64(100), LeaseDurationInHours: f64(48), RequiresApproval: true}, nil
		},
		oldestAvailable: func(context.Context) (*model.SandboxAccount, error) {
			return &model.SandboxAccount{ID: "111122223333", Status: model.AccountAvailable}, nil
		},
		updateLease: func(_ context.Context, l model.Lease) (*model.Lease, error) {
			if l.Status != model.LeaseActive {
				t.Errorf("status = %s, want Active", l.Status)
			}
			if l.ApprovedBy != "reviewer@example.com" {
				t.Errorf("approvedBy = %q", l.ApprovedBy)
			}
			if l.Version != 3 {
				t.Errorf("update must carry the read version, got %d", l.Version)
			}
			out := l
			out.Version = 4
			return &out, nil
		},
		claimAvailable: func(_ context.Context, id string) (*model.SandboxAccount, error) {
			return &model.SandboxAccount{ID: id, Status: model.AccountActive}, nil
		},
	}
	ids := &mockIdentity{
		assignUserAccess: func(context.Context, string, string) error { return nil },
	}
	defaultUserLookup(ids)
	dir := &mockDirectory{
		moveAccount: func(context.Context, string, directory.Pool, directory.Pool) error { return nil },
	}
	pub := events.NewFakePublisher()
	svc := newTestService(st, ids, dir, pub)

	lease, err := svc.ApproveLease(context.Background(), "l-1", "reviewer@example.com")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if lease.Version != 4 {
		t.Fatalf("version = %d, want 4", lease.Version)
	}
	assertEventTypes(t, pub, model.EventLeaseApproved)
}

func TestApproveLease_NotPending(t *testing.T) {
	st := &mockStore{
		getGlobalConfig: func(context.Context) (*model.GlobalConfig, error) {
			return &model.GlobalConfig{}, nil
		},
		getLease: func(_ context.Context, uuid string) (*model.Lease, error) {
			return &model.Lease{UUID: uuid, Status: model.LeaseActive, AWSAccountID: "111122223333"}, nil
		},
	}
	svc := newTestService(st, &mockIdentity{}, &mockDirectory{}, events.NewFakePublisher())

	_, err := svc.ApproveLease(context.Background(), "l-1", "reviewer@example.com")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestApproveLease_NoAvailableAccount(t *testing.T) {
	st := &mockStore{
		getGlobalConfig: func(context.Context) (*model.GlobalConfig, error) {
			return &model.GlobalConfig{}, nil
		},
		getLease: func(_ context.Context, uuid string) (*model.Lease, error) {
			return &model.Lease{UUID: uuid, Owner: "dev@example.com", TemplateID: "tpl-1", Status: model.LeasePendingApproval}, nil
		},
		getTemplate: func(_ context.Context, id string) (*model.LeaseTemplate, error) {
			return &model.LeaseTemplate{ID: id}, nil
		},
		oldestAvailable: func(context.Context) (*model.SandboxAccount, error) {
			return nil, store.ErrNotFound
		},
	}
	ids := &mockIdentity{}
	defaultUserLookup(ids)
	svc := newTestService(st, ids, &mockDirectory{}, events.NewFakePublisher())

	_, err := svc.ApproveLease(context.Background(), "l-1", "reviewer@example.com")
	if !errors.Is(err, ErrNoAvailableAccount) {
		t.Fatalf("expected ErrNoAvailableAccount, got %v", err)
	}
}

func TestApproveLease_LostClaimRollsBack(t *testing.T) {
	updates := 0
	st := &mockStore{
		getGlobalConfig: func(context.Context) (*model.GlobalConfig, error) {
			return &model.GlobalConfig{}, nil
		},
		getLease: func(_ context.Context, uuid string) (*model.Lease, error) {
			return &model.Lease{UUID: uuid, Owner: "dev@example.com", TemplateID: "tpl-1", Status: model.LeasePendingApproval, Version: 3}, nil
		},
		getTemplate: func(_ context.Context, id string) (*model.LeaseTemplate, error) {
			return &model.LeaseTemplate{ID: id, LeaseDurationInHours: f64(48)}, nil
		},
		oldestAvailable: func(context.Context) (*model.SandboxAccount, error) {
			return &model.SandboxAccount{ID: "111122223333", Status: model.AccountAvailable}, nil
		},
		updateLease: func(_ context.Context, l model.Lease) (*model.Lease, error) {
			updates++
			switch updates {
			case 1:
				if l.Status != model.LeaseActive {
					t.Errorf("first update status = %s, want Active", l.Status)
				}
				out := l
				out.Version = 4
				return &out, nil
			case 2:
				if l.Status != model.LeasePendingApproval {
					t.Errorf("restore status = %s, want PendingApproval", l.Status)
				}
				if l.Version != 4 {
					t.Errorf("restore must carry the post-activation version, got %d", l.Version)
				}
				out := l
				out.Version = 5
				return &out, nil
			}
			return nil, fmt.Errorf("unexpected update %d", updates)
		},
		claimAvailable: func(context.Context, string) (*model.SandboxAccount, error) {
			return nil, store.ErrConcurrentModification
		},
	}
	ids := &mockIdentity{}
	defaultUserLookup(ids)
	pub := events.NewFakePublisher()
	svc := newTestService(st, ids, &mockDirectory{}, pub)

	_, err := svc.ApproveLease(context.Background(), "l-1", "reviewer@example.com")
	var terr *TransactionError
	if !errors.As(err, &terr) || !terr.Retryable() {
		t.Fatalf("expected retryable TransactionError, got %v", err)
	}
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("cause not preserved: %v", err)
	}
	if updates != 2 {
		t.Fatalf("updates = %d, want activate + restore", updates)
	}
	assertEventTypes(t, pub)
}

func TestDenyLease(t *testing.T) {
	st := &mockStore{
		getGlobalConfig: func(context.Context) (*model.GlobalConfig, error) {
			return &model.GlobalConfig{TTLDays: 14}, nil
		},
		getLease: func(_ context.Context, uuid string) (*model.Lease, error) {
			return &model.Lease{UUID: uuid, Owner: "dev@example.com", Status: model.LeasePendingApproval, Version: 2}, nil
		},
		updateLease: func(_ context.Context, l model.Lease) (*model.Lease, error) {
			if l.Status != model.LeaseApprovalDenied {
				t.Errorf("status = %s, want ApprovalDenied", l.Status)
			}
			if l.ApprovedBy != "reviewer@example.com" {
				t.Errorf("approvedBy = %q", l.ApprovedBy)
			}
			if l.EndDate == nil || !l.EndDate.Equal(testNow) {
				t.Errorf("endDate = %v, want %v", l.EndDate, testNow)
			}
			if l.ExpiresAt == nil || !l.ExpiresAt.Equal(testNow.Add(14*24*time.Hour)) {
				t.Errorf("expiresAt = %v, want +14d", l.ExpiresAt)
			}
			out := l
			out.Version = 3
			return &out, nil
		},
	}
	pub := events.NewFakePublisher()
	svc := newTestService(st, &mockIdentity{}, &mockDirectory{}, pub)

	if _, err := svc.DenyLease(context.Background(), "l-1", "reviewer@example.com"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	assertEventTypes(t, pub, model.EventLeaseDenied)
}

func TestFreezeLease(t *testing.T) {
	var log []string
	st := &mockStore{
		getLease: func(_ context.Context, uuid string) (*model.Lease, error) {
			return &model.Lease{UUID: uuid, Status: model.LeaseActive, AWSAccountID: "111122223333", Version: 5}, nil
		},
		updateLease: func(_ context.Context, l model.Lease) (*model.Lease, error) {
			log = append(log, "update_lease "+string(l.Status))
			out := l
			out.Version = 6
			return &out, nil
		},
		setAccountStatus: func(_ context.Context, id string, from, to model.AccountStatus, cleanup *model.CleanupExecutionContext) (*model.SandboxAccount, error) {
			log = append(log, fmt.Sprintf("status %s->%s", from, to))
			return &model.SandboxAccount{ID: id, Status: to}, nil
		},
	}
	dir := &mockDirectory{
		moveAccount: func(_ context.Context, _ string, from, to directory.Pool) error {
			log = append(log, fmt.Sprintf("move %s->%s", from, to))
			return nil
		},
	}
	pub := events.NewFakePublisher()
	svc := newTestService(st, &mockIdentity{}, dir, pub)

	lease, err := svc.FreezeLease(context.Background(), "l-1", "budget threshold 75% crossed")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if lease.Status != model.LeaseFrozen {
		t.Fatalf("status = %s, want Frozen", lease.Status)
	}
	assertLog(t, log, []string{
		"update_lease Frozen",
		"move Active->Frozen",
		"status Active->Frozen",
	})
	assertEventTypes(t, pub, model.EventLeaseFrozen)
	if got := pub.Events()[0].Detail["reason"]; got != "budget threshold 75% crossed" {
		t.Fatalf("reason = %v", got)
	}
}

func TestFreezeLease_NotActive(t *testing.T) {
	st := &mockStore{
		getLease: func(_ context.Context, uuid string) (*model.Lease, error) {
			return &model.Lease{UUID: uuid, Status: model.LeaseFrozen, AWSAccountID: "111122223333"}, nil
		},
	}
	svc := newTestService(st, &mockIdentity{}, &mockDirectory{}, events.NewFakePublisher())

	if _, err := svc.FreezeLease(context.Background(), "l-1", "again"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestTerminateLease(t *testing.T) {
	var log []string
	st := &mockStore{
		getGlobalConfig: func(context.Context) (*model.GlobalConfig, error) {
			return &model.GlobalConfig{TTLDays: 30}, nil
		},
		getLease: func(_ context.Context, uuid string) (*model.Lease, error) {
			return &model.Lease{UUID: uuid, Owner: "dev@example.com", Status: model.LeaseActive, AWSAccountID: "111122223333", Version: 7}, nil
		},
		updateLease: func(_ context.Context, l model.Lease) (*model.Lease, error) {
			log = append(log, "update_lease "+string(l.Status))
			if l.EndDate == nil || !l.EndDate.Equal(testNow) {
				t.Errorf("endDate = %v, want %v", l.EndDate, testNow)
			}
			if l.ExpiresAt == nil || !l.ExpiresAt.Equal(testNow.Add(30*24*time.Hour)) {
				t.Errorf("expiresAt = %v, want +30d", l.ExpiresAt)
			}
			out := l
			out.Version = 8
			return &out, nil
		},
		setAccountStatus: func(_ context.Context, id string, from, to model.AccountStatus, cleanup *model.CleanupExecutionContext) (*model.SandboxAccount, error) {
			log = append(log, fmt.Sprintf("status %s->%s", from, to))
			if cleanup == nil || cleanup.ExecutionID != "id-1" {
				t.Errorf("cleanup context = %+v, want execution id-1", cleanup)
			}
			return &model.SandboxAccount{ID: id, Status: to}, nil
		},
	}
	ids := &mockIdentity{
		revokeUserAccess: func(_ context.Context, accountID, userID string) error {
			log = append(log, fmt.Sprintf("revoke %s %s", accountID, userID))
			return nil
		},
	}
	defaultUserLookup(ids)
	dir := &mockDirectory{
		moveAccount: func(_ context.Context, _ string, from, to directory.Pool) error {
			log = append(log, fmt.Sprintf("move %s->%s", from, to))
			return nil
		},
	}
	pub := events.NewFakePublisher()
	svc := newTestService(st, ids, dir, pub)

	lease, err := svc.TerminateLease(context.Background(), "l-1", model.TerminationManual)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if lease.Status != model.LeaseManuallyTerminated {
		t.Fatalf("status = %s, want ManuallyTerminated", lease.Status)
	}
	assertLog(t, log, []string{
		"revoke 111122223333 u-1",
		"update_lease ManuallyTerminated",
		"move Active->CleanUp",
		"status Active->CleanUp",
	})
	assertEventTypes(t, pub, model.EventLeaseTerminated, model.EventCleanAccountRequest)
	if got := pub.Events()[1].Detail["execution_id"]; got != "id-1" {
		t.Fatalf("execution_id = %v", got)
	}
}

func TestTerminateLease_TerminalAbsorbing(t *testing.T) {
	terminal := []model.LeaseStatus{
		model.LeaseApprovalDenied,
		model.LeaseExpired,
		model.LeaseBudgetExceeded,
		model.LeaseManuallyTerminated,
		model.LeaseAccountQuarantined,
		model.LeaseEjected,
	}
	for _, status := range terminal {
		t.Run(string(status), func(t *testing.T) {
			end := testNow
			st := &mockStore{
				getGlobalConfig: func(context.Context) (*model.GlobalConfig, error) {
					return &model.GlobalConfig{}, nil
				},
				getLease: func(_ context.Context, uuid string) (*model.Lease, error) {
					return &model.Lease{UUID: uuid, Status: status, EndDate: &end}, nil
				},
			}
			pub := events.NewFakePublisher()
			svc := newTestService(st, &mockIdentity{}, &mockDirectory{}, pub)

			_, err := svc.TerminateLease(context.Background(), "l-1", model.TerminationManual)
			if !errors.Is(err, ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState, got %v", err)
			}
			assertEventTypes(t, pub)
		})
	}
}

func TestTerminateLease_CompensationFailureNotRetryable(t *testing.T) {
	moveErr := errors.New("ou move rejected")
	restoreErr := errors.New("restore rejected")
	updates := 0
	st := &mockStore{
		getGlobalConfig: func(context.Context) (*model.GlobalConfig, error) {
			return &model.GlobalConfig{TTLDays: 30}, nil
		},
		getLease: func(_ context.Context, uuid string) (*model.Lease, error) {
			return &model.Lease{UUID: uuid, Owner: "dev@example.com", Status: model.LeaseActive, AWSAccountID: "111122223333", Version: 7}, nil
		},
		updateLease: func(_ context.Context, l model.Lease) (*model.Lease, error) {
			updates++
			if updates == 1 {
				out := l
				out.Version = 8
				return &out, nil
			}
			return nil, restoreErr
		},
	}
	ids := &mockIdentity{
		revokeUserAccess: func(context.Context, string, string) error { return nil },
		assignUserAccess: func(context.Context, string, string) error { return nil },
	}
	defaultUserLookup(ids)
	dir := &mockDirectory{
		moveAccount: func(context.Context, string, directory.Pool, directory.Pool) error { return moveErr },
	}
	pub := events.NewFakePublisher()
	svc := newTestService(st, ids, dir, pub)

	_, err := svc.TerminateLease(context.Background(), "l-1", model.TerminationManual)
	var terr *TransactionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransactionError, got %v", err)
	}
	if terr.Retryable() {
		t.Fatalf("inconsistent run must not be retryable: %v", err)
	}
	if !errors.Is(err, restoreErr) {
		t.Fatalf("compensation failure not preserved: %v", err)
	}
	assertEventTypes(t, pub)
}
