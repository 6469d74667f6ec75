package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halcyonops/sandbox-control-plane/internal/directory"
	"github.com/halcyonops/sandbox-control-plane/internal/events"
	"github.com/halcyonops/sandbox-control-plane/internal/identity"
	"github.com/halcyonops/sandbox-control-plane/internal/model"
)

var errUnexpectedCall = errors.New("unexpected call")

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestService pins the clock and makes generated ids deterministic
// (id-1, id-2, ...).
func newTestService(st Store, ids identity.Service, dir directory.Service, pub events.Publisher) *Service {
	svc := NewService(st, ids, dir, pub)
	svc.now = func() time.Time { return testNow }
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return svc
}

type mockStore struct {
	getGlobalConfig    func(ctx context.Context) (*model.GlobalConfig, error)
	getTemplate        func(ctx context.Context, id string) (*model.LeaseTemplate, error)
	createLease        func(ctx context.Context, l model.Lease) (*model.Lease, error)
	getLease           func(ctx context.Context, uuid string) (*model.Lease, error)
	updateLease        func(ctx context.Context, l model.Lease) (*model.Lease, error)
	deleteLease        func(ctx context.Context, uuid string) error
	countNonTerminal   func(ctx context.Context, owner string) (int, error)
	findLeaseByAccount func(ctx context.Context, accountID string) (*model.Lease, error)
	getAccount         func(ctx context.Context, id string) (*model.SandboxAccount, error)
	createAccount      func(ctx context.Context, a model.SandboxAccount) (*model.SandboxAccount, error)
	deleteAccount      func(ctx context.Context, id string) error
	oldestAvailable    func(ctx context.Context) (*model.SandboxAccount, error)
	claimAvailable     func(ctx context.Context, accountID string) (*model.SandboxAccount, error)
	releaseAccount     func(ctx context.Context, accountID string) error
	setAccountStatus   func(ctx context.Context, accountID string, from, to model.AccountStatus, cleanup *model.CleanupExecutionContext) (*model.SandboxAccount, error)
}

func (m *mockStore) GetGlobalConfig(ctx context.Context) (*model.GlobalConfig, error) {
	if m.getGlobalConfig == nil {
		return nil, fmt.Errorf("%w: GetGlobalConfig", errUnexpectedCall)
	}
	return m.getGlobalConfig(ctx)
}

func (m *mockStore) GetTemplate(ctx context.Context, id string) (*model.LeaseTemplate, error) {
	if m.getTemplate == nil {
		return nil, fmt.Errorf("%w: GetTemplate", errUnexpectedCall)
	}
	return m.getTemplate(ctx, id)
}

func (m *mockStore) CreateLease(ctx context.Context, l model.Lease) (*model.Lease, error) {
	if m.createLease == nil {
		return nil, fmt.Errorf("%w: CreateLease", errUnexpectedCall)
	}
	return m.createLease(ctx, l)
}

func (m *mockStore) GetLease(ctx context.Context, uuid string) (*model.Lease, error) {
	if m.getLease == nil {
		return nil, fmt.Errorf("%w: GetLease", errUnexpectedCall)
	}
	return m.getLease(ctx, uuid)
}

func (m *mockStore) UpdateLease(ctx context.Context, l model.Lease) (*model.Lease, error) {
	if m.updateLease == nil {
		return nil, fmt.Errorf("%w: UpdateLease", errUnexpectedCall)
	}
	return m.updateLease(ctx, l)
}

func (m *mockStore) DeleteLease(ctx context.Context, uuid string) error {
	if m.deleteLease == nil {
		return fmt.Errorf("%w: DeleteLease", errUnexpectedCall)
	}
	return m.deleteLease(ctx, uuid)
}

func (m *mockStore) CountNonTerminalLeasesByOwner(ctx context.Context, owner string) (int, error) {
	if m.countNonTerminal == nil {
		return 0, fmt.Errorf("%w: CountNonTerminalLeasesByOwner", errUnexpectedCall)
	}
	return m.countNonTerminal(ctx, owner)
}

func (m *mockStore) FindNonTerminalLeaseByAccount(ctx context.Context, accountID string) (*model.Lease, error) {
	if m.findLeaseByAccount == nil {
		return nil, fmt.Errorf("%w: FindNonTerminalLeaseByAccount", errUnexpectedCall)
	}
	return m.findLeaseByAccount(ctx, accountID)
}

func (m *mockStore) GetAccount(ctx context.Context, id string) (*model.SandboxAccount, error) {
	if m.getAccount == nil {
		return nil, fmt.Errorf("%w: GetAccount", errUnexpectedCall)
	}
	return m.getAccount(ctx, id)
}

func (m *mockStore) CreateAccount(ctx context.Context, a model.SandboxAccount) (*model.SandboxAccount, error) {
	if m.createAccount == nil {
		return nil, fmt.Errorf("%w: CreateAccount", errUnexpectedCall)
	}
	return m.createAccount(ctx, a)
}

func (m *mockStore) DeleteAccount(ctx context.Context, id string) error {
	if m.deleteAccount == nil {
		return fmt.Errorf("%w: DeleteAccount", errUnexpectedCall)
	}
	return m.deleteAccount(ctx, id)
}

func (m *mockStore) OldestAvailableAccount(ctx context.Context) (*model.SandboxAccount, error) {
	if m.oldestAvailable == nil {
		return nil, fmt.Errorf("%w: OldestAvailableAccount", errUnexpectedCall)
	}
	return m.oldestAvailable(ctx)
}

func (m *mockStore) ClaimAvailableAccount(ctx context.Context, accountID string) (*model.SandboxAccount, error) {
	if m.claimAvailable == nil {
		return nil, fmt.Errorf("%w: ClaimAvailableAccount", errUnexpectedCall)
	}
	return m.claimAvailable(ctx, accountID)
}

func (m *mockStore) ReleaseAccount(ctx context.Context, accountID string) error {
	if m.releaseAccount == nil {
		return fmt.Errorf("%w: ReleaseAccount", errUnexpectedCall)
	}
	return m.releaseAccount(ctx, accountID)
}

func (m *mockStore) SetAccountStatus(ctx context.Context, accountID string, from, to model.AccountStatus, cleanup *model.CleanupExecutionContext) (*model.SandboxAccount, error) {
	if m.setAccountStatus == nil {
		return nil, fmt.Errorf("%w: SetAccountStatus", errUnexpectedCall)
	}
	return m.setAccountStatus(ctx, accountID, from, to, cleanup)
}

type mockIdentity struct {
	getUserFromEmail    func(ctx context.Context, email string) (*identity.User, error)
	assignUserAccess    func(ctx context.Context, accountID, userID string) error
	revokeUserAccess    func(ctx context.Context, accountID, userID string) error
	assignGroupAccess   func(ctx context.Context, accountID string, role identity.Role) error
	revokeGroupAccess   func(ctx context.Context, accountID string, role identity.Role) error
	revokeAllUserAccess func(ctx context.Context, accountID string) error
}

func (m *mockIdentity) GetUserFromEmail(ctx context.Context, email string) (*identity.User, error) {
	if m.getUserFromEmail == nil {
		return nil, fmt.Errorf("%w: GetUserFromEmail", errUnexpectedCall)
	}
	return m.getUserFromEmail(ctx, email)
}

func (m *mockIdentity) AssignUserAccess(ctx context.Context, accountID, userID string) error {
	if m.assignUserAccess == nil {
		return fmt.Errorf("%w: AssignUserAccess", errUnexpectedCall)
	}
	return m.assignUserAccess(ctx, accountID, userID)
}

func (m *mockIdentity) RevokeUserAccess(ctx context.Context, accountID, userID string) error {
	if m.revokeUserAccess == nil {
		return fmt.Errorf("%w: RevokeUserAccess", errUnexpectedCall)
	}
	return m.revokeUserAccess(ctx, accountID, userID)
}

func (m *mockIdentity) AssignGroupAccess(ctx context.Context, accountID string, role identity.Role) error {
	if m.assignGroupAccess == nil {
		return fmt.Errorf("%w: AssignGroupAccess", errUnexpectedCall)
	}
	return m.assignGroupAccess(ctx, accountID, role)
}

func (m *mockIdentity) RevokeGroupAccess(ctx context.Context, accountID string, role identity.Role) error {
	if m.revokeGroupAccess == nil {
		return fmt.Errorf("%w: RevokeGroupAccess", errUnexpectedCall)
	}
	return m.revokeGroupAccess(ctx, accountID, role)
}

func (m *mockIdentity) RevokeAllUserAccess(ctx context.Context, accountID string) error {
	if m.revokeAllUserAccess == nil {
		return fmt.Errorf("%w: RevokeAllUserAccess", errUnexpectedCall)
	}
	return m.revokeAllUserAccess(ctx, accountID)
}

type mockDirectory struct {
	describeAccount func(ctx context.Context, accountID string) (*directory.Account, error)
	accountPool     func(ctx context.Context, accountID string) (directory.Pool, error)
	moveAccount     func(ctx context.Context, accountID string, from, to directory.Pool) error
}

func (m *mockDirectory) DescribeAccount(ctx context.Context, accountID string) (*directory.Account, error) {
	if m.describeAccount == nil {
		return nil, fmt.Errorf("%w: DescribeAccount", errUnexpectedCall)
	}
	return m.describeAccount(ctx, accountID)
}

func (m *mockDirectory) AccountPool(ctx context.Context, accountID string) (directory.Pool, error) {
	if m.accountPool == nil {
		return "", fmt.Errorf("%w: AccountPool", errUnexpectedCall)
	}
	return m.accountPool(ctx, accountID)
}

func (m *mockDirectory) MoveAccount(ctx context.Context, accountID string, from, to directory.Pool) error {
	if m.moveAccount == nil {
		return fmt.Errorf("%w: MoveAccount", errUnexpectedCall)
	}
	return m.moveAccount(ctx, accountID, from, to)
}
