// Package sandbox is the lifecycle orchestrator. Every multi-step operation
// is composed of saga steps over the record store, the identity service,
// and the account directory; domain events fire only after the saga fully
// commits.
//
// The global policy config is re-read at the start of every operation and
// never pinned to a running saga: a config change concurrent with a
// long-running operation is an accepted race.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/halcyonops/sandbox-control-plane/internal/directory"
	"github.com/halcyonops/sandbox-control-plane/internal/events"
	"github.com/halcyonops/sandbox-control-plane/internal/identity"
	"github.com/halcyonops/sandbox-control-plane/internal/metrics"
	"github.com/halcyonops/sandbox-control-plane/internal/model"
	"github.com/halcyonops/sandbox-control-plane/internal/saga"
)

// ErrInvalidState reports an operation applied to an entity whose current
// status does not permit it. Terminal lease states are absorbing: no
// operation moves a lease out of them.
var ErrInvalidState = errors.New("invalid state for operation")

// ErrNoAvailableAccount reports an approval that found no Available account
// to claim.
var ErrNoAvailableAccount = errors.New("no available sandbox account")

// TransactionError wraps a saga failure. Retryable reports whether the run
// was fully rolled back (safe to retry) as opposed to left inconsistent
// (manual intervention required).
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func (e *TransactionError) Retryable() bool {
	var compErr *saga.CompensationError
	return !errors.As(e.Err, &compErr)
}

// Store is the record-store surface the orchestrator composes sagas over.
// *store.Store satisfies it.
type Store interface {
	GetGlobalConfig(ctx context.Context) (*model.GlobalConfig, error)

	GetTemplate(ctx context.Context, id string) (*model.LeaseTemplate, error)

	CreateLease(ctx context.Context, l model.Lease) (*model.Lease, error)
	GetLease(ctx context.Context, uuid string) (*model.Lease, error)
	UpdateLease(ctx context.Context, l model.Lease) (*model.Lease, error)
	DeleteLease(ctx context.Context, uuid string) error
	CountNonTerminalLeasesByOwner(ctx context.Context, owner string) (int, error)
	FindNonTerminalLeaseByAccount(ctx context.Context, accountID string) (*model.Lease, error)

	GetAccount(ctx context.Context, id string) (*model.SandboxAccount, error)
	CreateAccount(ctx context.Context, a model.SandboxAccount) (*model.SandboxAccount, error)
	DeleteAccount(ctx context.Context, id string) error
	OldestAvailableAccount(ctx context.Context) (*model.SandboxAccount, error)
	ClaimAvailableAccount(ctx context.Context, accountID string) (*model.SandboxAccount, error)
	ReleaseAccount(ctx context.Context, accountID string) error
	SetAccountStatus(ctx context.Context, accountID string, from, to model.AccountStatus, cleanup *model.CleanupExecutionContext) (*model.SandboxAccount, error)
}

type Service struct {
	store     Store
	identity  identity.Service
	directory directory.Service
	publisher events.Publisher
	now       func() time.Time
	newID     func() string
}

func NewService(st Store, ids identity.Service, dir directory.Service, pub events.Publisher) *Service {
	return &Service{
		store:     st,
		identity:  ids,
		directory: dir,
		publisher: pub,
		now:       time.Now,
		newID:     newUUID,
	}
}

// runSaga executes the steps and wraps any failure for caller-visible
// retryability mapping.
func (s *Service) runSaga(ctx context.Context, op string, steps ...saga.Step) error {
	err := saga.Run(ctx, steps...)
	outcome := "ok"
	var compErr *saga.CompensationError
	switch {
	case err == nil:
	case errors.As(err, &compErr):
		outcome = "inconsistent"
	default:
		outcome = "rolled_back"
	}
	metrics.Default().IncCounter("sbx_saga_runs_total", map[string]string{"op": op, "outcome": outcome})
	if err != nil {
		return &TransactionError{Op: op, Err: err}
	}
	return nil
}

// publish is fire-and-forget: a failure after a committed saga is logged
// and the operation still succeeds.
func (s *Service) publish(ctx context.Context, e model.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		log.Printf("event=publish_failed type=%s err=%q", e.Type, err.Error())
	}
}

func invalidState(entity, id string, status, op string) error {
	return fmt.Errorf("%w: %s %s is %s, cannot %s", ErrInvalidState, entity, id, status, op)
}
