// Package directory is the boundary to the account directory service. OU
// placement there is the authoritative status signal for sandbox accounts;
// the record store mirrors it.
package directory

import (
	"context"
	"errors"

	"github.com/halcyonops/sandbox-control-plane/internal/model"
)

var (
	ErrAccountNotFound = errors.New("could not find account")
	ErrWrongPool       = errors.New("account is not in the expected pool")
)

// Pool is an organizational unit the control plane moves accounts between.
// Entry holds newly donated accounts awaiting registration; Exit holds
// ejected accounts awaiting manual removal from the organization.
type Pool string

const (
	PoolEntry      Pool = "Entry"
	PoolAvailable  Pool = "Available"
	PoolActive     Pool = "Active"
	PoolFrozen     Pool = "Frozen"
	PoolCleanUp    Pool = "CleanUp"
	PoolQuarantine Pool = "Quarantine"
	PoolExit       Pool = "Exit"
)

func PoolForStatus(s model.AccountStatus) Pool {
	switch s {
	case model.AccountAvailable:
		return PoolAvailable
	case model.AccountActive:
		return PoolActive
	case model.AccountFrozen:
		return PoolFrozen
	case model.AccountCleanUp:
		return PoolCleanUp
	case model.AccountQuarantine:
		return PoolQuarantine
	}
	return ""
}

type Account struct {
	ID    string
	Name  string
	Email string
}

type Service interface {
	DescribeAccount(ctx context.Context, accountID string) (*Account, error)
	// AccountPool returns the pool currently holding the account.
	AccountPool(ctx context.Context, accountID string) (Pool, error)
	// MoveAccount relocates an account between pools. The from pool is an
	// expected-value check: the move fails if the account is elsewhere.
	MoveAccount(ctx context.Context, accountID string, from, to Pool) error
}
