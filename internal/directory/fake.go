package directory

import (
	"context"
	"fmt"
	"sync"
)

// FakeService is an in-memory Service for tests and local development.
type FakeService struct {
	mu       sync.Mutex
	accounts map[string]*fakeAccount
}

type fakeAccount struct {
	account Account
	pool    Pool
}

func NewFakeService() *FakeService {
	return &FakeService{accounts: make(map[string]*fakeAccount)}
}

// Seed places an account in a pool.
func (f *FakeService) Seed(a Account, pool Pool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[a.ID] = &fakeAccount{account: a, pool: pool}
}

func (f *FakeService) DescribeAccount(_ context.Context, accountID string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fa, ok := f.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	a := fa.account
	return &a, nil
}

func (f *FakeService) AccountPool(_ context.Context, accountID string) (Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fa, ok := f.accounts[accountID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return fa.pool, nil
}

func (f *FakeService) MoveAccount(_ context.Context, accountID string, from, to Pool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fa, ok := f.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if fa.pool != from {
		return fmt.Errorf("%w: %s is in %s, not %s", ErrWrongPool, accountID, fa.pool, from)
	}
	fa.pool = to
	return nil
}

// PoolOf is a test helper.
func (f *FakeService) PoolOf(accountID string) Pool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fa, ok := f.accounts[accountID]; ok {
		return fa.pool
	}
	return ""
}
