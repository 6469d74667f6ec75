package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeService is an in-memory Service for tests and local development.
type FakeService struct {
	mu sync.Mutex
	// accountID -> set of user ids with access.
	userAccess map[string]map[string]bool
	// accountID -> set of roles with group access.
	groupAccess map[string]map[Role]bool
}

func NewFakeService() *FakeService {
	return &FakeService{
		userAccess:  make(map[string]map[string]bool),
		groupAccess: make(map[string]map[Role]bool),
	}
}

func (f *FakeService) GetUserFromEmail(_ context.Context, email string) (*User, error) {
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, email)
	}
	return &User{ID: "usr-" + strings.SplitN(email, "@", 2)[0], Email: email}, nil
}

func (f *FakeService) AssignUserAccess(_ context.Context, accountID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userAccess[accountID] == nil {
		f.userAccess[accountID] = make(map[string]bool)
	}
	f.userAccess[accountID][userID] = true
	return nil
}

func (f *FakeService) RevokeUserAccess(_ context.Context, accountID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.userAccess[accountID], userID)
	return nil
}

func (f *FakeService) AssignGroupAccess(_ context.Context, accountID string, role Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.groupAccess[accountID] == nil {
		f.groupAccess[accountID] = make(map[Role]bool)
	}
	f.groupAccess[accountID][role] = true
	return nil
}

func (f *FakeService) RevokeGroupAccess(_ context.Context, accountID string, role Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groupAccess[accountID], role)
	return nil
}

func (f *FakeService) RevokeAllUserAccess(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.userAccess, accountID)
	return nil
}

// UserHasAccess is a test helper.
func (f *FakeService) UserHasAccess(accountID, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userAccess[accountID][userID]
}

// GroupHasAccess is a test helper.
func (f *FakeService) GroupHasAccess(accountID string, role Role) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groupAccess[accountID][role]
}
