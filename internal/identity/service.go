// Package identity is the boundary to the identity / group-membership
// service controlling who can sign in to a sandbox account.
package identity

import (
	"context"
	"errors"
)

type Role string

const (
	RoleUser    Role = "User"
	RoleManager Role = "Manager"
	RoleAdmin   Role = "Admin"
)

var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID    string
	Email string
}

type Service interface {
	GetUserFromEmail(ctx context.Context, email string) (*User, error)
	AssignUserAccess(ctx context.Context, accountID, userID string) error
	RevokeUserAccess(ctx context.Context, accountID, userID string) error
	AssignGroupAccess(ctx context.Context, accountID string, role Role) error
	RevokeGroupAccess(ctx context.Context, accountID string, role Role) error
	RevokeAllUserAccess(ctx context.Context, accountID string) error
}
