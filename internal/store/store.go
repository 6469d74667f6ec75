// Package store is the record store for leases, lease templates, sandbox
// accounts, and the versioned global configuration row. All mutation of
// shared entity state goes through optimistic concurrency: updates compare
// the previously-read version and fail with ErrConcurrentModification on
// mismatch. No in-process locks are held.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDuplicate              = errors.New("already exists")
)

// SchemaVersion is stamped onto every written record so readers can detect
// rows written by older deployments.
const SchemaVersion = 1

const defaultPageSize = 50

type Store struct {
	db DB
}

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

func New(db DB) *Store {
	return &Store{db: db}
}

func clampPageSize(n int) int {
	if n <= 0 || n > 200 {
		return defaultPageSize
	}
	return n
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
