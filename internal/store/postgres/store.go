// Package postgres implements the store contracts over database/sql with
// the pgx driver. Every repository is bound to a dbx.DBTX, so the same code
// runs on the pool and inside transactions.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/internal/dbx"
	"github.com/MrEthical07/authcore/internal/store"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

// Open opens a pool against dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Store is the Postgres implementation of store.Store.
type Store struct {
	queries
	db *sql.DB
}

// New wraps an open pool.
func New(db *sql.DB) *Store {
	return &Store{queries: newQueries(db), db: db}
}

// WithTx runs fn against repositories bound to a single transaction.
func (s *Store) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(_ context.Context, tx dbx.DBTX) error {
		return fn(newQueries(tx))
	})
}

type queries struct {
	users       *UsersRepository
	sessions    *SessionsRepository
	remember    *RememberTokensRepository
	totpKeys    *TOTPKeysRepository
	permissions *PermissionsRepository
}

func newQueries(db dbx.DBTX) queries {
	return queries{
		users:       &UsersRepository{db: db},
		sessions:    &SessionsRepository{db: db},
		remember:    &RememberTokensRepository{db: db},
		totpKeys:    &TOTPKeysRepository{db: db},
		permissions: &PermissionsRepository{db: db},
	}
}

func (q queries) Users() store.Users                   { return q.users }
func (q queries) Sessions() store.Sessions             { return q.sessions }
func (q queries) RememberTokens() store.RememberTokens { return q.remember }
func (q queries) TOTPKeys() store.TOTPKeys             { return q.totpKeys }
func (q queries) Permissions() store.Permissions       { return q.permissions }

func dbError(err error) error {
	return fmt.Errorf("db error: %w", err)
}

func notFoundOr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return dbError(err)
}

// insertError maps a unique violation on a random key to store.ErrDuplicate.
func insertError(err error) error {
	if _, ok := dbx.UniqueViolation(err); ok {
		return store.ErrDuplicate
	}
	return dbError(err)
}

// insertedRow checks an INSERT ... ON CONFLICT (id) DO NOTHING. A skipped
// row is an id collision; it does not abort an enclosing transaction the way
// a raised 23505 does, so the retry with a fresh id can run in the same one.
func insertedRow(res sql.Result, err error) error {
	if err != nil {
		return insertError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err)
	}
	if n == 0 {
		return store.ErrDuplicate
	}
	return nil
}

func expectRow(res sql.Result, err error) error {
	if err != nil {
		return dbError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
