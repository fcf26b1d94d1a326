// Package dbx holds the database/sql helpers shared by the store: a handle
// interface satisfied by both *sql.DB and *sql.Tx, a transaction wrapper and
// placeholder rebinding (sqlx) for the two supported dialects.
package dbx

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DBTX is the subset of database/sql the store uses.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction. It commits when fn returns nil and
// rolls back on error or panic; panics are rethrown.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("commit tx: %w", cerr)
		}
	}()

	err = fn(ctx, tx)
	return err
}

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Rebind rewrites "?" placeholders into the dialect's bind style. Queries
// are written with "?" and must not contain literal question marks.
func (d Dialect) Rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(string(d)), query)
}

// Bound wraps a handle so every query is rebound for the dialect.
func Bound(d Dialect, h DBTX) DBTX {
	return boundTX{dialect: d, h: h}
}

type boundTX struct {
	dialect Dialect
	h       DBTX
}

func (b boundTX) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return b.h.ExecContext(ctx, b.dialect.Rebind(query), args...)
}

func (b boundTX) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return b.h.QueryContext(ctx, b.dialect.Rebind(query), args...)
}

func (b boundTX) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return b.h.QueryRowContext(ctx, b.dialect.Rebind(query), args...)
}
