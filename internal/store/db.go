package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"filegate/api/internal/dbx"
)

// Options selects the database backend. Postgres is the server deployment;
// SQLite backs the single-user desktop build.
type Options struct {
	Dialect     dbx.Dialect
	DatabaseURL string
	SQLitePath  string
}

// DSN returns the driver connection string for the selected dialect.
func (o Options) DSN() (string, error) {
	switch o.Dialect {
	case dbx.Postgres:
		if o.DatabaseURL == "" {
			return "", fmt.Errorf("database url is required for %s", o.Dialect)
		}
		return o.DatabaseURL, nil
	case dbx.SQLite:
		if o.SQLitePath == "" {
			return "", fmt.Errorf("sqlite path is required")
		}
		return "file:" + o.SQLitePath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", o.Dialect)
	}
}

func Open(ctx context.Context, opts Options) (*sql.DB, error) {
	dsn, err := opts.DSN()
	if err != nil {
		return nil, err
	}
	driver := "pgx"
	if opts.Dialect == dbx.SQLite {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if opts.Dialect == dbx.SQLite {
		// One writer at a time; concurrent transactions queue on the pool.
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
