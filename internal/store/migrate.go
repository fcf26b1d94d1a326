package store

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"filegate/api/internal/dbx"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// MigrationFiles exposes the embedded migrations of one dialect.
func MigrationFiles(dialect dbx.Dialect) (fs.FS, error) {
	return fs.Sub(migrationsFS, "migrations/"+string(dialect))
}

// Migrate applies every pending up migration. It opens its own connection so
// closing the migrator never closes the application's pool.
func Migrate(opts Options, logger *slog.Logger) error {
	m, err := newMigrator(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied",
		slog.String("dialect", string(opts.Dialect)),
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// MigrateDown reverts every applied migration. Used by tests and by the
// operator reset command.
func MigrateDown(opts Options) error {
	m, err := newMigrator(opts)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("revert migrations: %w", err)
	}
	return nil
}

func newMigrator(opts Options) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations/"+string(opts.Dialect))
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}
	url, err := migrationURL(opts)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	return m, nil
}

func migrationURL(opts Options) (string, error) {
	switch opts.Dialect {
	case dbx.Postgres:
		if opts.DatabaseURL == "" {
			return "", fmt.Errorf("database url is required for migrations")
		}
		for _, prefix := range []string{"postgres://", "postgresql://"} {
			if strings.HasPrefix(opts.DatabaseURL, prefix) {
				return "pgx5://" + strings.TrimPrefix(opts.DatabaseURL, prefix), nil
			}
		}
		return "", fmt.Errorf("database url must start with postgres://")
	case dbx.SQLite:
		if opts.SQLitePath == "" {
			return "", fmt.Errorf("sqlite path is required for migrations")
		}
		return "sqlite://" + opts.SQLitePath + "?_pragma=foreign_keys(1)&_time_format=sqlite", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", opts.Dialect)
	}
}
