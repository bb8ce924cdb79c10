package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/clickhouse"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/flux-indexer/fluxindexer/internal/config"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every pending migration under migrations/ against the
// store described by opts, recording progress in ClickHouse's own
// schema_migrations table (golang-migrate's ClickHouse driver keeps this
// in-band rather than in a side file, matching the requirement that the
// migration list live alongside the data it migrates).
func Migrate(opts config.StoreOptions) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	dsn, err := migrationDSN(opts)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("constructing migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func migrationDSN(opts config.StoreOptions) (string, error) {
	if opts.DSN != "" {
		return dsnToMigrateURL(opts.DSN), nil
	}
	return fmt.Sprintf("clickhouse://%s:%d?database=%s&username=%s&password=%s&x-multi-statement=true",
		opts.Host, opts.Port, opts.Database, opts.User, opts.Password), nil
}

// dsnToMigrateURL adapts a native clickhouse-go DSN (clickhouse://host:port/db?...)
// into the scheme golang-migrate's clickhouse driver expects, which is the
// same scheme; kept as a named seam in case the two diverge in the future.
func dsnToMigrateURL(dsn string) string {
	return dsn
}
