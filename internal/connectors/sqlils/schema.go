package sqlils

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/open-sspm/open-ils/internal/connectors/configstore"
)

// migrationFiles hold the subset of the LBS tables the connector reads. They
// are applied only when a section sets create_schema, which is meant for local
// catalogs and tests.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrateSchema brings the catalog up to the latest embedded migration.
func (c *Connector) migrateSchema() error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load schema migrations: %w", err)
	}

	driver, name, closeDriver, err := c.migrationDriver()
	if err != nil {
		_ = src.Close()
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		_ = src.Close()
		_ = closeDriver()
		return fmt.Errorf("init schema migrations: %w", err)
	}
	defer func() {
		_ = src.Close()
		_ = closeDriver()
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			c.logger.Debug("catalog schema up to date", "driver", c.cfg.Driver)
			return nil
		}
		return fmt.Errorf("apply schema migrations: %w", err)
	}

	version, _, _ := m.Version()
	c.logger.Info("catalog schema migrated", slog.String("driver", c.cfg.Driver), slog.Uint64("version", uint64(version)))
	return nil
}

// migrationDriver returns the migrate database driver for the configured SQL
// driver and the func that releases it. The sqlite driver works on the shared
// handle, which stays open. The pgx driver pins a connection, so it gets a
// handle of its own.
func (c *Connector) migrationDriver() (database.Driver, string, func() error, error) {
	switch c.cfg.Driver {
	case configstore.SQLDriverPostgres:
		db, err := sql.Open(c.cfg.Driver, c.cfg.DSN)
		if err != nil {
			return nil, "", nil, fmt.Errorf("open %s migration db: %w", c.cfg.Driver, err)
		}
		driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
		if err != nil {
			_ = db.Close()
			return nil, "", nil, fmt.Errorf("init pgx migration driver: %w", err)
		}
		release := func() error { return errors.Join(driver.Close(), db.Close()) }
		return driver, "pgx5", release, nil
	default:
		driver, err := migratesqlite.WithInstance(c.db, &migratesqlite.Config{})
		if err != nil {
			return nil, "", nil, fmt.Errorf("init sqlite migration driver: %w", err)
		}
		return driver, "sqlite", func() error { return nil }, nil
	}
}
