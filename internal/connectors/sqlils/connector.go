package sqlils

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/open-sspm/open-ils/internal/connectors/configstore"
	"github.com/open-sspm/open-ils/internal/ils"
)

var sqlitePragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// Connector reads patron accounts and copy status straight from an LBS style
// catalog database.
type Connector struct {
	logger  *slog.Logger
	cfg     configstore.SQLConfig
	section ils.Section
	db      *sql.DB
}

func New(logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{logger: logger}
}

func (c *Connector) SetConfig(section ils.Section) error {
	cfg, err := configstore.DecodeSQLConfig(section)
	if err != nil {
		return fmt.Errorf("decode sql section: %w", err)
	}
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	c.section = section
	return nil
}

func (c *Connector) Init(ctx context.Context) error {
	if c.db == nil {
		if c.cfg.DSN == "" {
			return configstore.ErrNoDatabase
		}
		db, err := sql.Open(c.cfg.Driver, c.cfg.DSN)
		if err != nil {
			return fmt.Errorf("open %s db: %w", c.cfg.Driver, err)
		}
		if c.cfg.Driver == configstore.SQLDriverSQLite {
			// In-memory databases exist per connection.
			db.SetMaxOpenConns(1)
			for _, pragma := range sqlitePragmas {
				if _, err := db.ExecContext(ctx, pragma); err != nil {
					_ = db.Close()
					return fmt.Errorf("apply pragma %q: %w", pragma, err)
				}
			}
		}
		c.db = db
	}
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s db: %w", c.cfg.Driver, err)
	}
	if c.cfg.CreateSchema {
		if err := c.migrateSchema(); err != nil {
			return err
		}
	}
	c.logger.Debug("sql catalog ready", "driver", c.cfg.Driver, "iln", c.cfg.ILN)
	return nil
}

func (c *Connector) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// DB exposes the handle for seeding local catalogs.
func (c *Connector) DB() *sql.DB {
	return c.db
}

// rebind rewrites "?" placeholders into the bind style of the SQL driver.
func (c *Connector) rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(c.cfg.Driver), query)
}

func (c *Connector) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.db == nil {
		return nil, configstore.ErrNoDatabase
	}
	return c.db.QueryContext(ctx, c.rebind(query), args...)
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
