// Package database provides database setup, models, and the data access layer (Store)
// for mirrors, message mappings and the chats, users and messages seen by the bot.
// SQLite (modernc) and PostgreSQL (lib/pq) are supported.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/edgard/tgmirror/migrations"

	_ "github.com/lib/pq"  //revive:disable:blank-imports
	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

// Driver names as registered with database/sql.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// ParseURL resolves a database URL into a database/sql driver name and DSN.
// Accepted forms: sqlite://path, sqlite:///path (SQLAlchemy style, four
// slashes for absolute paths), sqlite+aiosqlite:///path, file:path, a bare
// file path, and postgres:// or postgresql:// URLs.
func ParseURL(raw string) (driver string, dsn string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", errors.New("database url is empty")
	}

	scheme, rest, hasScheme := strings.Cut(raw, "://")
	if !hasScheme {
		// file: URIs and plain paths go straight to SQLite.
		return DriverSQLite, withSQLitePragmas(raw), nil
	}

	// Strip async driver suffixes such as "+aiosqlite" or "+asyncpg".
	base, _, _ := strings.Cut(strings.ToLower(scheme), "+")
	switch base {
	case "sqlite", "sqlite3":
		if strings.HasPrefix(rest, "/") {
			rest = rest[1:]
		}
		if rest == "" {
			return "", "", fmt.Errorf("sqlite url %q has no path", raw)
		}
		return DriverSQLite, withSQLitePragmas(rest), nil
	case "postgres", "postgresql":
		return DriverPostgres, "postgres://" + rest, nil
	default:
		return "", "", fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

func withSQLitePragmas(dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqlitePragmas
	}
	return dsn + "?" + sqlitePragmas
}

// NewDB connects to the database described by rawURL, applies migrations and
// returns the connection pool.
func NewDB(rawURL string, maxOpenConns int) (*sqlx.DB, error) {
	driver, dsn, err := ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite doesn't support concurrent writes, so max open conns = 1
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if maxOpenConns <= 0 {
			maxOpenConns = 10
		}
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 2)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := ApplyMigrations(db.DB, driver); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Error closing database after migration failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("Database connected and migrations applied successfully", "driver", driver)
	return db, nil
}

// CloseDB closes the database connection pool.
func CloseDB(db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Error("Error closing database connection", "error", err)
	} else {
		slog.Info("Database connection closed successfully.")
	}
}

// ApplyMigrations runs the embedded migrations for the given driver.
func ApplyMigrations(db *sql.DB, driver string) error {
	if db == nil {
		return errors.New("database connection is nil, cannot apply migrations")
	}

	slog.Info("Applying database migrations...", "driver", driver)

	var (
		dbDriver database.Driver
		err      error
	)
	switch driver {
	case DriverSQLite:
		dbDriver, err = sqlite.WithInstance(db, &sqlite.Config{})
	case DriverPostgres:
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		return fmt.Errorf("no migrations for driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s migration driver: %w", driver, err)
	}

	sourceDriver, err := iofs.New(migrations.FS, driver)
	if err != nil {
		return fmt.Errorf("failed to create embed source driver instance: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, driver, dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("No database migrations to apply.")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("Database migrations applied successfully.")
	return nil
}
