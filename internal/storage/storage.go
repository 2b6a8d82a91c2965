// Package storage is the persistence layer: feed watermarks and starboard tallies
// kept in SQLite or Postgres through sqlx.
package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrPersistence wraps every failure of the row store.
var ErrPersistence = errors.New("persistence error")

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// Open connects to the database named by dsn and applies the schema.
// postgres:// and postgresql:// DSNs use lib/pq, everything else is a SQLite path.
func Open(dsn string) (*sqlx.DB, error) {
	driver, source := driverFor(dsn)

	db, err := sqlx.Connect(driver, source)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", ErrPersistence, driver, err)
	}

	if driver == driverSQLite {
		// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func driverFor(dsn string) (driver, source string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return driverPostgres, dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		return driverSQLite, strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "sqlite:"):
		return driverSQLite, strings.TrimPrefix(dsn, "sqlite:")
	default:
		return driverSQLite, dsn
	}
}

func schema(driver string) []string {
	timestamp := "INTEGER"
	if driver == driverPostgres {
		timestamp = "BIGINT"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS announcement_feed (
			id TEXT PRIMARY KEY,
			last_updated_time ` + timestamp + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS starboard (
			message_id TEXT PRIMARY KEY,
			starboard_id TEXT NOT NULL DEFAULT '',
			posted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS starboard_reaction (
			message_id TEXT NOT NULL,
			reactor_id TEXT NOT NULL,
			emoji TEXT NOT NULL,
			PRIMARY KEY (message_id, reactor_id, emoji)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_starboard_reaction_message ON starboard_reaction(message_id)`,
	}
}

// Migrate creates missing tables. It is safe to run on every start.
func Migrate(db *sqlx.DB) error {
	for _, stmt := range schema(db.DriverName()) {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: migrate: %w", ErrPersistence, err)
		}
	}
	return nil
}
