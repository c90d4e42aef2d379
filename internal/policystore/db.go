// Package policystore is the relational store the filter pipeline consults
// for the network roster and per-query allow/deny decisions (§6.1). It is
// read-only from the proxy's point of view after startup; any error from
// either query it issues is fatal (§7 PolicyStoreError).
package policystore

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the policy database connection.
type Store struct {
	conn     *sql.DB
	queryLog *slog.Logger
}

// EnableQueryLogging turns on the §6.3 Logging.Database toggle: every SQL
// query this store issues is logged at debug level before it runs.
func (s *Store) EnableQueryLogging(log *slog.Logger) {
	s.queryLog = log
}

// logQuery logs query text when Logging.Database is enabled, mirroring the
// original implementation's text log of every statement it issues (no hex
// dump; the Database toggle is query text, not binary).
func (s *Store) logQuery(query string) {
	if s.queryLog != nil {
		s.queryLog.Debug("DATABASE", "query", query)
	}
}

// Open opens or creates the SQLite-backed policy store at path and brings
// its schema up to date.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("policystore: open: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("policystore: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	dbDriver, err := sqlite.WithInstance(s.conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping verifies connectivity; a failure here is a PolicyStoreError (§7).
func (s *Store) Ping() error {
	return s.conn.Ping()
}
