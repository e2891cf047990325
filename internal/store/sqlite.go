// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the ledger database, creates the schema and applies column migrations

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the ledger at path.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS exchanges (
			exchange_id    TEXT PRIMARY KEY,
			owner          TEXT NOT NULL,
			transport      TEXT NOT NULL,
			chat_id        TEXT NOT NULL,
			trigger_kind   TEXT NOT NULL DEFAULT 'message',
			query_text     TEXT NOT NULL,
			reply_text     TEXT NOT NULL DEFAULT '',
			outcome        TEXT NOT NULL,
			correlation_id TEXT,
			attempts       INTEGER NOT NULL DEFAULT 0,
			started_at     TEXT NOT NULL,
			finished_at    TEXT NOT NULL,

			CHECK (outcome IN ('delivered', 'failed', 'cancelled', 'undelivered'))
		);

		CREATE INDEX IF NOT EXISTS idx_exchanges_owner ON exchanges(owner, finished_at DESC);
		CREATE INDEX IF NOT EXISTS idx_exchanges_correlation ON exchanges(correlation_id);
		CREATE INDEX IF NOT EXISTS idx_exchanges_finished ON exchanges(finished_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations adds columns introduced after the first release. Each step
// is idempotent.
func (s *SQLiteStore) runMigrations() error {
	// SQLite has no ADD COLUMN IF NOT EXISTS, so check pragma_table_info first.
	migrations := []struct {
		column string
		apply  string
	}{
		{"trigger_kind", `ALTER TABLE exchanges ADD COLUMN trigger_kind TEXT NOT NULL DEFAULT 'message'`},
		{"chat_id", `ALTER TABLE exchanges ADD COLUMN chat_id TEXT NOT NULL DEFAULT ''`},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info('exchanges') WHERE name = ?`, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to exchanges: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "exchanges")
	}

	return nil
}

// DB returns the underlying database handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}
