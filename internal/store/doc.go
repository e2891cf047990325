// Package store persists the exchange ledger in SQLite.
//
// Every agent request the bot finishes (delivered, failed, cancelled or
// undeliverable) becomes one Exchange row. Failed exchanges carry the short
// correlation id shown to the user, so support can look up the query and
// the raw reply from the id alone.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Default location: ~/.local/share/meeting-assistant/ledger.db
//
// # Testing
//
// Use NewMockStore() where SQLite is not wanted:
//
//	ledger := store.NewMockStore()
//
// Use NewSQLiteStore on a t.TempDir() path for real SQLite.
package store
