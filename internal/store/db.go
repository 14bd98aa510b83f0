package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// #region open
// Open opens the shared SQLite database used by the ledgers and applies the
// connection pragmas. Each package owns and migrates its own tables.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// modernc's driver is not safe for concurrent writers on one file
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy: %w", err)
	}
	return db, nil
}
// #endregion open

// #region migrate
// Migrate runs each schema statement block in order.
func Migrate(db *sql.DB, schemas ...string) error {
	for _, s := range schemas {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
// #endregion migrate

// #region helpers
// NullIfEmpty maps "" to a SQL NULL.
func NullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
