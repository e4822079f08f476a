package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the completed table if it doesn't exist.
// The pool is capped at one connection so every write is serialized by database/sql.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS completed (
		identifier TEXT PRIMARY KEY,
		completed_at DATETIME NOT NULL,
		completed_by TEXT
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create completed table: %w", err)
	}

	return db, nil
}
