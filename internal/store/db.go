package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite database connection for the workspace-owned mirror.db.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// The message search schema needs FTS5, which mattn/go-sqlite3 only compiles
// in under the sqlite_fts5 build tag, so Open fails early when it is missing
// instead of letting the migration blow up later.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := checkFTS5(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func checkFTS5(db *sql.DB) error {
	var enabled bool
	if err := db.QueryRow(`SELECT sqlite_compileoption_used('ENABLE_FTS5')`).Scan(&enabled); err != nil {
		return fmt.Errorf("check fts5 support: %w", err)
	}
	if !enabled {
		return fmt.Errorf("sqlite driver built without FTS5; rebuild with -tags sqlite_fts5")
	}
	return nil
}
