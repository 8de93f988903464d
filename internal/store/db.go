package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection of the per-client local store.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// Local scopes the store to one client user. Every per-client table is
// namespaced by that ID.
type Local struct {
	db     *DB
	client string
}

// ForClient returns the view of the store owned by clientUserID.
func (db *DB) ForClient(clientUserID string) *Local {
	return &Local{db: db, client: clientUserID}
}

// ClientUserID returns the namespace of this view.
func (l *Local) ClientUserID() string {
	return l.client
}
