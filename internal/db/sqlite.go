// Package db opens the SQLite database holding the run history.
package db

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

var (
	db   *sql.DB
	once sync.Once
)

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		script_path TEXT NOT NULL,
		interpreter TEXT NOT NULL,
		workdir TEXT NOT NULL DEFAULT '',
		cols INTEGER NOT NULL DEFAULT 80,
		rows INTEGER NOT NULL DEFAULT 24,
		status TEXT NOT NULL DEFAULT 'running',
		exit_code INTEGER,
		pid INTEGER,
		transcript_path TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);`,
}

// InitDB opens the run history at path once per process. The file uses WAL
// journaling; the host writes while API handlers read.
func InitDB(path string) (*sql.DB, error) {
	var initErr error
	once.Do(func() {
		db, initErr = open("file:" + path + "?_journal_mode=WAL&_busy_timeout=5000")
	})
	if initErr != nil {
		db = nil
		return nil, initErr
	}
	return db, nil
}

// GetDB returns the database opened by InitDB, or nil.
func GetDB() *sql.DB {
	return db
}

// CloseDB closes the database opened by InitDB.
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// ResetDB closes the database and lets InitDB run again. Tests only.
func ResetDB() {
	CloseDB()
	once = sync.Once{}
	db = nil
}

// NewTestDB returns a private in-memory database with the schema applied.
func NewTestDB() (*sql.DB, error) {
	return open(":memory:")
}

func open(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dsn == ":memory:" {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// migrate applies the migrations the database has not seen yet.
func migrate(conn *sql.DB) error {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		if _, err := conn.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("migration %d: failed to record version: %w", i+1, err)
		}
	}
	return nil
}
