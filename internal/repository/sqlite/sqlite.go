// Package sqlite implements the repository interfaces using SQLite as the
// storage backend. It is the default store for both the ledger and the audit
// log, and the two can share a single database file.
//
// The driver is modernc.org/sqlite (pure Go, no CGo), registered under the
// name "sqlite" by the blank import below.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// busyTimeoutMillis bounds how long a writer waits for the database lock
// before the statement fails with SQLITE_BUSY.
const busyTimeoutMillis = 5000

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/docmeter.db" → file-based database (persistent)
//   - ":memory:"         → in-memory database (tests)
//
// An in-memory database lives on a single connection, so the pool is capped at
// one; otherwise every pooled connection would see its own empty database.
func New(dbPath string) (*DB, error) {
	memory := dbPath == ":memory:"

	dsn := dbPath
	if !memory {
		// Pragmas in the DSN are applied to every pooled connection, not just
		// the first one.
		dsn = fmt.Sprintf(
			"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
			dbPath, busyTimeoutMillis,
		)
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if memory {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if memory {
		if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
		}
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	// credits >= 0 backs up the conditional debit; the typeof check rejects
	// the REAL that SQLite would otherwise store on integer overflow.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS credit_balances (
			user_id    TEXT PRIMARY KEY,
			credits    INTEGER NOT NULL DEFAULT 0
			           CHECK (typeof(credits) = 'integer' AND credits >= 0),
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating credit_balances table: %w", err)
	}

	// Insert-only; deliberately unindexed beyond the primary key.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS usage_events (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			org_id           TEXT,
			endpoint         TEXT NOT NULL,
			status_code      INTEGER NOT NULL,
			credits_consumed INTEGER NOT NULL DEFAULT 0,
			created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating usage_events table: %w", err)
	}

	return nil
}
