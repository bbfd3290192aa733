// Package sqlite persists candles, engine snapshots, and the signal ledger
// in a single WAL-mode database file.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// open returns a connection pool for the database at path with WAL mode,
// relaxed sync, and a busy timeout so concurrent readers never hard-fail.
func open(path string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	return db, nil
}

// createSchema is idempotent; every opener that writes runs it so the store
// works standalone in backtests and tests.
func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol    TEXT    NOT NULL,
			tf        INTEGER NOT NULL,
			open_time INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    INTEGER,
			count     INTEGER,
			PRIMARY KEY (symbol, tf, open_time)
		);

		CREATE TABLE IF NOT EXISTS alerts_sent (
			id        TEXT    PRIMARY KEY,
			symbol    TEXT    NOT NULL,
			tf        INTEGER NOT NULL,
			open_time INTEGER NOT NULL,
			direction TEXT    NOT NULL,
			strength  TEXT,
			sent_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE TABLE IF NOT EXISTS engine_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}
