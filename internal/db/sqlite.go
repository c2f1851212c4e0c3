// Package db provides SQLite open helpers shared by every overstory store.
//
// Each store (sessions, mail, merge queue, events, metrics) is an
// independent single-file database under <project>/.overstory/, opened in
// WAL mode with a single writer connection per process.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// busyTimeout keeps concurrent read-only openers (hook commands,
	// dashboards) from failing with "database is locked".
	busyTimeout = 5 * time.Second

	// readerConns is the number of concurrent read connections. WAL mode
	// allows many readers alongside the single writer.
	readerConns = 4
)

// OpenSQLite opens a SQLite database configured for writes (single connection).
func OpenSQLite(dbPath string) (*sqlx.DB, error) {
	normalizedPath := normalizePath(dbPath)
	if err := ensureDir(normalizedPath); err != nil {
		return nil, &StoreError{Op: "open", Store: dbPath, Err: fmt.Errorf("prepare database path: %w", err)}
	}
	if err := ensureFile(normalizedPath); err != nil {
		return nil, &StoreError{Op: "open", Store: dbPath, Err: fmt.Errorf("create database file: %w", err)}
	}

	// Writer DSN settings:
	// - foreign_keys=on: enforce FK constraints consistently.
	// - busy_timeout: wait briefly on locks instead of failing.
	// - journal_mode=WAL: readers proceed alongside the single writer.
	// - synchronous=NORMAL: durability/perf tradeoff suited to app workloads.
	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		normalizedPath,
		int(busyTimeout/time.Millisecond),
	)
	conn, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, &StoreError{Op: "open", Store: dbPath, Err: err}
	}

	// Single writer connection: serializes writes and avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	return conn, nil
}

// OpenSQLiteReader opens a read-only SQLite connection pool with multiple
// concurrent connections for stores that are polled while another process
// writes (the watchdog, the feed server, hook commands).
func OpenSQLiteReader(dbPath string) (*sqlx.DB, error) {
	normalizedPath := normalizePath(dbPath)

	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=ro&_busy_timeout=%d",
		normalizedPath,
		int(busyTimeout/time.Millisecond),
	)
	conn, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, &StoreError{Op: "open", Store: dbPath, Err: err}
	}

	conn.SetMaxOpenConns(readerConns)
	conn.SetMaxIdleConns(readerConns)

	return conn, nil
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func ensureFile(dbPath string) error {
	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}

func normalizePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return dbPath
	}
	return abs
}
