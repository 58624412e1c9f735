package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/decred/slog"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// DB is the sqlite backed Store and Journal. Every row belongs to a scope,
// which plays the part of a browser tab: two clients sharing a data dir
// but started with different scopes do not see each other's token.
type DB struct {
	*sql.DB
	scope string
	log   slog.Logger
}

// NewDB opens (creating if needed) the database at dbPath.
func NewDB(dbPath, scope string, log slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Disabled
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %v", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Debugf("Opened store %s (scope %q)", dbPath, scope)
	return &DB{DB: db, scope: scope, log: log}, nil
}

// createTables creates the necessary database tables
func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			scope TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (scope, key)
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS spins (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scope TEXT NOT NULL,
			kind TEXT NOT NULL,
			bet TEXT NOT NULL,
			win TEXT NOT NULL,
			balance TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	return nil
}

func (db *DB) Get(key string) (string, error) {
	var v string
	err := db.QueryRow("SELECT value FROM kv WHERE scope = ? AND key = ?",
		db.scope, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %v", key, err)
	}
	return v, nil
}

func (db *DB) Put(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO kv (scope, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, db.scope, key, value)
	if err != nil {
		return fmt.Errorf("failed to put %s: %v", key, err)
	}
	return nil
}

func (db *DB) Delete(key string) error {
	_, err := db.Exec("DELETE FROM kv WHERE scope = ? AND key = ?", db.scope, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %v", key, err)
	}
	return nil
}

func (db *DB) Clear() error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM kv WHERE scope = ?", db.scope); err != nil {
		return fmt.Errorf("failed to clear scope: %v", err)
	}
	if _, err := tx.Exec("DELETE FROM spins WHERE scope = ?", db.scope); err != nil {
		return fmt.Errorf("failed to clear journal: %v", err)
	}
	db.log.Debugf("Cleared scope %q", db.scope)
	return tx.Commit()
}

func (db *DB) AppendSpin(e SpinEntry) error {
	ts := e.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO spins (scope, kind, bet, win, balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, db.scope, e.Kind, e.Bet.String(), e.Win.String(), e.Balance.String(),
		ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record spin: %v", err)
	}
	return nil
}

// RecentSpins returns up to limit entries, newest first.
func (db *DB) RecentSpins(limit int) ([]SpinEntry, error) {
	rows, err := db.Query(`
		SELECT kind, bet, win, balance, created_at FROM spins
		WHERE scope = ? ORDER BY id DESC LIMIT ?
	`, db.scope, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query spins: %v", err)
	}
	defer rows.Close()

	var res []SpinEntry
	for rows.Next() {
		var (
			e                 SpinEntry
			bet, win, balance string
			ts                int64
		)
		if err := rows.Scan(&e.Kind, &bet, &win, &balance, &ts); err != nil {
			return nil, err
		}
		if e.Bet, err = decimal.NewFromString(bet); err != nil {
			return nil, fmt.Errorf("bad bet %q: %v", bet, err)
		}
		if e.Win, err = decimal.NewFromString(win); err != nil {
			return nil, fmt.Errorf("bad win %q: %v", win, err)
		}
		if e.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("bad balance %q: %v", balance, err)
		}
		e.CreatedAt = time.UnixMilli(ts)
		res = append(res, e)
	}
	return res, rows.Err()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
