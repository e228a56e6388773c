// Package sqlite provides a durable storage backend on a single sqlite
// table, giving the auth slot a file-backed storage area outside the
// browser. sqlite serializes writers, so Set keeps the single-operation
// atomicity the slot store depends on.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/zebra-devops/MarketEdge-Platform-sub014/storage"
	_ "modernc.org/sqlite"
)

// Backend stores slot values in a kv table, one row per key.
type Backend struct {
	db *sql.DB
}

// New opens the database at dsn, creating it and the kv table if needed.
func New(dsn string) (*Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value BLOB NOT NULL)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

// Get returns the value stored at key. ok is false if key is absent.
func (b *Backend) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return value, true, nil
}

// Set stores value at key with a single upsert statement.
func (b *Backend) Set(key string, value []byte) error {
	_, err := b.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return mapErr(err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (b *Backend) Remove(key string) error {
	if _, err := b.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return mapErr(err)
	}
	return nil
}

// mapErr converts raw sqlite failures into the storage sentinels.
func mapErr(err error) error {
	if strings.Contains(err.Error(), "database or disk is full") {
		return fmt.Errorf("%w: %v", storage.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
}
