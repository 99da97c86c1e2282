package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// SQLiteStore is a persistent store backed by the kv_store table.
// Every store instance owns one bucket so several installations of
// variables can share a database file.
type SQLiteStore struct {
	db     *sql.DB
	bucket string
}

// NewSQLiteStore creates a new SQLite-backed store for the given bucket.
func NewSQLiteStore(db *sql.DB, bucket string) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		bucket: bucket,
	}
}

// Get retrieves a value by key.
func (s *SQLiteStore) Get(key string) (float64, bool, error) {
	var valueStr string

	err := s.db.QueryRow(`
		SELECT value FROM kv_store
		WHERE bucket = ? AND key = ?
	`, s.bucket, key).Scan(&valueStr)

	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get value: %w", err)
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse value of %s: %w", key, err)
	}

	return value, true, nil
}

// Set saves a value with the given key. The archive flag is handled by
// WithArchive, the table only keeps the latest value.
func (s *SQLiteStore) Set(key string, value float64, _ bool) error {
	now := time.Now().UTC().Unix()

	_, err := s.db.Exec(`
		INSERT INTO kv_store (bucket, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, s.bucket, key, strconv.FormatFloat(value, 'g', -1, 64), now, now)

	if err != nil {
		return fmt.Errorf("failed to store value: %w", err)
	}

	return nil
}

// Clear removes all keys from the bucket.
func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec(`DELETE FROM kv_store WHERE bucket = ?`, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to clear bucket: %w", err)
	}
	return nil
}
