package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// execer is the subset of *sql.DB and *sql.Tx used by writes.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Get returns the value stored at key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM entries WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Set stores value at key, replacing any existing value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := put(ctx, s.db, key, value); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Remove deletes key and reports whether it existed.
func (s *Store) Remove(ctx context.Context, key string) (bool, error) {
	n, err := del(ctx, s.db, key)
	if err != nil {
		return false, fmt.Errorf("remove %q: %w", key, err)
	}
	return n > 0, nil
}

// Exists reports whether key has a value.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM entries WHERE key = ?", key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %q: %w", key, err)
	}
	return true, nil
}

// Size returns the length in bytes of the value at key, or ErrNotFound.
func (s *Store) Size(ctx context.Context, key string) (int, error) {
	var size int
	err := s.db.QueryRowContext(ctx, "SELECT length(value) FROM entries WHERE key = ?", key).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("size %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("size %q: %w", key, err)
	}
	return size, nil
}

// Keys lists every key starting with prefix in ascending byte order.
// An empty prefix lists all keys.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM entries
		WHERE substr(key, 1, length(?1)) = ?1
		ORDER BY key COLLATE BINARY ASC
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("keys %q: %w", prefix, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("keys %q: scan: %w", prefix, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keys %q: %w", prefix, err)
	}
	return keys, nil
}

// Recent lists up to limit keys under prefix, most recently written first.
func (s *Store) Recent(ctx context.Context, prefix string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM entries
		WHERE substr(key, 1, length(?1)) = ?1
		ORDER BY updated_seq DESC, key COLLATE BINARY ASC
		LIMIT ?2
	`, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("recent %q: %w", prefix, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("recent %q: scan: %w", prefix, err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func put(ctx context.Context, x execer, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := x.ExecContext(ctx, `
		INSERT INTO entries (key, value, updated_seq)
		VALUES (?1, ?2, (SELECT COALESCE(MAX(updated_seq), 0) + 1 FROM entries))
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_seq = excluded.updated_seq
	`, key, value)
	return err
}

func del(ctx context.Context, x execer, key string) (int64, error) {
	res, err := x.ExecContext(ctx, "DELETE FROM entries WHERE key = ?", key)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
