package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStorage is a SQLite storage backend.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// single writer; WAL lets readers proceed
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStorage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// init creates the necessary tables.
func (s *SQLiteStorage) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			owner_id TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	return err
}

// Load retrieves owner's record.
func (s *SQLiteStorage) Load(ctx context.Context, owner string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE owner_id = ?`, owner).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, owner)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Store replaces owner's record in one statement.
func (s *SQLiteStorage) Store(ctx context.Context, owner string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (owner_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, owner, data, time.Now().UnixMilli())
	return err
}

// Delete removes owner's record.
func (s *SQLiteStorage) Delete(ctx context.Context, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE owner_id = ?`, owner)
	return err
}

// Owners lists accounts with a record.
func (s *SQLiteStorage) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT owner_id FROM records ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
