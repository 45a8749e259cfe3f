// Package storage implements the durable stores that hold one encoded record per account.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/zot/qrcanvas/internal/config"
)

// ErrNotFound reports an account with no stored record.
var ErrNotFound = errors.New("record not found")

// Backend defines the interface for storage backends. Records are opaque to the
// backend; Store replaces the whole record atomically.
type Backend interface {
	// Load retrieves the record for owner, or ErrNotFound.
	Load(ctx context.Context, owner string) ([]byte, error)

	// Store replaces the record for owner.
	Store(ctx context.Context, owner string, data []byte) error

	// Delete removes the record for owner. Deleting a missing record is not an error.
	Delete(ctx context.Context, owner string) error

	// Owners lists accounts with a stored record.
	Owners(ctx context.Context) ([]string, error)

	// Close closes the storage backend.
	Close() error
}

// Open creates the backend named by cfg.Storage.Type.
func Open(cfg *config.Config) (Backend, error) {
	switch cfg.Storage.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.Storage.Path)
	case "sqlite":
		return NewSQLiteStorage(cfg.Storage.Path)
	case "postgresql", "postgres":
		return NewPostgresStorage(cfg.Storage.URL)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}
