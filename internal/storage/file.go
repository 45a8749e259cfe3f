package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const recordExt = ".json"

// FileStorage keeps one file per account in a directory. Writes go to a
// temporary file that is synced and renamed over the record.
type FileStorage struct {
	dir string
}

// NewFileStorage creates the directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		return nil, errors.New("file storage needs a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

func (f *FileStorage) path(owner string) string {
	return filepath.Join(f.dir, url.PathEscape(owner)+recordExt)
}

// Load reads owner's record file.
func (f *FileStorage) Load(ctx context.Context, owner string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(owner))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, owner)
	}
	return data, err
}

// Store writes data to a temp file, fsyncs it and renames it into place.
func (f *FileStorage) Store(ctx context.Context, owner string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := f.path(owner)
	tmp, err := os.CreateTemp(f.dir, ".record-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close record: %w", err)
	}
	if err := ctx.Err(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

// Delete removes owner's record file.
func (f *FileStorage) Delete(ctx context.Context, owner string) error {
	err := os.Remove(f.path(owner))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Owners lists accounts with a record file.
func (f *FileStorage) Owners(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var owners []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		owner, err := url.PathUnescape(strings.TrimSuffix(name, recordExt))
		if err != nil {
			continue
		}
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners, nil
}

// Close closes the storage backend.
func (f *FileStorage) Close() error {
	return nil
}
