package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const recordFileExt = ".json"

// FileSystemBackend implements Backend with one JSON file per key
type FileSystemBackend struct {
	rootDir string
}

// NewFileSystemBackend creates a new filesystem-based backend
func NewFileSystemBackend(rootDir string) (*FileSystemBackend, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", mapFSError(err))
	}
	return &FileSystemBackend{rootDir: rootDir}, nil
}

func (s *FileSystemBackend) path(key string) string {
	return filepath.Join(s.rootDir, url.PathEscape(key)+recordFileExt)
}

// Get implements Backend.Get
func (s *FileSystemBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read record file: %w", mapFSError(err))
	}
	return data, nil
}

// Put implements Backend.Put. The file is written to a temporary name and
// renamed so readers never observe a partially written record.
func (s *FileSystemBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := s.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write record file: %w", mapFSError(err))
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit record file: %w", mapFSError(err))
	}
	return nil
}

// Delete implements Backend.Delete
func (s *FileSystemBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete record file: %w", mapFSError(err))
	}
	return nil
}

// Keys implements Backend.Keys
func (s *FileSystemBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read root directory: %w", mapFSError(err))
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordFileExt) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, recordFileExt))
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Backend.Close
func (s *FileSystemBackend) Close() error {
	return nil
}

// Root returns the directory records are stored in
func (s *FileSystemBackend) Root() string {
	return s.rootDir
}

// mapFSError translates permission failures into ErrAccessDenied and a full
// disk into ErrQuotaExceeded.
func mapFSError(err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	case isNoSpace(err):
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	default:
		return err
	}
}
