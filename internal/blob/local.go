package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore keeps blobs on the local filesystem. All file operations are scoped to a root directory using os.Root,
// which guarantees that no key can escape the base directory via traversal sequences, symbolic links, or OS-specific
// tricks.
type LocalStore struct {
	root *os.Root
}

// NewLocalStore creates a blob store that reads and writes files under basePath. The base directory must exist.
func NewLocalStore(basePath string) (*LocalStore, error) {
	root, err := os.OpenRoot(basePath)
	if err != nil {
		return nil, fmt.Errorf("open blob root %s: %w", basePath, err)
	}
	return &LocalStore{root: root}, nil
}

// Close releases the underlying root directory handle.
func (s *LocalStore) Close() error {
	return s.root.Close()
}

// Put writes the contents of r to the blob identified by key. Parent directories are created automatically. If the
// write fails partway through, the partially written file is removed.
func (s *LocalStore) Put(_ context.Context, key string, r io.Reader) error {
	dir := filepath.Dir(key)
	if dir != "." {
		if err := s.root.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create blob directory: %w", err)
		}
	}

	f, err := s.root.Create(key)
	if err != nil {
		return fmt.Errorf("create blob file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = s.root.Remove(key)
		return fmt.Errorf("write blob file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = s.root.Remove(key)
		return fmt.Errorf("close blob file: %w", err)
	}
	return nil
}

// Get opens the blob identified by key for reading. Returns ErrKeyNotFound when the blob does not exist.
func (s *LocalStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := s.root.Open(key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("open blob file: %w", err)
	}
	return f, nil
}

// Delete removes the blob at key. If the blob does not exist, no error is returned.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	if err := s.root.Remove(key); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob file: %w", err)
	}
	return nil
}

// DeletePrefix removes every blob under the given key prefix.
func (s *LocalStore) DeletePrefix(_ context.Context, prefix string) error {
	dir := filepath.Clean(prefix)
	if dir == "." || dir == "/" {
		return fmt.Errorf("refusing to delete blob root")
	}

	if err := s.root.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob prefix: %w", err)
	}
	return nil
}
