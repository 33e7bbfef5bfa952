package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidKey indicates an object key that would escape the store root.
var ErrInvalidKey = errors.New("invalid object key")

const (
	storeDirPermissions  = 0o750
	storeFilePermissions = 0o600
)

// FSObjectStore implements core.ObjectStore on a local directory. Logical
// keys map directly to relative file paths under the root. Intended for
// single-node deployments and tests.
type FSObjectStore struct {
	root string
}

// NewFSObjectStore creates the root directory if needed.
func NewFSObjectStore(root string) (*FSObjectStore, error) {
	err := os.MkdirAll(root, storeDirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create object store root '%s': %w", root, err)
	}

	return &FSObjectStore{root: root}, nil
}

// Upload writes an object under the given key, replacing any previous value.
func (f *FSObjectStore) Upload(_ context.Context, key string, data []byte) error {
	path, err := f.resolve(key)
	if err != nil {
		return err
	}

	mkdirErr := os.MkdirAll(filepath.Dir(path), storeDirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf("failed to create directory for object '%s': %w", key, mkdirErr)
	}

	writeErr := os.WriteFile(path, data, storeFilePermissions)
	if writeErr != nil {
		return fmt.Errorf("failed to write object '%s': %w", key, writeErr)
	}

	return nil
}

// Download retrieves an object by key.
func (f *FSObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	path, err := f.resolve(key)
	if err != nil {
		return nil, err
	}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	return data, nil
}

// Delete removes an object by key.
func (f *FSObjectStore) Delete(_ context.Context, key string) error {
	path, err := f.resolve(key)
	if err != nil {
		return err
	}

	removeErr := os.Remove(path)
	if removeErr != nil {
		return fmt.Errorf("failed to delete object '%s': %w", key, removeErr)
	}

	return nil
}

// resolve maps a logical key to an absolute path and rejects keys that would
// escape the store root.
func (f *FSObjectStore) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	cleaned := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: '%s'", ErrInvalidKey, key)
	}

	return filepath.Join(f.root, cleaned), nil
}
