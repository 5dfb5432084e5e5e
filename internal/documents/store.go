// Package documents stores uploaded attachment bytes. Aggregates keep only
// the returned metadata.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/p2p/internal/shared"
)

// Object describes a stored document.
type Object struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// FileStore keeps documents under a root directory, one file per key.
type FileStore struct {
	root    string
	maxSize int64
}

// DefaultMaxSize bounds a single upload.
const DefaultMaxSize = 20 << 20

// NewFileStore prepares root and returns a store.
func NewFileStore(root string, maxSize int64) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("documents: storage dir required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("documents: prepare %s: %w", root, err)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &FileStore{root: root, maxSize: maxSize}, nil
}

// Put writes r under a fresh key.
func (s *FileStore) Put(ctx context.Context, name string, r io.Reader) (Object, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return Object{}, shared.NewValidationError("name", "required")
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	key := uuid.NewString() + filepath.Ext(name)
	path := s.path(key)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return Object{}, fmt.Errorf("documents: create: %w: %v", shared.ErrDependencyFailure, err)
	}
	n, err := io.Copy(f, io.LimitReader(r, s.maxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.maxSize {
		err = shared.NewValidationError("file", fmt.Sprintf("exceeds %d bytes", s.maxSize))
	}
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, shared.ErrValidation) {
			return Object{}, err
		}
		return Object{}, fmt.Errorf("documents: write: %w: %v", shared.ErrDependencyFailure, err)
	}
	return Object{Key: key, Name: name, Size: n}, nil
}

// Open returns the stored bytes for key.
func (s *FileStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := uuid.Parse(strings.TrimSuffix(key, filepath.Ext(key))); err != nil {
		return nil, shared.NewValidationError("key", "malformed")
	}
	f, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("documents: %s: %w", key, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("documents: open: %w: %v", shared.ErrDependencyFailure, err)
	}
	return f, nil
}

// Delete removes the stored bytes; a missing key is not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("documents: delete: %w: %v", shared.ErrDependencyFailure, err)
	}
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, filepath.Base(key))
}
