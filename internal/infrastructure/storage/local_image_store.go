package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tradejournal/backend/internal/domain/journal"
)

// Ensure LocalImageStore implements ImageStore
var _ journal.ImageStore = (*LocalImageStore)(nil)

// ErrInvalidKey is returned for storage keys that would leave the store root
var ErrInvalidKey = errors.New("invalid storage key")

// LocalImageStore keeps images on the local filesystem under a root directory.
// It is meant for development and single-node deployments.
type LocalImageStore struct {
	root string
}

// NewLocalImageStore creates a store rooted at dir, creating it if needed
func NewLocalImageStore(dir string) (*LocalImageStore, error) {
	if dir == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalImageStore{root: dir}, nil
}

// Put writes an image
func (s *LocalImageStore) Put(ctx context.Context, storageKey string, data []byte) error {
	path, err := s.path(storageKey)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}

// Delete removes an image. A missing file counts as deleted.
func (s *LocalImageStore) Delete(ctx context.Context, storageKey string) error {
	path, err := s.path(storageKey)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

// Exists checks if an image exists
func (s *LocalImageStore) Exists(ctx context.Context, storageKey string) (bool, error) {
	path, err := s.path(storageKey)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat image: %w", err)
	}
}

func (s *LocalImageStore) path(storageKey string) (string, error) {
	if storageKey == "" {
		return "", fmt.Errorf("%w: storage key is required", ErrInvalidKey)
	}
	cleaned := filepath.Clean(filepath.FromSlash(storageKey))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, storageKey)
	}
	return filepath.Join(s.root, cleaned), nil
}
