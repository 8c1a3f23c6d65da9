package kb

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tablerag/tablerag/internal/storage"
)

// SnapshotMirror copies the local snapshot file to and from an object store.
type SnapshotMirror struct {
	store storage.ObjectStore
	key   string
}

func NewSnapshotMirror(store storage.ObjectStore, name string) (*SnapshotMirror, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	key, err := storage.SnapshotKey(name)
	if err != nil {
		return nil, err
	}
	return &SnapshotMirror{store: store, key: key}, nil
}

func (m *SnapshotMirror) Key() string {
	return m.key
}

func (m *SnapshotMirror) Upload(ctx context.Context, path string) error {
	if _, err := storage.UploadFile(ctx, m.store, m.key, path, "application/octet-stream"); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	return nil
}

// Download fetches the mirrored snapshot into path. It returns false when the
// store holds no snapshot.
func (m *SnapshotMirror) Download(ctx context.Context, path string) (bool, error) {
	if _, err := storage.DownloadFile(ctx, m.store, m.key, path); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("download snapshot: %w", err)
	}
	return true, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
