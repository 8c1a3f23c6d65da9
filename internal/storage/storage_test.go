package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotKey(t *testing.T) {
	key, err := SnapshotKey("index.bin")
	if err != nil {
		t.Fatalf("SnapshotKey() error = %v", err)
	}
	if key != "kb/snapshots/index.bin" {
		t.Fatalf("key = %q", key)
	}
	if _, err := SnapshotKey("../index.bin"); err == nil {
		t.Fatal("expected validation error for traversal")
	}
}

func TestEntitiesExportKey(t *testing.T) {
	key, err := EntitiesExportKey("b-123")
	if err != nil {
		t.Fatalf("EntitiesExportKey() error = %v", err)
	}
	if key != "kb/exports/entities-b-123.parquet" {
		t.Fatalf("key = %q", key)
	}
	if _, err := EntitiesExportKey(""); err == nil {
		t.Fatal("expected validation error for empty build id")
	}
}

func TestSourceName(t *testing.T) {
	tests := map[string]string{
		"sources/inventory.csv":       "inventory.csv",
		"sources/2024/sales.parquet":  "sales.parquet",
		"sources/":                    "",
		"sources/archive/":            "",
		"kb/snapshots/index.bin":      "",
	}
	for key, want := range tests {
		if got := SourceName(key); got != want {
			t.Fatalf("SourceName(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestUploadAndDownloadFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "index.bin")
	if err := os.WriteFile(src, []byte("snapshot-bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	store := newMemoryStore()
	info, err := UploadFile(context.Background(), store, "kb/snapshots/index.bin", src, "application/octet-stream")
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	if info.Size != int64(len("snapshot-bytes")) {
		t.Fatalf("info.Size = %d", info.Size)
	}

	dst := filepath.Join(dir, "restored", "index.bin")
	written, err := DownloadFile(context.Background(), store, "kb/snapshots/index.bin", dst)
	if err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
	if written != info.Size {
		t.Fatalf("written = %d, want %d", written, info.Size)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "snapshot-bytes" {
		t.Fatalf("downloaded = %q", data)
	}
}

func TestDownloadFileMissingObject(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "index.bin")
	_, err := DownloadFile(context.Background(), newMemoryStore(), "kb/snapshots/index.bin", dst)
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("DownloadFile() error = %v, want ErrObjectNotFound", err)
	}
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Fatalf("destination should not exist, stat error = %v", statErr)
	}
}

type memoryStore struct {
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ PutOptions) (ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return ObjectInfo{}, err
	}
	m.objects[key] = data
	return ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for key, data := range m.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}
