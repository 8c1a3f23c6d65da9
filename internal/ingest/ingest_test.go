package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tablerag/tablerag/internal/catalog"
	"github.com/tablerag/tablerag/internal/query"
	"github.com/tablerag/tablerag/internal/query/duckdb"
	"github.com/tablerag/tablerag/internal/storage"
)

func TestTableName(t *testing.T) {
	tests := map[string]string{
		"/data/Inventory.csv":          "inventory",
		"sales 2024 (final).parquet":   "sales_2024_final",
		"2024-orders.csv":              "t_2024_orders",
		"__weird__--name.csv":          "weird_name",
		"customers.v2.csv":             "customers_v2",
	}
	for input, want := range tests {
		got, err := TableName(input)
		if err != nil {
			t.Fatalf("TableName(%q) error = %v", input, err)
		}
		if got != want {
			t.Fatalf("TableName(%q) = %q, want %q", input, got, want)
		}
	}
	if _, err := TableName("---.csv"); err == nil {
		t.Fatal("TableName() expected error for name without usable characters")
	}
}

func TestImportPathWalksDirectoryAndRecordsFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b_sales.parquet"), "x")
	writeFile(t, filepath.Join(dir, "a_inventory.csv"), "x")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "broken.csv"), "x")
	writeFile(t, filepath.Join(dir, ".hidden", "secret.csv"), "x")

	importer := &fakeImporter{failTables: map[string]bool{"broken": true}}
	service := newTestService(t, importer)

	report, err := service.ImportPath(context.Background(), dir)
	if err != nil {
		t.Fatalf("ImportPath() error = %v", err)
	}
	if len(report.Imported) != 2 {
		t.Fatalf("Imported = %#v", report.Imported)
	}
	if report.Imported[0].Table != "a_inventory" || report.Imported[1].Table != "b_sales" {
		t.Fatalf("Imported order = %#v", report.Imported)
	}
	if len(report.Failures) != 1 || !strings.HasSuffix(report.Failures[0].Path, "broken.csv") {
		t.Fatalf("Failures = %#v", report.Failures)
	}

	if importer.calls["a_inventory"].Format != duckdb.FormatCSV || importer.calls["a_inventory"].Delimiter != ";" {
		t.Fatalf("csv options = %#v", importer.calls["a_inventory"])
	}
	if importer.calls["b_sales"].Format != duckdb.FormatParquet {
		t.Fatalf("parquet options = %#v", importer.calls["b_sales"])
	}
	if _, ok := importer.calls["secret"]; ok {
		t.Fatal("files under hidden directories should be skipped")
	}
}

func TestImportFilesKeepsFirstTableClaim(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "inventory.csv")
	second := filepath.Join(dir, "inventory.parquet")
	writeFile(t, first, "x")
	writeFile(t, second, "x")

	service := newTestService(t, &fakeImporter{})
	report := service.ImportFiles(context.Background(), []string{first, second})
	if len(report.Imported) != 1 || report.Imported[0].Path != first {
		t.Fatalf("Imported = %#v", report.Imported)
	}
	if len(report.Failures) != 1 || report.Failures[0].Path != second {
		t.Fatalf("Failures = %#v", report.Failures)
	}
}

func TestImportFilesRejectsUnsupportedExtension(t *testing.T) {
	service := newTestService(t, &fakeImporter{})
	report := service.ImportFiles(context.Background(), []string{"/tmp/readme.md"})
	if len(report.Failures) != 1 || !errors.Is(report.Failures[0].Err, ErrUnsupportedFile) {
		t.Fatalf("Failures = %#v", report.Failures)
	}
}

func TestImportPathIntoDuckDB(t *testing.T) {
	db, err := duckdb.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := duckdb.NewStore(db, catalog.TableName)

	dir := t.TempDir()
	path := filepath.Join(dir, "Inventory.csv")
	writeFile(t, path, "item;quantity\nApple;10\nPear;4\n")

	service, err := NewService(store, Options{Delimiter: ";"}, discardLogger())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	report, err := service.ImportPath(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportPath() error = %v", err)
	}
	if len(report.Failures) != 0 {
		t.Fatalf("Failures = %#v", report.Failures)
	}
	if len(report.Imported) != 1 || report.Imported[0].Rows != 2 || report.Imported[0].Table != "inventory" {
		t.Fatalf("Imported = %#v", report.Imported)
	}

	result, err := store.Execute(context.Background(), query.Request{SQL: "SELECT quantity FROM inventory WHERE item = 'Apple'"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("rows = %#v", result.Rows)
	}
}

func TestImportObjectsDownloadsSources(t *testing.T) {
	objects := &memoryStore{objects: map[string][]byte{
		"sources/inventory.csv":  []byte("item;quantity\nApple;10\n"),
		"sources/readme.md":      []byte("skip"),
		"kb/snapshots/index.bin": []byte("skip"),
	}}
	importer := &fakeImporter{}
	service := newTestService(t, importer)

	cacheDir := t.TempDir()
	report, err := service.ImportObjects(context.Background(), objects, cacheDir)
	if err != nil {
		t.Fatalf("ImportObjects() error = %v", err)
	}
	if len(report.Imported) != 1 || report.Imported[0].Table != "inventory" {
		t.Fatalf("Imported = %#v", report.Imported)
	}
	data, err := os.ReadFile(filepath.Join(cacheDir, "inventory.csv"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "item;quantity") {
		t.Fatalf("downloaded = %q", data)
	}
}

func TestWatcherCoalescesChanges(t *testing.T) {
	dir := t.TempDir()
	service := newTestService(t, &fakeImporter{})
	watcher := NewWatcher(service, 100*time.Millisecond, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	changes := make(chan []string, 4)
	done := make(chan error, 1)
	go func() {
		done <- watcher.Watch(ctx, dir, func(_ context.Context, paths []string) error {
			changes <- paths
			return nil
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "inventory.csv"), "item\nApple\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	select {
	case paths := <-changes:
		if len(paths) != 1 || filepath.Base(paths[0]) != "inventory.csv" {
			t.Fatalf("changed paths = %#v", paths)
		}
		if existing := Existing(paths); len(existing) != 1 {
			t.Fatalf("Existing() = %#v", existing)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for change notification")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
}

func newTestService(t *testing.T, importer Importer) *Service {
	t.Helper()
	service, err := NewService(importer, Options{Delimiter: ";", Extensions: []string{".csv", "parquet"}}, discardLogger())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return service
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

type fakeImporter struct {
	failTables map[string]bool
	calls      map[string]duckdb.ImportOptions
}

func (f *fakeImporter) ImportFile(_ context.Context, table, _ string, opts duckdb.ImportOptions) (int64, error) {
	if f.calls == nil {
		f.calls = map[string]duckdb.ImportOptions{}
	}
	f.calls[table] = opts
	if f.failTables[table] {
		return 0, errors.New("Invalid Input Error: malformed file")
	}
	return 1, nil
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}
