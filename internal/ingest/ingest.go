package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/tablerag/tablerag/internal/observability"
	"github.com/tablerag/tablerag/internal/query/duckdb"
	"github.com/tablerag/tablerag/internal/storage"
)

var ErrUnsupportedFile = errors.New("ingest: unsupported file type")

type Importer interface {
	ImportFile(ctx context.Context, table, path string, opts duckdb.ImportOptions) (int64, error)
}

type Options struct {
	// Delimiter applies to .csv files; .tsv files always use a tab.
	Delimiter  string
	Extensions []string
}

type Imported struct {
	Table string `json:"table"`
	Path  string `json:"path"`
	Rows  int64  `json:"rows"`
}

type Failure struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Path, f.Err)
}

// Report lists what one import pass loaded. A failed file never stops the pass.
type Report struct {
	Imported []Imported
	Failures []Failure
}

func (r *Report) merge(other Report) {
	r.Imported = append(r.Imported, other.Imported...)
	r.Failures = append(r.Failures, other.Failures...)
}

type Service struct {
	importer   Importer
	delimiter  string
	extensions map[string]struct{}
	logger     *slog.Logger
}

func NewService(importer Importer, opts Options, logger *slog.Logger) (*Service, error) {
	if importer == nil {
		return nil, fmt.Errorf("importer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = []string{".csv", ".parquet"}
	}
	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	return &Service{importer: importer, delimiter: opts.Delimiter, extensions: allowed, logger: logger}, nil
}

// Accepts reports whether path has one of the configured extensions.
func (s *Service) Accepts(path string) bool {
	_, ok := s.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ImportPath imports a single file, or every accepted file below a directory in
// lexical order.
func (s *Service) ImportPath(ctx context.Context, path string) (Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Report{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return s.ImportFiles(ctx, []string{path}), nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if s.Accepts(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("walk %s: %w", path, err)
	}
	sort.Strings(files)
	return s.ImportFiles(ctx, files), nil
}

// ImportFiles imports each file into the table named after it. Two files that
// map to the same table in one pass keep the first.
func (s *Service) ImportFiles(ctx context.Context, files []string) Report {
	var report Report
	claimed := make(map[string]string, len(files))
	for _, path := range files {
		if ctx.Err() != nil {
			report.Failures = append(report.Failures, Failure{Path: path, Err: ctx.Err()})
			continue
		}
		table, err := TableName(path)
		if err != nil {
			report.Failures = append(report.Failures, Failure{Path: path, Err: err})
			continue
		}
		if previous, dup := claimed[table]; dup {
			report.Failures = append(report.Failures, Failure{
				Path: path,
				Err:  fmt.Errorf("table %q already imported from %s", table, previous),
			})
			continue
		}
		opts, err := s.optionsFor(path)
		if err != nil {
			report.Failures = append(report.Failures, Failure{Path: path, Err: err})
			continue
		}

		rows, err := s.importer.ImportFile(ctx, table, path, opts)
		if err != nil {
			observability.ObserveIngest("error", 0)
			s.logger.WarnContext(ctx, "source import failed", slog.String("path", path), slog.Any("error", err))
			report.Failures = append(report.Failures, Failure{Path: path, Err: err})
			continue
		}
		observability.ObserveIngest("ok", rows)
		claimed[table] = path
		report.Imported = append(report.Imported, Imported{Table: table, Path: path, Rows: rows})
		s.logger.InfoContext(ctx, "source imported", slog.String("table", table), slog.String("path", path), slog.Int64("rows", rows))
	}
	return report
}

// ImportObjects downloads accepted files under storage.SourcePrefix into
// cacheDir and imports them.
func (s *Service) ImportObjects(ctx context.Context, store storage.ObjectStore, cacheDir string) (Report, error) {
	if store == nil {
		return Report{}, fmt.Errorf("object store is required")
	}
	objects, err := store.List(ctx, storage.SourcePrefix)
	if err != nil {
		return Report{}, err
	}

	var report Report
	var files []string
	for _, object := range objects {
		name := storage.SourceName(object.Key)
		if name == "" || !s.Accepts(name) {
			continue
		}
		local := filepath.Join(cacheDir, name)
		if _, err := storage.DownloadFile(ctx, store, object.Key, local); err != nil {
			report.Failures = append(report.Failures, Failure{Path: object.Key, Err: err})
			continue
		}
		files = append(files, local)
	}
	report.merge(s.ImportFiles(ctx, files))
	return report, nil
}

func (s *Service) optionsFor(path string) (duckdb.ImportOptions, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		delimiter := s.delimiter
		if delimiter == "" {
			delimiter = ";"
		}
		return duckdb.ImportOptions{Format: duckdb.FormatCSV, Delimiter: delimiter}, nil
	case ".tsv":
		return duckdb.ImportOptions{Format: duckdb.FormatCSV, Delimiter: "\t"}, nil
	case ".parquet":
		return duckdb.ImportOptions{Format: duckdb.FormatParquet}, nil
	default:
		return duckdb.ImportOptions{}, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(path))
	}
}

// TableName derives a table identifier from a file name: lowercased, with any
// run of characters outside [a-z0-9] collapsed to one underscore.
func TableName(path string) (string, error) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(base) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	name := b.String()
	if name == "" {
		return "", fmt.Errorf("cannot derive a table name from %q", filepath.Base(path))
	}
	if unicode.IsDigit(rune(name[0])) {
		name = "t_" + name
	}
	return name, nil
}
