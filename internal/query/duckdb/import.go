package duckdb

import (
	"context"
	"fmt"
	"strings"
)

type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
)

type ImportOptions struct {
	Format    FileFormat
	Delimiter string
}

// ImportFile loads a local CSV or Parquet file into table, replacing any table of
// the same name, and returns the imported row count.
func (s *Store) ImportFile(ctx context.Context, table, path string, opts ImportOptions) (int64, error) {
	if strings.TrimSpace(table) == "" {
		return 0, fmt.Errorf("table name is required")
	}
	if s.hidden(table) {
		return 0, fmt.Errorf("table name %q is reserved", table)
	}
	if s.Sealed() {
		return 0, fmt.Errorf("import %s into %q: %w", path, table, ErrSealed)
	}

	var source string
	switch opts.Format {
	case FormatCSV:
		delimiter := opts.Delimiter
		if delimiter == "" {
			delimiter = ","
		}
		source = fmt.Sprintf("read_csv_auto(%s, delim = %s, header = true)", quoteString(path), quoteString(delimiter))
	case FormatParquet:
		source = fmt.Sprintf("read_parquet(%s)", quoteString(path))
	default:
		return 0, fmt.Errorf("unsupported file format %q", opts.Format)
	}

	statement := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM %s", quoteIdent(table), source)
	if _, err := s.db.ExecContext(ctx, statement); err != nil {
		return 0, fmt.Errorf("import %s into %q: %w", path, table, err)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table))).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows of %q: %w", table, err)
	}
	return count, nil
}
