package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/tablerag/tablerag/internal/query"
)

// Open connects to the DuckDB file holding the imported source tables. An empty
// path opens an in-memory database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("open data store: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping data store: %w", err)
	}
	return db, nil
}

// ErrSealed is returned by imports once query execution has sealed the store.
var ErrSealed = errors.New("data store is sealed against external access")

var sealStatements = []string{
	"SET enable_external_access = false",
	"SET lock_configuration = true",
}

// Store runs queries and introspection against the relational data store.
// Tables named in exclude are hidden from introspection and cataloguing.
type Store struct {
	db      *sql.DB
	exclude map[string]struct{}

	sealOnce sync.Once
	sealErr  error
	sealed   atomic.Bool
}

func NewStore(db *sql.DB, exclude ...string) *Store {
	hidden := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		hidden[strings.ToLower(name)] = struct{}{}
	}
	return &Store{db: db, exclude: hidden}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Seal turns off file and network access for the rest of the database's life
// and locks the configuration so statements cannot turn it back on. The setting
// is instance-wide in DuckDB, so imports stop working once the store is sealed.
func (s *Store) Seal(ctx context.Context) error {
	s.sealOnce.Do(func() {
		sealCtx := context.WithoutCancel(ctx)
		for _, statement := range sealStatements {
			if _, err := s.db.ExecContext(sealCtx, statement); err != nil {
				s.sealErr = fmt.Errorf("seal data store: %w", err)
				return
			}
		}
		s.sealed.Store(true)
	})
	return s.sealErr
}

func (s *Store) Sealed() bool {
	return s.sealed.Load()
}

// Execute runs one query on the sealed store.
func (s *Store) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := query.StripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if err := s.Seal(ctx); err != nil {
		return query.Result{}, err
	}
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

type float64er interface {
	Float64() float64
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case float64er:
			normalized[i] = typed.Float64()
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func (s *Store) hidden(name string) bool {
	_, ok := s.exclude[strings.ToLower(name)]
	return ok
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
