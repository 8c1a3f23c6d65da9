package catalog

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

// TableName is the relational table holding the entity catalogue.
const TableName = "entities"

type EntityType string

const (
	EntityTable  EntityType = "table"
	EntityColumn EntityType = "column"
	EntityField  EntityType = "field"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityTable, EntityColumn, EntityField:
		return true
	default:
		return false
	}
}

// Entity is one described item of the knowledge base. ID doubles as the vector
// index key.
type Entity struct {
	ID          int64      `json:"id"`
	Type        EntityType `json:"entity_type"`
	Name        string     `json:"entity_name"`
	Description string     `json:"entity_description"`
}

// ColumnKind is fixed once per column at catalogue-build time.
type ColumnKind int

const (
	KindOther ColumnKind = iota
	KindText
	KindNumeric
)

func (k ColumnKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumeric:
		return "numeric"
	default:
		return "other"
	}
}

type Column struct {
	Name     string
	DataType string
	Kind     ColumnKind
	// Values holds the distinct non-empty values of a text column.
	Values []string
}

type Table struct {
	Name    string
	Columns []Column
}

type TableSource interface {
	ListTables(ctx context.Context) ([]string, error)
	LoadTable(ctx context.Context, name string, maxValues int) (Table, error)
}

type Reader interface {
	GetEntityByID(ctx context.Context, id int64) (Entity, error)
	GetEntitiesByIDs(ctx context.Context, ids []int64) (map[int64]Entity, error)
	CountEntities(ctx context.Context) (int64, error)
	ListEntityIDs(ctx context.Context) ([]int64, error)
}

type Writer interface {
	ReplaceEntities(ctx context.Context, entities []Entity) error
}

// BuildRecord is the audit row written after each successful knowledge-base build.
type BuildRecord struct {
	BuildID        string    `json:"build_id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	EntityCount    int64     `json:"entity_count"`
	TableCount     int64     `json:"table_count"`
	FailedTables   []string  `json:"failed_tables,omitempty"`
	EmbeddingModel string    `json:"embedding_model"`
	SnapshotPath   string    `json:"snapshot_path"`
}

type BuildLog interface {
	RecordBuild(ctx context.Context, record BuildRecord) error
	LatestBuild(ctx context.Context) (BuildRecord, error)
}

type Repository interface {
	Reader
	Writer
	BuildLog
	HealthCheck(ctx context.Context) error
}

// KindOf maps a declared DuckDB/Postgres column type onto a ColumnKind.
func KindOf(dataType string) ColumnKind {
	base := baseType(dataType)
	switch base {
	case "VARCHAR", "CHAR", "BPCHAR", "TEXT", "STRING", "CHARACTER VARYING", "CHARACTER", "NVARCHAR":
		return KindText
	case "TINYINT", "SMALLINT", "INTEGER", "INT", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT", "UHUGEINT",
		"INT1", "INT2", "INT4", "INT8", "FLOAT", "FLOAT4", "FLOAT8", "REAL",
		"DOUBLE", "DOUBLE PRECISION", "DECIMAL", "NUMERIC":
		return KindNumeric
	default:
		return KindOther
	}
}

// DataTypePhrase renders a declared type the way entity descriptions read it.
func DataTypePhrase(dataType string) string {
	base := baseType(dataType)
	switch base {
	case "TINYINT", "SMALLINT", "INTEGER", "INT", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT", "UHUGEINT",
		"INT1", "INT2", "INT4", "INT8":
		return "integer"
	case "FLOAT", "FLOAT4", "FLOAT8", "REAL", "DOUBLE", "DOUBLE PRECISION", "DECIMAL", "NUMERIC":
		return "decimal"
	case "BOOLEAN", "BOOL":
		return "boolean"
	case "DATE", "TIME", "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE", "INTERVAL",
		"TIMESTAMP_S", "TIMESTAMP_MS", "TIMESTAMP_NS", "DATETIME":
		return "date/time"
	}
	if KindOf(dataType) == KindText {
		return "text"
	}
	if base == "" {
		return "unknown"
	}
	return strings.ToLower(base)
}

func baseType(dataType string) string {
	base := strings.ToUpper(strings.TrimSpace(dataType))
	if idx := strings.Index(base, "("); idx >= 0 {
		base = strings.TrimSpace(base[:idx])
	}
	return base
}
