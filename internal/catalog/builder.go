package catalog

import (
	"context"
	"fmt"
	"strings"
)

type CollectOptions struct {
	// Exclude lists tables that are never described, typically the catalogue's own tables.
	Exclude []string
	// MaxFieldValues caps field entities per text column; 0 means no cap.
	MaxFieldValues int
	// FirstID is the id of the first entity; values below 1 start at 1.
	FirstID int64
}

type TableFailure struct {
	Table string
	Err   error
}

func (f TableFailure) Error() string {
	return fmt.Sprintf("table %q: %v", f.Table, f.Err)
}

// Catalogue is the result of one catalogue pass. Failures lists tables that were
// skipped; a catalogue with failures is partial.
type Catalogue struct {
	Tables   []Table
	Entities []Entity
	Failures []TableFailure
}

func (c Catalogue) Partial() bool {
	return len(c.Failures) > 0
}

func (c Catalogue) Counts() map[EntityType]int {
	counts := map[EntityType]int{}
	for _, entity := range c.Entities {
		counts[entity.Type]++
	}
	return counts
}

// Collect loads every source table and assigns entities. Tables that cannot be
// read are recorded in Failures and skipped.
func Collect(ctx context.Context, source TableSource, opts CollectOptions) (Catalogue, error) {
	if source == nil {
		return Catalogue{}, fmt.Errorf("table source is required")
	}
	names, err := source.ListTables(ctx)
	if err != nil {
		return Catalogue{}, fmt.Errorf("list source tables: %w", err)
	}

	excluded := make(map[string]struct{}, len(opts.Exclude))
	for _, name := range opts.Exclude {
		excluded[strings.ToLower(name)] = struct{}{}
	}

	var out Catalogue
	for _, name := range names {
		if _, skip := excluded[strings.ToLower(name)]; skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Catalogue{}, err
		}
		table, err := source.LoadTable(ctx, name, opts.MaxFieldValues)
		if err != nil {
			out.Failures = append(out.Failures, TableFailure{Table: name, Err: err})
			continue
		}
		out.Tables = append(out.Tables, table)
	}
	out.Entities = AssignFrom(out.Tables, opts.FirstID)
	return out, nil
}

// Assign derives the entity list for tables. IDs start at 1 and increase across
// the whole pass.
func Assign(tables []Table) []Entity {
	return AssignFrom(tables, 1)
}

// AssignFrom is Assign with ids starting at first.
func AssignFrom(tables []Table, first int64) []Entity {
	entities := make([]Entity, 0)
	nextID := first
	if nextID < 1 {
		nextID = 1
	}
	emit := func(kind EntityType, name, description string) {
		entities = append(entities, Entity{ID: nextID, Type: kind, Name: name, Description: description})
		nextID++
	}

	for _, table := range tables {
		columnNames := make([]string, 0, len(table.Columns))
		for _, column := range table.Columns {
			columnNames = append(columnNames, column.Name)
			if column.Kind == KindText {
				seen := make(map[string]struct{}, len(column.Values))
				for _, value := range column.Values {
					if strings.TrimSpace(value) == "" {
						continue
					}
					if _, dup := seen[value]; dup {
						continue
					}
					seen[value] = struct{}{}
					emit(EntityField, value, FieldDescription(table.Name, column.Name, value))
				}
			}
			emit(EntityColumn, column.Name, ColumnDescription(table.Name, column))
		}
		emit(EntityTable, table.Name, TableDescription(table.Name, columnNames))
	}
	return entities
}

func FieldDescription(table, column, value string) string {
	return fmt.Sprintf("%s is a field of column %s in table %s.", value, column, table)
}

func ColumnDescription(table string, column Column) string {
	return fmt.Sprintf("%s is a column of table %s containing %s data.", column.Name, table, DataTypePhrase(column.DataType))
}

func TableDescription(table string, columns []string) string {
	if len(columns) == 0 {
		return fmt.Sprintf("%s is a table with no columns.", table)
	}
	return fmt.Sprintf("%s is a table with columns: %s.", table, strings.Join(columns, ", "))
}
