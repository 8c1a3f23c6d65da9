package duckdb

import (
	"context"
	"fmt"

	"github.com/tablerag/tablerag/internal/catalog"
	"github.com/tablerag/tablerag/internal/schema"
)

func (s *Store) DescribeTables(ctx context.Context) ([]schema.Table, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'main' AND table_catalog = current_database()
ORDER BY table_name ASC, ordinal_position ASC`)
	if err != nil {
		return nil, fmt.Errorf("query information schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]schema.Table, 0)
	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		if s.hidden(tableName) {
			continue
		}
		if len(tables) == 0 || tables[len(tables)-1].Name != tableName {
			tables = append(tables, schema.Table{Name: tableName})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, schema.Column{Name: columnName, Type: dataType})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return tables, nil
}

func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = 'main' AND table_catalog = current_database()
ORDER BY table_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		if !s.hidden(name) {
			names = append(names, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table names: %w", err)
	}
	return names, nil
}

// LoadTable reads the column types of one table and, for text columns, its
// distinct non-empty values in sorted order.
func (s *Store) LoadTable(ctx context.Context, name string, maxValues int) (catalog.Table, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'main' AND table_catalog = current_database() AND table_name = $1
ORDER BY ordinal_position ASC`, name)
	if err != nil {
		return catalog.Table{}, fmt.Errorf("describe table %q: %w", name, err)
	}
	table := catalog.Table{Name: name}
	for rows.Next() {
		var column catalog.Column
		if err := rows.Scan(&column.Name, &column.DataType); err != nil {
			_ = rows.Close()
			return catalog.Table{}, fmt.Errorf("scan column of %q: %w", name, err)
		}
		column.Kind = catalog.KindOf(column.DataType)
		table.Columns = append(table.Columns, column)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return catalog.Table{}, fmt.Errorf("iterate columns of %q: %w", name, err)
	}
	_ = rows.Close()
	if len(table.Columns) == 0 {
		return catalog.Table{}, fmt.Errorf("table %q not found", name)
	}

	for i := range table.Columns {
		if table.Columns[i].Kind != catalog.KindText {
			continue
		}
		values, err := s.distinctValues(ctx, name, table.Columns[i].Name, maxValues)
		if err != nil {
			return catalog.Table{}, err
		}
		table.Columns[i].Values = values
	}
	return table, nil
}

func (s *Store) distinctValues(ctx context.Context, table, column string, maxValues int) ([]string, error) {
	col := quoteIdent(column)
	sqlText := fmt.Sprintf(`
SELECT DISTINCT CAST(%s AS VARCHAR) AS v
FROM %s
WHERE %s IS NOT NULL AND trim(CAST(%s AS VARCHAR)) <> ''
ORDER BY v`, col, quoteIdent(table), col, col)
	if maxValues > 0 {
		sqlText += fmt.Sprintf("\nLIMIT %d", maxValues)
	}

	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("read values of %s.%s: %w", table, column, err)
	}
	defer func() { _ = rows.Close() }()

	values := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan value of %s.%s: %w", table, column, err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate values of %s.%s: %w", table, column, err)
	}
	return values, nil
}
