package schema

import (
	"context"
	"fmt"
	"strings"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

type Introspector interface {
	DescribeTables(ctx context.Context) ([]Table, error)
}

// Render prints each table as a header line followed by one indented line per
// column, with a blank line between tables. No row data is included.
func Render(tables []Table) string {
	var b strings.Builder
	for n, table := range tables {
		if n > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Table ")
		b.WriteString(table.Name)
		b.WriteString(":")
		for _, column := range table.Columns {
			b.WriteString("\n  - ")
			b.WriteString(column.Name)
			b.WriteString(" (")
			b.WriteString(column.Type)
			b.WriteString(")")
		}
	}
	return b.String()
}

func Summarize(ctx context.Context, introspector Introspector) (string, error) {
	if introspector == nil {
		return "", fmt.Errorf("schema introspector is required")
	}
	tables, err := introspector.DescribeTables(ctx)
	if err != nil {
		return "", fmt.Errorf("describe tables: %w", err)
	}
	return Render(tables), nil
}
