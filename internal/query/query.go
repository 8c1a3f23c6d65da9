package query

import (
	"context"
	"time"
)

type Request struct {
	SQL string
	// RowLimit wraps the statement in an outer LIMIT when > 0.
	RowLimit int
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// Validator inspects synthesized SQL before execution and returns the statement
// to run.
type Validator interface {
	Validate(sqlText string) (string, error)
}
