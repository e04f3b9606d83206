package port

import (
	"context"
	"time"
)

// QueryResult is the engine-neutral shape of an executed statement. Cells
// are nullable: a nil cell is SQL NULL. Results are produced fresh per call
// and never persisted; only a derived audit summary is stored.
type QueryResult struct {
	Success      bool
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	Duration     time.Duration
	ErrorMessage string
}

// QueryExecutor runs statements against one tenant instance. Every method
// re-applies the shared security policy before touching the wire. Execution
// failures are captured in the QueryResult; security violations are returned
// as errors so a rejection can never be mistaken for an empty result.
type QueryExecutor interface {
	// ExecuteSafeQuery runs tenant-supplied ad-hoc SQL under the full
	// read-only policy.
	ExecuteSafeQuery(ctx context.Context, sql string) (*QueryResult, error)

	// ExecuteSelectQuery runs a SELECT, injecting an engine-appropriate
	// row cap when the statement has none.
	ExecuteSelectQuery(ctx context.Context, sql string, args ...any) (*QueryResult, error)

	// ExecuteNonQuery runs a statement that returns no rows (system-built
	// administrative SQL only, values always bound).
	ExecuteNonQuery(ctx context.Context, sql string, args ...any) (*QueryResult, error)

	// ExecuteScalar returns the first cell of the first row, or nil.
	ExecuteScalar(ctx context.Context, sql string, args ...any) (any, error)
}
