// Package sqlexec implements the engine-neutral query executor on top of
// database/sql. Engine adapters supply a Dialect for the parts that
// genuinely differ per engine (row-cap syntax, driver error translation,
// optional parser-level validation); the security policy itself is shared
// and lives in the domain validator.
package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dbfleet/dbfleet/internal/core/domain"
	"github.com/dbfleet/dbfleet/internal/core/port"
)

// Dialect captures the engine-specific pieces of query execution.
type Dialect struct {
	Engine domain.EngineType

	// CapQuery injects the engine's row-cap syntax when the statement has
	// none. Only called for row-returning statements.
	CapQuery func(sql string, maxRows int) string

	// TranslateError maps a driver error to one of the user-facing
	// categories. Must never return the raw driver error.
	TranslateError func(err error) error

	// ExtraValidate optionally layers a parser-level check on top of the
	// shared text policy. May be nil.
	ExtraValidate func(sql string) error
}

// OpenFunc acquires a scoped connection for one call. The caller closes it
// before returning; connections are never held across unrelated calls.
type OpenFunc func(ctx context.Context) (*sql.DB, error)

// Executor implements port.QueryExecutor for one instance.
type Executor struct {
	open         OpenFunc
	dialect      Dialect
	validator    *domain.Validator
	maxRows      int
	queryTimeout time.Duration
	logger       *slog.Logger
}

func New(open OpenFunc, dialect Dialect, validator *domain.Validator, maxRows int, queryTimeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		open:         open,
		dialect:      dialect,
		validator:    validator,
		maxRows:      maxRows,
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// ExecuteSafeQuery runs tenant-supplied ad-hoc SQL. Security violations are
// returned as errors; execution failures are captured in the result.
func (e *Executor) ExecuteSafeQuery(ctx context.Context, query string) (*port.QueryResult, error) {
	if err := e.validate(query); err != nil {
		return nil, err
	}

	if strings.EqualFold(firstWord(query), "create") {
		return e.exec(ctx, query)
	}
	return e.query(ctx, e.dialect.CapQuery(query, e.maxRows))
}

// ExecuteSelectQuery runs a SELECT with bound args, injecting the engine's
// row cap when the statement lacks one.
func (e *Executor) ExecuteSelectQuery(ctx context.Context, query string, args ...any) (*port.QueryResult, error) {
	if err := e.validate(query); err != nil {
		return nil, err
	}
	return e.query(ctx, e.dialect.CapQuery(query, e.maxRows), args...)
}

// ExecuteNonQuery runs a statement that returns no rows.
func (e *Executor) ExecuteNonQuery(ctx context.Context, query string, args ...any) (*port.QueryResult, error) {
	if err := e.validate(query); err != nil {
		return nil, err
	}
	return e.exec(ctx, query, args...)
}

// ExecuteScalar returns the first cell of the first row, or nil when the
// query produced no rows.
func (e *Executor) ExecuteScalar(ctx context.Context, query string, args ...any) (any, error) {
	res, err := e.ExecuteSelectQuery(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "query failed", fmt.Errorf("%s", res.ErrorMessage))
	}
	if len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return nil, nil
	}
	return res.Rows[0][0], nil
}

func (e *Executor) validate(query string) error {
	if err := e.validator.ValidateQuery(query); err != nil {
		return err
	}
	if e.dialect.ExtraValidate != nil {
		if err := e.dialect.ExtraValidate(query); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) query(ctx context.Context, query string, args ...any) (*port.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	db, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	start := time.Now()
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return failedResult(e.dialect.TranslateError(err), time.Since(start)), nil
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return failedResult(e.dialect.TranslateError(err), time.Since(start)), nil
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (e *Executor) exec(ctx context.Context, query string, args ...any) (*port.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	db, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	start := time.Now()
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return failedResult(e.dialect.TranslateError(err), time.Since(start)), nil
	}
	affected, _ := res.RowsAffected()
	return &port.QueryResult{
		Success:      true,
		RowsAffected: affected,
		Duration:     time.Since(start),
	}, nil
}

// scanRows reads all rows into the engine-neutral result shape. Byte slices
// are decoded to strings so drivers that return []byte for text columns
// produce readable cells.
func scanRows(rows *sql.Rows) (*port.QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	result := &port.QueryResult{Success: true, Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return result, nil
}

func failedResult(err error, elapsed time.Duration) *port.QueryResult {
	return &port.QueryResult{
		Success:      false,
		Duration:     elapsed,
		ErrorMessage: err.Error(),
	}
}

func firstWord(query string) string {
	fields := strings.Fields(strings.TrimSpace(query))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
