package sqlexec

import (
	"context"
	"time"

	"github.com/dbfleet/dbfleet/internal/core/port"
)

// Catalog holds the fixed, system-built introspection SQL for one engine.
// Column aliases follow the port.Inspector contract; placeholder style is
// whatever the engine's driver expects. These strings are never built from
// caller input; table names arrive as bound parameters.
type Catalog struct {
	ListTables    string
	TableColumns  string
	TableIndexes  string
	DatabaseInfo  string
	ListProcesses string

	// KillStatement renders the engine's session-termination statement.
	// Process ids cannot be bound on every engine, so the id is formatted
	// in by the adapter from an int64, never from caller text.
	KillStatement func(processID int64) string

	// QuoteIdentifier quotes a validated identifier in the engine's
	// dialect (backticks, double quotes or brackets).
	QuoteIdentifier func(name string) string
}

// Inspector implements port.Inspector over a scoped per-call connection.
type Inspector struct {
	open         OpenFunc
	catalog      Catalog
	dialect      Dialect
	queryTimeout time.Duration
}

func NewInspector(open OpenFunc, catalog Catalog, dialect Dialect, queryTimeout time.Duration) *Inspector {
	return &Inspector{
		open:         open,
		catalog:      catalog,
		dialect:      dialect,
		queryTimeout: queryTimeout,
	}
}

func (i *Inspector) ListTables(ctx context.Context) (*port.QueryResult, error) {
	return i.run(ctx, i.catalog.ListTables)
}

func (i *Inspector) TableColumns(ctx context.Context, table string) (*port.QueryResult, error) {
	return i.run(ctx, i.catalog.TableColumns, table)
}

func (i *Inspector) TableIndexes(ctx context.Context, table string) (*port.QueryResult, error) {
	return i.run(ctx, i.catalog.TableIndexes, table)
}

func (i *Inspector) DatabaseInfo(ctx context.Context) (*port.QueryResult, error) {
	return i.run(ctx, i.catalog.DatabaseInfo)
}

func (i *Inspector) ListProcesses(ctx context.Context) (*port.QueryResult, error) {
	return i.run(ctx, i.catalog.ListProcesses)
}

// TableData reads up to limit rows. The caller has already validated the
// table name; quoting and the row cap use the engine's own dialect.
func (i *Inspector) TableData(ctx context.Context, table string, limit int) (*port.QueryResult, error) {
	query := i.dialect.CapQuery("SELECT * FROM "+i.catalog.QuoteIdentifier(table), limit)
	return i.run(ctx, query)
}

func (i *Inspector) KillProcess(ctx context.Context, processID int64) error {
	ctx, cancel := context.WithTimeout(ctx, i.queryTimeout)
	defer cancel()

	db, err := i.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, i.catalog.KillStatement(processID)); err != nil {
		return i.dialect.TranslateError(err)
	}
	return nil
}

func (i *Inspector) run(ctx context.Context, query string, args ...any) (*port.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, i.queryTimeout)
	defer cancel()

	db, err := i.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	start := time.Now()
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, i.dialect.TranslateError(err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, i.dialect.TranslateError(err)
	}
	result.Duration = time.Since(start)
	return result, nil
}
