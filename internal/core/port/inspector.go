package port

import "context"

// Inspector exposes an instance's engine catalog through raw QueryResults
// with a normalized column contract, so the introspection mapper stays
// engine-agnostic:
//
//	ListTables:    table_name, row_count, size_mb
//	TableColumns:  column_name, data_type, is_nullable, column_default, column_key, extra
//	TableIndexes:  index_name, column_name, non_unique
//	DatabaseInfo:  db_name, version, size_mb, table_count
//	ListProcesses: id, user, host, db, command, time_sec, state, info
//
// Each adapter aliases its own catalog columns into this shape.
type Inspector interface {
	ListTables(ctx context.Context) (*QueryResult, error)
	TableColumns(ctx context.Context, table string) (*QueryResult, error)
	TableIndexes(ctx context.Context, table string) (*QueryResult, error)
	DatabaseInfo(ctx context.Context) (*QueryResult, error)
	ListProcesses(ctx context.Context) (*QueryResult, error)

	// TableData returns up to limit rows from the table. The table name
	// must already have passed identifier validation.
	TableData(ctx context.Context, table string, limit int) (*QueryResult, error)

	// KillProcess terminates one of the instance's own sessions.
	KillProcess(ctx context.Context, processID int64) error
}
