// Package mapper turns raw engine result sets into the typed introspection
// shapes, uniformly across engines. Adapters alias their catalog columns
// into a fixed contract (see port.Inspector); this package only needs to
// coerce loosely typed cells.
package mapper

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dbfleet/dbfleet/internal/core/port"
)

// Tables maps a ListTables result into TableInfo projections.
func Tables(res *port.QueryResult) []port.TableInfo {
	tables := make([]port.TableInfo, 0, len(res.Rows))
	for _, row := range res.Rows {
		cells := index(res.Columns, row)
		tables = append(tables, port.TableInfo{
			Name:     asString(cells["table_name"]),
			RowCount: asInt64(cells["row_count"]),
			SizeMB:   asFloat(cells["size_mb"]),
		})
	}
	return tables
}

// TableSchema maps column and index results into a TableSchema.
func TableSchema(table string, columns, indexes *port.QueryResult) *port.TableSchema {
	schema := &port.TableSchema{Table: table}

	for _, row := range columns.Rows {
		cells := index(columns.Columns, row)
		schema.Columns = append(schema.Columns, port.ColumnInfo{
			Name:         asString(cells["column_name"]),
			DataType:     asString(cells["data_type"]),
			IsNullable:   strings.EqualFold(asString(cells["is_nullable"]), "YES"),
			DefaultValue: asString(cells["column_default"]),
			IsPrimaryKey: asString(cells["column_key"]) == "PRI",
			Extra:        asString(cells["extra"]),
		})
	}

	if indexes != nil {
		for _, row := range indexes.Rows {
			cells := index(indexes.Columns, row)
			schema.Indexes = append(schema.Indexes, port.IndexInfo{
				Name:     asString(cells["index_name"]),
				Column:   asString(cells["column_name"]),
				IsUnique: asInt64(cells["non_unique"]) == 0,
			})
		}
	}
	return schema
}

// DatabaseInfo maps a single-row DatabaseInfo result.
func DatabaseInfo(engineName string, res *port.QueryResult) *port.DatabaseInfo {
	info := &port.DatabaseInfo{Engine: engineName}
	if len(res.Rows) == 0 {
		return info
	}
	cells := index(res.Columns, res.Rows[0])
	info.Name = asString(cells["db_name"])
	info.Version = asString(cells["version"])
	info.SizeMB = asFloat(cells["size_mb"])
	info.TableCount = int(asInt64(cells["table_count"]))
	return info
}

// Processes maps a ListProcesses result into DatabaseProcess projections.
func Processes(res *port.QueryResult) []port.DatabaseProcess {
	procs := make([]port.DatabaseProcess, 0, len(res.Rows))
	for _, row := range res.Rows {
		cells := index(res.Columns, row)
		procs = append(procs, port.DatabaseProcess{
			ID:       asInt64(cells["id"]),
			User:     asString(cells["user"]),
			Host:     asString(cells["host"]),
			Database: asString(cells["db"]),
			Command:  asString(cells["command"]),
			TimeSec:  asInt64(cells["time_sec"]),
			State:    asString(cells["state"]),
			Info:     asString(cells["info"]),
		})
	}
	return procs
}

func index(columns []string, row []any) map[string]any {
	cells := make(map[string]any, len(columns))
	for i, col := range columns {
		if i < len(row) {
			cells[strings.ToLower(col)] = row[i]
		}
	}
	return cells
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case nil:
		return 0
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		parsed, _ := strconv.ParseInt(string(n), 10, 64)
		return parsed
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case []byte:
		parsed, _ := strconv.ParseFloat(string(n), 64)
		return parsed
	case string:
		parsed, _ := strconv.ParseFloat(n, 64)
		return parsed
	default:
		return 0
	}
}
