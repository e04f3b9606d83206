package port

// Read-only projections derived from a QueryResult. Purely transient,
// engine-agnostic shapes used to present introspection to the caller.

type TableInfo struct {
	Name     string  `json:"name"`
	Schema   string  `json:"schema,omitempty"`
	RowCount int64   `json:"row_count"`
	SizeMB   float64 `json:"size_mb"`
}

type ColumnInfo struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	IsNullable   bool   `json:"is_nullable"`
	DefaultValue string `json:"default_value,omitempty"`
	IsPrimaryKey bool   `json:"is_primary_key"`
	Extra        string `json:"extra,omitempty"`
}

type IndexInfo struct {
	Name     string `json:"name"`
	Column   string `json:"column"`
	IsUnique bool   `json:"is_unique"`
}

type TableSchema struct {
	Table   string       `json:"table"`
	Columns []ColumnInfo `json:"columns"`
	Indexes []IndexInfo  `json:"indexes,omitempty"`
}

type DatabaseInfo struct {
	Name       string  `json:"name"`
	Engine     string  `json:"engine"`
	Version    string  `json:"version"`
	SizeMB     float64 `json:"size_mb"`
	TableCount int     `json:"table_count"`
}

type DatabaseProcess struct {
	ID       int64  `json:"id"`
	User     string `json:"user"`
	Host     string `json:"host,omitempty"`
	Database string `json:"database,omitempty"`
	Command  string `json:"command"`
	TimeSec  int64  `json:"time_sec"`
	State    string `json:"state,omitempty"`
	Info     string `json:"info,omitempty"`
}
