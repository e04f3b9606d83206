package sqlexec

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	limitPattern = regexp.MustCompile(`(?is)\blimit\s+\d+`)
	topPattern   = regexp.MustCompile(`(?is)^\s*select\s+top\b`)
	selectStart  = regexp.MustCompile(`(?is)^\s*select\b`)
)

// AppendLimit adds a trailing LIMIT when the SELECT has none. Used by the
// MySQL and PostgreSQL dialects.
func AppendLimit(query string, maxRows int) string {
	if !selectStart.MatchString(query) {
		return query
	}
	if limitPattern.MatchString(query) {
		return query
	}
	return fmt.Sprintf("%s LIMIT %d", strings.TrimRight(strings.TrimSpace(query), ";"), maxRows)
}

// InjectTop rewrites SELECT into SELECT TOP (n) when the statement has no
// TOP clause. Used by the SQL Server dialect.
func InjectTop(query string, maxRows int) string {
	trimmed := strings.TrimRight(strings.TrimSpace(query), ";")
	if !selectStart.MatchString(trimmed) {
		return trimmed
	}
	if topPattern.MatchString(trimmed) {
		return trimmed
	}
	rest := selectStart.ReplaceAllString(trimmed, "")
	return fmt.Sprintf("SELECT TOP (%d)%s", maxRows, rest)
}
