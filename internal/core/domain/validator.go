package domain

import (
	"regexp"
	"strings"
)

// Shared security policy for every engine variant. Identifiers are the one
// thing standard SQL cannot parameterize, so they are validated against a
// strict pattern before interpolation; free-form tenant SQL goes through a
// blocklist + first-keyword allowlist. Keeping both here, engine-neutral,
// prevents the policy from drifting per adapter.

const maxQueryLength = 5000

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// reservedIdentifiers are system schemas and engine-internal database names
// that tenants may never target.
var reservedIdentifiers = map[string]struct{}{
	"mysql":              {},
	"sys":                {},
	"information_schema": {},
	"performance_schema": {},
	"pg_catalog":         {},
	"postgres":           {},
	"template0":          {},
	"template1":          {},
	"master":             {},
	"model":              {},
	"msdb":               {},
	"tempdb":             {},
	"admin":              {},
	"system":             {},
}

// dangerousPatterns match statement shapes that must never reach a shared
// host through the ad-hoc surface, regardless of the leading keyword.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)\bdrop\s+database\b`),
	regexp.MustCompile(`(?is)\bdrop\s+table\b`),
	regexp.MustCompile(`(?is)\bdrop\s+user\b`),
	regexp.MustCompile(`(?is)\btruncate\s+table\b`),
	regexp.MustCompile(`(?is)\bdelete\s+from\s+\S+\s*(;|$)`),
	regexp.MustCompile(`(?is)\bdelete\s+from\s+\S+\s+where\s+1\s*=\s*1\b`),
	regexp.MustCompile(`(?is)\bgrant\b`),
	regexp.MustCompile(`(?is)\brevoke\b`),
	regexp.MustCompile(`(?is)\bflush\s+privileges\b`),
	regexp.MustCompile(`(?is)\balter\s+(database|user|server)\b`),
	regexp.MustCompile(`(?is)\bshutdown\b`),
	regexp.MustCompile(`(?is);\s*\S`),   // multi-statement batching
	regexp.MustCompile(`(?s)--`),        // comment truncation
	regexp.MustCompile(`(?s)/\*`),       // block comment truncation
	regexp.MustCompile(`(?is)\bxp_\w+`), // SQL Server extended procs
	regexp.MustCompile(`(?is)\binto\s+(outfile|dumpfile)\b`),
	regexp.MustCompile(`(?is)\bload_file\s*\(`),
	// EXPLAIN ANALYZE executes the wrapped statement, so wrapping DML in
	// it is a write, not a read. Covers the bare form with its optional
	// modifiers and the parenthesized option-list form.
	regexp.MustCompile(`(?is)\bexplain\s+analy[sz]e\b(?:\s+verbose\b|\s+format\s*=?\s*\w+)*\s+(insert|update|delete|merge|replace)\b`),
	regexp.MustCompile(`(?is)\bexplain\s*\([^)]*\banaly[sz]e\b[^)]*\)\s*(insert|update|delete|merge|replace)\b`),
}

// allowedFirstKeywords is the read-only allowlist for ad-hoc queries.
var allowedFirstKeywords = map[string]struct{}{
	"select":   {},
	"show":     {},
	"describe": {},
	"desc":     {},
	"explain":  {},
}

// Validator enforces identifier and free-text query policy.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidateIdentifier checks a database or table name before it is ever
// interpolated into SQL text.
func (v *Validator) ValidateIdentifier(name string) error {
	if name == "" {
		return E(KindBadRequest, "identifier must not be empty")
	}
	if !identifierPattern.MatchString(name) {
		return E(KindBadRequest, "identifier must start with a letter or underscore and contain only letters, digits and underscores (max 64 chars)")
	}
	if _, reserved := reservedIdentifiers[strings.ToLower(name)]; reserved {
		return Ef(KindBadRequest, "identifier %q is reserved", name)
	}
	return nil
}

// ValidateQuery applies the ad-hoc query policy to tenant-supplied SQL.
// Violations always surface as SecurityRejected so the caller cannot
// mistake a rejection for an empty result.
func (v *Validator) ValidateQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return E(KindSecurityRejected, "query is empty")
	}
	if len(trimmed) > maxQueryLength {
		return Ef(KindSecurityRejected, "query exceeds maximum length of %d characters", maxQueryLength)
	}

	// CREATE TABLE is the one DDL form tenants may run in their sandbox.
	if createTablePattern.MatchString(trimmed) {
		if err := v.scanDangerous(trimmed); err != nil {
			return err
		}
		return nil
	}

	if err := v.scanDangerous(trimmed); err != nil {
		return err
	}

	first := firstKeyword(trimmed)
	if _, ok := allowedFirstKeywords[first]; !ok {
		return Ef(KindSecurityRejected, "statement type %q is not permitted through the query gateway", strings.ToUpper(first))
	}
	return nil
}

var createTablePattern = regexp.MustCompile(`(?is)^\s*create\s+table\b`)

func (v *Validator) scanDangerous(query string) error {
	for _, p := range dangerousPatterns {
		if p.MatchString(query) {
			return E(KindSecurityRejected, "query matches a blocked statement pattern")
		}
	}
	return nil
}

func firstKeyword(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}
