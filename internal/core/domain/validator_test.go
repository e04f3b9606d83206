package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier(t *testing.T) {
	v := NewValidator()

	valid := []string{"users", "Users_2024", "_private", "a", strings.Repeat("x", 64)}
	for _, name := range valid {
		assert.NoError(t, v.ValidateIdentifier(name), name)
	}

	invalid := []string{
		"",
		"users; DROP TABLE x",
		"1users",
		"user-name",
		"user name",
		strings.Repeat("x", 65),
		"users'",
	}
	for _, name := range invalid {
		assert.Error(t, v.ValidateIdentifier(name), name)
	}
}

func TestValidateIdentifierRejectsReservedNames(t *testing.T) {
	v := NewValidator()
	for _, name := range []string{"mysql", "information_schema", "pg_catalog", "master", "SYS", "Tempdb"} {
		err := v.ValidateIdentifier(name)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrBadRequest), name)
	}
}

func TestValidateQueryAllowsReadOnly(t *testing.T) {
	v := NewValidator()

	allowed := []string{
		"SELECT * FROM orders",
		"select id, name from users where id = 7",
		"SHOW TABLES",
		"DESCRIBE users",
		"DESC users",
		"EXPLAIN SELECT 1",
	}
	for _, q := range allowed {
		assert.NoError(t, v.ValidateQuery(q), q)
	}
}

func TestValidateQueryAllowsCreateTable(t *testing.T) {
	v := NewValidator()
	// CREATE TABLE is exempt from the DDL block to support tenant sandboxing.
	assert.NoError(t, v.ValidateQuery("CREATE TABLE t (id INT)"))
	assert.NoError(t, v.ValidateQuery("create table scratch (a TEXT, b INT)"))
}

func TestValidateQueryRejectsDangerous(t *testing.T) {
	v := NewValidator()

	rejected := []string{
		"SELECT 1; DROP TABLE orders",
		"DROP TABLE orders",
		"DROP DATABASE prod",
		"DELETE FROM orders WHERE 1=1",
		"DELETE FROM orders",
		"GRANT ALL ON *.* TO 'x'",
		"REVOKE SELECT ON db.* FROM 'x'",
		"FLUSH PRIVILEGES",
		"TRUNCATE TABLE orders",
		"SELECT 1 -- AND injected",
		"SELECT /* hidden */ 1",
		"UPDATE users SET admin = 1",
		"INSERT INTO users VALUES (1)",
		"ALTER DATABASE prod CHARACTER SET utf8",
		"SELECT * INTO OUTFILE '/tmp/x' FROM users",
		"EXEC xp_cmdshell 'dir'",
	}
	for _, q := range rejected {
		err := v.ValidateQuery(q)
		require.Error(t, err, q)
		assert.True(t, errors.Is(err, ErrSecurityRejected), "want SecurityRejected for %q, got %v", q, err)
	}
}

func TestValidateQueryRejectsExplainAnalyzeWrappedWrites(t *testing.T) {
	v := NewValidator()

	// EXPLAIN ANALYZE executes the wrapped statement; the explain keyword
	// must not smuggle DML past the read-only policy.
	rejected := []string{
		"EXPLAIN ANALYZE UPDATE users SET admin = 1 WHERE id = 5",
		"EXPLAIN ANALYZE DELETE FROM users WHERE id = 5",
		"EXPLAIN ANALYZE INSERT INTO users VALUES (1)",
		"explain analyse update users set admin = 1",
		"EXPLAIN ANALYZE VERBOSE UPDATE users SET admin = 1",
		"EXPLAIN ANALYZE FORMAT=TREE DELETE FROM users WHERE id = 5",
		"EXPLAIN (ANALYZE, BUFFERS) UPDATE users SET admin = 1",
		"EXPLAIN (ANALYZE) INSERT INTO users VALUES (1)",
	}
	for _, q := range rejected {
		err := v.ValidateQuery(q)
		require.Error(t, err, q)
		assert.True(t, errors.Is(err, ErrSecurityRejected), q)
	}

	allowed := []string{
		"EXPLAIN ANALYZE SELECT * FROM users",
		"EXPLAIN (ANALYZE, BUFFERS) SELECT id FROM users",
		"EXPLAIN ANALYZE SELECT * FROM t WHERE action = 'update'",
	}
	for _, q := range allowed {
		assert.NoError(t, v.ValidateQuery(q), q)
	}
}

func TestValidateQueryRejectsOversizedAndEmpty(t *testing.T) {
	v := NewValidator()

	err := v.ValidateQuery("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSecurityRejected))

	long := "SELECT '" + strings.Repeat("a", maxQueryLength) + "'"
	err = v.ValidateQuery(long)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSecurityRejected))
}

func TestValidateQueryAllowsTrailingSemicolonOnly(t *testing.T) {
	v := NewValidator()
	// A single trailing semicolon is not batching.
	assert.NoError(t, v.ValidateQuery("SELECT 1;"))
	assert.Error(t, v.ValidateQuery("SELECT 1; SELECT 2"))
}

func TestRejectionMessagesNeverEchoSQL(t *testing.T) {
	v := NewValidator()
	err := v.ValidateQuery("DROP TABLE secret_table_name")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret_table_name")
}
