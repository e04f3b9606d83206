// Package postgres is the PostgreSQL engine adapter. It rides pgx through
// database/sql and layers the PostgreSQL parser on top of the shared text
// policy for ad-hoc queries.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/dbfleet/dbfleet/internal/adapter/engine"
	"github.com/dbfleet/dbfleet/internal/adapter/engine/sqlexec"
	"github.com/dbfleet/dbfleet/internal/core/domain"
	"github.com/dbfleet/dbfleet/internal/core/port"
)

type Adapter struct {
	cfg       engine.HostConfig
	encryptor port.Encryptor
	validator *domain.Validator
	logger    *slog.Logger
}

func New(cfg engine.HostConfig, encryptor port.Encryptor, validator *domain.Validator, logger *slog.Logger) *Adapter {
	return &Adapter{cfg: cfg, encryptor: encryptor, validator: validator, logger: logger}
}

func (a *Adapter) Type() domain.EngineType { return domain.EnginePostgreSQL }

func (a *Adapter) Address() string { return a.cfg.Host }

func (a *Adapter) SupportsProvisioning() bool { return true }

// CreatePhysicalDatabase creates the database, its login role and the grant
// scoping that role to the one database. PostgreSQL has no CREATE DATABASE
// IF NOT EXISTS, so existence is checked first to keep retries idempotent.
func (a *Adapter) CreatePhysicalDatabase(ctx context.Context, name, user, password string) error {
	if err := a.validateIdentifiers(name, user); err != nil {
		return err
	}

	db, err := a.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	var exists bool
	if err := db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists); err != nil {
		return a.translateError(err)
	}
	if !exists {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE %q`, name)); err != nil {
			return a.translateError(err)
		}
	}

	if err := db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_roles WHERE rolname = $1)", user).Scan(&exists); err != nil {
		return a.translateError(err)
	}
	if !exists {
		stmt := fmt.Sprintf(`CREATE ROLE %q LOGIN PASSWORD '%s'`, user, escapeLiteral(password))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return a.translateError(err)
		}
	}

	if _, err := db.ExecContext(ctx,
		fmt.Sprintf(`GRANT ALL PRIVILEGES ON DATABASE %q TO %q`, name, user)); err != nil {
		return a.translateError(err)
	}
	return nil
}

// DeletePhysicalDatabase terminates sessions, drops the database and the
// role. IF EXISTS semantics make the drop safe to retry.
func (a *Adapter) DeletePhysicalDatabase(ctx context.Context, name, user string) error {
	if err := a.validateIdentifiers(name, user); err != nil {
		return err
	}

	db, err := a.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	// Open sessions block DROP DATABASE.
	if _, err := db.ExecContext(ctx,
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()",
		name); err != nil {
		return a.translateError(err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS %q`, name)); err != nil {
		return a.translateError(err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP ROLE IF EXISTS %q`, user)); err != nil {
		return a.translateError(err)
	}
	return nil
}

// UpdateCredentials creates the rotated role with the database grant and
// drops the old role so the old pair stops authenticating.
func (a *Adapter) UpdateCredentials(ctx context.Context, name, oldUser, newUser, newPassword string) error {
	if err := a.validateIdentifiers(name, oldUser, newUser); err != nil {
		return err
	}

	db, err := a.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	stmts := []string{
		fmt.Sprintf(`CREATE ROLE %q LOGIN PASSWORD '%s'`, newUser, escapeLiteral(newPassword)),
		fmt.Sprintf(`GRANT ALL PRIVILEGES ON DATABASE %q TO %q`, name, newUser),
		fmt.Sprintf(`REASSIGN OWNED BY %q TO %q`, oldUser, newUser),
		fmt.Sprintf(`DROP ROLE IF EXISTS %q`, oldUser),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return a.translateError(err)
		}
	}
	return nil
}

func (a *Adapter) ValidateConnection(ctx context.Context, inst *domain.DatabaseInstance) bool {
	db, err := a.openInstance(ctx, inst)
	if err != nil {
		return false
	}
	defer db.Close()
	return db.PingContext(ctx) == nil
}

func (a *Adapter) Executor(inst *domain.DatabaseInstance) (port.QueryExecutor, error) {
	open := func(ctx context.Context) (*sql.DB, error) { return a.openInstance(ctx, inst) }
	return sqlexec.New(open, a.dialect(), a.validator, a.cfg.MaxRows, a.cfg.CommandTimeout, a.logger), nil
}

func (a *Adapter) Inspector(inst *domain.DatabaseInstance) (port.Inspector, error) {
	open := func(ctx context.Context) (*sql.DB, error) { return a.openInstance(ctx, inst) }
	return sqlexec.NewInspector(open, catalog, a.dialect(), a.cfg.CommandTimeout), nil
}

func (a *Adapter) ConnectionString(inst *domain.DatabaseInstance, plaintextPassword string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(inst.DatabaseUser, plaintextPassword),
		Host:   fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port),
		Path:   "/" + inst.DatabaseName,
	}
	return u.String()
}

func (a *Adapter) dialect() sqlexec.Dialect {
	return sqlexec.Dialect{
		Engine:         domain.EnginePostgreSQL,
		CapQuery:       sqlexec.AppendLimit,
		TranslateError: a.translateError,
		ExtraValidate:  validateWithParser,
	}
}

// validateWithParser runs tenant SQL through the actual PostgreSQL parser:
// a single SELECT, EXPLAIN, SHOW or CREATE TABLE statement passes, anything
// else is rejected before it reaches the wire.
func validateWithParser(query string) error {
	tree, err := pg_query.Parse(query)
	if err != nil {
		return domain.Wrap(domain.KindBadRequest, "query is not valid PostgreSQL", err)
	}
	if len(tree.Stmts) != 1 {
		return domain.E(domain.KindSecurityRejected, "multiple statements are not permitted")
	}
	stmt := tree.Stmts[0].Stmt
	if stmt == nil {
		return domain.E(domain.KindBadRequest, "query is empty")
	}
	switch n := stmt.Node.(type) {
	case *pg_query.Node_SelectStmt, *pg_query.Node_VariableShowStmt:
		return nil
	case *pg_query.Node_ExplainStmt:
		// EXPLAIN ANALYZE executes the inner statement, so only a SELECT
		// may be wrapped.
		inner := n.ExplainStmt.GetQuery()
		if inner == nil {
			return domain.E(domain.KindBadRequest, "query is empty")
		}
		if _, ok := inner.Node.(*pg_query.Node_SelectStmt); !ok {
			return domain.E(domain.KindSecurityRejected, "EXPLAIN may only wrap a SELECT statement")
		}
		return nil
	case *pg_query.Node_CreateStmt:
		return nil // CREATE TABLE sandboxing
	default:
		return domain.E(domain.KindSecurityRejected, "statement type is not permitted through the query gateway")
	}
}

func (a *Adapter) openInstance(ctx context.Context, inst *domain.DatabaseInstance) (*sql.DB, error) {
	plaintext, err := a.encryptor.Decrypt(inst.EncryptedPassword)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "decrypting instance credentials", err)
	}
	return a.open(ctx, inst.DatabaseUser, string(plaintext), inst.DatabaseName)
}

func (a *Adapter) openAdmin(ctx context.Context) (*sql.DB, error) {
	return a.open(ctx, a.cfg.AdminUser, a.cfg.AdminPassword, "postgres")
}

func (a *Adapter) open(ctx context.Context, user, password, dbName string) (*sql.DB, error) {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port),
		Path:     "/" + dbName,
		RawQuery: fmt.Sprintf("sslmode=disable&connect_timeout=%d", int(a.cfg.ConnectTimeout.Seconds())),
	}

	db, err := sql.Open("pgx", u.String())
	if err != nil {
		return nil, sqlexec.Generic(err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, a.translateError(err)
	}
	return db, nil
}

func (a *Adapter) translateError(err error) error {
	if common := sqlexec.TranslateCommon(err); common != nil {
		return common
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28000", "28P01", "42501": // invalid authorization, invalid password, insufficient privilege
			return sqlexec.AccessDenied(err)
		case "3D000": // invalid catalog name
			return sqlexec.UnknownDatabase(err)
		}
		if strings.HasPrefix(pgErr.Code, "08") { // connection exception class
			return sqlexec.Unreachable(err)
		}
	}
	return sqlexec.Generic(err)
}

func (a *Adapter) validateIdentifiers(names ...string) error {
	for _, n := range names {
		if err := a.validator.ValidateIdentifier(n); err != nil {
			return err
		}
	}
	return nil
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

var catalog = sqlexec.Catalog{
	ListTables: `SELECT c.relname AS table_name,
		GREATEST(c.reltuples::bigint, 0) AS row_count,
		ROUND(pg_total_relation_size(c.oid)::numeric / 1048576, 2) AS size_mb
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = 'public' AND c.relkind = 'r'
		ORDER BY c.relname`,
	TableColumns: `SELECT c.column_name, c.data_type, c.is_nullable,
		COALESCE(c.column_default, '') AS column_default,
		CASE WHEN pk.attname IS NOT NULL THEN 'PRI' ELSE '' END AS column_key,
		'' AS extra
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT a.attname
			FROM pg_index i
			JOIN pg_class t ON t.oid = i.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
			WHERE n.nspname = 'public' AND t.relname = $1 AND i.indisprimary
		) pk ON pk.attname = c.column_name
		WHERE c.table_schema = 'public' AND c.table_name = $1
		ORDER BY c.ordinal_position`,
	TableIndexes: `SELECT ix.relname AS index_name, a.attname AS column_name,
		CASE WHEN i.indisunique THEN 0 ELSE 1 END AS non_unique
		FROM pg_index i
		JOIN pg_class t ON t.oid = i.indrelid
		JOIN pg_class ix ON ix.oid = i.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(i.indkey)
		WHERE n.nspname = 'public' AND t.relname = $1
		ORDER BY ix.relname`,
	DatabaseInfo: `SELECT current_database() AS db_name,
		version() AS version,
		ROUND(pg_database_size(current_database())::numeric / 1048576, 2) AS size_mb,
		(SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'public') AS table_count`,
	ListProcesses: `SELECT pid AS id,
		COALESCE(usename, '') AS user,
		COALESCE(client_addr::text, '') AS host,
		COALESCE(datname, '') AS db,
		'query' AS command,
		COALESCE(EXTRACT(EPOCH FROM (now() - query_start))::bigint, 0) AS time_sec,
		COALESCE(state, '') AS state,
		COALESCE(query, '') AS info
		FROM pg_stat_activity
		WHERE datname = current_database() AND pid <> pg_backend_pid()`,
	KillStatement: func(processID int64) string {
		return fmt.Sprintf("SELECT pg_terminate_backend(%d)", processID)
	},
	QuoteIdentifier: func(name string) string {
		return `"` + name + `"`
	},
}
