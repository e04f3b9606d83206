// Package sqlserver is the SQL Server engine adapter. Row caps use TOP
// instead of LIMIT and provisioning goes through CREATE LOGIN + a
// database-scoped user.
package sqlserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

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

func (a *Adapter) Type() domain.EngineType { return domain.EngineSQLServer }

func (a *Adapter) Address() string { return a.cfg.Host }

func (a *Adapter) SupportsProvisioning() bool { return true }

// CreatePhysicalDatabase creates the database, a server login and a
// database user mapped to it, with db_owner scoped to that one database.
// Existence guards keep retries idempotent.
func (a *Adapter) CreatePhysicalDatabase(ctx context.Context, name, user, password string) error {
	if err := a.validateIdentifiers(name, user); err != nil {
		return err
	}

	db, err := a.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	stmts := []string{
		fmt.Sprintf("IF DB_ID(N'%s') IS NULL CREATE DATABASE [%s]", name, name),
		fmt.Sprintf("IF NOT EXISTS (SELECT 1 FROM sys.server_principals WHERE name = N'%s') CREATE LOGIN [%s] WITH PASSWORD = N'%s'",
			user, user, escapeLiteral(password)),
		fmt.Sprintf("USE [%s] IF NOT EXISTS (SELECT 1 FROM sys.database_principals WHERE name = N'%s') CREATE USER [%s] FOR LOGIN [%s]",
			name, user, user, user),
		fmt.Sprintf("USE [%s] ALTER ROLE db_owner ADD MEMBER [%s]", name, user),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return a.translateError(err)
		}
	}
	return nil
}

// DeletePhysicalDatabase forces the database to single-user mode to drop
// open sessions, drops it, then drops the login. Safe to retry.
func (a *Adapter) DeletePhysicalDatabase(ctx context.Context, name, user string) error {
	if err := a.validateIdentifiers(name, user); err != nil {
		return err
	}

	db, err := a.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	stmts := []string{
		fmt.Sprintf("IF DB_ID(N'%s') IS NOT NULL ALTER DATABASE [%s] SET SINGLE_USER WITH ROLLBACK IMMEDIATE", name, name),
		fmt.Sprintf("IF DB_ID(N'%s') IS NOT NULL DROP DATABASE [%s]", name, name),
		fmt.Sprintf("IF EXISTS (SELECT 1 FROM sys.server_principals WHERE name = N'%s') DROP LOGIN [%s]", user, user),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return a.translateError(err)
		}
	}
	return nil
}

// UpdateCredentials provisions the rotated login and user, then drops the
// old pair so it stops authenticating.
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
		fmt.Sprintf("IF NOT EXISTS (SELECT 1 FROM sys.server_principals WHERE name = N'%s') CREATE LOGIN [%s] WITH PASSWORD = N'%s'",
			newUser, newUser, escapeLiteral(newPassword)),
		fmt.Sprintf("USE [%s] IF NOT EXISTS (SELECT 1 FROM sys.database_principals WHERE name = N'%s') CREATE USER [%s] FOR LOGIN [%s]",
			name, newUser, newUser, newUser),
		fmt.Sprintf("USE [%s] ALTER ROLE db_owner ADD MEMBER [%s]", name, newUser),
		fmt.Sprintf("USE [%s] IF EXISTS (SELECT 1 FROM sys.database_principals WHERE name = N'%s') DROP USER [%s]", name, oldUser, oldUser),
		fmt.Sprintf("IF EXISTS (SELECT 1 FROM sys.server_principals WHERE name = N'%s') DROP LOGIN [%s]", oldUser, oldUser),
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
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
		inst.DatabaseUser, url.QueryEscape(plaintextPassword), a.cfg.Host, a.cfg.Port, inst.DatabaseName)
}

func (a *Adapter) dialect() sqlexec.Dialect {
	return sqlexec.Dialect{
		Engine:         domain.EngineSQLServer,
		CapQuery:       sqlexec.InjectTop,
		TranslateError: a.translateError,
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
	return a.open(ctx, a.cfg.AdminUser, a.cfg.AdminPassword, "master")
}

func (a *Adapter) open(ctx context.Context, user, password, dbName string) (*sql.DB, error) {
	u := url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port),
		RawQuery: url.Values{
			"database":           {dbName},
			"dial timeout":       {fmt.Sprintf("%d", int(a.cfg.ConnectTimeout.Seconds()))},
			"connection timeout": {fmt.Sprintf("%d", int(a.cfg.CommandTimeout.Seconds()))},
		}.Encode(),
	}

	db, err := sql.Open("sqlserver", u.String())
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
	var sqlErr mssql.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Number {
		case 18456, 18452, 229, 230: // login failed / permission denied
			return sqlexec.AccessDenied(err)
		case 4060, 911: // cannot open database / database does not exist
			return sqlexec.UnknownDatabase(err)
		case 10061, 10060, 11001: // connection refused / timed out / host not found
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
	ListTables: `SELECT t.name AS table_name,
		ISNULL(p.rows, 0) AS row_count,
		ROUND(CAST(ISNULL(SUM(au.total_pages), 0) AS float) * 8 / 1024, 2) AS size_mb
		FROM sys.tables t
		LEFT JOIN sys.partitions p ON p.object_id = t.object_id AND p.index_id IN (0, 1)
		LEFT JOIN sys.allocation_units au ON au.container_id = p.partition_id
		GROUP BY t.name, p.rows
		ORDER BY t.name`,
	TableColumns: `SELECT c.name AS column_name,
		ty.name AS data_type,
		CASE WHEN c.is_nullable = 1 THEN 'YES' ELSE 'NO' END AS is_nullable,
		ISNULL(dc.definition, '') AS column_default,
		CASE WHEN pk.column_id IS NOT NULL THEN 'PRI' ELSE '' END AS column_key,
		CASE WHEN c.is_identity = 1 THEN 'identity' ELSE '' END AS extra
		FROM sys.columns c
		JOIN sys.types ty ON ty.user_type_id = c.user_type_id
		LEFT JOIN sys.default_constraints dc ON dc.object_id = c.default_object_id
		LEFT JOIN (
			SELECT ic.object_id, ic.column_id
			FROM sys.index_columns ic
			JOIN sys.indexes i ON i.object_id = ic.object_id AND i.index_id = ic.index_id
			WHERE i.is_primary_key = 1
		) pk ON pk.object_id = c.object_id AND pk.column_id = c.column_id
		WHERE c.object_id = OBJECT_ID(@p1)
		ORDER BY c.column_id`,
	TableIndexes: `SELECT i.name AS index_name,
		col.name AS column_name,
		CASE WHEN i.is_unique = 1 THEN 0 ELSE 1 END AS non_unique
		FROM sys.indexes i
		JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns col ON col.object_id = ic.object_id AND col.column_id = ic.column_id
		WHERE i.object_id = OBJECT_ID(@p1) AND i.name IS NOT NULL
		ORDER BY i.name`,
	DatabaseInfo: `SELECT DB_NAME() AS db_name,
		CAST(SERVERPROPERTY('productversion') AS nvarchar(128)) AS version,
		ROUND(CAST(SUM(size) AS float) * 8 / 1024, 2) AS size_mb,
		(SELECT COUNT(*) FROM sys.tables) AS table_count
		FROM sys.database_files`,
	ListProcesses: `SELECT s.session_id AS id,
		s.login_name AS [user],
		ISNULL(s.host_name, '') AS host,
		ISNULL(DB_NAME(s.database_id), '') AS db,
		ISNULL(s.status, '') AS command,
		ISNULL(DATEDIFF(second, s.last_request_start_time, GETDATE()), 0) AS time_sec,
		ISNULL(s.status, '') AS state,
		'' AS info
		FROM sys.dm_exec_sessions s
		WHERE s.is_user_process = 1 AND s.database_id = DB_ID()`,
	KillStatement: func(processID int64) string {
		return fmt.Sprintf("KILL %d", processID)
	},
	QuoteIdentifier: func(name string) string {
		return "[" + name + "]"
	},
}
