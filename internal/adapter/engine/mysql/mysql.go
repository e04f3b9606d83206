// Package mysql is the MySQL (and MariaDB) engine adapter: physical
// provisioning, scoped connections and the per-engine query executor.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mysqldrv "github.com/go-sql-driver/mysql"

	"github.com/dbfleet/dbfleet/internal/adapter/engine"
	"github.com/dbfleet/dbfleet/internal/adapter/engine/sqlexec"
	"github.com/dbfleet/dbfleet/internal/core/domain"
	"github.com/dbfleet/dbfleet/internal/core/port"
)

type Adapter struct {
	engineType domain.EngineType
	cfg        engine.HostConfig
	encryptor  port.Encryptor
	validator  *domain.Validator
	logger     *slog.Logger
}

func New(cfg engine.HostConfig, encryptor port.Encryptor, validator *domain.Validator, logger *slog.Logger) *Adapter {
	return &Adapter{engineType: domain.EngineMySQL, cfg: cfg, encryptor: encryptor, validator: validator, logger: logger}
}

// NewMariaDB serves a dedicated MariaDB host over the same wire protocol.
func NewMariaDB(cfg engine.HostConfig, encryptor port.Encryptor, validator *domain.Validator, logger *slog.Logger) *Adapter {
	return &Adapter{engineType: domain.EngineMariaDB, cfg: cfg, encryptor: encryptor, validator: validator, logger: logger}
}

func (a *Adapter) Type() domain.EngineType { return a.engineType }

func (a *Adapter) Address() string { return a.cfg.Host }

func (a *Adapter) SupportsProvisioning() bool { return true }

// CreatePhysicalDatabase creates the database, its scoped user and the
// grant limiting that user to the one database. IF NOT EXISTS semantics
// make retries idempotent. Identifiers are re-validated at this last gate
// before interpolation; the password literal is escaped, never bound,
// because MySQL does not parameterize CREATE USER.
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
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name),
		fmt.Sprintf("CREATE USER IF NOT EXISTS '%s'@'%%' IDENTIFIED BY '%s'", user, escapeLiteral(password)),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON `%s`.* TO '%s'@'%%'", name, user),
		"FLUSH PRIVILEGES",
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return a.translateError(err)
		}
	}
	return nil
}

// DeletePhysicalDatabase drops the database and user. IF EXISTS semantics
// make it safe to retry when the database is already gone.
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
		fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", name),
		fmt.Sprintf("DROP USER IF EXISTS '%s'@'%%'", user),
		"FLUSH PRIVILEGES",
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return a.translateError(err)
		}
	}
	return nil
}

// UpdateCredentials provisions the rotated user, grants it the database and
// drops the old user so the old pair stops authenticating.
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
		fmt.Sprintf("CREATE USER IF NOT EXISTS '%s'@'%%' IDENTIFIED BY '%s'", newUser, escapeLiteral(newPassword)),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON `%s`.* TO '%s'@'%%'", name, newUser),
		fmt.Sprintf("DROP USER IF EXISTS '%s'@'%%'", oldUser),
		"FLUSH PRIVILEGES",
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return a.translateError(err)
		}
	}
	return nil
}

// ValidateConnection opens a scoped connection as the instance's own user
// and pings. Any failure maps to false rather than propagating.
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

// ConnectionString materializes a DSN for the caller. The plaintext
// password exists only inside the returned string. Host and port come
// from the adapter's own configuration, which is where connections are
// actually dialed.
func (a *Adapter) ConnectionString(inst *domain.DatabaseInstance, plaintextPassword string) string {
	return fmt.Sprintf("mysql://%s:%s@%s:%d/%s",
		inst.DatabaseUser, plaintextPassword, a.cfg.Host, a.cfg.Port, inst.DatabaseName)
}

func (a *Adapter) dialect() sqlexec.Dialect {
	return sqlexec.Dialect{
		Engine:         domain.EngineMySQL,
		CapQuery:       sqlexec.AppendLimit,
		TranslateError: a.translateError,
	}
}

// openInstance decrypts the stored secret and opens a connection scoped to
// the instance's own database and user.
func (a *Adapter) openInstance(ctx context.Context, inst *domain.DatabaseInstance) (*sql.DB, error) {
	plaintext, err := a.encryptor.Decrypt(inst.EncryptedPassword)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "decrypting instance credentials", err)
	}
	return a.open(ctx, inst.DatabaseUser, string(plaintext), inst.DatabaseName)
}

func (a *Adapter) openAdmin(ctx context.Context) (*sql.DB, error) {
	return a.open(ctx, a.cfg.AdminUser, a.cfg.AdminPassword, "")
}

func (a *Adapter) open(ctx context.Context, user, password, dbName string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?timeout=%s&readTimeout=%s&writeTimeout=%s&parseTime=true",
		user, password, a.cfg.Host, a.cfg.Port, dbName,
		a.cfg.ConnectTimeout, a.cfg.CommandTimeout, a.cfg.CommandTimeout)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, sqlexec.Generic(err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, a.translateError(err)
	}
	return db, nil
}

// translateError maps driver errors to the three user-facing categories.
// Everything else passes through as a generic connectivity failure.
func (a *Adapter) translateError(err error) error {
	if common := sqlexec.TranslateCommon(err); common != nil {
		return common
	}
	var myErr *mysqldrv.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1044, 1045, 1142, 1227: // ER_DBACCESS_DENIED, ER_ACCESS_DENIED, ER_TABLEACCESS_DENIED, ER_SPECIFIC_ACCESS_DENIED
			return sqlexec.AccessDenied(err)
		case 1049: // ER_BAD_DB_ERROR
			return sqlexec.UnknownDatabase(err)
		case 1129, 1130: // host blocked / not allowed
			return sqlexec.Unreachable(err)
		}
	}
	if errors.Is(err, mysqldrv.ErrInvalidConn) {
		return sqlexec.Unreachable(err)
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
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}

var catalog = sqlexec.Catalog{
	ListTables: `SELECT table_name AS table_name,
		COALESCE(table_rows, 0) AS row_count,
		ROUND(COALESCE(data_length + index_length, 0) / 1048576, 2) AS size_mb
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		ORDER BY table_name`,
	TableColumns: `SELECT column_name, data_type, is_nullable, column_default, column_key, extra
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`,
	TableIndexes: `SELECT index_name, column_name, non_unique
		FROM information_schema.statistics
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY index_name, seq_in_index`,
	DatabaseInfo: `SELECT DATABASE() AS db_name,
		VERSION() AS version,
		(SELECT ROUND(COALESCE(SUM(data_length + index_length), 0) / 1048576, 2)
			FROM information_schema.tables WHERE table_schema = DATABASE()) AS size_mb,
		(SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE()) AS table_count`,
	ListProcesses: `SELECT id, user, host, db, command, time AS time_sec,
		COALESCE(state, '') AS state, COALESCE(info, '') AS info
		FROM information_schema.processlist
		WHERE db = DATABASE()`,
	KillStatement: func(processID int64) string {
		return fmt.Sprintf("KILL %d", processID)
	},
	QuoteIdentifier: func(name string) string {
		return "`" + name + "`"
	},
}
