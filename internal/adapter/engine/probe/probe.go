// Package probe holds the liveness-only adapters for engines the query
// gateway does not yet speak: Redis, MongoDB and Cassandra. They can
// validate connectivity with the engine's own driver; every other
// capability reports the engine as unsupported.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/gocql/gocql"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dbfleet/dbfleet/internal/adapter/engine"
	"github.com/dbfleet/dbfleet/internal/core/domain"
	"github.com/dbfleet/dbfleet/internal/core/port"
)

// base carries the shared unsupported-capability surface.
type base struct {
	engineType domain.EngineType
	cfg        engine.HostConfig
	encryptor  port.Encryptor
	logger     *slog.Logger
}

func (b *base) Type() domain.EngineType { return b.engineType }

func (b *base) Address() string { return b.cfg.Host }

func (b *base) SupportsProvisioning() bool { return false }

func (b *base) CreatePhysicalDatabase(context.Context, string, string, string) error {
	return engine.Unsupported(b.engineType, "provisioning")
}

func (b *base) DeletePhysicalDatabase(context.Context, string, string) error {
	return engine.Unsupported(b.engineType, "provisioning")
}

func (b *base) UpdateCredentials(context.Context, string, string, string, string) error {
	return engine.Unsupported(b.engineType, "credential rotation")
}

func (b *base) Executor(*domain.DatabaseInstance) (port.QueryExecutor, error) {
	return nil, engine.Unsupported(b.engineType, "ad-hoc queries")
}

func (b *base) Inspector(*domain.DatabaseInstance) (port.Inspector, error) {
	return nil, engine.Unsupported(b.engineType, "introspection")
}

func (b *base) decrypt(inst *domain.DatabaseInstance) (string, error) {
	plaintext, err := b.encryptor.Decrypt(inst.EncryptedPassword)
	if err != nil {
		return "", fmt.Errorf("decrypting instance credentials: %w", err)
	}
	return string(plaintext), nil
}

// Redis validates connectivity with go-redis.
type Redis struct {
	base
}

func NewRedis(cfg engine.HostConfig, encryptor port.Encryptor, logger *slog.Logger) *Redis {
	return &Redis{base{engineType: domain.EngineRedis, cfg: cfg, encryptor: encryptor, logger: logger}}
}

func (r *Redis) ValidateConnection(ctx context.Context, inst *domain.DatabaseInstance) bool {
	password, err := r.decrypt(inst)
	if err != nil {
		return false
	}
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", r.cfg.Host, inst.Port),
		Username:     inst.DatabaseUser,
		Password:     password,
		DialTimeout:  r.cfg.ConnectTimeout,
		ReadTimeout:  r.cfg.CommandTimeout,
		WriteTimeout: r.cfg.CommandTimeout,
	})
	defer client.Close()
	return client.Ping(ctx).Err() == nil
}

func (r *Redis) ConnectionString(inst *domain.DatabaseInstance, plaintextPassword string) string {
	return fmt.Sprintf("redis://%s:%s@%s:%d",
		inst.DatabaseUser, url.QueryEscape(plaintextPassword), r.cfg.Host, inst.Port)
}

// Mongo validates connectivity with the official MongoDB driver.
type Mongo struct {
	base
}

func NewMongo(cfg engine.HostConfig, encryptor port.Encryptor, logger *slog.Logger) *Mongo {
	return &Mongo{base{engineType: domain.EngineMongoDB, cfg: cfg, encryptor: encryptor, logger: logger}}
}

func (m *Mongo) ValidateConnection(ctx context.Context, inst *domain.DatabaseInstance) bool {
	password, err := m.decrypt(inst)
	if err != nil {
		return false
	}
	uri := m.uri(inst, password)
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetConnectTimeout(m.cfg.ConnectTimeout))
	if err != nil {
		return false
	}
	defer func() { _ = client.Disconnect(ctx) }()
	return client.Ping(ctx, nil) == nil
}

func (m *Mongo) ConnectionString(inst *domain.DatabaseInstance, plaintextPassword string) string {
	return m.uri(inst, plaintextPassword)
}

func (m *Mongo) uri(inst *domain.DatabaseInstance, password string) string {
	return fmt.Sprintf("mongodb://%s:%s@%s:%d/%s",
		inst.DatabaseUser, url.QueryEscape(password), m.cfg.Host, inst.Port, inst.DatabaseName)
}

// Cassandra validates connectivity with gocql.
type Cassandra struct {
	base
}

func NewCassandra(cfg engine.HostConfig, encryptor port.Encryptor, logger *slog.Logger) *Cassandra {
	return &Cassandra{base{engineType: domain.EngineCassandra, cfg: cfg, encryptor: encryptor, logger: logger}}
}

func (c *Cassandra) ValidateConnection(ctx context.Context, inst *domain.DatabaseInstance) bool {
	cluster := gocql.NewCluster(c.cfg.Host)
	cluster.Port = inst.Port
	cluster.ConnectTimeout = c.cfg.ConnectTimeout
	cluster.Timeout = c.cfg.CommandTimeout

	password, err := c.decrypt(inst)
	if err != nil {
		return false
	}
	cluster.Authenticator = gocql.PasswordAuthenticator{
		Username: inst.DatabaseUser,
		Password: password,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return false
	}
	defer session.Close()
	return session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec() == nil
}

func (c *Cassandra) ConnectionString(inst *domain.DatabaseInstance, plaintextPassword string) string {
	return fmt.Sprintf("cassandra://%s:%s@%s:%d/%s",
		inst.DatabaseUser, url.QueryEscape(plaintextPassword), c.cfg.Host, inst.Port, inst.DatabaseName)
}
