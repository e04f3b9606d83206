package port

import (
	"context"

	"github.com/dbfleet/dbfleet/internal/core/domain"
)

// EngineAdapter translates engine-neutral provisioning and query intents
// into engine-specific protocol calls. One implementation exists per
// supported engine type; unsupported engines return ErrEngineUnsupported
// from every capability except liveness probing where a driver exists.
type EngineAdapter interface {
	Type() domain.EngineType

	// Address is the shared physical host the adapter provisions on.
	Address() string

	// SupportsProvisioning reports whether the adapter can create and
	// manage physical databases. Probe-only adapters report false, and
	// callers must check before reserving any state for a create.
	SupportsProvisioning() bool

	// CreatePhysicalDatabase creates the database, its scoped user and the
	// grant limiting that user to the one database. Idempotent under
	// IF NOT EXISTS semantics where the engine supports it.
	CreatePhysicalDatabase(ctx context.Context, name, user, password string) error

	// DeletePhysicalDatabase drops the database and user, then flushes the
	// privilege cache. Safe to retry when the database is already gone.
	DeletePhysicalDatabase(ctx context.Context, name, user string) error

	// UpdateCredentials replaces the instance's user and password on the
	// physical engine during rotation. The old pair stops authenticating.
	UpdateCredentials(ctx context.Context, name, oldUser, newUser, newPassword string) error

	// ValidateConnection opens a scoped connection as the instance's user
	// and runs a trivial liveness probe. Any failure maps to false.
	ValidateConnection(ctx context.Context, inst *domain.DatabaseInstance) bool

	// Executor returns a per-call query executor bound to the instance.
	// The executor acquires and releases its own connection per method.
	Executor(inst *domain.DatabaseInstance) (QueryExecutor, error)

	// Inspector returns the catalog introspection surface for the instance.
	Inspector(inst *domain.DatabaseInstance) (Inspector, error)

	// ConnectionString materializes a DSN for the instance. The plaintext
	// password exists only transiently inside the returned string.
	ConnectionString(inst *domain.DatabaseInstance, plaintextPassword string) string
}

// EngineRegistry selects the adapter for an engine type.
type EngineRegistry interface {
	Adapter(engine domain.EngineType) (EngineAdapter, error)
}
