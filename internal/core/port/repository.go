package port

import (
	"context"

	"github.com/google/uuid"

	"github.com/dbfleet/dbfleet/internal/core/domain"
)

// InstanceRepository persists DatabaseInstance records. The orchestrator is
// the only caller that mutates instance state through it.
type InstanceRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DatabaseInstance, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.DatabaseInstance, error)

	// ReserveInstance inserts a new row with status Provisioning inside a
	// SERIALIZABLE transaction that also re-counts the owner's quota usage.
	// Returns a Conflict error when the count check fails or the database
	// name collides with a non-deleted instance.
	ReserveInstance(ctx context.Context, inst *domain.DatabaseInstance, check QuotaCheck) error

	// UpdateStatus moves an instance to the given status, stamping
	// UpdatedAt (and DeletedAt for StatusDeleted).
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.InstanceStatus) error

	// UpdateCredentials stores a rotated user and encrypted password.
	UpdateCredentials(ctx context.Context, id uuid.UUID, user string, encryptedPassword []byte) error

	// CountActive returns the owner's quota-occupying instance count for
	// one engine and across all engines.
	CountActive(ctx context.Context, ownerID uuid.UUID, engineID int32) (perEngine, global int, err error)

	// ActivateInstance flips Inactive to Active inside the same
	// SERIALIZABLE quota transaction used by ReserveInstance.
	ActivateInstance(ctx context.Context, id uuid.UUID, check QuotaCheck) error

	// ListExcess returns quota-occupying instances for the owner ordered
	// newest first, optionally filtered by engine.
	ListExcess(ctx context.Context, ownerID uuid.UUID, engineID *int32) ([]domain.DatabaseInstance, error)
}

// QuotaCheck is evaluated by the repository inside the reserve transaction,
// with the freshly counted usage, before the row is committed.
type QuotaCheck func(perEngine, global int) error

// EngineRepository reads the immutable engine catalog.
type EngineRepository interface {
	GetByID(ctx context.Context, id int32) (*domain.Engine, error)
	List(ctx context.Context) ([]domain.Engine, error)
}

// PlanRepository resolves the caller's active subscription plan. A nil plan
// with nil error means the caller has no paid subscription and the free
// tier applies.
type PlanRepository interface {
	GetActivePlan(ctx context.Context, ownerID uuid.UUID) (*domain.Plan, error)
}
