package domain

import (
	"time"

	"github.com/google/uuid"
)

// EngineType identifies a database technology hosted by the platform.
type EngineType string

const (
	EngineMySQL      EngineType = "mysql"
	EnginePostgreSQL EngineType = "postgresql"
	EngineMongoDB    EngineType = "mongodb"
	EngineRedis      EngineType = "redis"
	EngineSQLServer  EngineType = "sqlserver"
	EngineMariaDB    EngineType = "mariadb"
	EngineCassandra  EngineType = "cassandra"
)

// Engine is immutable reference data seeded once at install time.
type Engine struct {
	ID          int32
	Type        EngineType
	DefaultPort int
	Active      bool
}

// InstanceStatus is the lifecycle state of a provisioned instance.
type InstanceStatus string

const (
	// StatusProvisioning marks a row reserved under quota but not yet
	// confirmed on the physical engine.
	StatusProvisioning InstanceStatus = "provisioning"
	StatusActive       InstanceStatus = "active"
	StatusInactive     InstanceStatus = "inactive"
	StatusDeleted      InstanceStatus = "deleted"
	// StatusFailed marks a reserved row whose physical provisioning failed
	// after commit. It does not count toward quota and is surfaced for
	// operator attention.
	StatusFailed InstanceStatus = "failed"
)

// CountsTowardQuota reports whether an instance in this status occupies a
// quota slot. Provisioning rows count so the reserve step cannot be raced.
func (s InstanceStatus) CountsTowardQuota() bool {
	return s == StatusActive || s == StatusProvisioning
}

// DatabaseInstance is a logically isolated database (schema + user pair)
// provisioned on a shared physical host for one tenant.
type DatabaseInstance struct {
	ID                uuid.UUID
	OwnerID           uuid.UUID
	EngineID          int32
	EngineType        EngineType
	DatabaseName      string
	DatabaseUser      string
	EncryptedPassword []byte
	Port              int
	ServerAddress     string
	Status            InstanceStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

// CanTransition reports whether the lifecycle state machine permits moving
// from the instance's current status to the target. Deleted is terminal;
// deleting an active instance requires prior deactivation. Failed rows may
// be deleted directly so an abandoned reservation releases its name.
func (i *DatabaseInstance) CanTransition(to InstanceStatus) bool {
	switch to {
	case StatusActive:
		return i.Status == StatusInactive || i.Status == StatusProvisioning
	case StatusInactive:
		return i.Status == StatusActive
	case StatusDeleted:
		return i.Status == StatusInactive || i.Status == StatusFailed
	case StatusFailed:
		return i.Status == StatusProvisioning
	default:
		return false
	}
}

// OwnedBy reports whether the caller owns this instance.
func (i *DatabaseInstance) OwnedBy(caller uuid.UUID) bool {
	return i.OwnerID == caller
}

// Plan is the subscription tier consulted for quota decisions.
type Plan struct {
	ID             int32
	Name           string
	MaxPerEngine   int
	MaxGlobal      int // enforced only when the plan is the free tier
	Paid           bool
	ExpiresAt      *time.Time
}

// FreePlan is the hard-coded default applied when a caller has no active
// paid subscription.
var FreePlan = Plan{Name: "free", MaxPerEngine: 2, MaxGlobal: 5, Paid: false}

// ActiveAt reports whether the plan is usable at the given time.
func (p Plan) ActiveAt(now time.Time) bool {
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}
