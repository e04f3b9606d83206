package port

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuditEntry summarizes one mutating or ad-hoc-query operation. Summary
// holds a derived description, never full result sets.
type AuditEntry struct {
	OwnerID    uuid.UUID
	InstanceID uuid.UUID
	Action     string
	Summary    string
	DurationMs int
	IsError    bool
}

// AuditRecord is a stored audit entry.
type AuditRecord struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	InstanceID uuid.UUID
	Action     string
	Summary    string
	DurationMs int
	IsError    bool
	CreatedAt  time.Time
}

// AuditLogger accepts audit entries for asynchronous persistence.
// Fire-and-forget: a failure here never fails the primary operation.
type AuditLogger interface {
	// Log enqueues an audit entry for writing. Non-blocking.
	Log(entry AuditEntry)

	// Close flushes remaining entries and stops the background writer.
	Close()
}

// AuditRepository provides storage operations for audit log entries.
type AuditRepository interface {
	// InsertBatch writes multiple audit entries in a single operation.
	InsertBatch(ctx context.Context, entries []AuditEntry) error

	// ListByOwner retrieves audit records, newest first.
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]AuditRecord, error)
}
