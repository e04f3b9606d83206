package port

import (
	"context"

	"github.com/google/uuid"
)

// LifecycleEvent describes an instance lifecycle change for external
// consumers (webhooks, email). Emission is best-effort.
type LifecycleEvent struct {
	OwnerID    uuid.UUID
	InstanceID uuid.UUID
	Engine     string
	Event      string // created, activated, deactivated, deleted, credentials_rotated, provisioning_failed
	Detail     string
}

// LifecycleNotifier emits lifecycle events. Implementations must not block
// the caller beyond a short bound and must swallow their own failures.
type LifecycleNotifier interface {
	Notify(ctx context.Context, event LifecycleEvent)
}
