package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dbfleet/dbfleet/internal/core/domain"
	"github.com/dbfleet/dbfleet/internal/core/port"
)

// InstanceView is what callers see of an instance. ConnectionString is
// populated only on create and rotation, where the plaintext password is
// handed out exactly once; it is never persisted.
type InstanceView struct {
	ID               uuid.UUID `json:"id"`
	Engine           string    `json:"engine"`
	DatabaseName     string    `json:"database_name"`
	DatabaseUser     string    `json:"database_user"`
	Port             int       `json:"port"`
	ServerAddress    string    `json:"server_address"`
	Status           string    `json:"status"`
	ConnectionString string    `json:"connection_string,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// InstanceService is the orchestrator: it owns the lifecycle state machine
// and the transactional boundary around quota checks and physical
// provisioning. Physical calls happen outside the reserve transaction, so
// a committed record can transiently exist before its physical counterpart
// is confirmed; that window is an observable state (Provisioning), and a
// physical failure after commit is escalated, never silently retried.
type InstanceService struct {
	instances port.InstanceRepository
	engines   port.EngineRepository
	quota     *QuotaService
	registry  port.EngineRegistry
	encryptor port.Encryptor
	validator *domain.Validator
	audit     port.AuditLogger
	notifier  port.LifecycleNotifier
	logger    *slog.Logger
}

func NewInstanceService(
	instances port.InstanceRepository,
	engines port.EngineRepository,
	quota *QuotaService,
	registry port.EngineRegistry,
	encryptor port.Encryptor,
	validator *domain.Validator,
	audit port.AuditLogger,
	notifier port.LifecycleNotifier,
	logger *slog.Logger,
) *InstanceService {
	return &InstanceService{
		instances: instances,
		engines:   engines,
		quota:     quota,
		registry:  registry,
		encryptor: encryptor,
		validator: validator,
		audit:     audit,
		notifier:  notifier,
		logger:    logger,
	}
}

// Create provisions a new instance: reserve under quota, provision on the
// physical engine, activate. Returns the view with the connection string
// containing the one-time plaintext password.
func (s *InstanceService) Create(ctx context.Context, ownerID uuid.UUID, engineID int32, desiredName string) (*InstanceView, error) {
	eng, err := s.engines.GetByID(ctx, engineID)
	if err != nil {
		return nil, err
	}
	if !eng.Active {
		return nil, domain.Ef(domain.KindBadRequest, "engine %q is not active", eng.Type)
	}
	adapter, err := s.registry.Adapter(eng.Type)
	if err != nil {
		return nil, err
	}
	// Reject probe-only engines before any row is reserved; a capability
	// failure after commit would strand a failed reservation.
	if !adapter.SupportsProvisioning() {
		return nil, domain.Ef(domain.KindBadRequest, "engine %q does not support provisioning", eng.Type)
	}

	name := desiredName
	if name == "" {
		name = domain.GenerateDatabaseName(eng.Type, ownerID)
	}
	if err := s.validator.ValidateIdentifier(name); err != nil {
		return nil, err
	}
	user := domain.GenerateUsername(name)
	password, err := domain.GeneratePassword()
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "generating credentials", err)
	}
	encrypted, err := s.encryptor.Encrypt([]byte(password))
	if err != nil {
		// Never fall back to storing plaintext.
		return nil, domain.Wrap(domain.KindInternal, "encrypting credentials", err)
	}

	// Fail fast before opening the reserve transaction.
	plan := s.quota.ResolvePlan(ctx, ownerID)
	decision, err := s.quota.CanCreate(ctx, ownerID, engineID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, domain.Ef(domain.KindConflict, "%s (current=%d, max=%d)", decision.Reason, decision.Current, decision.Max)
	}

	inst := &domain.DatabaseInstance{
		ID:                uuid.New(),
		OwnerID:           ownerID,
		EngineID:          engineID,
		EngineType:        eng.Type,
		DatabaseName:      name,
		DatabaseUser:      user,
		EncryptedPassword: encrypted,
		Port:              eng.DefaultPort,
		ServerAddress:     adapter.Address(),
		Status:            domain.StatusProvisioning,
	}

	// Reserve under SERIALIZABLE isolation: the quota is re-counted and
	// this row inserted in one transaction, so concurrent creates by the
	// same owner cannot both pass the check.
	if err := s.instances.ReserveInstance(ctx, inst, s.quota.CheckFunc(plan)); err != nil {
		return nil, err
	}

	// Second check before the slow physical call. The gap between commit
	// and here is a benign race; losing it surfaces as a retryable
	// Conflict, not corrupted state.
	perEngine, global, err := s.instances.CountActive(ctx, ownerID, engineID)
	if err == nil {
		if breach := s.quota.CheckFunc(plan)(perEngine-1, global-1); breach != nil {
			s.release(ctx, inst, "quota race lost after reserve")
			return nil, breach
		}
	}

	if err := adapter.CreatePhysicalDatabase(ctx, name, user, password); err != nil {
		// The committed record and physical reality have diverged.
		s.escalate(ctx, inst, err)
		return nil, err
	}

	if err := s.instances.UpdateStatus(ctx, inst.ID, domain.StatusActive); err != nil {
		s.escalate(ctx, inst, err)
		return nil, domain.Wrap(domain.KindInternal, "activating provisioned instance", err)
	}
	inst.Status = domain.StatusActive

	s.recordAudit(ownerID, inst.ID, "instance.create", name, false)
	s.notify(ctx, inst, "created", "")

	view := s.view(inst)
	view.ConnectionString = adapter.ConnectionString(inst, password)
	return view, nil
}

// Activate moves an Inactive instance back to Active, re-checking quota
// under the same isolation as Create: reactivation can itself be blocked.
func (s *InstanceService) Activate(ctx context.Context, instanceID, ownerID uuid.UUID) (*InstanceView, error) {
	inst, err := s.owned(ctx, instanceID, ownerID)
	if err != nil {
		return nil, err
	}
	if !inst.CanTransition(domain.StatusActive) {
		return nil, domain.Ef(domain.KindBadRequest, "instance cannot be activated from status %q", inst.Status)
	}

	plan := s.quota.ResolvePlan(ctx, ownerID)
	if err := s.instances.ActivateInstance(ctx, inst.ID, s.quota.CheckFunc(plan)); err != nil {
		return nil, err
	}
	inst.Status = domain.StatusActive

	s.recordAudit(ownerID, inst.ID, "instance.activate", inst.DatabaseName, false)
	s.notify(ctx, inst, "activated", "")
	return s.view(inst), nil
}

// Deactivate moves an Active instance to Inactive. Idempotent-reject: an
// already Inactive or Deleted instance is a BadRequest.
func (s *InstanceService) Deactivate(ctx context.Context, instanceID, ownerID uuid.UUID) (*InstanceView, error) {
	inst, err := s.owned(ctx, instanceID, ownerID)
	if err != nil {
		return nil, err
	}
	if !inst.CanTransition(domain.StatusInactive) {
		return nil, domain.Ef(domain.KindBadRequest, "instance cannot be deactivated from status %q", inst.Status)
	}

	if err := s.instances.UpdateStatus(ctx, inst.ID, domain.StatusInactive); err != nil {
		return nil, domain.Wrap(domain.KindInternal, "deactivating instance", err)
	}
	inst.Status = domain.StatusInactive

	s.recordAudit(ownerID, inst.ID, "instance.deactivate", inst.DatabaseName, false)
	s.notify(ctx, inst, "deactivated", "")
	return s.view(inst), nil
}

// Delete soft-deletes an Inactive instance. Physical de-provisioning must
// succeed before the state flips; Active instances must be deactivated
// first, a deliberate two-step gate against accidental data loss.
func (s *InstanceService) Delete(ctx context.Context, instanceID, ownerID uuid.UUID) error {
	inst, err := s.owned(ctx, instanceID, ownerID)
	if err != nil {
		return err
	}
	if inst.Status == domain.StatusActive {
		return domain.E(domain.KindBadRequest, "instance is active: deactivate it before deleting")
	}
	if !inst.CanTransition(domain.StatusDeleted) {
		return domain.Ef(domain.KindBadRequest, "instance cannot be deleted from status %q", inst.Status)
	}

	adapter, err := s.registry.Adapter(inst.EngineType)
	if err != nil {
		return err
	}
	// Probe-only engines have no physical database to drop.
	if adapter.SupportsProvisioning() {
		if err := adapter.DeletePhysicalDatabase(ctx, inst.DatabaseName, inst.DatabaseUser); err != nil {
			return err
		}
	}

	if err := s.instances.UpdateStatus(ctx, inst.ID, domain.StatusDeleted); err != nil {
		return domain.Wrap(domain.KindInternal, "marking instance deleted", err)
	}

	s.recordAudit(ownerID, inst.ID, "instance.delete", inst.DatabaseName, false)
	inst.Status = domain.StatusDeleted
	s.notify(ctx, inst, "deleted", "")
	return nil
}

// RotateCredentials replaces the instance's username and password without
// changing its identity or data. The new plaintext password is returned
// exactly once and never persisted.
func (s *InstanceService) RotateCredentials(ctx context.Context, instanceID, ownerID uuid.UUID) (*InstanceView, string, error) {
	inst, err := s.owned(ctx, instanceID, ownerID)
	if err != nil {
		return nil, "", err
	}
	if inst.Status != domain.StatusActive {
		return nil, "", domain.Ef(domain.KindBadRequest, "credentials can only be rotated on an active instance, not %q", inst.Status)
	}

	adapter, err := s.registry.Adapter(inst.EngineType)
	if err != nil {
		return nil, "", err
	}

	newUser := domain.GenerateRotatedUsername(inst.DatabaseName)
	newPassword, err := domain.GeneratePassword()
	if err != nil {
		return nil, "", domain.Wrap(domain.KindInternal, "generating credentials", err)
	}
	// Encrypt before touching the physical engine so an encryption
	// failure cannot strand a half-rotated instance.
	encrypted, err := s.encryptor.Encrypt([]byte(newPassword))
	if err != nil {
		return nil, "", domain.Wrap(domain.KindInternal, "encrypting credentials", err)
	}

	if err := adapter.UpdateCredentials(ctx, inst.DatabaseName, inst.DatabaseUser, newUser, newPassword); err != nil {
		return nil, "", err
	}

	if err := s.instances.UpdateCredentials(ctx, inst.ID, newUser, encrypted); err != nil {
		s.escalate(ctx, inst, fmt.Errorf("rotated on engine but not persisted: %w", err))
		return nil, "", domain.Wrap(domain.KindInternal, "persisting rotated credentials", err)
	}
	inst.DatabaseUser = newUser
	inst.EncryptedPassword = encrypted

	s.recordAudit(ownerID, inst.ID, "instance.rotate_credentials", inst.DatabaseName, false)
	s.notify(ctx, inst, "credentials_rotated", "")

	view := s.view(inst)
	view.ConnectionString = adapter.ConnectionString(inst, newPassword)
	return view, newPassword, nil
}

// List returns the caller's non-deleted instances.
func (s *InstanceService) List(ctx context.Context, ownerID uuid.UUID) ([]InstanceView, error) {
	insts, err := s.instances.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	views := make([]InstanceView, 0, len(insts))
	for i := range insts {
		views = append(views, *s.view(&insts[i]))
	}
	return views, nil
}

// Get returns one instance after an ownership check.
func (s *InstanceService) Get(ctx context.Context, instanceID, ownerID uuid.UUID) (*InstanceView, error) {
	inst, err := s.owned(ctx, instanceID, ownerID)
	if err != nil {
		return nil, err
	}
	return s.view(inst), nil
}

func (s *InstanceService) owned(ctx context.Context, instanceID, ownerID uuid.UUID) (*domain.DatabaseInstance, error) {
	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if !inst.OwnedBy(ownerID) {
		return nil, domain.E(domain.KindForbidden, "instance does not belong to the caller")
	}
	return inst, nil
}

// release marks a reserved row Failed after a benign post-commit quota
// race, freeing the quota slot.
func (s *InstanceService) release(ctx context.Context, inst *domain.DatabaseInstance, reason string) {
	if err := s.instances.UpdateStatus(ctx, inst.ID, domain.StatusFailed); err != nil {
		s.logger.Error("failed to release reserved instance",
			slog.String("instance_id", inst.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("released reserved instance",
		slog.String("instance_id", inst.ID.String()),
		slog.String("reason", reason),
	)
}

// escalate handles the one locally unrecoverable case: a committed record
// whose physical counterpart diverged. High-severity alert, no silent retry.
func (s *InstanceService) escalate(ctx context.Context, inst *domain.DatabaseInstance, cause error) {
	s.logger.Error("ALERT: instance record and physical engine state have diverged",
		slog.String("instance_id", inst.ID.String()),
		slog.String("owner_id", inst.OwnerID.String()),
		slog.String("engine", string(inst.EngineType)),
		slog.String("database", inst.DatabaseName),
		slog.String("error", cause.Error()),
	)
	if err := s.instances.UpdateStatus(ctx, inst.ID, domain.StatusFailed); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("failed to mark diverged instance",
			slog.String("instance_id", inst.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	s.recordAudit(inst.OwnerID, inst.ID, "instance.provisioning_failed", inst.DatabaseName, true)
	s.notify(ctx, inst, "provisioning_failed", cause.Error())
}

func (s *InstanceService) recordAudit(ownerID, instanceID uuid.UUID, action, summary string, isError bool) {
	s.audit.Log(port.AuditEntry{
		OwnerID:    ownerID,
		InstanceID: instanceID,
		Action:     action,
		Summary:    summary,
		IsError:    isError,
	})
}

// notify is best-effort; the notifier swallows its own failures.
func (s *InstanceService) notify(ctx context.Context, inst *domain.DatabaseInstance, event, detail string) {
	s.notifier.Notify(ctx, port.LifecycleEvent{
		OwnerID:    inst.OwnerID,
		InstanceID: inst.ID,
		Engine:     string(inst.EngineType),
		Event:      event,
		Detail:     detail,
	})
}

func (s *InstanceService) view(inst *domain.DatabaseInstance) *InstanceView {
	return &InstanceView{
		ID:            inst.ID,
		Engine:        string(inst.EngineType),
		DatabaseName:  inst.DatabaseName,
		DatabaseUser:  inst.DatabaseUser,
		Port:          inst.Port,
		ServerAddress: inst.ServerAddress,
		Status:        string(inst.Status),
		CreatedAt:     inst.CreatedAt,
		UpdatedAt:     inst.UpdatedAt,
	}
}
