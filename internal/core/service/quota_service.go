package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dbfleet/dbfleet/internal/core/domain"
	"github.com/dbfleet/dbfleet/internal/core/port"
)

// QuotaService computes the caller's plan limits and evaluates whether a
// new or reactivated instance would exceed them. The evaluation itself runs
// inside the repository's SERIALIZABLE check-and-reserve transaction; this
// service only supplies the decision function and the fail-fast pre-check.
type QuotaService struct {
	plans     port.PlanRepository
	instances port.InstanceRepository
	logger    *slog.Logger
}

func NewQuotaService(plans port.PlanRepository, instances port.InstanceRepository, logger *slog.Logger) *QuotaService {
	return &QuotaService{plans: plans, instances: instances, logger: logger}
}

// Decision is the outcome of a quota evaluation, with the counts the caller
// needs to self-diagnose a Conflict.
type Decision struct {
	Allowed bool
	Reason  string
	Current int
	Max     int
}

// ResolvePlan returns the caller's active plan, falling back to the free
// tier when there is no active paid subscription.
func (s *QuotaService) ResolvePlan(ctx context.Context, ownerID uuid.UUID) domain.Plan {
	plan, err := s.plans.GetActivePlan(ctx, ownerID)
	if err != nil {
		s.logger.Warn("plan lookup failed, applying free tier",
			slog.String("owner_id", ownerID.String()),
			slog.String("error", err.Error()),
		)
		return domain.FreePlan
	}
	if plan == nil || !plan.ActiveAt(time.Now()) {
		return domain.FreePlan
	}
	return *plan
}

// CanCreate is the fail-fast pre-check run before the reserve transaction.
// The authoritative check is CheckFunc, re-evaluated under isolation.
func (s *QuotaService) CanCreate(ctx context.Context, ownerID uuid.UUID, engineID int32) (Decision, error) {
	perEngine, global, err := s.instances.CountActive(ctx, ownerID, engineID)
	if err != nil {
		return Decision{}, fmt.Errorf("counting active instances: %w", err)
	}
	plan := s.ResolvePlan(ctx, ownerID)
	return s.evaluate(plan, perEngine, global), nil
}

// CheckFunc returns the quota decision function the repository evaluates
// inside the reserve transaction, with freshly counted usage.
func (s *QuotaService) CheckFunc(plan domain.Plan) port.QuotaCheck {
	return func(perEngine, global int) error {
		d := s.evaluate(plan, perEngine, global)
		if !d.Allowed {
			return domain.Ef(domain.KindConflict, "%s (current=%d, max=%d)", d.Reason, d.Current, d.Max)
		}
		return nil
	}
}

func (s *QuotaService) evaluate(plan domain.Plan, perEngine, global int) Decision {
	if perEngine >= plan.MaxPerEngine {
		return Decision{
			Reason:  "engine instance quota exceeded",
			Current: perEngine,
			Max:     plan.MaxPerEngine,
		}
	}
	// The global cap applies only without an active paid subscription.
	if !plan.Paid && global >= plan.MaxGlobal {
		return Decision{
			Reason:  "global instance quota exceeded",
			Current: global,
			Max:     plan.MaxGlobal,
		}
	}
	return Decision{Allowed: true, Current: perEngine, Max: plan.MaxPerEngine}
}

// EnforcePlanLimits reconciles an owner's instances with their current plan
// after a downgrade or expiry: the newest excess instances are deactivated
// per engine, then globally, so the oldest instances survive.
func (s *QuotaService) EnforcePlanLimits(ctx context.Context, ownerID uuid.UUID) error {
	plan := s.ResolvePlan(ctx, ownerID)

	all, err := s.instances.ListExcess(ctx, ownerID, nil)
	if err != nil {
		return fmt.Errorf("listing instances: %w", err)
	}

	// Per-engine pass. ListExcess orders newest first.
	perEngine := make(map[int32]int)
	for _, inst := range all {
		perEngine[inst.EngineID]++
	}
	deactivated := make(map[uuid.UUID]bool)
	for engineID, count := range perEngine {
		excess := count - plan.MaxPerEngine
		for _, inst := range all {
			if excess <= 0 {
				break
			}
			if inst.EngineID != engineID || deactivated[inst.ID] {
				continue
			}
			if err := s.deactivate(ctx, inst); err != nil {
				return err
			}
			deactivated[inst.ID] = true
			excess--
		}
	}

	if plan.Paid {
		return nil
	}

	// Global pass for the free tier.
	remaining := len(all) - len(deactivated)
	for _, inst := range all {
		if remaining <= plan.MaxGlobal {
			break
		}
		if deactivated[inst.ID] {
			continue
		}
		if err := s.deactivate(ctx, inst); err != nil {
			return err
		}
		deactivated[inst.ID] = true
		remaining--
	}
	return nil
}

func (s *QuotaService) deactivate(ctx context.Context, inst domain.DatabaseInstance) error {
	if err := s.instances.UpdateStatus(ctx, inst.ID, domain.StatusInactive); err != nil {
		return fmt.Errorf("deactivating excess instance %s: %w", inst.ID, err)
	}
	s.logger.Info("deactivated excess instance",
		slog.String("instance_id", inst.ID.String()),
		slog.String("owner_id", inst.OwnerID.String()),
	)
	return nil
}
