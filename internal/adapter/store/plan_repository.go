package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dbfleet/dbfleet/internal/core/domain"
)

// PlanRepository resolves subscriptions to plans. No row means free tier,
// which is signaled as a nil plan with nil error.
type PlanRepository struct {
	store *Store
}

func NewPlanRepository(store *Store) *PlanRepository {
	return &PlanRepository{store: store}
}

func (r *PlanRepository) GetActivePlan(ctx context.Context, ownerID uuid.UUID) (*domain.Plan, error) {
	var plan domain.Plan
	err := r.store.pool.QueryRow(ctx, `
		SELECT p.id, p.name, p.max_per_engine, p.max_global, p.paid, s.expires_at
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.owner_id = $1
		  AND s.active
		  AND (s.expires_at IS NULL OR s.expires_at > now())
		ORDER BY s.created_at DESC
		LIMIT 1`, ownerID).
		Scan(&plan.ID, &plan.Name, &plan.MaxPerEngine, &plan.MaxGlobal, &plan.Paid, &plan.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying active plan: %w", err)
	}
	return &plan, nil
}
