package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dbfleet/dbfleet/internal/core/domain"
)

// EngineRepository reads the engine catalog seeded by migrations.
type EngineRepository struct {
	store *Store
}

func NewEngineRepository(store *Store) *EngineRepository {
	return &EngineRepository{store: store}
}

func (r *EngineRepository) GetByID(ctx context.Context, id int32) (*domain.Engine, error) {
	var eng domain.Engine
	var engineType string
	err := r.store.pool.QueryRow(ctx, `
		SELECT id, engine_type, default_port, active
		FROM engines WHERE id = $1`, id).
		Scan(&eng.ID, &engineType, &eng.DefaultPort, &eng.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "engine %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying engine: %w", err)
	}
	eng.Type = domain.EngineType(engineType)
	return &eng, nil
}

func (r *EngineRepository) List(ctx context.Context) ([]domain.Engine, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT id, engine_type, default_port, active
		FROM engines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing engines: %w", err)
	}
	defer rows.Close()

	var engines []domain.Engine
	for rows.Next() {
		var eng domain.Engine
		var engineType string
		if err := rows.Scan(&eng.ID, &engineType, &eng.DefaultPort, &eng.Active); err != nil {
			return nil, fmt.Errorf("scanning engine: %w", err)
		}
		eng.Type = domain.EngineType(engineType)
		engines = append(engines, eng)
	}
	return engines, rows.Err()
}
