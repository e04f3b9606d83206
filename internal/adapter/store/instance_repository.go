package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dbfleet/dbfleet/internal/core/domain"
	"github.com/dbfleet/dbfleet/internal/core/port"
)

// InstanceRepository implements port.InstanceRepository.
type InstanceRepository struct {
	store *Store
}

func NewInstanceRepository(store *Store) *InstanceRepository {
	return &InstanceRepository{store: store}
}

const instanceColumns = `
	i.id, i.owner_id, i.engine_id, e.engine_type, i.database_name,
	i.database_user, i.encrypted_password, i.port, i.server_address,
	i.status, i.created_at, i.updated_at, i.deleted_at`

func (r *InstanceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DatabaseInstance, error) {
	row := r.store.pool.QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM instances i
		JOIN engines e ON e.id = i.engine_id
		WHERE i.id = $1`, id)

	inst, err := scanInstance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.E(domain.KindNotFound, "instance not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying instance: %w", err)
	}
	return inst, nil
}

func (r *InstanceRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.DatabaseInstance, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT `+instanceColumns+`
		FROM instances i
		JOIN engines e ON e.id = i.engine_id
		WHERE i.owner_id = $1 AND i.status <> 'deleted'
		ORDER BY i.created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.DatabaseInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning instance: %w", err)
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// ReserveInstance re-counts the owner's quota usage and inserts the new row
// with status Provisioning inside one SERIALIZABLE transaction. Two
// concurrent reserves by the same owner cannot both see the old count.
func (r *InstanceRepository) ReserveInstance(ctx context.Context, inst *domain.DatabaseInstance, check port.QuotaCheck) error {
	err := r.store.withSerializable(ctx, func(tx pgx.Tx) error {
		perEngine, global, err := countActiveTx(ctx, tx, inst.OwnerID, inst.EngineID)
		if err != nil {
			return err
		}
		if err := check(perEngine, global); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO instances
				(id, owner_id, engine_id, database_name, database_user,
				 encrypted_password, port, server_address, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			inst.ID, inst.OwnerID, inst.EngineID, inst.DatabaseName,
			inst.DatabaseUser, inst.EncryptedPassword, inst.Port,
			inst.ServerAddress, string(inst.Status))
		if err != nil {
			if isUniqueViolation(err) {
				return domain.Ef(domain.KindConflict, "database name %q is already in use", inst.DatabaseName)
			}
			return fmt.Errorf("inserting instance: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// ActivateInstance flips Inactive to Active inside the same SERIALIZABLE
// quota transaction: reactivation can itself be blocked by quota.
func (r *InstanceRepository) ActivateInstance(ctx context.Context, id uuid.UUID, check port.QuotaCheck) error {
	return r.store.withSerializable(ctx, func(tx pgx.Tx) error {
		var ownerID uuid.UUID
		var engineID int32
		err := tx.QueryRow(ctx, `
			SELECT owner_id, engine_id FROM instances
			WHERE id = $1 AND status = 'inactive'
			FOR UPDATE`, id).Scan(&ownerID, &engineID)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.E(domain.KindBadRequest, "instance is not inactive")
		}
		if err != nil {
			return fmt.Errorf("locking instance: %w", err)
		}

		perEngine, global, err := countActiveTx(ctx, tx, ownerID, engineID)
		if err != nil {
			return err
		}
		if err := check(perEngine, global); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE instances SET status = 'active', updated_at = now()
			WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("activating instance: %w", err)
		}
		return nil
	})
}

func (r *InstanceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.InstanceStatus) error {
	var tag string
	if status == domain.StatusDeleted {
		tag = `UPDATE instances SET status = $2, updated_at = now(), deleted_at = now() WHERE id = $1`
	} else {
		tag = `UPDATE instances SET status = $2, updated_at = now() WHERE id = $1`
	}
	ct, err := r.store.pool.Exec(ctx, tag, id, string(status))
	if err != nil {
		return fmt.Errorf("updating instance status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.E(domain.KindNotFound, "instance not found")
	}
	return nil
}

func (r *InstanceRepository) UpdateCredentials(ctx context.Context, id uuid.UUID, user string, encryptedPassword []byte) error {
	ct, err := r.store.pool.Exec(ctx, `
		UPDATE instances
		SET database_user = $2, encrypted_password = $3, updated_at = now()
		WHERE id = $1`, id, user, encryptedPassword)
	if err != nil {
		return fmt.Errorf("updating instance credentials: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.E(domain.KindNotFound, "instance not found")
	}
	return nil
}

func (r *InstanceRepository) CountActive(ctx context.Context, ownerID uuid.UUID, engineID int32) (int, int, error) {
	return countActive(ctx, r.store.pool, ownerID, engineID)
}

func (r *InstanceRepository) ListExcess(ctx context.Context, ownerID uuid.UUID, engineID *int32) ([]domain.DatabaseInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances i
		JOIN engines e ON e.id = i.engine_id
		WHERE i.owner_id = $1 AND i.status IN ('active', 'provisioning')`
	args := []any{ownerID}
	if engineID != nil {
		query += ` AND i.engine_id = $2`
		args = append(args, *engineID)
	}
	query += ` ORDER BY i.created_at DESC`

	rows, err := r.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing quota-occupying instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.DatabaseInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning instance: %w", err)
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func countActive(ctx context.Context, q queryer, ownerID uuid.UUID, engineID int32) (int, int, error) {
	var perEngine, global int
	err := q.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE engine_id = $2),
			COUNT(*)
		FROM instances
		WHERE owner_id = $1 AND status IN ('active', 'provisioning')`,
		ownerID, engineID).Scan(&perEngine, &global)
	if err != nil {
		return 0, 0, fmt.Errorf("counting active instances: %w", err)
	}
	return perEngine, global, nil
}

func countActiveTx(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, engineID int32) (int, int, error) {
	return countActive(ctx, tx, ownerID, engineID)
}

func scanInstance(row pgx.Row) (*domain.DatabaseInstance, error) {
	var inst domain.DatabaseInstance
	var engineType, status string
	err := row.Scan(
		&inst.ID, &inst.OwnerID, &inst.EngineID, &engineType,
		&inst.DatabaseName, &inst.DatabaseUser, &inst.EncryptedPassword,
		&inst.Port, &inst.ServerAddress, &status,
		&inst.CreatedAt, &inst.UpdatedAt, &inst.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.EngineType = domain.EngineType(engineType)
	inst.Status = domain.InstanceStatus(status)
	return &inst, nil
}
