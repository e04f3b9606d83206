package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dbfleet/dbfleet/internal/core/port"
)

// AuditRepository persists audit entries. InsertBatch is called by the
// background audit writer, never on a request path.
type AuditRepository struct {
	store *Store
}

func NewAuditRepository(store *Store) *AuditRepository {
	return &AuditRepository{store: store}
}

func (r *AuditRepository) InsertBatch(ctx context.Context, entries []port.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO audit_log (owner_id, instance_id, action, summary, duration_ms, is_error)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.OwnerID, e.InstanceID, e.Action, e.Summary, e.DurationMs, e.IsError)
	}

	results := r.store.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting audit batch: %w", err)
		}
	}
	return nil
}

func (r *AuditRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]port.AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.store.pool.Query(ctx, `
		SELECT id, owner_id, instance_id, action, summary, duration_ms, is_error, created_at
		FROM audit_log
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit records: %w", err)
	}
	defer rows.Close()

	var records []port.AuditRecord
	for rows.Next() {
		var rec port.AuditRecord
		err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.InstanceID, &rec.Action,
			&rec.Summary, &rec.DurationMs, &rec.IsError, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
