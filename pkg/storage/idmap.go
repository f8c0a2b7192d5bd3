package storage

import "context"

// IDMapping is a bidirectional local-uuid to backend-cuid association scoped
// by entity type. Mappings are immutable once created.
type IDMapping struct {
	LocalID    string
	BackendID  string
	EntityType string
	CreatedAt  int64
}

// IDMappingRepository persists id mappings.
type IDMappingRepository struct {
	m *Manager
}

// Create stores a new mapping. Re-mapping either side of an existing pair
// fails with InvalidInput.
func (r *IDMappingRepository) Create(ctx context.Context, mapping IDMapping) error {
	const op = "create id mapping"
	if mapping.LocalID == "" || mapping.BackendID == "" || mapping.EntityType == "" {
		return invalidInput(op, "local id, backend id, and entity type are all required")
	}
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		_, err := r.m.db.ExecContext(ctx,
			`INSERT INTO id_mappings (local_id, backend_id, entity_type, created_at)
			 VALUES (?, ?, ?, ?)`,
			mapping.LocalID, mapping.BackendID, mapping.EntityType, r.m.now())
		return struct{}{}, mapError(op, err)
	})
	return err
}

// GetBackendID resolves a local id to its backend id.
func (r *IDMappingRepository) GetBackendID(ctx context.Context, localID, entityType string) (string, error) {
	const op = "get backend id"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (string, error) {
		var backendID string
		err := r.m.db.QueryRowContext(ctx,
			`SELECT backend_id FROM id_mappings WHERE local_id = ? AND entity_type = ?`,
			localID, entityType).Scan(&backendID)
		return backendID, mapError(op, err)
	})
}

// GetLocalID resolves a backend id to its local id.
func (r *IDMappingRepository) GetLocalID(ctx context.Context, backendID, entityType string) (string, error) {
	const op = "get local id"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (string, error) {
		var localID string
		err := r.m.db.QueryRowContext(ctx,
			`SELECT local_id FROM id_mappings WHERE backend_id = ? AND entity_type = ?`,
			backendID, entityType).Scan(&localID)
		return localID, mapError(op, err)
	})
}

// DeleteByEntity removes all mappings for one entity type, returning how
// many were removed.
func (r *IDMappingRepository) DeleteByEntity(ctx context.Context, entityType string) (int64, error) {
	const op = "delete id mappings by entity"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (int64, error) {
		res, err := r.m.db.ExecContext(ctx,
			`DELETE FROM id_mappings WHERE entity_type = ?`, entityType)
		if err != nil {
			return 0, mapError(op, err)
		}
		n, err := res.RowsAffected()
		return n, mapError(op, err)
	})
}
