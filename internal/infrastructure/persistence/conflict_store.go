package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/persistence/models"
)

// AddConflict persists a conflict. If the entity already has a pending
// conflict, that row is refreshed with the new data and conflict.ID is set to
// the existing id.
func (s *LocalStore) AddConflict(ctx context.Context, conflict *offline.Conflict) error {
	if conflict == nil {
		return fmt.Errorf("conflict is required: %w", shared.ErrInvalidInput)
	}
	db := s.db.WithContext(ctx)

	var existing models.ConflictModel
	res := db.Where("entity_type = ? AND entity_id = ? AND status = ?",
		string(conflict.EntityType), conflict.EntityID, string(offline.ConflictPending)).
		Limit(1).Find(&existing)
	if res.Error != nil {
		return wrap("add conflict", res.Error)
	}

	row := models.ConflictModelFromDomain(conflict)
	if res.RowsAffected > 0 {
		conflict.ID = existing.ID
		conflict.CreatedAt = existing.CreatedAt.UTC()
		err := db.Model(&models.ConflictModel{}).Where("id = ?", existing.ID).
			Select("local_data", "remote_data").
			Updates(map[string]any{
				"local_data":  row.LocalData,
				"remote_data": row.RemoteData,
			}).Error
		return wrap("refresh conflict", err)
	}
	return wrap("add conflict", db.Create(row).Error)
}

// GetConflict returns the conflict with id, or shared.ErrNotFound.
func (s *LocalStore) GetConflict(ctx context.Context, id string) (*offline.Conflict, error) {
	var row models.ConflictModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, wrap("get conflict", err)
	}
	c, err := row.ToDomain()
	if err != nil {
		return nil, shared.NewStorageError("get conflict", err)
	}
	return c, nil
}

// GetConflicts lists conflicts oldest first, optionally filtered by status.
func (s *LocalStore) GetConflicts(ctx context.Context, status offline.ConflictStatus) ([]*offline.Conflict, error) {
	q := s.db.WithContext(ctx).Order("created_at ASC").Order("id ASC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var rows []models.ConflictModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("get conflicts", err)
	}
	conflicts := make([]*offline.Conflict, 0, len(rows))
	for i := range rows {
		c, err := rows[i].ToDomain()
		if err != nil {
			return nil, shared.NewStorageError("get conflicts", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, nil
}

// ResolveConflict marks a pending conflict resolved.
func (s *LocalStore) ResolveConflict(ctx context.Context, id string, strategy offline.Strategy, resolvedData json.RawMessage) error {
	c, err := s.GetConflict(ctx, id)
	if err != nil {
		return err
	}
	if err := c.Resolve(strategy, resolvedData, s.now()); err != nil {
		return err
	}
	row := models.ConflictModelFromDomain(c)

	// only a pending row may transition
	res := s.db.WithContext(ctx).Model(&models.ConflictModel{}).
		Where("id = ? AND status = ?", id, string(offline.ConflictPending)).
		Select("status", "resolution", "resolved_data", "resolved_at").
		Updates(map[string]any{
			"status":        row.Status,
			"resolution":    row.Resolution,
			"resolved_data": row.ResolvedData,
			"resolved_at":   row.ResolvedAt,
		})
	if res.Error != nil {
		return wrap("resolve conflict", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("conflict %s already resolved: %w", id, shared.ErrInvalidState)
	}
	return nil
}
