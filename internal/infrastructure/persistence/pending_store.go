package persistence

import (
	"context"
	"fmt"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// AddPendingChange records a local mutation awaiting upload.
func (s *LocalStore) AddPendingChange(ctx context.Context, change *offline.PendingChange) error {
	if change == nil || change.ID == "" {
		return fmt.Errorf("pending change id is required: %w", shared.ErrInvalidInput)
	}
	err := s.db.WithContext(ctx).Create(models.PendingChangeModelFromDomain(change)).Error
	return wrap("add pending change", err)
}

// GetPendingChanges returns unsynced, non-dead changes oldest first.
func (s *LocalStore) GetPendingChanges(ctx context.Context) ([]*offline.PendingChange, error) {
	var rows []models.PendingChangeModel
	err := s.db.WithContext(ctx).
		Where("synced = ? AND dead_letter = ?", false, false).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("get pending changes", err)
	}

	changes := make([]*offline.PendingChange, 0, len(rows))
	for i := range rows {
		c, err := rows[i].ToDomain()
		if err != nil {
			return nil, shared.NewStorageError("get pending changes", err)
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// MarkChangeAsSynced flags the change as accepted by the server.
func (s *LocalStore) MarkChangeAsSynced(ctx context.Context, id string) error {
	now := s.now()
	return s.updatePendingChange(ctx, "mark change synced", id, map[string]any{
		"synced":     true,
		"synced_at":  now,
		"last_error": "",
	})
}

// MarkChangeFailed records a failed upload attempt, optionally moving the
// change to dead-letter.
func (s *LocalStore) MarkChangeFailed(ctx context.Context, id string, errMsg string, deadLetter bool) error {
	return s.updatePendingChange(ctx, "mark change failed", id, map[string]any{
		"attempts":    gorm.Expr("attempts + 1"),
		"last_error":  errMsg,
		"dead_letter": deadLetter,
	})
}

func (s *LocalStore) updatePendingChange(ctx context.Context, op, id string, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&models.PendingChangeModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return wrap(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// HasPendingChanges reports whether the entity has an outstanding local change.
func (s *LocalStore) HasPendingChanges(ctx context.Context, kind offline.EntityKind, entityID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.PendingChangeModel{}).
		Where("entity_type = ? AND entity_id = ? AND synced = ? AND dead_letter = ?", string(kind), entityID, false, false).
		Count(&count).Error
	if err != nil {
		return false, wrap("has pending changes", err)
	}
	return count > 0, nil
}

// DiscardPendingChanges drops outstanding changes of the entity. Synced
// history is kept.
func (s *LocalStore) DiscardPendingChanges(ctx context.Context, kind offline.EntityKind, entityID string) error {
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND synced = ?", string(kind), entityID, false).
		Delete(&models.PendingChangeModel{}).Error
	return wrap("discard pending changes", err)
}

// CountDeadChanges returns the number of dead-lettered changes.
func (s *LocalStore) CountDeadChanges(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.PendingChangeModel{}).
		Where("dead_letter = ?", true).
		Count(&count).Error
	return count, wrap("count dead changes", err)
}
