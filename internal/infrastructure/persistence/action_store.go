package persistence

import (
	"context"
	"fmt"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/persistence/models"
)

// EnqueueAction persists a new queued action.
func (s *LocalStore) EnqueueAction(ctx context.Context, action *offline.QueuedAction) error {
	if action == nil || action.ID == "" {
		return fmt.Errorf("queued action id is required: %w", shared.ErrInvalidInput)
	}
	row, err := models.QueuedActionModelFromDomain(action)
	if err != nil {
		return fmt.Errorf("encode queued action: %w", err)
	}
	return wrap("enqueue action", s.db.WithContext(ctx).Create(row).Error)
}

// ListQueuedActions returns actions in drain order: priority tier, then
// creation time. With no statuses every action is listed.
func (s *LocalStore) ListQueuedActions(ctx context.Context, statuses ...offline.ActionStatus) ([]*offline.QueuedAction, error) {
	q := s.db.WithContext(ctx).
		Order("priority_rank ASC").
		Order("created_at ASC").
		Order("id ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(statuses))
	}
	var rows []models.QueuedActionModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("list queued actions", err)
	}
	actions := make([]*offline.QueuedAction, 0, len(rows))
	for i := range rows {
		a, err := rows[i].ToDomain()
		if err != nil {
			return nil, shared.NewStorageError("list queued actions", err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// GetQueuedAction returns the action with id, or shared.ErrNotFound.
func (s *LocalStore) GetQueuedAction(ctx context.Context, id string) (*offline.QueuedAction, error) {
	var row models.QueuedActionModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, wrap("get queued action", err)
	}
	a, err := row.ToDomain()
	if err != nil {
		return nil, shared.NewStorageError("get queued action", err)
	}
	return a, nil
}

// UpdateQueuedAction saves retry bookkeeping of an action.
func (s *LocalStore) UpdateQueuedAction(ctx context.Context, action *offline.QueuedAction) error {
	res := s.db.WithContext(ctx).Model(&models.QueuedActionModel{}).
		Where("id = ?", action.ID).
		Select("status", "retry_count", "last_error", "next_retry_at", "updated_at").
		Updates(map[string]any{
			"status":        string(action.Status),
			"retry_count":   action.RetryCount,
			"last_error":    action.LastError,
			"next_retry_at": action.NextRetryAt,
			"updated_at":    action.UpdatedAt.UTC(),
		})
	if res.Error != nil {
		return wrap("update queued action", res.Error)
	}
	if res.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteQueuedAction removes a completed action.
func (s *LocalStore) DeleteQueuedAction(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.QueuedActionModel{}).Error
	return wrap("delete queued action", err)
}

// CountQueuedActions counts actions, optionally restricted to statuses.
func (s *LocalStore) CountQueuedActions(ctx context.Context, statuses ...offline.ActionStatus) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.QueuedActionModel{})
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(statuses))
	}
	var count int64
	err := q.Count(&count).Error
	return count, wrap("count queued actions", err)
}

func statusStrings(statuses []offline.ActionStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
