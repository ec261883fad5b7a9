package persistence

import (
	"context"
	"fmt"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/persistence/models"
)

// AddSyncSession appends a session to history and evicts the oldest sessions
// beyond the retention count.
func (s *LocalStore) AddSyncSession(ctx context.Context, session *offline.SyncSession) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session id is required: %w", shared.ErrInvalidInput)
	}
	row, err := models.SyncSessionModelFromDomain(session)
	if err != nil {
		return shared.NewStorageError("add sync session", err)
	}
	db := s.db.WithContext(ctx)
	if err := db.Create(row).Error; err != nil {
		return wrap("add sync session", err)
	}

	keep := db.Model(&models.SyncSessionModel{}).
		Select("id").
		Order("start_time DESC").
		Order("id DESC").
		Limit(s.retention)
	err = db.Where("id NOT IN (?)", keep).Delete(&models.SyncSessionModel{}).Error
	return wrap("evict sync sessions", err)
}

// UpdateSyncSession overwrites the stored state of a session.
func (s *LocalStore) UpdateSyncSession(ctx context.Context, session *offline.SyncSession) error {
	row, err := models.SyncSessionModelFromDomain(session)
	if err != nil {
		return shared.NewStorageError("update sync session", err)
	}
	return wrap("update sync session", s.db.WithContext(ctx).Save(row).Error)
}

// GetSyncHistory returns up to limit sessions, newest first.
func (s *LocalStore) GetSyncHistory(ctx context.Context, limit int) ([]*offline.SyncSession, error) {
	q := s.db.WithContext(ctx).Order("start_time DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.SyncSessionModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("get sync history", err)
	}
	sessions := make([]*offline.SyncSession, 0, len(rows))
	for i := range rows {
		sess, err := rows[i].ToDomain()
		if err != nil {
			return nil, shared.NewStorageError("get sync history", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}
