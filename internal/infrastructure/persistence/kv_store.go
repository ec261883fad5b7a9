package persistence

import (
	"context"
	"time"

	"github.com/erp/mobilesync/internal/infrastructure/persistence/models"
	"gorm.io/gorm/clause"
)

// SetCache stores value under key for ttl. A non-positive ttl stores an entry
// that is already expired.
func (s *LocalStore) SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.cache != nil {
		return wrap("set cache", s.cache.Set(ctx, key, value, ttl))
	}
	row := &models.CacheEntryModel{
		Key:       key,
		Value:     value,
		ExpiresAt: s.now().Add(ttl),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
		}).
		Create(row).Error
	return wrap("set cache", err)
}

// GetCache returns the cached value; expired entries are reported absent.
func (s *LocalStore) GetCache(ctx context.Context, key string) ([]byte, bool, error) {
	if s.cache != nil {
		v, ok, err := s.cache.Get(ctx, key)
		return v, ok, wrap("get cache", err)
	}
	var row models.CacheEntryModel
	res := s.db.WithContext(ctx).Where("key = ?", key).Limit(1).Find(&row)
	if res.Error != nil {
		return nil, false, wrap("get cache", res.Error)
	}
	if res.RowsAffected == 0 || !s.now().Before(row.ExpiresAt) {
		return nil, false, nil
	}
	return row.Value, true, nil
}

// ClearExpiredCache deletes expired entries and returns how many were removed.
// Backends with native expiry have nothing to sweep.
func (s *LocalStore) ClearExpiredCache(ctx context.Context) (int64, error) {
	if s.cache != nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&models.CacheEntryModel{})
	return res.RowsAffected, wrap("clear expired cache", res.Error)
}

// SetSetting stores an engine setting.
func (s *LocalStore) SetSetting(ctx context.Context, key, value string) error {
	row := &models.SettingModel{Key: key, Value: value, UpdatedAt: s.now()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(row).Error
	return wrap("set setting", err)
}

// GetSetting returns the setting value and whether it exists.
func (s *LocalStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var row models.SettingModel
	res := s.db.WithContext(ctx).Where("key = ?", key).Limit(1).Find(&row)
	if res.Error != nil {
		return "", false, wrap("get setting", res.Error)
	}
	return row.Value, res.RowsAffected > 0, nil
}
