package models

import "time"

// CacheEntryModel is the persistence model of an advisory cache entry
type CacheEntryModel struct {
	Key       string    `gorm:"type:varchar(255);primaryKey"`
	Value     []byte    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (CacheEntryModel) TableName() string { return "cache_entries" }

// SettingModel is the persistence model of an engine setting
type SettingModel struct {
	Key       string    `gorm:"type:varchar(100);primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SettingModel) TableName() string { return "settings" }
