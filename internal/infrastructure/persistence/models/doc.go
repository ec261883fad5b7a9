// Package models contains GORM-specific persistence models for the local
// store. Domain types in internal/domain/offline stay free of ORM tags;
// mappers here convert between the two.
//
// Structure:
//   - record.go: synced entity tables (companies, vouchers, inventory_items)
//   - offline.go: pending changes, conflicts, sync sessions, queued actions
//   - kv.go: cache entries and settings
package models
