package models

// All returns every model the local store migrates.
func All() []any {
	return []any{
		&CompanyModel{},
		&VoucherModel{},
		&InventoryItemModel{},
		&PendingChangeModel{},
		&ConflictModel{},
		&SyncSessionModel{},
		&QueuedActionModel{},
		&CacheEntryModel{},
		&SettingModel{},
	}
}
