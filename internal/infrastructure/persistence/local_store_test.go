package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var storeEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func setupLocalStore(t *testing.T, opts ...StoreOption) (*LocalStore, *shared.ManualClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))

	clock := shared.NewManualClock(storeEpoch)
	return NewLocalStore(db, append([]StoreOption{WithClock(clock)}, opts...)...), clock
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func voucherRecord(id, companyID string, date time.Time, amount string, updatedAt time.Time) *offline.Record {
	payload := fmt.Sprintf(`{"id":%q,"companyId":%q,"date":%q,"amount":%q}`,
		id, companyID, date.Format(time.RFC3339), amount)
	return &offline.Record{
		ID:        id,
		Kind:      offline.EntityVoucher,
		UpdatedAt: updatedAt,
		Payload:   json.RawMessage(payload),
	}
}

func itemRecord(id, category, name string) *offline.Record {
	payload := fmt.Sprintf(`{"id":%q,"companyId":"c1","name":%q,"category":%q,"quantity":"1"}`, id, name, category)
	return &offline.Record{ID: id, Kind: offline.EntityInventoryItem, UpdatedAt: storeEpoch, Payload: json.RawMessage(payload)}
}

func TestLocalStore_Upsert(t *testing.T) {
	store, _ := setupLocalStore(t)
	ctx := context.Background()

	t.Run("is idempotent", func(t *testing.T) {
		r := voucherRecord("v1", "c1", storeEpoch, "1000", storeEpoch)
		require.NoError(t, store.Upsert(ctx, offline.EntityVoucher, r))
		first, err := store.Get(ctx, offline.EntityVoucher, "v1")
		require.NoError(t, err)

		require.NoError(t, store.Upsert(ctx, offline.EntityVoucher, r))
		second, err := store.Get(ctx, offline.EntityVoucher, "v1")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		all, err := store.List(ctx, offline.EntityVoucher, offline.ListFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("replaces the whole record", func(t *testing.T) {
		later := storeEpoch.Add(time.Hour)
		r := voucherRecord("v1", "c2", storeEpoch, "1500", later)
		r.Version = 7
		r.TallyRef = "T-9"
		require.NoError(t, store.Upsert(ctx, offline.EntityVoucher, r))

		got, err := store.Get(ctx, offline.EntityVoucher, "v1")
		require.NoError(t, err)
		assert.True(t, r.SamePayload(got))
		assert.Equal(t, later, got.UpdatedAt)
		assert.Equal(t, int64(7), got.Version)
		assert.Equal(t, "T-9", got.TallyRef)
	})

	t.Run("rejects payload breaking the contract", func(t *testing.T) {
		r := &offline.Record{ID: "v2", Payload: json.RawMessage(`{"id":"v2"}`)}
		err := store.Upsert(ctx, offline.EntityVoucher, r)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
		assert.False(t, shared.IsFatal(err))
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		err := store.Upsert(ctx, offline.EntityKind("ledger"), &offline.Record{ID: "x"})
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})
}

func TestLocalStore_GetAndDelete(t *testing.T) {
	store, _ := setupLocalStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, offline.EntityCompany, "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	company := &offline.Record{ID: "c1", UpdatedAt: storeEpoch, Payload: json.RawMessage(`{"id":"c1","name":"Acme"}`)}
	require.NoError(t, store.Upsert(ctx, offline.EntityCompany, company))
	require.NoError(t, store.Delete(ctx, offline.EntityCompany, "c1"))

	_, err = store.Get(ctx, offline.EntityCompany, "c1")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	assert.NoError(t, store.Delete(ctx, offline.EntityCompany, "c1"))
}

func TestLocalStore_List(t *testing.T) {
	store, _ := setupLocalStore(t)
	ctx := context.Background()

	t.Run("vouchers newest date first", func(t *testing.T) {
		d := storeEpoch
		require.NoError(t, store.Upsert(ctx, offline.EntityVoucher, voucherRecord("a", "c1", d, "1", d)))
		require.NoError(t, store.Upsert(ctx, offline.EntityVoucher, voucherRecord("b", "c1", d.AddDate(0, 0, 2), "1", d)))
		require.NoError(t, store.Upsert(ctx, offline.EntityVoucher, voucherRecord("c", "c1", d, "1", d)))
		require.NoError(t, store.Upsert(ctx, offline.EntityVoucher, voucherRecord("d", "c2", d.AddDate(0, 0, 5), "1", d)))

		got, err := store.List(ctx, offline.EntityVoucher, offline.ListFilter{CompanyID: "c1"})
		require.NoError(t, err)
		// same date: later insertion first
		assert.Equal(t, []string{"b", "c", "a"}, ids(got))

		page, err := store.List(ctx, offline.EntityVoucher, offline.ListFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, ids(page))
	})

	t.Run("items by category then name", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, offline.EntityInventoryItem, itemRecord("i1", "tools", "Wrench")))
		require.NoError(t, store.Upsert(ctx, offline.EntityInventoryItem, itemRecord("i2", "hardware", "Nut")))
		require.NoError(t, store.Upsert(ctx, offline.EntityInventoryItem, itemRecord("i3", "hardware", "Bolt")))

		got, err := store.List(ctx, offline.EntityInventoryItem, offline.ListFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"i3", "i2", "i1"}, ids(got))

		hw, err := store.List(ctx, offline.EntityInventoryItem, offline.ListFilter{Category: "hardware"})
		require.NoError(t, err)
		assert.Len(t, hw, 2)
	})
}

func ids(records []*offline.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestLocalStore_CorruptRow(t *testing.T) {
	store, _ := setupLocalStore(t)
	ctx := context.Background()

	require.NoError(t, store.db.Exec(
		"INSERT INTO vouchers (id, company_id, name, category, modified_at, version, payload, tally_ref, created_at) VALUES (?, ?, '', '', ?, 0, ?, '', ?)",
		"v-bad", "c1", storeEpoch, `{"id":"v-bad"`, storeEpoch,
	).Error)

	_, err := store.Get(ctx, offline.EntityVoucher, "v-bad")
	assert.ErrorIs(t, err, shared.ErrStorage)

	_, err = store.List(ctx, offline.EntityVoucher, offline.ListFilter{})
	assert.ErrorIs(t, err, shared.ErrStorage)
}

func TestLocalStore_PendingChanges(t *testing.T) {
	store, clock := setupLocalStore(t)
	ctx := context.Background()

	c1 := offline.NewPendingChange(offline.EntityVoucher, "v1", offline.ChangeCreate, json.RawMessage(`{"id":"v1"}`), clock.Now())
	c2 := offline.NewPendingChange(offline.EntityVoucher, "v1", offline.ChangeUpdate, json.RawMessage(`{"id":"v1","x":1}`), clock.Now().Add(time.Second))
	c2.Base = &offline.RecordBase{UpdatedAt: clock.Now().Add(-time.Hour), Version: 4}
	c3 := offline.NewPendingChange(offline.EntityCompany, "c1", offline.ChangeDelete, nil, clock.Now().Add(2*time.Second))
	for _, c := range []*offline.PendingChange{c3, c1, c2} {
		require.NoError(t, store.AddPendingChange(ctx, c))
	}

	pending, err := store.GetPendingChanges(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, c1.ID, pending[0].ID)
	assert.Equal(t, c2.ID, pending[1].ID)
	assert.Nil(t, pending[0].Base)
	require.NotNil(t, pending[1].Base)
	assert.Equal(t, int64(4), pending[1].Base.Version)
	assert.True(t, c2.Base.UpdatedAt.Equal(pending[1].Base.UpdatedAt))
	assert.Nil(t, pending[2].Payload)

	has, err := store.HasPendingChanges(ctx, offline.EntityVoucher, "v1")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, store.MarkChangeAsSynced(ctx, c1.ID))
	require.NoError(t, store.MarkChangeFailed(ctx, c2.ID, "422 rejected", true))
	require.NoError(t, store.MarkChangeFailed(ctx, c3.ID, "timeout", false))

	pending, err = store.GetPendingChanges(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, c3.ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "timeout", pending[0].LastError)

	dead, err := store.CountDeadChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)

	has, err = store.HasPendingChanges(ctx, offline.EntityVoucher, "v1")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, store.DiscardPendingChanges(ctx, offline.EntityCompany, "c1"))
	pending, err = store.GetPendingChanges(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, store.MarkChangeAsSynced(ctx, "nope"), shared.ErrNotFound)
}

func TestLocalStore_PendingChangesSameInstant(t *testing.T) {
	store, clock := setupLocalStore(t)
	ctx := context.Background()

	var want []string
	for _, action := range []offline.ChangeAction{offline.ChangeCreate, offline.ChangeUpdate, offline.ChangeUpdate, offline.ChangeDelete} {
		c := offline.NewPendingChange(offline.EntityVoucher, "v1", action, json.RawMessage(`{"id":"v1"}`), clock.Now())
		require.NoError(t, store.AddPendingChange(ctx, c))
		want = append(want, c.ID)
	}

	pending, err := store.GetPendingChanges(ctx)
	require.NoError(t, err)
	got := make([]string, 0, len(pending))
	for _, c := range pending {
		got = append(got, c.ID)
	}
	assert.Equal(t, want, got)
}

func TestLocalStore_Conflicts(t *testing.T) {
	store, clock := setupLocalStore(t)
	ctx := context.Background()

	c := offline.NewConflict(offline.EntityVoucher, "v1", json.RawMessage(`{"a":1}`), json.RawMessage(`{"a":2}`), clock.Now())
	require.NoError(t, store.AddConflict(ctx, c))

	t.Run("refreshes pending conflict of the same entity", func(t *testing.T) {
		again := offline.NewConflict(offline.EntityVoucher, "v1", json.RawMessage(`{"a":1}`), json.RawMessage(`{"a":3}`), clock.Now())
		require.NoError(t, store.AddConflict(ctx, again))
		assert.Equal(t, c.ID, again.ID)

		all, err := store.GetConflicts(ctx, offline.ConflictPending)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.JSONEq(t, `{"a":3}`, string(all[0].RemoteData))
	})

	t.Run("resolves once", func(t *testing.T) {
		require.NoError(t, store.ResolveConflict(ctx, c.ID, offline.StrategyLocal, json.RawMessage(`{"a":1}`)))

		got, err := store.GetConflict(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, offline.ConflictResolved, got.Status)
		assert.Equal(t, offline.StrategyLocal, got.Resolution)
		require.NotNil(t, got.ResolvedAt)

		err = store.ResolveConflict(ctx, c.ID, offline.StrategyRemote, nil)
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})

	t.Run("remote deletion keeps nil remote data", func(t *testing.T) {
		del := offline.NewConflict(offline.EntityVoucher, "v9", json.RawMessage(`{"a":1}`), nil, clock.Now())
		require.NoError(t, store.AddConflict(ctx, del))
		got, err := store.GetConflict(ctx, del.ID)
		require.NoError(t, err)
		assert.True(t, got.RemoteDeleted())
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.GetConflict(ctx, "missing")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	all, err := store.GetConflicts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLocalStore_Cache(t *testing.T) {
	store, clock := setupLocalStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetCache(ctx, "expired", []byte("v"), -1))
	_, ok, err := store.GetCache(ctx, "expired")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetCache(ctx, "fresh", []byte("v"), 60*time.Second))
	v, ok, err := store.GetCache(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	clock.Advance(61 * time.Second)
	_, ok, err = store.GetCache(ctx, "fresh")
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := store.ClearExpiredCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

type memoryBackend struct {
	values map[string][]byte
}

func (m *memoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		delete(m.values, key)
		return nil
	}
	m.values[key] = value
	return nil
}

func (m *memoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func TestLocalStore_CacheBackend(t *testing.T) {
	backend := &memoryBackend{values: map[string][]byte{}}
	store, _ := setupLocalStore(t, WithCacheBackend(backend))
	ctx := context.Background()

	require.NoError(t, store.SetCache(ctx, "k", []byte("v"), time.Minute))
	assert.Equal(t, []byte("v"), backend.values["k"])

	v, ok, err := store.GetCache(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	removed, err := store.ClearExpiredCache(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestLocalStore_SyncHistory(t *testing.T) {
	store, clock := setupLocalStore(t, WithHistoryRetention(3))
	ctx := context.Background()

	var last *offline.SyncSession
	for i := 0; i < 5; i++ {
		clock.Advance(time.Minute)
		last = offline.NewSyncSession(clock.Now())
		require.NoError(t, store.AddSyncSession(ctx, last))
	}

	last.ProcessedItems = 10
	last.AddError(offline.SyncError{EntityType: offline.EntityVoucher, EntityID: "v1", Code: shared.CodeServer, Message: "500"})
	last.Finish(offline.SessionCompleted, "done", clock.Now())
	require.NoError(t, store.UpdateSyncSession(ctx, last))

	history, err := store.GetSyncHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, last.ID, history[0].ID)
	assert.Equal(t, offline.SessionCompleted, history[0].Status)
	assert.Equal(t, 10, history[0].ProcessedItems)
	require.Len(t, history[0].Errors, 1)
	assert.Equal(t, "v1", history[0].Errors[0].EntityID)

	limited, err := store.GetSyncHistory(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLocalStore_Settings(t *testing.T) {
	store, _ := setupLocalStore(t)
	ctx := context.Background()

	_, ok, err := store.GetSetting(ctx, offline.SettingLastSyncAt)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetSetting(ctx, offline.SettingAutoSyncEnabled, "true"))
	require.NoError(t, store.SetSetting(ctx, offline.SettingAutoSyncEnabled, "false"))
	v, ok, err := store.GetSetting(ctx, offline.SettingAutoSyncEnabled)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "false", v)
}

func TestLocalStore_QueuedActions(t *testing.T) {
	store, clock := setupLocalStore(t)
	ctx := context.Background()

	mk := func(id string, p offline.Priority) *offline.QueuedAction {
		a, err := offline.NewQueuedAction(offline.EntityAction{
			Op: offline.ChangeDelete, Kind: offline.EntityVoucher, EntityID: id,
		}, p, 3, clock.Now())
		require.NoError(t, err)
		require.NoError(t, store.EnqueueAction(ctx, a))
		return a
	}
	low := mk("v1", offline.PriorityLow)
	normal := mk("v2", offline.PriorityNormal)
	high := mk("v3", offline.PriorityHigh)
	normal2 := mk("v4", offline.PriorityNormal)

	list, err := store.ListQueuedActions(ctx)
	require.NoError(t, err)
	got := make([]string, len(list))
	for i, a := range list {
		got[i] = a.ID
	}
	assert.Equal(t, []string{high.ID, normal.ID, normal2.ID, low.ID}, got)
	assert.Equal(t, offline.ActionDeleteVoucher, list[0].Type())

	normal.MarkFailed("boom", clock.Now(), time.Second, time.Minute)
	require.NoError(t, store.UpdateQueuedAction(ctx, normal))
	low.MarkDead("rejected", clock.Now())
	require.NoError(t, store.UpdateQueuedAction(ctx, low))

	dead, err := store.ListQueuedActions(ctx, offline.ActionStatusDead)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "rejected", dead[0].LastError)

	reloaded, err := store.GetQueuedAction(ctx, normal.ID)
	require.NoError(t, err)
	assert.Equal(t, offline.ActionStatusFailed, reloaded.Status)
	require.NotNil(t, reloaded.NextRetryAt)

	live, err := store.CountQueuedActions(ctx, offline.ActionStatusPending, offline.ActionStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(3), live)

	require.NoError(t, store.DeleteQueuedAction(ctx, high.ID))
	total, err := store.CountQueuedActions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	_, err = store.GetQueuedAction(ctx, high.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLocalStore_Transaction(t *testing.T) {
	store, clock := setupLocalStore(t)
	ctx := context.Background()

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.Transaction(ctx, func(tx offline.LocalStore) error {
			r := voucherRecord("v1", "c1", storeEpoch, "1", storeEpoch)
			if err := tx.Upsert(ctx, offline.EntityVoucher, r); err != nil {
				return err
			}
			change := offline.NewPendingChange(offline.EntityVoucher, "v1", offline.ChangeCreate, r.Payload, clock.Now())
			if err := tx.AddPendingChange(ctx, change); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = store.Get(ctx, offline.EntityVoucher, "v1")
		assert.ErrorIs(t, err, shared.ErrNotFound)
		pending, err := store.GetPendingChanges(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("domain errors pass through", func(t *testing.T) {
		err := store.Transaction(ctx, func(tx offline.LocalStore) error {
			return shared.ErrInvalidState
		})
		assert.ErrorIs(t, err, shared.ErrInvalidState)
		assert.False(t, shared.IsFatal(err))
	})

	t.Run("commits", func(t *testing.T) {
		err := store.Transaction(ctx, func(tx offline.LocalStore) error {
			return tx.SetSetting(ctx, "k", "v")
		})
		require.NoError(t, err)
		v, ok, err := store.GetSetting(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", v)
	})
}

func TestLocalStore_StorageErrors(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewLocalStore(db)
	ctx := context.Background()
	diskErr := errors.New("disk I/O error")

	t.Run("get wraps engine failure", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "vouchers" WHERE id = $1 LIMIT $2`)).
			WillReturnError(diskErr)

		_, err := store.Get(ctx, offline.EntityVoucher, "v1")
		assert.ErrorIs(t, err, shared.ErrStorage)
		assert.ErrorIs(t, err, diskErr)
		assert.True(t, shared.IsFatal(err))

		var se *shared.StorageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "get vouchers", se.Op)
	})

	t.Run("pending changes wrap engine failure", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "pending_changes"`)).
			WillReturnError(diskErr)

		_, err := store.GetPendingChanges(ctx)
		assert.ErrorIs(t, err, shared.ErrStorage)
	})

	t.Run("settings wrap engine failure", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "settings"`)).
			WillReturnError(diskErr)

		_, _, err := store.GetSetting(ctx, offline.SettingLastSyncAt)
		assert.ErrorIs(t, err, shared.ErrStorage)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
