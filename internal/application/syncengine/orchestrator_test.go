package syncengine

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/config"
	"github.com/erp/mobilesync/internal/infrastructure/persistence"
	"github.com/erp/mobilesync/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu        sync.Mutex
	sessions  []offline.SessionStatus
	items     map[offline.EntityKind]int
	conflicts int
	uploads   []string
}

func (r *recorder) RecordSession(_ context.Context, s *offline.SyncSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s.Status)
}

func (r *recorder) RecordItems(_ context.Context, kind offline.EntityKind, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items == nil {
		r.items = make(map[offline.EntityKind]int)
	}
	r.items[kind] += n
}

func (r *recorder) RecordConflict(context.Context, offline.EntityKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts++
}

func (r *recorder) RecordUpload(_ context.Context, _ offline.EntityKind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads = append(r.uploads, outcome)
}

func (r *recorder) sessionStatuses() []offline.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]offline.SessionStatus(nil), r.sessions...)
}

type engine struct {
	*Orchestrator
	store   *persistence.LocalStore
	clock   *shared.ManualClock
	erp     *testutil.FakeERP
	fx      *testutil.Fixtures
	metrics *recorder
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	erp := testutil.NewFakeERP(t)
	store, clock := testutil.NewLocalStore(t)
	metrics := &recorder{}
	o := New(store, erp.Client(t, 0), config.SyncConfig{UploadRetries: 3},
		WithClock(clock),
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(metrics),
	)
	return &engine{Orchestrator: o, store: store, clock: clock, erp: erp, fx: testutil.NewFixtures(42), metrics: metrics}
}

// seedVoucher puts one company and one of its vouchers on the server.
func (e *engine) seedVoucher() json.RawMessage {
	company := e.fx.Company()
	e.erp.Seed(testutil.CompaniesPath, company)
	v := e.fx.Voucher(idOf(company))
	e.erp.Seed(testutil.VouchersPath, v)
	return v
}

func (e *engine) mustSync(t *testing.T) *offline.SyncSession {
	t.Helper()
	s, err := e.StartSync(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func (e *engine) pending(t *testing.T) []*offline.PendingChange {
	t.Helper()
	changes, err := e.store.GetPendingChanges(context.Background())
	require.NoError(t, err)
	return changes
}

func idOf(body json.RawMessage) string {
	id, _ := testutil.Field(body, "id").(string)
	return id
}

func TestStartSync_DownloadsEveryCollection(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	company := e.fx.Company()
	cid := idOf(company)
	e.erp.Seed(testutil.CompaniesPath, company)
	e.erp.Seed(testutil.VouchersPath, e.fx.Vouchers(cid, 1000)...)
	e.erp.Seed(testutil.ItemsPath, e.fx.Item(cid), e.fx.Item(cid))

	session := e.mustSync(t)

	assert.Equal(t, offline.SessionCompleted, session.Status)
	assert.Equal(t, 1003, session.TotalItems)
	assert.Equal(t, 1003, session.ProcessedItems)
	assert.Zero(t, session.ConflictCount)
	assert.Empty(t, session.Errors)
	assert.NotNil(t, session.EndTime)
	assert.True(t, strings.HasPrefix(session.Summary, "1003 of 1003 items processed"))

	vouchers, err := e.store.List(ctx, offline.EntityVoucher, offline.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, vouchers, 1000)

	last, ok, err := e.store.GetSetting(ctx, offline.SettingLastSyncAt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.StartTime.Format(time.RFC3339Nano), last)

	history, err := e.GetSyncHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, session.ID, history[0].ID)
	assert.Equal(t, offline.SessionCompleted, history[0].Status)

	assert.Nil(t, e.ActiveSession())
	assert.Equal(t, []offline.SessionStatus{offline.SessionCompleted}, e.metrics.sessionStatuses())
	assert.Equal(t, 1000, e.metrics.items[offline.EntityVoucher])
}

func TestStartSync_OfflineEndsInError(t *testing.T) {
	e := newEngine(t)
	e.seedVoucher()
	e.erp.SetDown(true)

	session := e.mustSync(t)

	assert.Equal(t, offline.SessionError, session.Status)
	assert.Equal(t, "device offline", session.Summary)
	_, ok, err := e.store.GetSetting(context.Background(), offline.SettingLastSyncAt)
	require.NoError(t, err)
	assert.False(t, ok, "a failed session must not move the sync baseline")
}

func TestStartSync_ConcurrentCallsShareOneSession(t *testing.T) {
	e := newEngine(t)
	e.seedVoucher()
	release := e.erp.Block()
	defer release()

	type result struct {
		session *offline.SyncSession
		err     error
	}
	first := make(chan result, 1)
	go func() {
		s, err := e.StartSync(context.Background())
		first <- result{s, err}
	}()

	var active *offline.SyncSession
	testutil.RequireEventually(t, func() bool {
		active = e.ActiveSession()
		return active != nil
	}, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	joined, err := e.StartSync(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, joined)
	assert.Equal(t, active.ID, joined.ID)

	release()
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, active.ID, res.session.ID)
	assert.Equal(t, offline.SessionCompleted, res.session.Status)

	assert.Equal(t, 1, e.erp.Count(http.MethodGet, testutil.CompaniesPath))
	history, err := e.GetSyncHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestStartSync_OverwritesUnmodifiedRows(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	v := e.seedVoucher()
	id := idOf(v)
	e.mustSync(t)

	e.erp.Seed(testutil.VouchersPath, testutil.With(v, map[string]any{
		"narration": "edited on server",
		"version":   2,
		"updatedAt": testutil.Epoch.Add(time.Hour),
	}))
	session := e.mustSync(t)

	assert.Zero(t, session.ConflictCount)
	rec, err := e.store.Get(ctx, offline.EntityVoucher, id)
	require.NoError(t, err)
	assert.Equal(t, "edited on server", testutil.Field(rec.Payload, "narration"))
	assert.Equal(t, int64(2), rec.Version)
}

func TestStartSync_KeepsNewerLocalRow(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	v := e.seedVoucher()
	id := idOf(v)
	e.mustSync(t)

	pushed := testutil.With(v, map[string]any{"narration": "pushed", "version": 3})
	require.NoError(t, e.ApplyRemoteChange(ctx, offline.DataUpdate{
		EntityType: offline.EntityVoucher,
		EntityID:   id,
		Action:     offline.ChangeUpdate,
		Data:       pushed,
	}))
	e.erp.Seed(testutil.VouchersPath, testutil.With(v, map[string]any{"narration": "lagging", "version": 2}))

	session := e.mustSync(t)
	assert.Zero(t, session.ConflictCount)
	rec, err := e.store.Get(ctx, offline.EntityVoucher, id)
	require.NoError(t, err)
	assert.Equal(t, "pushed", testutil.Field(rec.Payload, "narration"))
}

func TestStartSync_PrunesRowsRemovedOnServer(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	v := e.seedVoucher()
	e.mustSync(t)

	draft := e.fx.Voucher(testutil.Field(v, "companyId").(string))
	_, err := e.ApplyLocalChange(ctx, offline.EntityVoucher, offline.ChangeCreate, &offline.Record{ID: idOf(draft), Payload: draft})
	require.NoError(t, err)
	e.erp.Remove(testutil.VouchersPath, idOf(v))

	session := e.mustSync(t)
	assert.Equal(t, offline.SessionCompleted, session.Status)

	_, err = e.store.Get(ctx, offline.EntityVoucher, idOf(v))
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = e.store.Get(ctx, offline.EntityVoucher, idOf(draft))
	require.NoError(t, err, "rows with local changes survive pruning")
	_, onServer := e.erp.Entity(testutil.VouchersPath, idOf(draft))
	assert.True(t, onServer)
	assert.Empty(t, e.pending(t))
}

func TestStartSync_PartialDownloadFailure(t *testing.T) {
	e := newEngine(t)
	e.seedVoucher()
	e.erp.FailNext(http.MethodGet, testutil.ItemsPath, http.StatusInternalServerError, 1)

	session := e.mustSync(t)

	assert.Equal(t, offline.SessionCompleted, session.Status)
	assert.Equal(t, 2, session.ProcessedItems)
	require.Len(t, session.Errors, 1)
	assert.Equal(t, offline.EntityInventoryItem, session.Errors[0].EntityType)
	assert.Equal(t, shared.CodeServer, session.Errors[0].Code)
}

func TestStartSync_EveryDownloadFails(t *testing.T) {
	e := newEngine(t)
	e.seedVoucher()
	for _, path := range []string{testutil.CompaniesPath, testutil.VouchersPath, testutil.ItemsPath} {
		e.erp.FailNext(http.MethodGet, path, http.StatusBadGateway, 1)
	}

	session := e.mustSync(t)

	assert.Equal(t, offline.SessionError, session.Status)
	assert.True(t, strings.HasPrefix(session.Summary, "download failed:"), session.Summary)
	assert.Len(t, session.Errors, 3)
}

func TestStartSync_InvalidRecordIsItemError(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.seedVoucher()
	e.erp.Seed(testutil.VouchersPath, json.RawMessage(`{"id":"broken","date":"2026-01-01T00:00:00Z"}`))

	session := e.mustSync(t)

	assert.Equal(t, offline.SessionCompleted, session.Status)
	assert.Equal(t, 3, session.TotalItems)
	assert.Equal(t, 2, session.ProcessedItems)
	require.Len(t, session.Errors, 1)
	assert.Equal(t, "broken", session.Errors[0].EntityID)
	assert.Equal(t, "INVALID_INPUT", session.Errors[0].Code)

	_, err := e.store.Get(ctx, offline.EntityVoucher, "broken")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestStartSync_StorageFailureIsReturned(t *testing.T) {
	mock := testutil.NewMockDB(t)
	erp := testutil.NewFakeERP(t)
	o := New(persistence.NewLocalStore(mock.DB), erp.Client(t, 0), config.SyncConfig{})

	session, err := o.StartSync(context.Background())

	assert.ErrorIs(t, err, shared.ErrStorage)
	assert.Nil(t, session)
	assert.Nil(t, o.ActiveSession())
}

func TestStatus_ReportsBacklog(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	v := e.seedVoucher()
	id := idOf(v)
	synced := e.mustSync(t)

	_, err := e.ApplyLocalChange(ctx, offline.EntityVoucher, offline.ChangeUpdate, &offline.Record{
		ID: id, Version: 1, Payload: testutil.With(v, map[string]any{"narration": "local"}),
	})
	require.NoError(t, err)
	require.NoError(t, e.ApplyRemoteChange(ctx, offline.DataUpdate{
		EntityType: offline.EntityVoucher,
		EntityID:   id,
		Action:     offline.ChangeUpdate,
		Data:       testutil.With(v, map[string]any{"narration": "remote", "version": 2}),
	}))

	action, err := offline.NewQueuedAction(offline.EntityAction{
		Op: offline.ChangeDelete, Kind: offline.EntityVoucher, EntityID: "v-gone",
	}, offline.PriorityNormal, 3, e.clock.Now())
	require.NoError(t, err)
	require.NoError(t, e.store.EnqueueAction(ctx, action))

	st, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, offline.SessionIdle, st.State)
	assert.Nil(t, st.ActiveSession)
	require.NotNil(t, st.LastSyncAt)
	assert.True(t, synced.StartTime.Equal(*st.LastSyncAt))
	assert.Equal(t, int64(1), st.PendingChanges)
	assert.Equal(t, int64(1), st.PendingConflicts)
	assert.Equal(t, int64(1), st.QueuedActions)
	assert.Zero(t, st.DeadActions)
	assert.Zero(t, st.DeadChanges)
}
