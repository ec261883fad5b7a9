package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := NewScheduler(config.SchedulerConfig{JobTimeout: time.Second}, nil, zaptest.NewLogger(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Register("a", "@every 1m", noop))
	assert.ErrorIs(t, s.Register("a", "@hourly", noop), ErrDuplicateJob)
	assert.ErrorIs(t, s.Register("b", "not a spec", noop), ErrInvalidSchedule)
	require.NoError(t, s.Register("manual", "", noop))
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, s.Register("ok", "", func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, s.Register("skip", "", func(context.Context) error { return ErrSkipped }))
	require.NoError(t, s.Register("fail", "", func(context.Context) error { return errors.New("boom") }))
	require.NoError(t, s.Register("panic", "", func(context.Context) error { panic("kaboom") }))

	_, err := s.RunNow(ctx, "ok")
	assert.ErrorIs(t, err, ErrSchedulerNotRunning)

	require.NoError(t, s.Start(ctx))

	run, err := s.RunNow(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, JobStatusSuccess, run.Status)
	assert.Equal(t, 1, run.Runs)
	assert.Equal(t, int32(1), calls.Load())

	run, err = s.RunNow(ctx, "skip")
	require.NoError(t, err)
	assert.Equal(t, JobStatusSkipped, run.Status)

	run, err = s.RunNow(ctx, "fail")
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, run.Status)
	assert.Equal(t, "boom", run.Error)

	run, err = s.RunNow(ctx, "panic")
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, run.Status)
	assert.Contains(t, run.Error, "kaboom")

	_, err = s.RunNow(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	runs := s.Runs()
	require.Len(t, runs, 4)
	assert.Equal(t, "fail", runs[0].Name)
}

func TestScheduler_RunNowRejectsOverlap(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Register("slow", "", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	require.NoError(t, s.Start(ctx))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.RunNow(ctx, "slow")
	}()
	<-started

	_, err := s.RunNow(ctx, "slow")
	assert.ErrorIs(t, err, ErrJobRunning)
	close(release)
	wg.Wait()
}

func TestScheduler_CronFires(t *testing.T) {
	s := newTestScheduler(t)

	var calls atomic.Int32
	require.NoError(t, s.Register("tick", "@every 1s", func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	runs := s.Runs()
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].NextRunAt)
}

func TestScheduler_JobTimeout(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{JobTimeout: 20 * time.Millisecond}, nil, zaptest.NewLogger(t))
	ctx := context.Background()
	require.NoError(t, s.Register("hang", "", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)

	run, err := s.RunNow(ctx, "hang")
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, run.Status)
	assert.Contains(t, run.Error, "deadline")
}

type fakeSettings map[string]string

func (f fakeSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	v, ok := f[key]
	return v, ok, nil
}

type fakeSyncer struct {
	active  *offline.SyncSession
	result  *offline.SyncSession
	err     error
	started atomic.Int32
}

func (f *fakeSyncer) StartSync(context.Context) (*offline.SyncSession, error) {
	f.started.Add(1)
	return f.result, f.err
}

func (f *fakeSyncer) ActiveSession() *offline.SyncSession { return f.active }

func TestAutoSyncJob(t *testing.T) {
	log := zaptest.NewLogger(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	done := offline.NewSyncSession(now)
	done.Finish(offline.SessionCompleted, "ok", now)

	t.Run("disabled when unset", func(t *testing.T) {
		syncer := &fakeSyncer{result: done}
		err := AutoSyncJob(fakeSettings{}, syncer, log)(ctx)
		assert.ErrorIs(t, err, ErrSkipped)
		assert.Zero(t, syncer.started.Load())
	})

	t.Run("disabled when false", func(t *testing.T) {
		syncer := &fakeSyncer{result: done}
		err := AutoSyncJob(fakeSettings{offline.SettingAutoSyncEnabled: "false"}, syncer, log)(ctx)
		assert.ErrorIs(t, err, ErrSkipped)
	})

	t.Run("skips when a session is active", func(t *testing.T) {
		syncer := &fakeSyncer{result: done, active: offline.NewSyncSession(now)}
		err := AutoSyncJob(fakeSettings{offline.SettingAutoSyncEnabled: "true"}, syncer, log)(ctx)
		assert.ErrorIs(t, err, ErrSkipped)
		assert.Zero(t, syncer.started.Load())
	})

	t.Run("runs when enabled", func(t *testing.T) {
		syncer := &fakeSyncer{result: done}
		err := AutoSyncJob(fakeSettings{offline.SettingAutoSyncEnabled: "true"}, syncer, log)(ctx)
		assert.NoError(t, err)
		assert.Equal(t, int32(1), syncer.started.Load())
	})

	t.Run("failed session is an error", func(t *testing.T) {
		failed := offline.NewSyncSession(now)
		failed.Finish(offline.SessionError, "device offline", now)
		syncer := &fakeSyncer{result: failed}
		err := AutoSyncJob(fakeSettings{offline.SettingAutoSyncEnabled: "1"}, syncer, log)(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "device offline")
	})
}

type fakeQueue struct {
	res offline.DrainResult
	err error
}

func (f fakeQueue) ProcessActionQueue(context.Context) (offline.DrainResult, error) {
	return f.res, f.err
}

type fakeCache struct{ n int64 }

func (f *fakeCache) ClearExpiredCache(context.Context) (int64, error) { return f.n, nil }

func TestQueueDrainAndCacheSweepJobs(t *testing.T) {
	log := zaptest.NewLogger(t)
	ctx := context.Background()

	assert.ErrorIs(t, QueueDrainJob(fakeQueue{res: offline.DrainResult{Offline: true}}, log)(ctx), ErrSkipped)
	assert.NoError(t, QueueDrainJob(fakeQueue{res: offline.DrainResult{Attempted: 2, Succeeded: 2}}, log)(ctx))
	assert.Error(t, QueueDrainJob(fakeQueue{err: errors.New("db")}, log)(ctx))
	assert.NoError(t, CacheSweepJob(&fakeCache{n: 3}, log)(ctx))
}

func TestRegisterEngineJobs(t *testing.T) {
	s := newTestScheduler(t)
	cfg := config.SchedulerConfig{
		AutoSyncSchedule:   "@every 15m",
		QueueDrainSchedule: "@every 1m",
		CacheSweepSchedule: "@hourly",
	}
	require.NoError(t, RegisterEngineJobs(s, cfg, EngineJobs{
		Settings: fakeSettings{},
		Syncer:   &fakeSyncer{},
		Queue:    fakeQueue{},
		Cache:    &fakeCache{},
	}))

	var names []string
	for _, r := range s.Runs() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{JobAutoSync, JobCacheSweep, JobQueueDrain}, names)
}
