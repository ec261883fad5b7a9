package scheduler

import (
	"context"
	"fmt"
	"strconv"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Engine job names
const (
	JobAutoSync   = "auto_sync"
	JobQueueDrain = "queue_drain"
	JobCacheSweep = "cache_sweep"
)

// SyncStarter starts sync sessions.
type SyncStarter interface {
	StartSync(ctx context.Context) (*offline.SyncSession, error)
	ActiveSession() *offline.SyncSession
}

// QueueDrainer replays the offline action queue.
type QueueDrainer interface {
	ProcessActionQueue(ctx context.Context) (offline.DrainResult, error)
}

// CacheSweeper removes expired cache entries.
type CacheSweeper interface {
	ClearExpiredCache(ctx context.Context) (int64, error)
}

// SettingsReader reads engine settings.
type SettingsReader interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// AutoSyncEnabled reports whether the auto_sync_enabled setting is true.
// An unset flag counts as disabled.
func AutoSyncEnabled(ctx context.Context, settings SettingsReader) (bool, error) {
	v, ok, err := settings.GetSetting(ctx, offline.SettingAutoSyncEnabled)
	if err != nil || !ok {
		return false, err
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return false, nil
	}
	return enabled, nil
}

// AutoSyncJob starts a sync session when auto-sync is enabled and no
// session is active.
func AutoSyncJob(settings SettingsReader, syncer SyncStarter, log *zap.Logger) JobFunc {
	return func(ctx context.Context) error {
		enabled, err := AutoSyncEnabled(ctx, settings)
		if err != nil {
			return fmt.Errorf("failed to read auto-sync setting: %w", err)
		}
		if !enabled {
			return fmt.Errorf("%w: auto-sync disabled", ErrSkipped)
		}
		if active := syncer.ActiveSession(); active != nil {
			return fmt.Errorf("%w: session %s already active", ErrSkipped, active.ID)
		}

		session, err := syncer.StartSync(ctx)
		if err != nil {
			return err
		}
		if session.Status == offline.SessionError {
			return fmt.Errorf("sync session %s failed: %s", session.ID, session.Summary)
		}
		log.Info("Auto-sync finished",
			zap.String("session_id", session.ID),
			zap.Int("processed_items", session.ProcessedItems),
			zap.Int("conflicts", session.ConflictCount),
		)
		return nil
	}
}

// QueueDrainJob drains the action queue. An offline device skips the run.
func QueueDrainJob(queue QueueDrainer, log *zap.Logger) JobFunc {
	return func(ctx context.Context) error {
		res, err := queue.ProcessActionQueue(ctx)
		if err != nil {
			return err
		}
		if res.Offline {
			return fmt.Errorf("%w: device offline", ErrSkipped)
		}
		if res.Attempted > 0 {
			log.Info("Action queue drained",
				zap.Int("attempted", res.Attempted),
				zap.Int("succeeded", res.Succeeded),
				zap.Int("retrying", res.Retrying),
				zap.Int("dead_lettered", res.DeadLettered),
			)
		}
		return nil
	}
}

// CacheSweepJob clears expired cache entries.
func CacheSweepJob(cache CacheSweeper, log *zap.Logger) JobFunc {
	return func(ctx context.Context) error {
		n, err := cache.ClearExpiredCache(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info("Expired cache entries removed", zap.Int64("count", n))
		}
		return nil
	}
}

// EngineJobs are the collaborators of the built-in jobs.
type EngineJobs struct {
	Settings SettingsReader
	Syncer   SyncStarter
	Queue    QueueDrainer
	Cache    CacheSweeper
}

// RegisterEngineJobs registers auto-sync, queue drain and cache sweep on
// the schedules from cfg. Nil collaborators leave their job out.
func RegisterEngineJobs(s *Scheduler, cfg config.SchedulerConfig, deps EngineJobs) error {
	if deps.Syncer != nil && deps.Settings != nil {
		if err := s.Register(JobAutoSync, cfg.AutoSyncSchedule, AutoSyncJob(deps.Settings, deps.Syncer, s.logger)); err != nil {
			return err
		}
	}
	if deps.Queue != nil {
		if err := s.Register(JobQueueDrain, cfg.QueueDrainSchedule, QueueDrainJob(deps.Queue, s.logger)); err != nil {
			return err
		}
	}
	if deps.Cache != nil {
		if err := s.Register(JobCacheSweep, cfg.CacheSweepSchedule, CacheSweepJob(deps.Cache, s.logger)); err != nil {
			return err
		}
	}
	return nil
}
