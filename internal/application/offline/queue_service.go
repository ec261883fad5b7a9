// Package offline runs the offline action queue: actions are persisted
// while the device is offline and replayed in order once it reconnects.
package offline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/config"
	"github.com/erp/mobilesync/internal/infrastructure/logger"
	"github.com/erp/mobilesync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// OutcomeRecorder receives one event per attempted action.
type OutcomeRecorder interface {
	RecordActionOutcome(ctx context.Context, t offline.ActionType, outcome string)
}

// NewAction is the input of QueueAction.
type NewAction struct {
	Action     offline.Action
	Priority   offline.Priority
	MaxRetries int
}

// QueueService persists and replays offline actions.
type QueueService struct {
	store    offline.LocalStore
	executor Executor
	conn     Connectivity
	config   config.QueueConfig
	clock    shared.Clock
	logger   *zap.Logger
	metrics  OutcomeRecorder

	drainMu sync.Mutex
	wg      sync.WaitGroup
}

// QueueOption configures a QueueService.
type QueueOption func(*QueueService)

// WithClock sets the clock used for timestamps and backoff
func WithClock(c shared.Clock) QueueOption {
	return func(s *QueueService) { s.clock = c }
}

// WithLogger sets the service logger
func WithLogger(l *zap.Logger) QueueOption {
	return func(s *QueueService) { s.logger = logger.Component(l, "queue") }
}

// WithOutcomeRecorder sets the metrics sink
func WithOutcomeRecorder(r OutcomeRecorder) QueueOption {
	return func(s *QueueService) { s.metrics = r }
}

// NewQueueService creates a queue service.
func NewQueueService(store offline.LocalStore, executor Executor, conn Connectivity, cfg config.QueueConfig, opts ...QueueOption) *QueueService {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = offline.DefaultMaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = offline.DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = offline.DefaultMaxBackoff
	}
	s := &QueueService{
		store:    store,
		executor: executor,
		conn:     conn,
		config:   cfg,
		clock:    shared.SystemClock{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueueAction persists an action and returns its id without attempting it.
func (s *QueueService) QueueAction(ctx context.Context, in NewAction) (string, error) {
	maxRetries := in.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.config.MaxRetries
	}
	qa, err := offline.NewQueuedAction(in.Action, in.Priority, maxRetries, s.clock.Now())
	if err != nil {
		return "", err
	}
	if err := s.store.EnqueueAction(ctx, qa); err != nil {
		return "", err
	}
	s.logger.Debug("Action queued",
		zap.String("action_id", qa.ID),
		zap.String("type", string(qa.Type())),
		zap.String("priority", string(qa.Priority)),
	)
	return qa.ID, nil
}

// IsDeviceOnline reports the connectivity source's view.
func (s *QueueService) IsDeviceOnline(ctx context.Context) bool {
	return s.conn.Online(ctx)
}

// ProcessActionQueue drains due actions once. It is a no-op while
// offline. Drains are serialized.
//
// Actions run strictly one at a time in priority then creation order, but
// an action only runs once every older action on the same entity is gone,
// whatever its tier. An entity whose oldest action fails, is still backing
// off or sits in dead-letter is blocked for the rest of the drain. A
// network failure ends the drain early.
func (s *QueueService) ProcessActionQueue(ctx context.Context) (offline.DrainResult, error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	var res offline.DrainResult
	if !s.conn.Online(ctx) {
		res.Offline = true
		return res, nil
	}

	actions, err := s.store.ListQueuedActions(ctx,
		offline.ActionStatusPending, offline.ActionStatusFailed, offline.ActionStatusDead)
	if err != nil {
		return res, err
	}

	history := entityHistories(actions)
	remaining := make([]*offline.QueuedAction, 0, len(actions))
	for _, qa := range actions {
		if !qa.IsDead() {
			remaining = append(remaining, qa)
		}
	}

	blocked := make(map[string]bool)
drain:
	for len(remaining) > 0 {
		var waiting []*offline.QueuedAction
		progressed := false
		for _, qa := range remaining {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			key := qa.Action.OrderKey()
			if blocked[key] {
				res.Blocked++
				continue
			}
			if head := history[key][0]; head.ID != qa.ID {
				if head.IsDead() {
					blocked[key] = true
					res.Blocked++
				} else {
					// an older action of a lower tier goes first
					waiting = append(waiting, qa)
				}
				continue
			}
			if !qa.Due(s.clock.Now()) {
				blocked[key] = true
				res.Blocked++
				continue
			}

			res.Attempted++
			ok, stop, err := s.attempt(ctx, qa, &res)
			if err != nil {
				return res, err
			}
			if ok {
				history[key] = history[key][1:]
				progressed = true
			} else {
				blocked[key] = true
			}
			if stop {
				break drain
			}
		}
		if !progressed {
			res.Blocked += len(waiting)
			break
		}
		remaining = waiting
	}

	if res.Attempted > 0 {
		s.logger.Info("Action queue processed",
			zap.Int("attempted", res.Attempted),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("retrying", res.Retrying),
			zap.Int("dead_lettered", res.DeadLettered),
			zap.Int("blocked", res.Blocked),
		)
	}
	return res, nil
}

// entityHistories groups unfinished actions by entity, oldest first.
func entityHistories(actions []*offline.QueuedAction) map[string][]*offline.QueuedAction {
	history := make(map[string][]*offline.QueuedAction)
	for _, qa := range actions {
		key := qa.Action.OrderKey()
		history[key] = append(history[key], qa)
	}
	for _, h := range history {
		slices.SortStableFunc(h, func(a, b *offline.QueuedAction) int {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		})
	}
	return history
}

// attempt runs one action and persists its outcome. ok is false when the
// action stays queued; stop asks the caller to end the drain.
func (s *QueueService) attempt(ctx context.Context, qa *offline.QueuedAction, res *offline.DrainResult) (ok, stop bool, err error) {
	actx, log := logger.WithActionID(ctx, s.logger, qa.ID)
	log = log.With(zap.String("type", string(qa.Type())))

	_, execErr := s.executor.Execute(actx, qa.ID, qa.Action)
	if execErr == nil {
		if err := s.store.DeleteQueuedAction(ctx, qa.ID); err != nil {
			return false, true, err
		}
		res.Succeeded++
		s.record(ctx, qa, telemetry.OutcomeSucceeded)
		log.Debug("Action succeeded")
		return true, false, nil
	}

	// Caller cancellation leaves the action untouched for the next drain.
	if ctx.Err() != nil {
		return false, true, ctx.Err()
	}

	now := s.clock.Now()
	switch {
	case errors.Is(execErr, shared.ErrClient):
		qa.MarkDead(execErr.Error(), now)
	default:
		qa.MarkFailed(execErr.Error(), now, s.config.BaseBackoff, s.config.MaxBackoff)
	}
	if err := s.store.UpdateQueuedAction(ctx, qa); err != nil {
		return false, true, err
	}

	if qa.IsDead() {
		res.DeadLettered++
		failure := execErr
		if !errors.Is(execErr, shared.ErrClient) {
			failure = fmt.Errorf("%w: %s after %d attempts: %v", shared.ErrQueueExhausted, qa.Type(), qa.RetryCount, execErr)
		}
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", qa.ID, failure))
		s.record(ctx, qa, telemetry.OutcomeDead)
		log.Warn("Action dead-lettered", zap.Int("retry_count", qa.RetryCount), zap.Error(failure))
	} else {
		res.Retrying++
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", qa.ID, execErr))
		s.record(ctx, qa, telemetry.OutcomeRetrying)
		log.Info("Action failed, will retry",
			zap.Int("retry_count", qa.RetryCount),
			zap.Timep("next_retry_at", qa.NextRetryAt),
			zap.Error(execErr),
		)
	}

	return false, errors.Is(execErr, shared.ErrNetwork), nil
}

func (s *QueueService) record(ctx context.Context, qa *offline.QueuedAction, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordActionOutcome(ctx, qa.Type(), outcome)
	}
}

// GetPendingActions lists actions awaiting replay in drain order.
func (s *QueueService) GetPendingActions(ctx context.Context) ([]*offline.QueuedAction, error) {
	return s.store.ListQueuedActions(ctx, offline.ActionStatusPending, offline.ActionStatusFailed)
}

// GetDeadLetters lists dead-lettered actions.
func (s *QueueService) GetDeadLetters(ctx context.Context) ([]*offline.QueuedAction, error) {
	return s.store.ListQueuedActions(ctx, offline.ActionStatusDead)
}

// DeadLetterCount counts dead-lettered actions.
func (s *QueueService) DeadLetterCount(ctx context.Context) (int64, error) {
	return s.store.CountQueuedActions(ctx, offline.ActionStatusDead)
}

// PendingCount counts actions awaiting replay.
func (s *QueueService) PendingCount(ctx context.Context) (int64, error) {
	return s.store.CountQueuedActions(ctx, offline.ActionStatusPending, offline.ActionStatusFailed)
}

// RetryDeadLetter moves a dead-lettered action back to pending with a
// fresh retry budget.
func (s *QueueService) RetryDeadLetter(ctx context.Context, id string) (*offline.QueuedAction, error) {
	qa, err := s.store.GetQueuedAction(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := qa.ResetForRetry(s.clock.Now()); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidState, err)
	}
	if err := s.store.UpdateQueuedAction(ctx, qa); err != nil {
		return nil, err
	}
	s.logger.Info("Dead letter action reset for retry", zap.String("action_id", id))
	return qa, nil
}

// DiscardDeadLetter deletes a dead-lettered action.
func (s *QueueService) DiscardDeadLetter(ctx context.Context, id string) error {
	qa, err := s.store.GetQueuedAction(ctx, id)
	if err != nil {
		return err
	}
	if !qa.IsDead() {
		return fmt.Errorf("%w: action %s is not dead-lettered", shared.ErrInvalidState, id)
	}
	return s.store.DeleteQueuedAction(ctx, id)
}

// Start subscribes to connectivity transitions when the source supports
// them and drains the queue on every offline to online transition. It
// returns a function that unsubscribes and waits for in-flight drains.
func (s *QueueService) Start(ctx context.Context) func() {
	sub, ok := s.conn.(Subscribable)
	if !ok {
		return func() {}
	}
	unsubscribe := sub.Subscribe(func(online bool) {
		if !online || ctx.Err() != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.ProcessActionQueue(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Reconnect drain failed", zap.Error(err))
			}
		}()
	})
	return func() {
		unsubscribe()
		s.wg.Wait()
	}
}
