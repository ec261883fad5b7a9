package syncengine

import (
	"context"
	"time"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/infrastructure/telemetry"
)

// Status is a point-in-time view of the engine.
type Status struct {
	State            offline.SessionStatus `json:"state"`
	ActiveSession    *offline.SyncSession  `json:"activeSession,omitempty"`
	LastSyncAt       *time.Time            `json:"lastSyncAt,omitempty"`
	PendingChanges   int64                 `json:"pendingChanges"`
	DeadChanges      int64                 `json:"deadChanges"`
	QueuedActions    int64                 `json:"queuedActions"`
	DeadActions      int64                 `json:"deadActions"`
	PendingConflicts int64                 `json:"pendingConflicts"`
}

// Status reports the session state, the last successful sync and the
// outstanding work.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	b, err := o.Backlog(ctx)
	if err != nil {
		return nil, err
	}
	last, err := o.lastSyncAt(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{
		State:            offline.SessionIdle,
		LastSyncAt:       last,
		PendingChanges:   b.PendingChanges,
		DeadChanges:      b.DeadChanges,
		QueuedActions:    b.QueuedActions,
		DeadActions:      b.DeadActions,
		PendingConflicts: b.PendingConflicts,
	}
	if s := o.ActiveSession(); s != nil {
		st.State = s.Status
		st.ActiveSession = s
	}
	return st, nil
}

// GetSyncHistory returns finished and running sessions, newest first.
func (o *Orchestrator) GetSyncHistory(ctx context.Context, limit int) ([]*offline.SyncSession, error) {
	if limit <= 0 {
		limit = 20
	}
	return o.store.GetSyncHistory(ctx, limit)
}

// Backlog counts the work still owed to the server. It feeds the backlog
// gauges.
func (o *Orchestrator) Backlog(ctx context.Context) (telemetry.Backlog, error) {
	var b telemetry.Backlog

	changes, err := o.store.GetPendingChanges(ctx)
	if err != nil {
		return b, err
	}
	b.PendingChanges = int64(len(changes))

	if b.DeadChanges, err = o.store.CountDeadChanges(ctx); err != nil {
		return b, err
	}
	if b.QueuedActions, err = o.store.CountQueuedActions(ctx, offline.ActionStatusPending, offline.ActionStatusFailed); err != nil {
		return b, err
	}
	if b.DeadActions, err = o.store.CountQueuedActions(ctx, offline.ActionStatusDead); err != nil {
		return b, err
	}

	conflicts, err := o.store.GetConflicts(ctx, offline.ConflictPending)
	if err != nil {
		return b, err
	}
	b.PendingConflicts = int64(len(conflicts))
	return b, nil
}
