package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
	"go.uber.org/zap"
)

type applyOutcome int

const (
	outcomeInserted applyOutcome = iota
	outcomeUpdated
	outcomeUnchanged
	outcomeStale
	outcomeDeleted
	outcomeConflict
)

func (a applyOutcome) String() string {
	switch a {
	case outcomeInserted:
		return "inserted"
	case outcomeUpdated:
		return "updated"
	case outcomeUnchanged:
		return "unchanged"
	case outcomeStale:
		return "stale"
	case outcomeDeleted:
		return "deleted"
	default:
		return "conflict"
	}
}

// applyRemote runs the conflict-aware write of one server body. The id is
// returned whenever it could be read, even on failure.
func (o *Orchestrator) applyRemote(ctx context.Context, kind offline.EntityKind, raw json.RawMessage) (string, applyOutcome, error) {
	remote, err := offline.RecordFromRemote(kind, raw, o.now())
	if err != nil {
		return "", 0, err
	}
	if _, err := offline.ValidatePayload(kind, remote.Payload); err != nil {
		return remote.ID, 0, err
	}

	var outcome applyOutcome
	err = o.store.Transaction(ctx, func(tx offline.LocalStore) error {
		var err error
		outcome, err = o.reconcile(ctx, tx, kind, remote)
		return err
	})
	if err != nil {
		return remote.ID, 0, err
	}
	if outcome == outcomeConflict && o.metrics != nil {
		o.metrics.RecordConflict(ctx, kind)
	}
	return remote.ID, outcome, nil
}

// reconcile decides between insert, overwrite, skip and conflict. A row is
// locally modified while it has an outstanding pending change; such a row
// only conflicts when the server moved past the base the edit started from.
// Without a pending change the server copy wins unless its version is older
// than the local one, which happens when pushes arrive out of order.
func (o *Orchestrator) reconcile(ctx context.Context, tx offline.LocalStore, kind offline.EntityKind, remote *offline.Record) (applyOutcome, error) {
	id := remote.ID

	local, err := tx.Get(ctx, kind, id)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return 0, err
	}
	base, pending, err := pendingBase(ctx, tx, kind, id)
	if err != nil {
		return 0, err
	}

	if local == nil {
		if !pending {
			return outcomeInserted, tx.Upsert(ctx, kind, remote)
		}
		// deleted on the device
		changed, err := changedSinceDelete(ctx, tx, kind, remote)
		if err != nil || !changed {
			return outcomeStale, err
		}
		return outcomeConflict, o.raiseConflict(ctx, tx, kind, id, nil, remote.Payload)
	}

	if local.SamePayload(remote) {
		if !pending && !local.SameMeta(remote) {
			// keep the server clock on the row for the next edit's base
			return outcomeUnchanged, tx.Upsert(ctx, kind, remote)
		}
		return outcomeUnchanged, nil
	}
	if pending {
		if !remote.ChangedSince(base) {
			return outcomeStale, nil
		}
		return outcomeConflict, o.raiseConflict(ctx, tx, kind, id, local.Payload, remote.Payload)
	}
	if remote.Version > 0 && local.Version > remote.Version {
		return outcomeStale, nil
	}
	return outcomeUpdated, tx.Upsert(ctx, kind, remote)
}

// pendingBase returns the base of the oldest outstanding change of the
// entity and whether one exists.
func pendingBase(ctx context.Context, tx offline.LocalStore, kind offline.EntityKind, id string) (*offline.RecordBase, bool, error) {
	pending, err := tx.HasPendingChanges(ctx, kind, id)
	if err != nil || !pending {
		return nil, false, err
	}
	changes, err := tx.GetPendingChanges(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, c := range changes {
		if c.EntityType == kind && c.EntityID == id {
			return c.Base, true, nil
		}
	}
	return nil, true, nil
}

// changedSinceDelete compares remote with the row a pending local delete
// removed.
func changedSinceDelete(ctx context.Context, tx offline.LocalStore, kind offline.EntityKind, remote *offline.Record) (bool, error) {
	changes, err := tx.GetPendingChanges(ctx)
	if err != nil {
		return false, err
	}
	for i := len(changes) - 1; i >= 0; i-- {
		c := changes[i]
		if c.EntityType != kind || c.EntityID != remote.ID || c.Action != offline.ChangeDelete {
			continue
		}
		if c.Base != nil && !remote.ChangedSince(c.Base) {
			return false, nil
		}
		if len(c.Payload) == 0 {
			return true, nil
		}
		return !remote.SamePayload(&offline.Record{Payload: c.Payload}), nil
	}
	return true, nil
}

// reconcileDelete applies a server-side deletion.
func (o *Orchestrator) reconcileDelete(ctx context.Context, tx offline.LocalStore, kind offline.EntityKind, id string) (applyOutcome, error) {
	local, err := tx.Get(ctx, kind, id)
	if errors.Is(err, shared.ErrNotFound) {
		return outcomeUnchanged, nil
	}
	if err != nil {
		return 0, err
	}
	pending, err := tx.HasPendingChanges(ctx, kind, id)
	if err != nil {
		return 0, err
	}
	if pending {
		return outcomeConflict, o.raiseConflict(ctx, tx, kind, id, local.Payload, nil)
	}
	return outcomeDeleted, tx.Delete(ctx, kind, id)
}

func (o *Orchestrator) raiseConflict(ctx context.Context, tx offline.LocalStore, kind offline.EntityKind, id string, local, remote json.RawMessage) error {
	c := offline.NewConflict(kind, id, local, remote, o.now())
	if err := tx.AddConflict(ctx, c); err != nil {
		return err
	}
	o.logger.Info("Conflict detected",
		zap.String("conflict_id", c.ID),
		zap.String("entity_type", string(kind)),
		zap.String("entity_id", id),
	)
	return nil
}

// ApplyRemoteChange applies a server-pushed data update through the same
// conflict-aware path as a pull.
func (o *Orchestrator) ApplyRemoteChange(ctx context.Context, update offline.DataUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}
	var (
		outcome applyOutcome
		err     error
	)
	if update.Action == offline.ChangeDelete {
		err = o.store.Transaction(ctx, func(tx offline.LocalStore) error {
			var err error
			outcome, err = o.reconcileDelete(ctx, tx, update.EntityType, update.EntityID)
			return err
		})
		if err == nil && outcome == outcomeConflict && o.metrics != nil {
			o.metrics.RecordConflict(ctx, update.EntityType)
		}
	} else {
		var remote *offline.Record
		remote, err = update.Record(o.now())
		if err != nil {
			return err
		}
		_, outcome, err = o.applyRemote(ctx, update.EntityType, remote.Payload)
	}
	if err != nil {
		return err
	}

	o.logger.Debug("Remote change applied",
		zap.String("entity_type", string(update.EntityType)),
		zap.String("entity_id", update.EntityID),
		zap.String("action", string(update.Action)),
		zap.Stringer("outcome", outcome),
	)
	return nil
}

// ApplyLocalChange is the application's write path: the local row and its
// pending change are written in one transaction. For deletes only
// record.ID is used.
func (o *Orchestrator) ApplyLocalChange(ctx context.Context, kind offline.EntityKind, action offline.ChangeAction, record *offline.Record) (*offline.PendingChange, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown entity kind %q: %w", kind, shared.ErrInvalidInput)
	}
	if !action.IsValid() {
		return nil, fmt.Errorf("unknown action %q: %w", action, shared.ErrInvalidInput)
	}
	if record == nil || record.ID == "" {
		return nil, fmt.Errorf("record id is required: %w", shared.ErrInvalidInput)
	}

	now := o.now()
	var payload json.RawMessage
	if action != offline.ChangeDelete {
		if _, err := offline.ValidatePayload(kind, record.Payload); err != nil {
			return nil, err
		}
		payload = record.Payload
	}
	change := offline.NewPendingChange(kind, record.ID, action, payload, now)

	err := o.store.Transaction(ctx, func(tx offline.LocalStore) error {
		prev, err := tx.Get(ctx, kind, record.ID)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		// an earlier outstanding edit already pinned the server base
		base, pending, err := pendingBase(ctx, tx, kind, record.ID)
		if err != nil {
			return err
		}
		if !pending && prev != nil {
			base = prev.Base()
		}
		change.Base = base

		if action == offline.ChangeDelete {
			// the removed row is kept on the change to tell a later server
			// edit apart from the version deleted here
			if prev != nil {
				change.Payload = prev.Payload
			}
			if err := tx.Delete(ctx, kind, record.ID); err != nil {
				return err
			}
		} else {
			r := *record
			r.Kind = kind
			r.UpdatedAt = now
			if r.Version == 0 && prev != nil {
				r.Version = prev.Version
			}
			if err := tx.Upsert(ctx, kind, &r); err != nil {
				return err
			}
		}
		return tx.AddPendingChange(ctx, change)
	})
	if err != nil {
		return nil, err
	}
	o.logger.Debug("Local change recorded",
		zap.String("change_id", change.ID),
		zap.String("entity_type", string(kind)),
		zap.String("entity_id", record.ID),
		zap.String("action", string(action)),
	)
	return change, nil
}
