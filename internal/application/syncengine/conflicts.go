package syncengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
	"go.uber.org/zap"
)

// GetConflicts lists conflicts oldest first. An empty status lists all.
func (o *Orchestrator) GetConflicts(ctx context.Context, status offline.ConflictStatus) ([]*offline.Conflict, error) {
	switch status {
	case "", offline.ConflictPending, offline.ConflictResolved:
	default:
		return nil, fmt.Errorf("unknown conflict status %q: %w", status, shared.ErrInvalidInput)
	}
	return o.store.GetConflicts(ctx, status)
}

// ResolveConflict applies a decision to a pending conflict. The local write,
// the pending change it produces and the resolved mark are committed
// together; uploading that change afterwards is best effort. The outcome
// depends only on the conflict and the resolution.
func (o *Orchestrator) ResolveConflict(ctx context.Context, id string, res offline.Resolution) (*offline.Conflict, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}

	var (
		resolved *offline.Conflict
		upload   bool
	)
	err := o.store.Transaction(ctx, func(tx offline.LocalStore) error {
		c, err := tx.GetConflict(ctx, id)
		if err != nil {
			return err
		}
		if c.IsResolved() {
			return fmt.Errorf("conflict %s already resolved: %w", id, shared.ErrInvalidState)
		}
		if err := tx.DiscardPendingChanges(ctx, c.EntityType, c.EntityID); err != nil {
			return err
		}

		var data json.RawMessage
		switch res.Strategy {
		case offline.StrategyLocal:
			data = c.LocalData
			upload, err = o.keepLocal(ctx, tx, c)
		case offline.StrategyRemote:
			data = c.RemoteData
			err = o.takeRemote(ctx, tx, c)
		case offline.StrategyManual:
			data = res.MergedData
			upload = true
			err = o.applyMerged(ctx, tx, c, res.MergedData)
		}
		if err != nil {
			return err
		}

		if err := tx.ResolveConflict(ctx, id, res.Strategy, data); err != nil {
			return err
		}
		resolved, err = tx.GetConflict(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("Conflict resolved",
		zap.String("conflict_id", id),
		zap.String("entity_type", string(resolved.EntityType)),
		zap.String("entity_id", resolved.EntityID),
		zap.String("strategy", string(res.Strategy)),
	)

	if upload {
		result, err := o.UploadPendingChanges(ctx)
		if err != nil {
			return resolved, err
		}
		if len(result.Errors) > 0 {
			o.logger.Info("Resolved change not uploaded yet",
				zap.String("conflict_id", id),
				zap.Int("errors", len(result.Errors)),
			)
		}
	}
	return resolved, nil
}

// keepLocal restores the device's side and queues it for upload. It reports
// whether a change was queued.
func (o *Orchestrator) keepLocal(ctx context.Context, tx offline.LocalStore, c *offline.Conflict) (bool, error) {
	if c.LocalDeleted() {
		if err := tx.Delete(ctx, c.EntityType, c.EntityID); err != nil {
			return false, err
		}
		if c.RemoteDeleted() {
			return false, nil
		}
		change := offline.NewPendingChange(c.EntityType, c.EntityID, offline.ChangeDelete, nil, o.now())
		change.Base = remoteBase(c)
		return true, tx.AddPendingChange(ctx, change)
	}
	return true, o.writeAndQueue(ctx, tx, c, c.LocalData)
}

// takeRemote makes the local row match the server.
func (o *Orchestrator) takeRemote(ctx context.Context, tx offline.LocalStore, c *offline.Conflict) error {
	if c.RemoteDeleted() {
		return tx.Delete(ctx, c.EntityType, c.EntityID)
	}
	rec, err := offline.RecordFromRemote(c.EntityType, c.RemoteData, c.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Upsert(ctx, c.EntityType, rec)
}

func (o *Orchestrator) applyMerged(ctx context.Context, tx offline.LocalStore, c *offline.Conflict, merged json.RawMessage) error {
	rec, err := offline.RecordFromRemote(c.EntityType, merged, c.CreatedAt)
	if err != nil {
		return err
	}
	if rec.ID != c.EntityID {
		return fmt.Errorf("merged data id %q does not match entity %q: %w", rec.ID, c.EntityID, shared.ErrInvalidInput)
	}
	if _, err := offline.ValidatePayload(c.EntityType, merged); err != nil {
		return err
	}
	return o.writeAndQueue(ctx, tx, c, merged)
}

// writeAndQueue stores payload as the entity's local row and records the
// matching pending change. The server no longer has the entity when the
// remote side is a deletion, so it is recreated.
func (o *Orchestrator) writeAndQueue(ctx context.Context, tx offline.LocalStore, c *offline.Conflict, payload json.RawMessage) error {
	rec, err := offline.RecordFromRemote(c.EntityType, payload, c.CreatedAt)
	if err != nil {
		return err
	}
	if err := tx.Upsert(ctx, c.EntityType, rec); err != nil {
		return err
	}
	action := offline.ChangeUpdate
	if c.RemoteDeleted() {
		action = offline.ChangeCreate
	}
	change := offline.NewPendingChange(c.EntityType, c.EntityID, action, payload, o.now())
	change.Base = remoteBase(c)
	return tx.AddPendingChange(ctx, change)
}

// remoteBase is the server state a resolution was decided against. The
// resolved change only conflicts again if the server moves past it.
func remoteBase(c *offline.Conflict) *offline.RecordBase {
	if c.RemoteDeleted() {
		return nil
	}
	rec, err := offline.RecordFromRemote(c.EntityType, c.RemoteData, c.CreatedAt)
	if err != nil {
		return nil
	}
	return rec.Base()
}
