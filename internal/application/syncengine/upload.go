package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/logger"
	"github.com/erp/mobilesync/internal/infrastructure/telemetry"
	"github.com/erp/mobilesync/internal/infrastructure/transport"
	"go.uber.org/zap"
)

// UploadPendingChanges pushes outstanding local changes oldest first.
// A change that fails is not overtaken by later changes of the same entity
// within the call, and entities with a pending conflict are skipped.
// Client errors dead-letter the change at once; other failures keep it for
// the next cycle until the upload retry budget is spent. Only storage
// failures are returned as errors.
func (o *Orchestrator) UploadPendingChanges(ctx context.Context) (offline.UploadResult, error) {
	o.uploadMu.Lock()
	defer o.uploadMu.Unlock()

	var res offline.UploadResult
	changes, err := o.store.GetPendingChanges(ctx)
	if err != nil {
		return res, err
	}

	// entities with an open conflict wait for its resolution
	conflicts, err := o.store.GetConflicts(ctx, offline.ConflictPending)
	if err != nil {
		return res, err
	}
	blocked := make(map[string]bool, len(conflicts))
	for _, c := range conflicts {
		blocked[entityKey(c.EntityType, c.EntityID)] = true
	}

	for i, change := range changes {
		key := entityKey(change.EntityType, change.EntityID)
		if blocked[key] {
			res.Deferred++
			continue
		}

		res.Attempted++
		ok, err := o.uploadOne(ctx, change, &res)
		if err != nil {
			return res, err
		}
		if ok {
			continue
		}
		blocked[key] = true

		// connectivity is gone; leave the rest for the next cycle
		if n := len(res.Errors); n > 0 && res.Errors[n-1].Code == shared.CodeNetwork {
			res.Deferred += len(changes) - i - 1
			break
		}
	}

	if res.Attempted > 0 {
		logger.FromContext(ctx).Info("Pending changes uploaded",
			zap.Int("attempted", res.Attempted),
			zap.Int("synced", res.Synced),
			zap.Int("deferred", res.Deferred),
			zap.Int("dead_lettered", res.DeadLettered),
		)
	}
	return res, nil
}

// uploadOne sends one change and persists the outcome. ok is false when the
// change stays unsynced.
func (o *Orchestrator) uploadOne(ctx context.Context, change *offline.PendingChange, res *offline.UploadResult) (ok bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "sync.upload",
		telemetry.WithAttribute(telemetry.SpanAttrChangeID, change.ID),
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, string(change.EntityType)),
		telemetry.WithAttribute(telemetry.SpanAttrEntityID, change.EntityID),
		telemetry.WithAttribute(telemetry.SpanAttrAction, string(change.Action)),
	)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()
	action := change.ToAction()
	opts := &transport.RequestOptions{CancelKey: "upload:" + change.ID}
	if change.Action != offline.ChangeDelete {
		opts.Body = change.Payload
	}
	log := logger.FromContext(ctx).With(
		zap.String("change_id", change.ID),
		zap.String("entity_type", string(change.EntityType)),
		zap.String("entity_id", change.EntityID),
	)

	resp, sendErr := o.remote.Do(ctx, action.Method(), action.Path(), opts)
	if sendErr == nil {
		if err := o.store.MarkChangeAsSynced(ctx, change.ID); err != nil {
			return false, err
		}
		if err := o.applyEcho(ctx, change, resp); err != nil {
			return false, err
		}
		res.Synced++
		telemetry.SetAttributes(span, telemetry.SpanAttrOutcome, telemetry.OutcomeSucceeded)
		o.recordUpload(ctx, change.EntityType, telemetry.OutcomeSucceeded)
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	dead := errors.Is(sendErr, shared.ErrClient) || change.Attempts+1 >= o.config.UploadRetries
	failure := sendErr
	if dead && !errors.Is(sendErr, shared.ErrClient) {
		failure = fmt.Errorf("%w: %s %s after %d attempts: %v",
			shared.ErrQueueExhausted, change.Action, change.EntityType, change.Attempts+1, sendErr)
	}
	telemetry.RecordError(span, failure)
	if err := o.store.MarkChangeFailed(ctx, change.ID, sendErr.Error(), dead); err != nil {
		return false, err
	}
	res.Errors = append(res.Errors, offline.SyncError{
		EntityType: change.EntityType,
		EntityID:   change.EntityID,
		Code:       errorCode(sendErr),
		Message:    failure.Error(),
	})

	if dead {
		res.DeadLettered++
		telemetry.SetAttributes(span, telemetry.SpanAttrOutcome, telemetry.OutcomeDead)
		o.recordUpload(ctx, change.EntityType, telemetry.OutcomeDead)
		log.Warn("Pending change dead-lettered", zap.Error(failure))
	} else {
		res.Deferred++
		telemetry.SetAttributes(span, telemetry.SpanAttrOutcome, telemetry.OutcomeRetrying)
		o.recordUpload(ctx, change.EntityType, telemetry.OutcomeRetrying)
		log.Info("Pending change upload failed, kept for next cycle", zap.Error(sendErr))
	}
	return false, nil
}

// applyEcho stores the server's version of an uploaded entity unless newer
// local changes of that entity are still outstanding.
func (o *Orchestrator) applyEcho(ctx context.Context, change *offline.PendingChange, resp *transport.Response) error {
	if change.Action == offline.ChangeDelete || resp == nil {
		return nil
	}
	data := resp.Data()
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	rec, err := offline.RecordFromRemote(change.EntityType, data, change.CreatedAt)
	if err != nil || rec.ID != change.EntityID {
		return nil
	}
	if _, err := offline.ValidatePayload(change.EntityType, rec.Payload); err != nil {
		o.logger.Debug("Ignoring server echo", zap.String("entity_id", rec.ID), zap.Error(err))
		return nil
	}

	return o.store.Transaction(ctx, func(tx offline.LocalStore) error {
		pending, err := tx.HasPendingChanges(ctx, change.EntityType, change.EntityID)
		if err != nil || pending {
			return err
		}
		return tx.Upsert(ctx, change.EntityType, rec)
	})
}

func entityKey(kind offline.EntityKind, id string) string {
	return string(kind) + ":" + id
}

func (o *Orchestrator) recordUpload(ctx context.Context, kind offline.EntityKind, outcome string) {
	if o.metrics != nil {
		o.metrics.RecordUpload(ctx, kind, outcome)
	}
}

// errorCode maps err onto the failure taxonomy for SyncError records.
func errorCode(err error) string {
	if te, ok := transport.AsError(err); ok {
		return te.Code
	}
	if shared.IsFatal(err) {
		return shared.CodeStorage
	}
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return "SYNC_ERROR"
}
