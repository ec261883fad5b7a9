// Package syncengine coordinates download, upload and conflict handling
// between the local store and the ERP server. The Orchestrator is the
// engine's only entry point for the rest of the application.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/config"
	"github.com/erp/mobilesync/internal/infrastructure/logger"
	"github.com/erp/mobilesync/internal/infrastructure/telemetry"
	"github.com/erp/mobilesync/internal/infrastructure/transport"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Remote is the part of the transport client the orchestrator uses.
type Remote interface {
	Do(ctx context.Context, method, path string, opts *transport.RequestOptions) (*transport.Response, error)
	HealthCheck(ctx context.Context) bool
}

// Recorder receives sync metrics.
type Recorder interface {
	RecordSession(ctx context.Context, s *offline.SyncSession)
	RecordItems(ctx context.Context, kind offline.EntityKind, n int)
	RecordConflict(ctx context.Context, kind offline.EntityKind)
	RecordUpload(ctx context.Context, kind offline.EntityKind, outcome string)
}

// Orchestrator runs sync sessions. At most one session is active; concurrent
// StartSync calls share it.
type Orchestrator struct {
	store   offline.LocalStore
	remote  Remote
	config  config.SyncConfig
	clock   shared.Clock
	logger  *zap.Logger
	metrics Recorder

	group    singleflight.Group
	mu       sync.Mutex
	active   *offline.SyncSession
	uploadMu sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for session and change timestamps
func WithClock(c shared.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the orchestrator logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger.Component(l, "sync") }
}

// WithMetrics sets the metrics sink
func WithMetrics(r Recorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// New creates an orchestrator over store and remote.
func New(store offline.LocalStore, remote Remote, cfg config.SyncConfig, opts ...Option) *Orchestrator {
	if cfg.UploadRetries <= 0 {
		cfg.UploadRetries = 5
	}
	o := &Orchestrator{
		store:  store,
		remote: remote,
		config: cfg,
		clock:  shared.SystemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartSync runs one download and upload cycle and returns the finished
// session. A call made while a session is running waits for that session
// and returns it instead of starting another. The session is not tied to
// ctx cancellation: once started it always reaches completed or error.
func (o *Orchestrator) StartSync(ctx context.Context) (*offline.SyncSession, error) {
	ch := o.group.DoChan("sync", func() (any, error) {
		return o.runSession(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		if s := o.ActiveSession(); s != nil {
			return s, ctx.Err()
		}
		return nil, ctx.Err()
	case res := <-ch:
		s, _ := res.Val.(*offline.SyncSession)
		return s.Clone(), res.Err
	}
}

// ActiveSession returns a snapshot of the running session, or nil when idle.
func (o *Orchestrator) ActiveSession() *offline.SyncSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active.Clone()
}

func (o *Orchestrator) publish(s *offline.SyncSession) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = s.Clone()
}

func (o *Orchestrator) runSession(ctx context.Context) (s *offline.SyncSession, err error) {
	session := offline.NewSyncSession(o.now())
	ctx, span := telemetry.StartSpan(ctx, "sync.session",
		telemetry.WithAttribute(telemetry.SpanAttrSessionID, session.ID))
	defer func() {
		telemetry.SetAttributes(span,
			telemetry.SpanAttrSessionStatus, string(session.Status),
			telemetry.SpanAttrItems, session.ProcessedItems,
			telemetry.SpanAttrConflicts, session.ConflictCount,
		)
		if err == nil && session.Status == offline.SessionError {
			span.SetStatus(codes.Error, session.Summary)
		}
		telemetry.RecordError(span, err)
		span.End()
	}()
	ctx, log := logger.WithSessionID(ctx, o.logger, session.ID)

	if err := o.store.AddSyncSession(ctx, session); err != nil {
		return nil, err
	}
	o.publish(session)
	defer o.publish(nil)
	log.Info("Sync session started")

	if !o.remote.HealthCheck(ctx) {
		return o.finish(ctx, session, offline.SessionError, "device offline")
	}

	pulled := 0
	for _, kind := range offline.AllEntityKinds() {
		err := o.pullKind(ctx, session, kind)
		switch {
		case err == nil:
			pulled++
		case shared.IsFatal(err):
			return o.fail(ctx, session, err)
		default:
			log.Warn("Download failed", zap.String("entity_type", string(kind)), zap.Error(err))
			session.AddError(offline.SyncError{EntityType: kind, Code: errorCode(err), Message: err.Error()})
		}
		if err := o.checkpoint(ctx, session); err != nil {
			return o.fail(ctx, session, err)
		}
	}
	if pulled == 0 {
		return o.finish(ctx, session, offline.SessionError, "download failed: "+session.Errors[0].Message)
	}

	session.Status = offline.SessionUploading
	if err := o.checkpoint(ctx, session); err != nil {
		return o.fail(ctx, session, err)
	}
	upload, err := o.UploadPendingChanges(ctx)
	for _, e := range upload.Errors {
		session.AddError(e)
	}
	if err != nil {
		return o.fail(ctx, session, err)
	}

	summary := fmt.Sprintf("%d of %d items processed, %d conflicts, %d changes uploaded",
		session.ProcessedItems, session.TotalItems, session.ConflictCount, upload.Synced)
	if n := len(session.Errors); n > 0 {
		summary += fmt.Sprintf(", %d errors", n)
	}
	if err := o.store.SetSetting(ctx, offline.SettingLastSyncAt, session.StartTime.Format(time.RFC3339Nano)); err != nil {
		return o.fail(ctx, session, err)
	}
	return o.finish(ctx, session, offline.SessionCompleted, summary)
}

// checkpoint persists and publishes session progress.
func (o *Orchestrator) checkpoint(ctx context.Context, session *offline.SyncSession) error {
	o.publish(session)
	return o.store.UpdateSyncSession(ctx, session)
}

// fail ends the session on a fatal error and returns that error.
func (o *Orchestrator) fail(ctx context.Context, session *offline.SyncSession, cause error) (*offline.SyncSession, error) {
	session.AddError(offline.SyncError{Code: errorCode(cause), Message: cause.Error()})
	s, err := o.finish(ctx, session, offline.SessionError, cause.Error())
	if err != nil {
		return s, errors.Join(cause, err)
	}
	return s, cause
}

func (o *Orchestrator) finish(ctx context.Context, session *offline.SyncSession, status offline.SessionStatus, summary string) (*offline.SyncSession, error) {
	session.Finish(status, summary, o.now())
	log := logger.FromContext(ctx)
	if status == offline.SessionError {
		log.Warn("Sync session failed", zap.String("summary", summary), zap.Int("processed", session.ProcessedItems))
	} else {
		log.Info("Sync session completed",
			zap.Int("total", session.TotalItems),
			zap.Int("processed", session.ProcessedItems),
			zap.Int("conflicts", session.ConflictCount),
			zap.Int("errors", len(session.Errors)),
		)
	}
	if o.metrics != nil {
		o.metrics.RecordSession(ctx, session)
	}
	if err := o.store.UpdateSyncSession(ctx, session); err != nil {
		return session, err
	}
	return session, nil
}

// pullKind downloads one collection and applies every record through the
// conflict-aware path. Per-record failures are recorded on the session.
func (o *Orchestrator) pullKind(ctx context.Context, session *offline.SyncSession, kind offline.EntityKind) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "sync.pull",
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, string(kind)))
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()
	log := logger.FromContext(ctx).With(zap.String("entity_type", string(kind)))

	resp, err := o.remote.Do(ctx, http.MethodGet, kind.CollectionPath(), &transport.RequestOptions{
		CancelKey: "sync:" + string(kind),
	})
	if err != nil {
		return err
	}
	items, err := transport.DecodeList(resp)
	if err != nil {
		return fmt.Errorf("%w: %s list: %v", shared.ErrServer, kind, err)
	}
	session.TotalItems += len(items)

	seen := make(map[string]struct{}, len(items))
	processed := 0
	for _, raw := range items {
		id, outcome, err := o.applyRemote(ctx, kind, raw)
		if id != "" {
			seen[id] = struct{}{}
		}
		if err != nil {
			if shared.IsFatal(err) {
				return err
			}
			session.AddError(offline.SyncError{EntityType: kind, EntityID: id, Code: errorCode(err), Message: err.Error()})
			continue
		}
		processed++
		if outcome == outcomeConflict {
			session.ConflictCount++
		}
	}
	session.ProcessedItems += processed
	telemetry.SetAttributes(span, telemetry.SpanAttrItems, processed)
	if o.metrics != nil {
		o.metrics.RecordItems(ctx, kind, processed)
	}

	pruned, err := o.prune(ctx, kind, seen)
	if err != nil {
		return err
	}
	log.Debug("Collection downloaded",
		zap.Int("received", len(items)),
		zap.Int("processed", processed),
		zap.Int("pruned", pruned),
	)
	return nil
}

// prune deletes local rows the server no longer lists. Rows with
// outstanding local changes are kept for the upload to settle.
func (o *Orchestrator) prune(ctx context.Context, kind offline.EntityKind, seen map[string]struct{}) (int, error) {
	local, err := o.store.List(ctx, kind, offline.ListFilter{})
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, r := range local {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		pending, err := o.store.HasPendingChanges(ctx, kind, r.ID)
		if err != nil {
			return pruned, err
		}
		if pending {
			continue
		}
		if err := o.store.Delete(ctx, kind, r.ID); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

func (o *Orchestrator) lastSyncAt(ctx context.Context) (*time.Time, error) {
	v, ok, err := o.store.GetSetting(ctx, offline.SettingLastSyncAt)
	if err != nil || !ok || strings.TrimSpace(v) == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		o.logger.Warn("Ignoring malformed last sync time", zap.String("value", v), zap.Error(err))
		return nil, nil
	}
	t = t.UTC()
	return &t, nil
}

func (o *Orchestrator) now() time.Time {
	return o.clock.Now().UTC()
}
