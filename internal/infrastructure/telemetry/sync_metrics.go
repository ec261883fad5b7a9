package telemetry

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/infrastructure/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Queue action outcomes
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetrying  = "retrying"
	OutcomeDead      = "dead_letter"
)

// Backlog is a snapshot of the work the engine still owes the server.
type Backlog struct {
	PendingChanges   int64
	DeadChanges      int64
	QueuedActions    int64
	DeadActions      int64
	PendingConflicts int64
}

// BacklogProvider is polled by the periodic collector.
type BacklogProvider interface {
	Backlog(ctx context.Context) (Backlog, error)
}

// SyncMetrics records sync sessions, queue outcomes, transport calls and
// realtime connectivity. It satisfies the observer interfaces of the
// transport client and realtime channel.
type SyncMetrics struct {
	logger *zap.Logger

	sessionTotal    *Counter
	sessionDuration *Histogram
	itemsProcessed  *Counter
	conflictsTotal  *Counter
	syncErrorsTotal *Counter
	uploadsTotal    *Counter
	actionsTotal    *Counter
	requestTotal    *Counter
	requestDuration *Histogram
	requestAttempts *Counter
	realtimeUp      *Gauge
	realtimeRedials *Counter
	backlog         *Gauge
	everConnected   bool
	connMu          sync.Mutex

	stopCh      chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once
	wg          sync.WaitGroup
}

// NewSyncMetrics creates every instrument on meter.
func NewSyncMetrics(meter metric.Meter, logger *zap.Logger) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &SyncMetrics{logger: logger, stopCh: make(chan struct{})}

	var err error
	if m.sessionTotal, err = NewCounter(meter, "mobilesync_sync_sessions_total", "Finished sync sessions by status", "{sessions}"); err != nil {
		return nil, err
	}
	if m.sessionDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "mobilesync_sync_session_duration_seconds",
		Description: "Wall time of a sync session",
		Unit:        "s",
		Boundaries:  SessionDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.itemsProcessed, err = NewCounter(meter, "mobilesync_sync_items_total", "Remote records processed during pulls", "{records}"); err != nil {
		return nil, err
	}
	if m.conflictsTotal, err = NewCounter(meter, "mobilesync_conflicts_total", "Conflicts detected by entity type", "{conflicts}"); err != nil {
		return nil, err
	}
	if m.syncErrorsTotal, err = NewCounter(meter, "mobilesync_sync_errors_total", "Per-item sync errors by code", "{errors}"); err != nil {
		return nil, err
	}
	if m.uploadsTotal, err = NewCounter(meter, "mobilesync_uploads_total", "Pending change uploads by outcome", "{changes}"); err != nil {
		return nil, err
	}
	if m.actionsTotal, err = NewCounter(meter, "mobilesync_queue_actions_total", "Queued action executions by outcome", "{actions}"); err != nil {
		return nil, err
	}
	if m.requestTotal, err = NewCounter(meter, "mobilesync_http_requests_total", "Requests to the ERP API", "{requests}"); err != nil {
		return nil, err
	}
	if m.requestDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "mobilesync_http_request_duration_seconds",
		Description: "ERP API request latency including retries",
		Unit:        "s",
		Boundaries:  HTTPDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.requestAttempts, err = NewCounter(meter, "mobilesync_http_attempts_total", "HTTP attempts including retries", "{attempts}"); err != nil {
		return nil, err
	}
	if m.realtimeUp, err = NewGauge(meter, "mobilesync_realtime_connected", "1 while the realtime channel is connected", "{state}"); err != nil {
		return nil, err
	}
	if m.realtimeRedials, err = NewCounter(meter, "mobilesync_realtime_reconnects_total", "Realtime reconnections after a drop", "{reconnects}"); err != nil {
		return nil, err
	}
	if m.backlog, err = NewGauge(meter, "mobilesync_backlog", "Outstanding sync work by kind", "{items}"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordSession records a finished session.
func (m *SyncMetrics) RecordSession(ctx context.Context, s *offline.SyncSession) {
	status := AttrSessionStatus.String(string(s.Status))
	m.sessionTotal.Inc(ctx, status)
	if s.EndTime != nil {
		m.sessionDuration.RecordDuration(ctx, s.EndTime.Sub(s.StartTime), status)
	}
	for _, e := range s.Errors {
		m.syncErrorsTotal.Inc(ctx, AttrErrorCode.String(e.Code))
	}
}

// RecordItems adds n processed records of kind.
func (m *SyncMetrics) RecordItems(ctx context.Context, kind offline.EntityKind, n int) {
	if n <= 0 {
		return
	}
	m.itemsProcessed.Add(ctx, int64(n), AttrEntityType.String(string(kind)))
}

// RecordConflict counts a newly detected conflict.
func (m *SyncMetrics) RecordConflict(ctx context.Context, kind offline.EntityKind) {
	m.conflictsTotal.Inc(ctx, AttrEntityType.String(string(kind)))
}

// RecordUpload counts one pending change upload outcome.
func (m *SyncMetrics) RecordUpload(ctx context.Context, kind offline.EntityKind, outcome string) {
	m.uploadsTotal.Inc(ctx, AttrEntityType.String(string(kind)), AttrOutcome.String(outcome))
}

// RecordActionOutcome counts one queued action execution.
func (m *SyncMetrics) RecordActionOutcome(ctx context.Context, t offline.ActionType, outcome string) {
	m.actionsTotal.Inc(ctx, AttrActionType.String(string(t)), AttrOutcome.String(outcome))
}

// ObserveRequest implements transport.RequestObserver.
func (m *SyncMetrics) ObserveRequest(ctx context.Context, method, path string, status, attempts int, d time.Duration, err error) {
	code := "ok"
	if te, ok := transport.AsError(err); ok {
		code = te.Code
	}
	attrs := []attribute.KeyValue{
		AttrHTTPMethod.String(method),
		AttrHTTPRoute.String(routeOf(path)),
		AttrHTTPStatusCode.String(strconv.Itoa(status)),
		AttrErrorCode.String(code),
	}
	m.requestTotal.Inc(ctx, attrs...)
	m.requestDuration.RecordDuration(ctx, d, attrs...)
	if attempts > 0 {
		m.requestAttempts.Add(ctx, int64(attempts), AttrHTTPMethod.String(method))
	}
}

// ConnectionChanged implements realtime.ConnectionObserver.
func (m *SyncMetrics) ConnectionChanged(ctx context.Context, connected bool) {
	if !connected {
		m.realtimeUp.Record(ctx, 0)
		return
	}
	m.realtimeUp.Record(ctx, 1)

	m.connMu.Lock()
	redial := m.everConnected
	m.everConnected = true
	m.connMu.Unlock()
	if redial {
		m.realtimeRedials.Inc(ctx)
	}
}

// RecordBacklog sets the backlog gauges.
func (m *SyncMetrics) RecordBacklog(ctx context.Context, b Backlog) {
	m.backlog.Record(ctx, b.PendingChanges, AttrOutcome.String("pending_changes"))
	m.backlog.Record(ctx, b.DeadChanges, AttrOutcome.String("dead_changes"))
	m.backlog.Record(ctx, b.QueuedActions, AttrOutcome.String("queued_actions"))
	m.backlog.Record(ctx, b.DeadActions, AttrOutcome.String("dead_actions"))
	m.backlog.Record(ctx, b.PendingConflicts, AttrOutcome.String("pending_conflicts"))
}

// StartPeriodicCollection polls provider every interval until Stop or ctx
// cancellation. Only the first call starts a collector.
func (m *SyncMetrics) StartPeriodicCollection(ctx context.Context, provider BacklogProvider, interval time.Duration) {
	if provider == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	m.collectOnce.Do(func() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			m.collectBacklog(ctx, provider)
			for {
				select {
				case <-ticker.C:
					m.collectBacklog(ctx, provider)
				case <-m.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	})
}

func (m *SyncMetrics) collectBacklog(ctx context.Context, provider BacklogProvider) {
	b, err := provider.Backlog(ctx)
	if err != nil {
		m.logger.Warn("Failed to collect sync backlog", zap.Error(err))
		return
	}
	m.RecordBacklog(ctx, b)
}

// Stop ends periodic collection. Safe to call multiple times.
func (m *SyncMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}

// routeOf collapses item paths to their collection template to keep label
// cardinality bounded.
func routeOf(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for _, kind := range offline.AllEntityKinds() {
		prefix := kind.CollectionPath() + "/"
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			return prefix + ":id"
		}
	}
	return path
}

// MetricsError reports a failure to build instruments.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// ErrMeterNil is returned when no meter is supplied.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}
