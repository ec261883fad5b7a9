package offline

import (
	"context"
	"encoding/json"
	"time"
)

// LocalStore persists every row the engine owns. Storage-engine failures are
// returned as *shared.StorageError.
type LocalStore interface {
	Upsert(ctx context.Context, kind EntityKind, record *Record) error
	Get(ctx context.Context, kind EntityKind, id string) (*Record, error)
	List(ctx context.Context, kind EntityKind, filter ListFilter) ([]*Record, error)
	Delete(ctx context.Context, kind EntityKind, id string) error

	AddPendingChange(ctx context.Context, change *PendingChange) error
	GetPendingChanges(ctx context.Context) ([]*PendingChange, error)
	MarkChangeAsSynced(ctx context.Context, id string) error
	MarkChangeFailed(ctx context.Context, id string, errMsg string, deadLetter bool) error
	HasPendingChanges(ctx context.Context, kind EntityKind, entityID string) (bool, error)
	DiscardPendingChanges(ctx context.Context, kind EntityKind, entityID string) error
	CountDeadChanges(ctx context.Context) (int64, error)

	AddConflict(ctx context.Context, conflict *Conflict) error
	GetConflict(ctx context.Context, id string) (*Conflict, error)
	// GetConflicts lists conflicts; an empty status lists all of them.
	GetConflicts(ctx context.Context, status ConflictStatus) ([]*Conflict, error)
	// ResolveConflict marks a pending conflict resolved; resolved conflicts are rejected.
	ResolveConflict(ctx context.Context, id string, strategy Strategy, resolvedData json.RawMessage) error

	SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetCache(ctx context.Context, key string) ([]byte, bool, error)
	ClearExpiredCache(ctx context.Context) (int64, error)

	AddSyncSession(ctx context.Context, session *SyncSession) error
	UpdateSyncSession(ctx context.Context, session *SyncSession) error
	GetSyncHistory(ctx context.Context, limit int) ([]*SyncSession, error)

	SetSetting(ctx context.Context, key, value string) error
	GetSetting(ctx context.Context, key string) (string, bool, error)

	EnqueueAction(ctx context.Context, action *QueuedAction) error
	ListQueuedActions(ctx context.Context, statuses ...ActionStatus) ([]*QueuedAction, error)
	GetQueuedAction(ctx context.Context, id string) (*QueuedAction, error)
	UpdateQueuedAction(ctx context.Context, action *QueuedAction) error
	DeleteQueuedAction(ctx context.Context, id string) error
	CountQueuedActions(ctx context.Context, statuses ...ActionStatus) (int64, error)

	// Transaction runs fn against a store bound to one database transaction.
	Transaction(ctx context.Context, fn func(tx LocalStore) error) error
}
