package offline

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a sync session.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionSyncing   SessionStatus = "syncing"
	SessionUploading SessionStatus = "uploading"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// IsTerminal returns true for completed and error
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionError
}

// SyncError is one non-fatal failure recorded during a session.
type SyncError struct {
	EntityType EntityKind `json:"entityType,omitempty"`
	EntityID   string     `json:"entityId,omitempty"`
	Code       string     `json:"code"`
	Message    string     `json:"message"`
}

// SyncSession tracks one sync cycle. At most one session is active at a time.
type SyncSession struct {
	ID             string        `json:"id"`
	StartTime      time.Time     `json:"startTime"`
	EndTime        *time.Time    `json:"endTime,omitempty"`
	Status         SessionStatus `json:"status"`
	TotalItems     int           `json:"totalItems"`
	ProcessedItems int           `json:"processedItems"`
	ConflictCount  int           `json:"conflictCount"`
	Errors         []SyncError   `json:"errors"`
	Summary        string        `json:"summary,omitempty"`
}

// NewSyncSession starts a session in the syncing state.
func NewSyncSession(now time.Time) *SyncSession {
	return &SyncSession{
		ID:        uuid.Must(uuid.NewV7()).String(),
		StartTime: now.UTC(),
		Status:    SessionSyncing,
		Errors:    []SyncError{},
	}
}

// IsActive reports whether the session has not reached a terminal state.
func (s *SyncSession) IsActive() bool {
	return !s.Status.IsTerminal()
}

// AddError appends a per-item failure.
func (s *SyncSession) AddError(e SyncError) {
	s.Errors = append(s.Errors, e)
}

// Finish moves the session to a terminal state.
func (s *SyncSession) Finish(status SessionStatus, summary string, now time.Time) {
	end := now.UTC()
	s.Status = status
	s.Summary = summary
	s.EndTime = &end
}

// Clone returns a copy safe to hand to other goroutines.
func (s *SyncSession) Clone() *SyncSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Errors = append([]SyncError(nil), s.Errors...)
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return &c
}

// CacheEntry is an advisory memoized value.
type CacheEntry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the entry is past its expiry at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Setting is an opaque engine key/value.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Well-known setting keys
const (
	SettingLastSyncAt      = "last_sync_at"
	SettingAutoSyncEnabled = "auto_sync_enabled"
)
