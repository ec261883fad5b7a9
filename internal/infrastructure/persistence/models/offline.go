package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/mobilesync/internal/domain/offline"
)

// PendingChangeModel is the persistence model of a local mutation awaiting upload
type PendingChangeModel struct {
	ID         string     `gorm:"type:varchar(64);primaryKey"`
	EntityType string     `gorm:"type:varchar(32);not null;index:idx_pending_entity,priority:1"`
	EntityID   string     `gorm:"type:varchar(64);not null;index:idx_pending_entity,priority:2"`
	Action     string     `gorm:"type:varchar(16);not null"`
	Payload    *string    `gorm:"type:text"`
	CreatedAt  time.Time  `gorm:"not null;index"`
	Synced     bool       `gorm:"not null;default:false;index"`
	SyncedAt   *time.Time
	Attempts   int    `gorm:"not null;default:0"`
	LastError  string `gorm:"type:text"`
	DeadLetter bool   `gorm:"not null;default:false"`
	// server state the edit started from
	BaseUpdatedAt *time.Time
	BaseVersion   int64 `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (PendingChangeModel) TableName() string { return "pending_changes" }

// PendingChangeModelFromDomain creates a persistence model from a PendingChange
func PendingChangeModelFromDomain(c *offline.PendingChange) *PendingChangeModel {
	m := &PendingChangeModel{
		ID:         c.ID,
		EntityType: string(c.EntityType),
		EntityID:   c.EntityID,
		Action:     string(c.Action),
		Payload:    rawToText(c.Payload),
		CreatedAt:  c.CreatedAt.UTC(),
		Synced:     c.Synced,
		SyncedAt:   c.SyncedAt,
		Attempts:   c.Attempts,
		LastError:  c.LastError,
		DeadLetter: c.DeadLetter,
	}
	if c.Base != nil {
		at := c.Base.UpdatedAt.UTC()
		m.BaseUpdatedAt = &at
		m.BaseVersion = c.Base.Version
	}
	return m
}

// ToDomain converts the persistence model to a PendingChange
func (m *PendingChangeModel) ToDomain() (*offline.PendingChange, error) {
	kind := offline.EntityKind(m.EntityType)
	action := offline.ChangeAction(m.Action)
	if !kind.IsValid() || !action.IsValid() {
		return nil, fmt.Errorf("corrupt pending change %s: %s/%s", m.ID, m.EntityType, m.Action)
	}
	payload, err := textToRaw(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("corrupt pending change %s: %w", m.ID, err)
	}
	c := &offline.PendingChange{
		ID:         m.ID,
		EntityType: kind,
		EntityID:   m.EntityID,
		Action:     action,
		Payload:    payload,
		CreatedAt:  m.CreatedAt.UTC(),
		Synced:     m.Synced,
		SyncedAt:   m.SyncedAt,
		Attempts:   m.Attempts,
		LastError:  m.LastError,
		DeadLetter: m.DeadLetter,
	}
	if m.BaseUpdatedAt != nil || m.BaseVersion > 0 {
		c.Base = &offline.RecordBase{Version: m.BaseVersion}
		if m.BaseUpdatedAt != nil {
			c.Base.UpdatedAt = m.BaseUpdatedAt.UTC()
		}
	}
	return c, nil
}

// ConflictModel is the persistence model of a detected conflict
type ConflictModel struct {
	ID           string     `gorm:"type:varchar(64);primaryKey"`
	EntityType   string     `gorm:"type:varchar(32);not null;index:idx_conflict_entity,priority:1"`
	EntityID     string     `gorm:"type:varchar(64);not null;index:idx_conflict_entity,priority:2"`
	ConflictType string     `gorm:"type:varchar(32);not null"`
	LocalData    *string    `gorm:"type:text"`
	RemoteData   *string    `gorm:"type:text"`
	Status       string     `gorm:"type:varchar(16);not null;index"`
	Resolution   string     `gorm:"type:varchar(16);not null;default:''"`
	ResolvedData *string    `gorm:"type:text"`
	CreatedAt    time.Time  `gorm:"not null"`
	ResolvedAt   *time.Time
}

// TableName returns the table name for GORM
func (ConflictModel) TableName() string { return "conflicts" }

// ConflictModelFromDomain creates a persistence model from a Conflict
func ConflictModelFromDomain(c *offline.Conflict) *ConflictModel {
	return &ConflictModel{
		ID:           c.ID,
		EntityType:   string(c.EntityType),
		EntityID:     c.EntityID,
		ConflictType: string(c.ConflictType),
		LocalData:    rawToText(c.LocalData),
		RemoteData:   rawToText(c.RemoteData),
		Status:       string(c.Status),
		Resolution:   string(c.Resolution),
		ResolvedData: rawToText(c.ResolvedData),
		CreatedAt:    c.CreatedAt.UTC(),
		ResolvedAt:   c.ResolvedAt,
	}
}

// ToDomain converts the persistence model to a Conflict
func (m *ConflictModel) ToDomain() (*offline.Conflict, error) {
	local, err := textToRaw(m.LocalData)
	if err != nil {
		return nil, fmt.Errorf("corrupt conflict %s local data: %w", m.ID, err)
	}
	remote, err := textToRaw(m.RemoteData)
	if err != nil {
		return nil, fmt.Errorf("corrupt conflict %s remote data: %w", m.ID, err)
	}
	resolved, err := textToRaw(m.ResolvedData)
	if err != nil {
		return nil, fmt.Errorf("corrupt conflict %s resolved data: %w", m.ID, err)
	}
	return &offline.Conflict{
		ID:           m.ID,
		EntityType:   offline.EntityKind(m.EntityType),
		EntityID:     m.EntityID,
		ConflictType: offline.ConflictType(m.ConflictType),
		LocalData:    local,
		RemoteData:   remote,
		Status:       offline.ConflictStatus(m.Status),
		Resolution:   offline.Strategy(m.Resolution),
		ResolvedData: resolved,
		CreatedAt:    m.CreatedAt.UTC(),
		ResolvedAt:   m.ResolvedAt,
	}, nil
}

// SyncSessionModel is the persistence model of a sync session
type SyncSessionModel struct {
	ID             string     `gorm:"type:varchar(64);primaryKey"`
	StartTime      time.Time  `gorm:"not null;index"`
	EndTime        *time.Time
	Status         string `gorm:"type:varchar(16);not null"`
	TotalItems     int    `gorm:"not null;default:0"`
	ProcessedItems int    `gorm:"not null;default:0"`
	ConflictCount  int    `gorm:"not null;default:0"`
	Errors         string `gorm:"type:text;not null"`
	Summary        string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (SyncSessionModel) TableName() string { return "sync_sessions" }

// SyncSessionModelFromDomain creates a persistence model from a SyncSession
func SyncSessionModelFromDomain(s *offline.SyncSession) (*SyncSessionModel, error) {
	errs := s.Errors
	if errs == nil {
		errs = []offline.SyncError{}
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return nil, err
	}
	return &SyncSessionModel{
		ID:             s.ID,
		StartTime:      s.StartTime.UTC(),
		EndTime:        s.EndTime,
		Status:         string(s.Status),
		TotalItems:     s.TotalItems,
		ProcessedItems: s.ProcessedItems,
		ConflictCount:  s.ConflictCount,
		Errors:         string(data),
		Summary:        s.Summary,
	}, nil
}

// ToDomain converts the persistence model to a SyncSession
func (m *SyncSessionModel) ToDomain() (*offline.SyncSession, error) {
	var errs []offline.SyncError
	if err := json.Unmarshal([]byte(m.Errors), &errs); err != nil {
		return nil, fmt.Errorf("corrupt sync session %s: %w", m.ID, err)
	}
	return &offline.SyncSession{
		ID:             m.ID,
		StartTime:      m.StartTime.UTC(),
		EndTime:        m.EndTime,
		Status:         offline.SessionStatus(m.Status),
		TotalItems:     m.TotalItems,
		ProcessedItems: m.ProcessedItems,
		ConflictCount:  m.ConflictCount,
		Errors:         errs,
		Summary:        m.Summary,
	}, nil
}

// QueuedActionModel is the persistence model of an offline queue entry
type QueuedActionModel struct {
	ID           string     `gorm:"type:varchar(64);primaryKey"`
	Type         string     `gorm:"type:varchar(40);not null"`
	Payload      string     `gorm:"type:text;not null"`
	Priority     string     `gorm:"type:varchar(10);not null"`
	PriorityRank int        `gorm:"not null;index:idx_queue_order,priority:2"`
	Status       string     `gorm:"type:varchar(10);not null;index:idx_queue_order,priority:1"`
	RetryCount   int        `gorm:"not null;default:0"`
	MaxRetries   int        `gorm:"not null"`
	LastError    string     `gorm:"type:text"`
	NextRetryAt  *time.Time
	CreatedAt    time.Time `gorm:"not null;index:idx_queue_order,priority:3"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (QueuedActionModel) TableName() string { return "queued_actions" }

// QueuedActionModelFromDomain creates a persistence model from a QueuedAction
func QueuedActionModelFromDomain(a *offline.QueuedAction) (*QueuedActionModel, error) {
	typ, payload, err := offline.EncodeAction(a.Action)
	if err != nil {
		return nil, err
	}
	return &QueuedActionModel{
		ID:           a.ID,
		Type:         string(typ),
		Payload:      string(payload),
		Priority:     string(a.Priority),
		PriorityRank: a.Priority.Rank(),
		Status:       string(a.Status),
		RetryCount:   a.RetryCount,
		MaxRetries:   a.MaxRetries,
		LastError:    a.LastError,
		NextRetryAt:  a.NextRetryAt,
		CreatedAt:    a.CreatedAt.UTC(),
		UpdatedAt:    a.UpdatedAt.UTC(),
	}, nil
}

// ToDomain converts the persistence model to a QueuedAction
func (m *QueuedActionModel) ToDomain() (*offline.QueuedAction, error) {
	action, err := offline.DecodeAction(offline.ActionType(m.Type), []byte(m.Payload))
	if err != nil {
		return nil, fmt.Errorf("corrupt queued action %s: %w", m.ID, err)
	}
	return &offline.QueuedAction{
		ID:          m.ID,
		Action:      action,
		Priority:    offline.Priority(m.Priority),
		Status:      offline.ActionStatus(m.Status),
		RetryCount:  m.RetryCount,
		MaxRetries:  m.MaxRetries,
		LastError:   m.LastError,
		NextRetryAt: m.NextRetryAt,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}, nil
}

func rawToText(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	s := string(raw)
	return &s
}

func textToRaw(s *string) (json.RawMessage, error) {
	if s == nil {
		return nil, nil
	}
	if !json.Valid([]byte(*s)) {
		return nil, fmt.Errorf("invalid json")
	}
	return json.RawMessage(*s), nil
}
