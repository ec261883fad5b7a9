package offline

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ChangeAction is the kind of local mutation recorded in a PendingChange.
type ChangeAction string

const (
	ChangeCreate ChangeAction = "create"
	ChangeUpdate ChangeAction = "update"
	ChangeDelete ChangeAction = "delete"
)

// IsValid returns true if the action is known
func (a ChangeAction) IsValid() bool {
	switch a {
	case ChangeCreate, ChangeUpdate, ChangeDelete:
		return true
	}
	return false
}

// PendingChange is a local mutation not yet confirmed by the server.
type PendingChange struct {
	ID         string          `json:"id"`
	EntityType EntityKind      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     ChangeAction    `json:"action"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	Synced     bool            `json:"synced"`
	SyncedAt   *time.Time      `json:"syncedAt,omitempty"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"lastError,omitempty"`
	DeadLetter bool            `json:"deadLetter"`
	// Base is the server state the first outstanding edit of the entity
	// started from; nil for entities created on the device.
	Base *RecordBase `json:"base,omitempty"`
}

// NewPendingChange records a local mutation of entityID. IDs are UUIDv7, so
// changes created at the same instant still sort in creation order.
func NewPendingChange(kind EntityKind, entityID string, action ChangeAction, payload json.RawMessage, now time.Time) *PendingChange {
	return &PendingChange{
		ID:         uuid.Must(uuid.NewV7()).String(),
		EntityType: kind,
		EntityID:   entityID,
		Action:     action,
		Payload:    payload,
		CreatedAt:  now.UTC(),
	}
}

// Outstanding reports whether the change still needs to reach the server.
func (c *PendingChange) Outstanding() bool {
	return !c.Synced && !c.DeadLetter
}

// ToAction converts the change into the queue's action form.
func (c *PendingChange) ToAction() EntityAction {
	return EntityAction{
		Op:       c.Action,
		Kind:     c.EntityType,
		EntityID: c.EntityID,
		Data:     c.Payload,
	}
}
