package offline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/google/uuid"
)

// ConflictType classifies a divergence. Only data_mismatch exists today.
type ConflictType string

const ConflictDataMismatch ConflictType = "data_mismatch"

// ConflictStatus is pending until a resolution is applied.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// Strategy selects how a conflict is resolved.
type Strategy string

const (
	StrategyLocal  Strategy = "local"
	StrategyRemote Strategy = "remote"
	StrategyManual Strategy = "manual"
)

// IsValid returns true if the strategy is known
func (s Strategy) IsValid() bool {
	return s == StrategyLocal || s == StrategyRemote || s == StrategyManual
}

// Conflict records a local/remote divergence awaiting a decision.
// A nil RemoteData means the server deleted the entity; a nil LocalData
// means the device deleted it.
type Conflict struct {
	ID           string          `json:"id"`
	EntityType   EntityKind      `json:"entityType"`
	EntityID     string          `json:"entityId"`
	ConflictType ConflictType    `json:"conflictType"`
	LocalData    json.RawMessage `json:"localData"`
	RemoteData   json.RawMessage `json:"remoteData"`
	Status       ConflictStatus  `json:"status"`
	Resolution   Strategy        `json:"resolution,omitempty"`
	ResolvedData json.RawMessage `json:"resolvedData,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	ResolvedAt   *time.Time      `json:"resolvedAt,omitempty"`
}

// NewConflict creates a pending data_mismatch conflict.
func NewConflict(kind EntityKind, entityID string, local, remote json.RawMessage, now time.Time) *Conflict {
	return &Conflict{
		ID:           uuid.Must(uuid.NewV7()).String(),
		EntityType:   kind,
		EntityID:     entityID,
		ConflictType: ConflictDataMismatch,
		LocalData:    local,
		RemoteData:   remote,
		Status:       ConflictPending,
		CreatedAt:    now.UTC(),
	}
}

// RemoteDeleted reports whether the remote side is a deletion.
func (c *Conflict) RemoteDeleted() bool {
	return len(c.RemoteData) == 0 || string(c.RemoteData) == "null"
}

// LocalDeleted reports whether the local side is a deletion.
func (c *Conflict) LocalDeleted() bool {
	return len(c.LocalData) == 0 || string(c.LocalData) == "null"
}

// IsResolved returns true once a resolution has been applied
func (c *Conflict) IsResolved() bool {
	return c.Status == ConflictResolved
}

// Resolve marks the conflict resolved. Resolved conflicts are immutable.
func (c *Conflict) Resolve(strategy Strategy, data json.RawMessage, now time.Time) error {
	if c.IsResolved() {
		return fmt.Errorf("conflict %s already resolved: %w", c.ID, shared.ErrInvalidState)
	}
	if !strategy.IsValid() {
		return fmt.Errorf("unknown strategy %q: %w", strategy, shared.ErrInvalidInput)
	}
	at := now.UTC()
	c.Status = ConflictResolved
	c.Resolution = strategy
	c.ResolvedData = data
	c.ResolvedAt = &at
	return nil
}

// Resolution is a caller's decision on a conflict.
type Resolution struct {
	Strategy   Strategy        `json:"strategy"`
	MergedData json.RawMessage `json:"mergedData,omitempty"`
}

// Validate checks that manual resolutions carry merged data.
func (r Resolution) Validate() error {
	if !r.Strategy.IsValid() {
		return fmt.Errorf("unknown strategy %q: %w", r.Strategy, shared.ErrInvalidInput)
	}
	if r.Strategy == StrategyManual && len(r.MergedData) == 0 {
		return errors.Join(shared.ErrInvalidInput, errors.New("manual resolution requires merged data"))
	}
	return nil
}
