package offline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/mobilesync/internal/domain/shared"
)

// remoteMeta is the bookkeeping the server embeds in every entity body.
type remoteMeta struct {
	ID         string     `json:"id"`
	UpdatedAt  *time.Time `json:"updatedAt"`
	UpdatedAt2 *time.Time `json:"updated_at"`
	Version    int64      `json:"version"`
	TallyRef   string     `json:"tallyRef"`
	TallyRef2  string     `json:"tally_ref"`
}

// RecordFromRemote builds a Record from an entity body as served by the
// API. The whole body becomes the payload. fallback is used as UpdatedAt
// when the server sends no timestamp.
func RecordFromRemote(kind EntityKind, raw json.RawMessage, fallback time.Time) (*Record, error) {
	var meta remoteMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s body: %v", shared.ErrInvalidInput, kind, err)
	}
	if meta.ID == "" {
		return nil, fmt.Errorf("%w: %s body without id", shared.ErrInvalidInput, kind)
	}

	r := &Record{
		ID:        meta.ID,
		Kind:      kind,
		UpdatedAt: fallback.UTC(),
		Version:   meta.Version,
		Payload:   raw,
		TallyRef:  meta.TallyRef,
	}
	switch {
	case meta.UpdatedAt != nil:
		r.UpdatedAt = meta.UpdatedAt.UTC()
	case meta.UpdatedAt2 != nil:
		r.UpdatedAt = meta.UpdatedAt2.UTC()
	}
	if r.TallyRef == "" {
		r.TallyRef = meta.TallyRef2
	}
	return r, nil
}

// DataUpdate is the payload of a server-pushed data-update event.
type DataUpdate struct {
	EntityType EntityKind      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     ChangeAction    `json:"action"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Validate checks the update before it touches the store.
func (u DataUpdate) Validate() error {
	if !u.EntityType.IsValid() {
		return fmt.Errorf("%w: unknown entity type %q", shared.ErrInvalidInput, u.EntityType)
	}
	if u.EntityID == "" {
		return fmt.Errorf("%w: data update without entity id", shared.ErrInvalidInput)
	}
	if !u.Action.IsValid() {
		return fmt.Errorf("%w: unknown action %q", shared.ErrInvalidInput, u.Action)
	}
	if u.Action != ChangeDelete && len(u.Data) == 0 {
		return fmt.Errorf("%w: %s %s without data", shared.ErrInvalidInput, u.Action, u.EntityType)
	}
	return nil
}

// Record converts a create/update push into a Record.
func (u DataUpdate) Record(fallback time.Time) (*Record, error) {
	r, err := RecordFromRemote(u.EntityType, u.Data, fallback)
	if err != nil {
		return nil, err
	}
	if r.ID != u.EntityID {
		return nil, fmt.Errorf("%w: data update id mismatch %q != %q", shared.ErrInvalidInput, r.ID, u.EntityID)
	}
	return r, nil
}
