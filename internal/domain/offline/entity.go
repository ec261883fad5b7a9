// Package offline holds the domain model of the offline-first sync engine:
// synced records, the pending-change log, queued actions, conflicts and sync
// sessions, together with the LocalStore contract that persists them.
package offline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/mobilesync/internal/domain/shared"
)

// EntityKind identifies one synced table.
type EntityKind string

const (
	EntityCompany       EntityKind = "company"
	EntityVoucher       EntityKind = "voucher"
	EntityInventoryItem EntityKind = "inventory_item"
)

// AllEntityKinds lists the kinds in the order a full sync downloads them.
// Companies go first because vouchers and items reference them.
func AllEntityKinds() []EntityKind {
	return []EntityKind{EntityCompany, EntityVoucher, EntityInventoryItem}
}

// IsValid returns true if the kind is one of the known kinds
func (k EntityKind) IsValid() bool {
	switch k {
	case EntityCompany, EntityVoucher, EntityInventoryItem:
		return true
	}
	return false
}

// String returns the string representation
func (k EntityKind) String() string {
	return string(k)
}

// TableName returns the local table backing this kind.
func (k EntityKind) TableName() string {
	switch k {
	case EntityCompany:
		return "companies"
	case EntityVoucher:
		return "vouchers"
	case EntityInventoryItem:
		return "inventory_items"
	}
	return ""
}

// CollectionPath returns the server collection endpoint for this kind.
func (k EntityKind) CollectionPath() string {
	switch k {
	case EntityCompany:
		return "/companies"
	case EntityVoucher:
		return "/vouchers"
	case EntityInventoryItem:
		return "/inventory/items"
	}
	return ""
}

// ItemPath returns the server endpoint of a single entity.
func (k EntityKind) ItemPath(id string) string {
	return k.CollectionPath() + "/" + id
}

// ParseEntityKind parses a kind, accepting the table name as an alias.
func ParseEntityKind(s string) (EntityKind, error) {
	for _, k := range AllEntityKinds() {
		if s == string(k) || s == k.TableName() {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q: %w", s, shared.ErrInvalidInput)
}

// Record is one synced row. Payload is opaque to the engine apart from the
// contract checks in payloads.go.
type Record struct {
	ID        string          `json:"id"`
	Kind      EntityKind      `json:"entityType,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Version   int64           `json:"version,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	TallyRef  string          `json:"tallyRef,omitempty"`
}

// RecordBase is the server state a local edit started from.
type RecordBase struct {
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version,omitempty"`
}

// Base returns the server state r currently reflects.
func (r *Record) Base() *RecordBase {
	return &RecordBase{UpdatedAt: r.UpdatedAt, Version: r.Version}
}

// ChangedSince reports whether the server moved r past base. A nil base
// means the device never saw a server copy, so any remote copy is a change.
// Both sides of the comparison are server clock values. Versions decide
// when both sides carry differing ones.
func (r *Record) ChangedSince(base *RecordBase) bool {
	if base == nil {
		return true
	}
	if r.Version > 0 && base.Version > 0 && r.Version != base.Version {
		return r.Version > base.Version
	}
	return r.UpdatedAt.After(base.UpdatedAt)
}

// SameMeta reports whether both records carry the same server metadata.
func (r *Record) SameMeta(other *Record) bool {
	return r.Version == other.Version && r.UpdatedAt.Equal(other.UpdatedAt)
}

// SamePayload reports whether two records carry semantically equal payloads,
// ignoring key order and whitespace.
func (r *Record) SamePayload(other *Record) bool {
	a, errA := PayloadHash(r.Payload)
	b, errB := PayloadHash(other.Payload)
	if errA != nil || errB != nil {
		return bytes.Equal(r.Payload, other.Payload)
	}
	return a == b
}

// PayloadHash returns a sha256 of the canonical JSON form of raw.
func PayloadHash(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// TypedRecord is a Record whose payload has been decoded into T.
type TypedRecord[T any] struct {
	ID        string
	UpdatedAt time.Time
	Version   int64
	Payload   T
	TallyRef  string
}

// DecodeRecord decodes the payload of r into T.
func DecodeRecord[T any](r *Record) (*TypedRecord[T], error) {
	var payload T
	if err := json.Unmarshal(r.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", r.Kind, r.ID, err)
	}
	return &TypedRecord[T]{
		ID:        r.ID,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
		Payload:   payload,
		TallyRef:  r.TallyRef,
	}, nil
}

// ListFilter narrows List queries. Zero values mean "no constraint".
type ListFilter struct {
	CompanyID string
	Category  string
	Limit     int
	Offset    int
}
