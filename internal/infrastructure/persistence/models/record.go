package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/mobilesync/internal/domain/offline"
)

// RecordColumns are the columns shared by every synced entity table. The
// index columns are derived from the payload on write.
type RecordColumns struct {
	ID         string     `gorm:"type:varchar(64);primaryKey"`
	CompanyID  string     `gorm:"type:varchar(64);not null;default:'';index"`
	Name       string     `gorm:"type:varchar(200);not null;default:''"`
	Category   string     `gorm:"type:varchar(100);not null;default:''"`
	DocDate    *time.Time `gorm:"index"`
	ModifiedAt time.Time  `gorm:"not null"`
	Version    int64      `gorm:"not null;default:0"`
	Payload    string     `gorm:"type:text;not null"`
	TallyRef   string     `gorm:"type:varchar(100);not null;default:''"`
	CreatedAt  time.Time  `gorm:"not null"`
}

// UpsertColumns are replaced when an existing row is upserted. created_at
// keeps the first insertion time.
var UpsertColumns = []string{
	"company_id", "name", "category", "doc_date",
	"modified_at", "version", "payload", "tally_ref",
}

// CompanyModel is the persistence model of the companies table
type CompanyModel struct {
	RecordColumns
}

// TableName returns the table name for GORM
func (CompanyModel) TableName() string { return offline.EntityCompany.TableName() }

// VoucherModel is the persistence model of the vouchers table
type VoucherModel struct {
	RecordColumns
}

// TableName returns the table name for GORM
func (VoucherModel) TableName() string { return offline.EntityVoucher.TableName() }

// InventoryItemModel is the persistence model of the inventory_items table
type InventoryItemModel struct {
	RecordColumns
}

// TableName returns the table name for GORM
func (InventoryItemModel) TableName() string { return offline.EntityInventoryItem.TableName() }

// RecordColumnsFromDomain validates the payload of r and builds its row.
func RecordColumnsFromDomain(kind offline.EntityKind, r *offline.Record, now time.Time) (*RecordColumns, error) {
	fields, err := offline.ValidatePayload(kind, r.Payload)
	if err != nil {
		return nil, err
	}
	return &RecordColumns{
		ID:         r.ID,
		CompanyID:  fields.CompanyID,
		Name:       fields.Name,
		Category:   fields.Category,
		DocDate:    fields.Date,
		ModifiedAt: r.UpdatedAt.UTC(),
		Version:    r.Version,
		Payload:    string(r.Payload),
		TallyRef:   r.TallyRef,
		CreatedAt:  now.UTC(),
	}, nil
}

// ToDomain converts the row to a Record. A payload that no longer satisfies
// its contract is reported as an error.
func (m *RecordColumns) ToDomain(kind offline.EntityKind) (*offline.Record, error) {
	payload := json.RawMessage(m.Payload)
	if _, err := offline.ValidatePayload(kind, payload); err != nil {
		return nil, fmt.Errorf("corrupt %s row %s: %w", kind, m.ID, err)
	}
	return &offline.Record{
		ID:        m.ID,
		Kind:      kind,
		UpdatedAt: m.ModifiedAt.UTC(),
		Version:   m.Version,
		Payload:   payload,
		TallyRef:  m.TallyRef,
	}, nil
}
