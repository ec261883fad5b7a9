package offline

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// CompanyPayload is the serialization contract of the companies table.
type CompanyPayload struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required,max=200"`
	GSTNumber string `json:"gstNumber,omitempty" validate:"omitempty,max=32"`
	Currency  string `json:"currency,omitempty" validate:"omitempty,len=3"`
}

// VoucherPayload is the serialization contract of the vouchers table.
type VoucherPayload struct {
	ID            string          `json:"id" validate:"required"`
	CompanyID     string          `json:"companyId" validate:"required"`
	VoucherNumber string          `json:"voucherNumber,omitempty"`
	VoucherType   string          `json:"voucherType,omitempty"`
	Date          time.Time       `json:"date" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Narration     string          `json:"narration,omitempty"`
}

// InventoryItemPayload is the serialization contract of the inventory_items table.
type InventoryItemPayload struct {
	ID        string          `json:"id" validate:"required"`
	CompanyID string          `json:"companyId" validate:"required"`
	Name      string          `json:"name" validate:"required,max=200"`
	Category  string          `json:"category,omitempty"`
	Unit      string          `json:"unit,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	Rate      decimal.Decimal `json:"rate"`
}

// IndexFields are the payload-derived columns used for filtering and ordering.
type IndexFields struct {
	CompanyID string
	Name      string
	Category  string
	Date      *time.Time
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidatePayload checks raw against the contract of kind and returns the
// index fields extracted from it. Rows failing this check are rejected at the
// store boundary.
func ValidatePayload(kind EntityKind, raw json.RawMessage) (IndexFields, error) {
	if len(raw) == 0 {
		return IndexFields{}, fmt.Errorf("%s payload is empty: %w", kind, shared.ErrInvalidInput)
	}
	switch kind {
	case EntityCompany:
		var p CompanyPayload
		if err := decodeAndValidate(raw, &p); err != nil {
			return IndexFields{}, fmt.Errorf("company payload: %w", err)
		}
		return IndexFields{CompanyID: p.ID, Name: p.Name}, nil
	case EntityVoucher:
		var p VoucherPayload
		if err := decodeAndValidate(raw, &p); err != nil {
			return IndexFields{}, fmt.Errorf("voucher payload: %w", err)
		}
		d := p.Date.UTC()
		return IndexFields{CompanyID: p.CompanyID, Name: p.VoucherNumber, Date: &d}, nil
	case EntityInventoryItem:
		var p InventoryItemPayload
		if err := decodeAndValidate(raw, &p); err != nil {
			return IndexFields{}, fmt.Errorf("inventory item payload: %w", err)
		}
		return IndexFields{CompanyID: p.CompanyID, Name: p.Name, Category: p.Category}, nil
	}
	return IndexFields{}, fmt.Errorf("unknown entity kind %q: %w", kind, shared.ErrInvalidInput)
}

func decodeAndValidate(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	if err := payloadValidator().Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	return nil
}
