package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
)

// Fixtures generates server-shaped entity bodies that satisfy the local
// payload contracts. A fixed seed yields the same bodies every run.
type Fixtures struct {
	faker *gofakeit.Faker
	seq   int
}

// NewFixtures creates a generator; seed 0 picks a random seed.
func NewFixtures(seed uint64) *Fixtures {
	return &Fixtures{faker: gofakeit.New(seed)}
}

// Company returns a company body.
func (fx *Fixtures) Company() json.RawMessage {
	f := fx.faker
	return mustJSON(map[string]any{
		"id":        f.UUID(),
		"name":      f.Company(),
		"gstNumber": fmt.Sprintf("GST%08d", f.Number(0, 99999999)),
		"currency":  f.CurrencyShort(),
		"updatedAt": Epoch.Add(-time.Hour),
		"version":   1,
	})
}

// Voucher returns a voucher body of companyID.
func (fx *Fixtures) Voucher(companyID string) json.RawMessage {
	f := fx.faker
	fx.seq++
	amount := decimal.NewFromFloat(f.Price(1, 100000)).Round(2)
	return mustJSON(map[string]any{
		"id":            f.UUID(),
		"companyId":     companyID,
		"voucherNumber": fmt.Sprintf("V-%06d", fx.seq),
		"voucherType":   f.RandomString([]string{"sales", "purchase", "receipt", "payment", "journal"}),
		"date":          f.DateRange(Epoch.AddDate(-1, 0, 0), Epoch).UTC().Format(time.RFC3339),
		"amount":        amount.String(),
		"narration":     f.Sentence(5),
		"updatedAt":     Epoch.Add(-time.Hour),
		"version":       1,
	})
}

// Vouchers returns n voucher bodies of companyID.
func (fx *Fixtures) Vouchers(companyID string, n int) []json.RawMessage {
	out := make([]json.RawMessage, n)
	for i := range out {
		out[i] = fx.Voucher(companyID)
	}
	return out
}

// Item returns an inventory item body of companyID.
func (fx *Fixtures) Item(companyID string) json.RawMessage {
	f := fx.faker
	return mustJSON(map[string]any{
		"id":        f.UUID(),
		"companyId": companyID,
		"name":      f.ProductName(),
		"category":  f.ProductCategory(),
		"unit":      f.RandomString([]string{"pcs", "kg", "box", "ltr"}),
		"quantity":  decimal.NewFromInt(int64(f.Number(0, 500))).String(),
		"rate":      decimal.NewFromFloat(f.Price(1, 1000)).Round(2).String(),
		"updatedAt": Epoch.Add(-time.Hour),
		"version":   1,
	})
}

// With returns body with fields overridden.
func With(body json.RawMessage, fields map[string]any) json.RawMessage {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		panic(err)
	}
	for k, v := range fields {
		m[k] = v
	}
	return mustJSON(m)
}

// Field reads one top-level field of body.
func Field(body json.RawMessage, name string) any {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil
	}
	return m[name]
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
