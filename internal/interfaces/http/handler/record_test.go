package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/interfaces/http/dto"
	"github.com/erp/mobilesync/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHandler_ListAndGet(t *testing.T) {
	a := newAPI(t)
	company := a.fx.Company()
	cid := idOf(company)
	a.erp.Seed(testutil.CompaniesPath, company)
	a.erp.Seed(testutil.VouchersPath, a.fx.Vouchers(cid, 3)...)
	a.erp.Seed(testutil.VouchersPath, a.fx.Voucher("other-company"))
	a.mustSync(t)

	w := testutil.PerformRequest(t, a.engine, http.MethodGet, "/api/v1/records/voucher?company_id="+cid+"&limit=2", nil)
	page := testutil.StatusOK[[]offline.Record](t, w)
	assert.Len(t, page, 2)
	assert.Contains(t, w.Body.String(), `"meta":{"count":2,"limit":2,"offset":0}`)

	w = testutil.PerformRequest(t, a.engine, http.MethodGet, "/api/v1/records/voucher?company_id="+cid, nil)
	all := testutil.StatusOK[[]offline.Record](t, w)
	require.Len(t, all, 3)

	w = testutil.PerformRequest(t, a.engine, http.MethodGet, "/api/v1/records/voucher/"+all[0].ID, nil)
	rec := testutil.StatusOK[offline.Record](t, w)
	assert.Equal(t, all[0].ID, rec.ID)
	assert.Equal(t, cid, testutil.Field(rec.Payload, "companyId"))

	t.Run("table name alias", func(t *testing.T) {
		w := testutil.PerformRequest(t, a.engine, http.MethodGet, "/api/v1/records/companies", nil)
		assert.Len(t, testutil.StatusOK[[]offline.Record](t, w), 1)
	})

	t.Run("unknown kind", func(t *testing.T) {
		w := testutil.PerformRequest(t, a.engine, http.MethodGet, "/api/v1/records/invoice", nil)
		testutil.AssertErrorResponse(t, w, http.StatusBadRequest, dto.ErrCodeInvalidInput)
	})

	t.Run("missing record", func(t *testing.T) {
		w := testutil.PerformRequest(t, a.engine, http.MethodGet, "/api/v1/records/voucher/missing", nil)
		testutil.AssertErrorResponse(t, w, http.StatusNotFound, dto.ErrCodeNotFound)
	})
}

func TestRecordHandler_CreateQueuesUpload(t *testing.T) {
	a := newAPI(t)
	company := a.fx.Company()

	w := testutil.PerformRequest(t, a.engine, http.MethodPost, "/api/v1/records/company", company)
	change := testutil.DecodeData[offline.PendingChange](t, w, http.StatusCreated)

	assert.Equal(t, offline.ChangeCreate, change.Action)
	assert.Equal(t, idOf(company), change.EntityID)
	assert.Empty(t, a.erp.Requests(), "local writes stay local until upload")

	_, err := a.store.Get(context.Background(), offline.EntityCompany, idOf(company))
	assert.NoError(t, err)
}

func TestRecordHandler_CreateRejectsBadBodies(t *testing.T) {
	a := newAPI(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"id":`, dto.ErrCodeInvalidJSON},
		{"missing id", `{"name":"Acme"}`, dto.ErrCodeInvalidInput},
		{"payload contract", `{"id":"c-1"}`, dto.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/records/company", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			a.engine.ServeHTTP(w, req)
			testutil.AssertErrorResponse(t, w, http.StatusBadRequest, tt.code)
		})
	}
}

func TestRecordHandler_UpdateAndDelete(t *testing.T) {
	a := newAPI(t)
	v := a.seedVoucher()
	id := idOf(v)
	a.mustSync(t)

	edited := testutil.With(v, map[string]any{"narration": "edited"})
	w := testutil.PerformRequest(t, a.engine, http.MethodPut, "/api/v1/records/voucher/"+id, edited)
	change := testutil.StatusOK[offline.PendingChange](t, w)
	assert.Equal(t, offline.ChangeUpdate, change.Action)

	rec, err := a.store.Get(context.Background(), offline.EntityVoucher, id)
	require.NoError(t, err)
	assert.Equal(t, "edited", testutil.Field(rec.Payload, "narration"))

	t.Run("id mismatch", func(t *testing.T) {
		w := testutil.PerformRequest(t, a.engine, http.MethodPut, "/api/v1/records/voucher/other", edited)
		testutil.AssertErrorResponse(t, w, http.StatusBadRequest, dto.ErrCodeInvalidInput)
	})

	t.Run("update of an unknown record", func(t *testing.T) {
		body := testutil.With(v, map[string]any{"id": "missing"})
		w := testutil.PerformRequest(t, a.engine, http.MethodPut, "/api/v1/records/voucher/missing", body)
		testutil.AssertErrorResponse(t, w, http.StatusNotFound, dto.ErrCodeNotFound)
	})

	w = testutil.PerformRequest(t, a.engine, http.MethodDelete, "/api/v1/records/voucher/"+id, nil)
	change = testutil.StatusOK[offline.PendingChange](t, w)
	assert.Equal(t, offline.ChangeDelete, change.Action)

	w = testutil.PerformRequest(t, a.engine, http.MethodGet, "/api/v1/records/voucher/"+id, nil)
	testutil.AssertErrorResponse(t, w, http.StatusNotFound, dto.ErrCodeNotFound)

	w = testutil.PerformRequest(t, a.engine, http.MethodDelete, "/api/v1/records/voucher/"+id, nil)
	testutil.AssertErrorResponse(t, w, http.StatusNotFound, dto.ErrCodeNotFound)

	pending, err := a.store.GetPendingChanges(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
