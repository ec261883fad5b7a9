package dto

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeUnknown, http.StatusInternalServerError},
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeUnavailable, http.StatusServiceUnavailable},
		{ErrCodeBadRequest, http.StatusBadRequest},
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeRequestTooLarge, http.StatusRequestEntityTooLarge},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeConflict, http.StatusConflict},
		{ErrCodeInvalidState, http.StatusUnprocessableEntity},
		{ErrCodeJobRunning, http.StatusConflict},
		{ErrCodeNetwork, http.StatusServiceUnavailable},
		{ErrCodeTimeout, http.StatusGatewayTimeout},
		{ErrCodeUpstream, http.StatusBadGateway},
		{ErrCodeRejected, http.StatusUnprocessableEntity},
		{ErrCodeStorage, http.StatusInternalServerError},
		{ErrCodeQueueExhausted, http.StatusUnprocessableEntity},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		// Unknown code should return 500
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestNormalizeErrorCode_CoversDomainTaxonomy(t *testing.T) {
	domainErrors := []*shared.DomainError{
		shared.ErrNotFound,
		shared.ErrInvalidInput,
		shared.ErrInvalidState,
		shared.ErrNetwork,
		shared.ErrTimeout,
		shared.ErrServer,
		shared.ErrClient,
		shared.ErrConflict,
		shared.ErrStorage,
		shared.ErrQueueExhausted,
		shared.ErrCanceled,
	}

	for _, de := range domainErrors {
		t.Run(de.Code, func(t *testing.T) {
			code := NormalizeErrorCode(de.Code)
			assert.NotEqual(t, de.Code, code, "domain code should be mapped")
			assert.Contains(t, code, "ERR_")
			_, ok := ErrorCodeHTTPStatus[code]
			assert.True(t, ok, "%s should have an HTTP status", code)
		})
	}
}

func TestNormalizeErrorCode_PassesThroughAPICodes(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, NormalizeErrorCode(ErrCodeNotFound))
	assert.Equal(t, "CUSTOM_ERROR", NormalizeErrorCode("CUSTOM_ERROR"))
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("NOT_FOUND", "Resource not found")

	assert.False(t, resp.Success)
	assert.Nil(t, resp.Data)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "Resource not found", resp.Error.Message)
	assert.NotZero(t, resp.Error.Timestamp)
}

func TestErrorResponseJSON(t *testing.T) {
	resp := NewErrorResponseWithRequestID(shared.CodeNetwork, "ERP unreachable", "req-test-123")

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded Response
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.False(t, decoded.Success)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, ErrCodeNetwork, decoded.Error.Code)
	assert.Equal(t, "ERP unreachable", decoded.Error.Message)
	assert.Equal(t, "req-test-123", decoded.Error.RequestID)
}

func TestErrorResponseTimestamp(t *testing.T) {
	before := time.Now()
	resp := NewErrorResponse(ErrCodeInternal, "Server error")
	after := time.Now()

	assert.False(t, resp.Error.Timestamp.Before(before))
	assert.False(t, resp.Error.Timestamp.After(after))
}

func TestNewValidationErrorResponse(t *testing.T) {
	details := []ValidationDetail{{Field: "strategy", Message: "is required"}}

	resp := NewValidationErrorResponse("Request validation failed", "req-789", details)

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidInput, resp.Error.Code)
	assert.Equal(t, "req-789", resp.Error.RequestID)
	assert.Equal(t, details, resp.Error.Details)
}

func TestNewSuccessResponseWithMeta(t *testing.T) {
	resp := NewSuccessResponseWithMeta([]string{"a", "b"}, 2, 100, 0)

	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, Meta{Count: 2, Limit: 100}, *resp.Meta)
}

func TestQueueActionRequest_Action(t *testing.T) {
	t.Run("entity action", func(t *testing.T) {
		req := QueueActionRequest{Kind: "voucher", Op: "delete", EntityID: "v-1"}
		a, err := req.Action()
		require.NoError(t, err)
		assert.Equal(t, offline.ActionDeleteVoucher, a.Type())
	})

	t.Run("raw request upper-cases the method", func(t *testing.T) {
		req := QueueActionRequest{Method: "post", Path: "/vouchers/v-1/post"}
		a, err := req.Action()
		require.NoError(t, err)
		ra, ok := a.(offline.RequestAction)
		require.True(t, ok)
		assert.Equal(t, http.MethodPost, ra.Method)
	})

	t.Run("kind and path together", func(t *testing.T) {
		req := QueueActionRequest{Kind: "voucher", Op: "delete", EntityID: "v-1", Method: "POST", Path: "/x"}
		_, err := req.Action()
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("update without data", func(t *testing.T) {
		req := QueueActionRequest{Kind: "company", Op: "update", EntityID: "c-1"}
		_, err := req.Action()
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("empty request", func(t *testing.T) {
		_, err := QueueActionRequest{}.Action()
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})
}

func TestRecordListRequest_Filter(t *testing.T) {
	f := RecordListRequest{CompanyID: "c-1"}.Filter()
	assert.Equal(t, offline.ListFilter{CompanyID: "c-1", Limit: DefaultRecordLimit}, f)

	f = RecordListRequest{Limit: 5, Offset: 10}.Filter()
	assert.Equal(t, 5, f.Limit)
	assert.Equal(t, 10, f.Offset)
}
