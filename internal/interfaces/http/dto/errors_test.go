package dto

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeErrorCode_StatusPerDomainCode(t *testing.T) {
	tests := []struct {
		domainCode string
		apiCode    string
		status     int
	}{
		{"USER_NOT_FOUND", ErrCodeNotFound, http.StatusNotFound},
		{"USERNAME_EXISTS", ErrCodeAlreadyExists, http.StatusConflict},
		{"INVALID_USERNAME", ErrCodeValidation, http.StatusBadRequest},
		{"CONCURRENCY_CONFLICT", ErrCodeConcurrencyConflict, http.StatusConflict},
		{"RECORD_NOT_FOUND", ErrCodeNotFound, http.StatusNotFound},
		{"DEAD_LETTER_NOT_FOUND", ErrCodeNotFound, http.StatusNotFound},
		{"ALREADY_REPLAYED", ErrCodeConflict, http.StatusConflict},
		{"REPLAY_FAILED", ErrCodeBusinessRule, http.StatusUnprocessableEntity},
		{"INVALID_TRADE", ErrCodeValidation, http.StatusBadRequest},
		{"MALFORMED_ENVELOPE", ErrCodeInvalidInput, http.StatusBadRequest},
		{"INTERNAL_ERROR", ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeRequestTooLarge, ErrCodeRequestTooLarge, http.StatusRequestEntityTooLarge},
		{ErrCodeUnavailable, ErrCodeUnavailable, http.StatusServiceUnavailable},
		{"SOMETHING_ODD", "SOMETHING_ODD", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.domainCode, func(t *testing.T) {
			code := NormalizeErrorCode(tt.domainCode)
			assert.Equal(t, tt.apiCode, code)
			assert.Equal(t, tt.status, GetHTTPStatus(code))
		})
	}
}

func TestDomainCodesResolveToKnownStatus(t *testing.T) {
	for domainCode, code := range domainCodes {
		_, ok := statusByCode[code]
		assert.True(t, ok, "%s maps to %s which has no status", domainCode, code)
	}
	for code := range statusByCode {
		assert.True(t, strings.HasPrefix(code, "ERR_"), code)
	}
}

func TestNewErrorResponseWithRequestID(t *testing.T) {
	resp := NewErrorResponseWithRequestID("USER_NOT_FOUND", "User not found", "req-123")

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded Response
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.False(t, decoded.Success)
	assert.Nil(t, decoded.Data)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, ErrCodeNotFound, decoded.Error.Code)
	assert.Equal(t, "User not found", decoded.Error.Message)
	assert.Equal(t, "req-123", decoded.Error.RequestID)
	assert.False(t, decoded.Error.Timestamp.IsZero())
}

func TestNewValidationErrorResponse(t *testing.T) {
	resp := NewValidationErrorResponse("Request validation failed", "req-7", []ValidationDetail{
		{Field: "user_name", Message: "This field is required"},
	})

	assert.False(t, resp.Success)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Equal(t, "req-7", resp.Error.RequestID)
	require.Len(t, resp.Error.Details, 1)
	assert.Equal(t, "user_name", resp.Error.Details[0].Field)
}

func TestNewSuccessResponseWithMeta(t *testing.T) {
	tests := []struct {
		total     int64
		pageSize  int
		wantPages int
		wantSize  int
	}{
		{100, 10, 10, 10},
		{101, 10, 11, 10},
		{0, 10, 0, 10},
		{9, 10, 1, 10},
		{100, 0, 5, 20},
		{100, -1, 5, 20},
	}

	for _, tt := range tests {
		resp := NewSuccessResponseWithMeta([]string{}, tt.total, 1, tt.pageSize)
		assert.True(t, resp.Success)
		assert.Nil(t, resp.Error)
		require.NotNil(t, resp.Meta)
		assert.Equal(t, tt.total, resp.Meta.Total)
		assert.Equal(t, tt.wantPages, resp.Meta.TotalPages)
		assert.Equal(t, tt.wantSize, resp.Meta.PageSize)
	}
}
