package dto

import "net/http"

// API error codes returned in ErrorInfo.Code
const (
	ErrCodeInternal            = "ERR_INTERNAL"
	ErrCodeUnavailable         = "ERR_UNAVAILABLE"
	ErrCodeValidation          = "ERR_VALIDATION"
	ErrCodeBadRequest          = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput        = "ERR_INVALID_INPUT"
	ErrCodeRequestTooLarge     = "ERR_REQUEST_TOO_LARGE"
	ErrCodeNotFound            = "ERR_NOT_FOUND"
	ErrCodeAlreadyExists       = "ERR_ALREADY_EXISTS"
	ErrCodeConflict            = "ERR_CONFLICT"
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
	ErrCodeInvalidState        = "ERR_INVALID_STATE"
	ErrCodeBusinessRule        = "ERR_BUSINESS_RULE"
)

var statusByCode = map[string]int{
	ErrCodeInternal:            http.StatusInternalServerError,
	ErrCodeUnavailable:         http.StatusServiceUnavailable,
	ErrCodeValidation:          http.StatusBadRequest,
	ErrCodeBadRequest:          http.StatusBadRequest,
	ErrCodeInvalidInput:        http.StatusBadRequest,
	ErrCodeRequestTooLarge:     http.StatusRequestEntityTooLarge,
	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConflict:            http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeInvalidState:        http.StatusUnprocessableEntity,
	ErrCodeBusinessRule:        http.StatusUnprocessableEntity,
}

// domainCodes translates shared.DomainError codes into API codes
var domainCodes = map[string]string{
	"NOT_FOUND":            ErrCodeNotFound,
	"ALREADY_EXISTS":       ErrCodeAlreadyExists,
	"INVALID_INPUT":        ErrCodeInvalidInput,
	"INVALID_STATE":        ErrCodeInvalidState,
	"CONCURRENCY_CONFLICT": ErrCodeConcurrencyConflict,
	"INTERNAL_ERROR":       ErrCodeInternal,

	"USER_NOT_FOUND":   ErrCodeNotFound,
	"USERNAME_EXISTS":  ErrCodeAlreadyExists,
	"INVALID_USERNAME": ErrCodeValidation,
	"INVALID_USER":     ErrCodeValidation,

	"INVALID_PLAN":      ErrCodeValidation,
	"INVALID_TECHNIQUE": ErrCodeValidation,
	"INVALID_IMAGE":     ErrCodeValidation,
	"INVALID_TRADE":     ErrCodeValidation,

	"RECORD_NOT_FOUND":      ErrCodeNotFound,
	"DEAD_LETTER_NOT_FOUND": ErrCodeNotFound,
	"ALREADY_REPLAYED":      ErrCodeConflict,
	"REPLAY_FAILED":         ErrCodeBusinessRule,
	"LEASE_LOST":            ErrCodeConflict,
	"OUT_OF_ORDER":          ErrCodeConflict,
	"INVALID_FACT":          ErrCodeInvalidInput,
	"MALFORMED_ENVELOPE":    ErrCodeInvalidInput,
	"UNKNOWN_EVENT_TYPE":    ErrCodeInvalidInput,
	"NO_TRANSACTION":        ErrCodeInternal,
}

// GetHTTPStatus returns the status for an API code, or 500 for unknown codes
func GetHTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// NormalizeErrorCode maps a domain code to its API code. API codes and
// unknown codes are returned unchanged.
func NormalizeErrorCode(code string) string {
	if apiCode, ok := domainCodes[code]; ok {
		return apiCode
	}
	return code
}
