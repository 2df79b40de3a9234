package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Prescription pipeline error codes.
const (
	// ErrCodeInputValidation: neither raw text nor image supplied, or the
	// payload is unusable. Fatal for the request.
	ErrCodeInputValidation ErrorCode = "RX_001"
	// ErrCodeImageQuality: overall OCR confidence below the minimum. Surfaced
	// to the user as a clarification question rather than a hard failure.
	ErrCodeImageQuality ErrorCode = "RX_002"
	// ErrCodeOracleTimeout: the LLM or OCR oracle exceeded its time bound.
	// Retryable by the user, never retried automatically.
	ErrCodeOracleTimeout ErrorCode = "RX_003"
	// ErrCodeOracleOutput: the text oracle returned malformed or
	// schema-incompatible output.
	ErrCodeOracleOutput ErrorCode = "RX_004"
	// ErrCodeDrugInfoNotFound: drug-info lookup miss. Recovered locally.
	ErrCodeDrugInfoNotFound ErrorCode = "RX_005"
	// ErrCodeOracleUnavailable: the oracle could not be reached or answered
	// with a transport-level failure.
	ErrCodeOracleUnavailable ErrorCode = "RX_006"
	// ErrCodeTableInvalid: a static rule or contraindication table failed to load.
	ErrCodeTableInvalid ErrorCode = "RX_007"
)

// Aliases kept short for call sites.
const (
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeTimeout      = ErrCodeTimeout
	CodeOK           = ErrorCode("OK")
	CodeUnknown      = ErrorCode("UNKNOWN")

	CodeDatabaseError = ErrCodeDatabaseError
	CodeCacheError    = ErrCodeCacheError
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeInputValidation:   http.StatusBadRequest,
	ErrCodeImageQuality:      http.StatusUnprocessableEntity,
	ErrCodeOracleTimeout:     http.StatusGatewayTimeout,
	ErrCodeOracleOutput:      http.StatusBadGateway,
	ErrCodeDrugInfoNotFound:  http.StatusNotFound,
	ErrCodeOracleUnavailable: http.StatusServiceUnavailable,
	ErrCodeTableInvalid:      http.StatusInternalServerError,
}

// ErrorCodeMessage maps ErrorCodes to default user-facing messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeInputValidation:   "please provide prescription text or an image",
	ErrCodeImageQuality:      "the image could not be read clearly",
	ErrCodeOracleTimeout:     "processing took too long, please try again",
	ErrCodeOracleOutput:      "we could not process this prescription",
	ErrCodeDrugInfoNotFound:  "drug information not available",
	ErrCodeOracleUnavailable: "processing service is unavailable",
	ErrCodeTableInvalid:      "reference table could not be loaded",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode ("RX", "COMMON").
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
