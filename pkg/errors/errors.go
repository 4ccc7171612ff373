// Package errors provides a structured error system for the asset cache engine
// with error codes, categories, and context.
package errors

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for engine operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Fetch errors (source transport)
	ErrCodeFetchFailed       ErrorCode = "FETCH_FAILED"
	ErrCodeFetchTimeout      ErrorCode = "FETCH_TIMEOUT"
	ErrCodeSourceUnsupported ErrorCode = "SOURCE_UNSUPPORTED"

	// Durable store errors
	ErrCodeStoreRead    ErrorCode = "STORE_READ"
	ErrCodeStoreWrite   ErrorCode = "STORE_WRITE"
	ErrCodeStoreCorrupt ErrorCode = "STORE_CORRUPT"
	ErrCodeStoreClosed  ErrorCode = "STORE_CLOSED"

	// Cache errors
	ErrCodeAssetNotFound ErrorCode = "ASSET_NOT_FOUND"
	ErrCodeAssetTooLarge ErrorCode = "ASSET_TOO_LARGE"

	// Operation errors
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"

	// State errors
	ErrCodeEngineClosed ErrorCode = "ENGINE_CLOSED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFetch         ErrorCategory = "fetch"
	CategoryStore         ErrorCategory = "store"
	CategoryCache         ErrorCategory = "cache"
	CategoryOperation     ErrorCategory = "operation"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// CacheError represents a structured error with context and metadata.
type CacheError struct {
	// Core error information
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`
	AssetID   string `json:"asset_id,omitempty"`

	// Error handling hints
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *CacheError) Is(target error) bool {
	if cacheErr, ok := target.(*CacheError); ok {
		return e.Code == cacheErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *CacheError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}

	if e.AssetID != "" {
		parts = append(parts, fmt.Sprintf("AssetID=%s", e.AssetID))
	}

	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *CacheError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new cache error with default values.
func NewError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// Wrap creates a new cache error carrying cause as the underlying error.
func Wrap(code ErrorCode, message string, cause error) *CacheError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "FETCH_") || strings.HasPrefix(codeStr, "SOURCE_"):
		return CategoryFetch
	case strings.HasPrefix(codeStr, "STORE_"):
		return CategoryStore
	case strings.HasPrefix(codeStr, "ASSET_"):
		return CategoryCache
	case strings.HasPrefix(codeStr, "RETRY_") || strings.HasPrefix(codeStr, "OPERATION_"):
		return CategoryOperation
	case strings.HasPrefix(codeStr, "ENGINE_"):
		return CategoryState
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeFetchFailed:  true,
		ErrCodeFetchTimeout: true,
	}
	return retryableCodes[code]
}

// WithContext adds contextual information to an error
func (e *CacheError) WithContext(key, value string) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithAsset sets the asset identifier the error relates to
func (e *CacheError) WithAsset(id string) *CacheError {
	e.AssetID = id
	return e
}

// WithCause sets the underlying cause
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retryability hint
func (e *CacheError) WithRetryable(retryable bool) *CacheError {
	e.Retryable = retryable
	return e
}

// CodeOf extracts the error code from err, unwrapping as needed.
// Returns an empty code for non-cache errors.
func CodeOf(err error) ErrorCode {
	var cacheErr *CacheError
	if goerrors.As(err, &cacheErr) {
		return cacheErr.Code
	}
	return ""
}

// IsRetryable reports whether err carries a retryable cache error.
func IsRetryable(err error) bool {
	var cacheErr *CacheError
	if goerrors.As(err, &cacheErr) {
		return cacheErr.Retryable
	}
	return false
}

// IsTimeout reports whether err is a fetch timeout, distinguishable from
// other fetch failures.
func IsTimeout(err error) bool {
	return CodeOf(err) == ErrCodeFetchTimeout
}

// IsNotFound reports whether err represents an absent asset.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeAssetNotFound
}

// IsRetryExhausted reports whether err is a terminal load failure.
func IsRetryExhausted(err error) bool {
	return CodeOf(err) == ErrCodeRetryExhausted
}
