package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Message != "configuration is invalid" {
			t.Errorf("Message = %q, want %q", err.Message, "configuration is invalid")
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Context == nil {
			t.Error("Context map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		retryableErr := NewError(ErrCodeFetchTimeout, "fetch timed out")
		if !retryableErr.Retryable {
			t.Error("FetchTimeout should be retryable by default")
		}

		nonRetryableErr := NewError(ErrCodeRetryExhausted, "retries exhausted")
		if nonRetryableErr.Retryable {
			t.Error("RetryExhausted should not be retryable by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     ErrorCode
		expected ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeConfigValidation, CategoryConfiguration},
		{ErrCodeFetchFailed, CategoryFetch},
		{ErrCodeFetchTimeout, CategoryFetch},
		{ErrCodeSourceUnsupported, CategoryFetch},
		{ErrCodeStoreRead, CategoryStore},
		{ErrCodeStoreWrite, CategoryStore},
		{ErrCodeStoreCorrupt, CategoryStore},
		{ErrCodeAssetNotFound, CategoryCache},
		{ErrCodeAssetTooLarge, CategoryCache},
		{ErrCodeRetryExhausted, CategoryOperation},
		{ErrCodeOperationCanceled, CategoryOperation},
		{ErrCodeEngineClosed, CategoryState},
		{ErrCodeInternalError, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			result := GetCategory(tt.code)
			if result != tt.expected {
				t.Errorf("GetCategory(%v) = %v, want %v", tt.code, result, tt.expected)
			}
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *CacheError
		expected string
	}{
		{
			name:     "bare error",
			err:      NewError(ErrCodeFetchFailed, "connection refused"),
			expected: "FETCH_FAILED: connection refused",
		},
		{
			name:     "with component",
			err:      NewError(ErrCodeStoreRead, "read failed").WithComponent("store"),
			expected: "[store] STORE_READ: read failed",
		},
		{
			name:     "with component and operation",
			err:      NewError(ErrCodeStoreWrite, "write failed").WithComponent("store").WithOperation("put"),
			expected: "[store:put] STORE_WRITE: write failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	t.Parallel()

	t.Run("unwrap returns cause", func(t *testing.T) {
		cause := fmt.Errorf("socket closed")
		err := Wrap(ErrCodeFetchFailed, "fetch failed", cause)

		if !errors.Is(err, cause) {
			t.Error("errors.Is should find the wrapped cause")
		}
		if err.Unwrap() != cause {
			t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
		}
	})

	t.Run("is matches by code", func(t *testing.T) {
		err := NewError(ErrCodeFetchTimeout, "attempt 1 timed out").WithComponent("loader")
		target := NewError(ErrCodeFetchTimeout, "different message")

		if !errors.Is(err, target) {
			t.Error("errors with the same code should match")
		}

		other := NewError(ErrCodeFetchFailed, "attempt 1 timed out")
		if errors.Is(err, other) {
			t.Error("errors with different codes should not match")
		}
	})

	t.Run("wrapped cache error found through plain wrapping", func(t *testing.T) {
		inner := NewError(ErrCodeFetchTimeout, "deadline exceeded")
		outer := fmt.Errorf("load failed: %w", inner)

		if CodeOf(outer) != ErrCodeFetchTimeout {
			t.Errorf("CodeOf = %v, want %v", CodeOf(outer), ErrCodeFetchTimeout)
		}
	})
}

func TestPredicates(t *testing.T) {
	t.Parallel()

	timeout := NewError(ErrCodeFetchTimeout, "deadline exceeded")
	failed := NewError(ErrCodeFetchFailed, "status 502")
	exhausted := Wrap(ErrCodeRetryExhausted, "4 attempts failed", failed)
	notFound := NewError(ErrCodeAssetNotFound, "no record")
	plain := errors.New("plain error")

	if !IsTimeout(timeout) {
		t.Error("IsTimeout should match FETCH_TIMEOUT")
	}
	if IsTimeout(failed) {
		t.Error("IsTimeout should not match FETCH_FAILED")
	}
	if !IsRetryable(timeout) || !IsRetryable(failed) {
		t.Error("fetch failures should be retryable")
	}
	if IsRetryable(exhausted) {
		t.Error("RETRY_EXHAUSTED should not be retryable")
	}
	if !IsRetryExhausted(exhausted) {
		t.Error("IsRetryExhausted should match RETRY_EXHAUSTED")
	}
	if !IsNotFound(notFound) {
		t.Error("IsNotFound should match ASSET_NOT_FOUND")
	}
	if IsRetryable(plain) || IsTimeout(plain) || IsNotFound(plain) {
		t.Error("predicates should not match plain errors")
	}
	if CodeOf(plain) != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", CodeOf(plain))
	}
}

func TestStringRepresentation(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeStoreWrite, "disk full").
		WithComponent("store").
		WithOperation("put").
		WithAsset("asset-9").
		WithCause(errors.New("no space left on device"))

	s := err.String()
	for _, want := range []string{"STORE_WRITE", "store", "put", "asset-9", "no space left"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q: %s", want, s)
		}
	}
}

func TestJSONSerialization(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeFetchFailed, "bad gateway").WithContext("status", "502")
	out := err.JSON()

	if !strings.Contains(out, `"code":"FETCH_FAILED"`) {
		t.Errorf("JSON missing code: %s", out)
	}
	if !strings.Contains(out, `"status":"502"`) {
		t.Errorf("JSON missing context: %s", out)
	}
}
