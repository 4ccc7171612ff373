package retry

import (
	"context"
	"testing"
	"time"

	"github.com/assetcache/assetcache/pkg/errors"
)

func TestRetryer_Success(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return nil // Success on first attempt
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 10 * time.Millisecond
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeFetchTimeout, "fetch timeout")
		}
		return nil // Success on third attempt
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	retryer := New(config)

	attempts := 0
	testErr := errors.NewError(errors.ErrCodeSourceUnsupported, "scheme not registered")

	err := retryer.Do(func() error {
		attempts++
		return testErr
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if errors.CodeOf(err) != errors.ErrCodeSourceUnsupported {
		t.Errorf("Expected original error back, got %v", err)
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 4
	config.InitialDelay = 5 * time.Millisecond
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return errors.NewError(errors.ErrCodeFetchFailed, "status 502")
	})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	// maxRetries+1 total calls, then terminal exhaustion
	if attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", attempts)
	}

	if !errors.IsRetryExhausted(err) {
		t.Errorf("Expected RETRY_EXHAUSTED, got %v", err)
	}

	// The last attempt's error stays reachable as the cause
	var cacheErr *errors.CacheError
	if ok := errorsAs(err, &cacheErr); !ok || cacheErr.Code != errors.ErrCodeRetryExhausted {
		t.Errorf("Expected structured exhaustion error, got %v", err)
	}
	if errors.CodeOf(cacheErr.Cause) != errors.ErrCodeFetchFailed {
		t.Errorf("Expected FETCH_FAILED cause, got %v", cacheErr.Cause)
	}
}

func TestRetryer_BackoffProgression(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 5
	config.InitialDelay = 10 * time.Millisecond
	config.MaxDelay = 40 * time.Millisecond
	retryer := New(config)

	var delays []time.Duration
	retryer = retryer.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	})

	_ = retryer.Do(func() error {
		return errors.NewError(errors.ErrCodeFetchFailed, "always fails")
	})

	expected := []time.Duration{
		10 * time.Millisecond, // 10 * 2^0
		20 * time.Millisecond, // 10 * 2^1
		40 * time.Millisecond, // 10 * 2^2
		40 * time.Millisecond, // capped at MaxDelay
	}

	if len(delays) != len(expected) {
		t.Fatalf("Expected %d backoff delays, got %d", len(expected), len(delays))
	}

	for i, want := range expected {
		if delays[i] != want {
			t.Errorf("Delay %d: expected %v, got %v", i+1, want, delays[i])
		}
	}

	// Monotonically non-decreasing up to the ceiling
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Errorf("Delay decreased: %v -> %v", delays[i-1], delays[i])
		}
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 10
	config.InitialDelay = 50 * time.Millisecond
	retryer := New(config)

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		attempts++
		return errors.NewError(errors.ErrCodeFetchTimeout, "timeout")
	})

	if err == nil {
		t.Fatal("Expected cancellation error, got nil")
	}
	if errors.CodeOf(err) != errors.ErrCodeOperationCanceled {
		t.Errorf("Expected OPERATION_CANCELED, got %v", err)
	}
	if attempts >= 10 {
		t.Errorf("Expected cancellation to stop retries early, got %d attempts", attempts)
	}
}

func TestRetryer_ZeroValueDefaults(t *testing.T) {
	retryer := New(Config{})

	if retryer.config.MaxAttempts != 4 {
		t.Errorf("Expected default MaxAttempts 4, got %d", retryer.config.MaxAttempts)
	}
	if retryer.config.InitialDelay != 200*time.Millisecond {
		t.Errorf("Expected default InitialDelay 200ms, got %v", retryer.config.InitialDelay)
	}
	if retryer.config.MaxDelay != 10*time.Second {
		t.Errorf("Expected default MaxDelay 10s, got %v", retryer.config.MaxDelay)
	}
	if retryer.config.Multiplier != 2.0 {
		t.Errorf("Expected default Multiplier 2.0, got %f", retryer.config.Multiplier)
	}
}

func TestRetryer_Builders(t *testing.T) {
	base := New(DefaultConfig())

	modified := base.WithMaxAttempts(2).
		WithInitialDelay(time.Millisecond).
		WithMaxDelay(5 * time.Millisecond)

	if modified.config.MaxAttempts != 2 {
		t.Errorf("Expected MaxAttempts 2, got %d", modified.config.MaxAttempts)
	}
	if base.config.MaxAttempts == 2 {
		t.Error("Builders should not mutate the original retryer")
	}

	attempts := 0
	_ = modified.Do(func() error {
		attempts++
		return errors.NewError(errors.ErrCodeFetchFailed, "fail")
	})
	if attempts != 2 {
		t.Errorf("Expected 2 attempts with modified retryer, got %d", attempts)
	}
}

// errorsAs avoids importing the stdlib errors package alongside the
// project errors package in this file.
func errorsAs(err error, target *(*errors.CacheError)) bool {
	for err != nil {
		if ce, ok := err.(*errors.CacheError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
