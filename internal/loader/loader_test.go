package loader

import (
	"bytes"
	"context"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/assetcache/assetcache/internal/config"
	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/types"
)

// stubFetcher counts calls and can fail a configured number of times before
// succeeding, or block to widen the single-flight window.
type stubFetcher struct {
	calls     atomic.Int64
	failFirst int64
	failWith  error
	delay     time.Duration
	data      []byte
}

func (s *stubFetcher) Fetch(ctx context.Context, location string) (*types.FetchResult, error) {
	n := s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, errors.Wrap(errors.ErrCodeFetchTimeout, "attempt timed out", ctx.Err())
		}
	}
	if n <= s.failFirst {
		if s.failWith != nil {
			return nil, s.failWith
		}
		return nil, errors.NewError(errors.ErrCodeFetchFailed, "stub failure")
	}
	return &types.FetchResult{Data: s.data, MimeType: "image/png"}, nil
}

func fastRetryConfig(maxRetries int) config.RetryConfig {
	return config.RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func testRequest(id string) Request {
	return Request{
		ID:             id,
		SourceLocation: "https://assets.example.com/" + id + ".png",
		Metadata:       types.AssetMetadata{AssetType: "hero", SessionID: "sess-1"},
		ExpiresAt:      time.Now().Add(time.Hour),
		Priority:       types.PriorityHigh,
	}
}

func TestLoadSuccess(t *testing.T) {
	stub := &stubFetcher{data: []byte("image-bytes")}
	l := New(stub, fastRetryConfig(3), time.Second, nil, nil)

	record, err := l.Load(context.Background(), testRequest("a1"), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if record.LoadState.Status != types.StatusLoaded {
		t.Errorf("expected loaded status, got %s", record.LoadState.Status)
	}
	if record.LoadState.ProgressPercent != 100 {
		t.Errorf("expected 100%% progress, got %d", record.LoadState.ProgressPercent)
	}
	if !bytes.Equal(record.Content, []byte("image-bytes")) {
		t.Error("content mismatch")
	}
	if record.Metadata.MimeType != "image/png" {
		t.Errorf("expected mime from fetch result, got %s", record.Metadata.MimeType)
	}
	if got := stub.calls.Load(); got != 1 {
		t.Errorf("expected 1 fetch call, got %d", got)
	}
}

func TestSingleFlight(t *testing.T) {
	stub := &stubFetcher{data: []byte("shared"), delay: 50 * time.Millisecond}
	l := New(stub, fastRetryConfig(3), time.Second, nil, nil)

	var commits atomic.Int64
	commit := func(asset *types.CachedAsset) { commits.Add(1) }

	const callers = 8
	results := make([]*types.CachedAsset, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = l.Load(context.Background(), testRequest("a1"), commit)
		}(i)
	}
	wg.Wait()

	if got := stub.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 fetch for %d concurrent callers, got %d", callers, got)
	}
	if got := commits.Load(); got != 1 {
		t.Errorf("expected exactly 1 commit, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if !bytes.Equal(results[i].Content, results[0].Content) {
			t.Errorf("caller %d received different bytes", i)
		}
	}
}

func TestSingleFlightSharesFailure(t *testing.T) {
	stub := &stubFetcher{failFirst: 1 << 30, delay: 20 * time.Millisecond}
	l := New(stub, fastRetryConfig(1), time.Second, nil, nil)

	const callers = 4
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = l.Load(context.Background(), testRequest("a1"), nil)
		}(i)
	}
	wg.Wait()

	// One flight: 1 initial attempt + 1 retry.
	if got := stub.calls.Load(); got != 2 {
		t.Errorf("expected 2 fetch attempts total, got %d", got)
	}
	for i, err := range errs {
		if !errors.IsRetryExhausted(err) {
			t.Errorf("caller %d: expected RETRY_EXHAUSTED, got %v", i, err)
		}
	}
}

func TestRetryBound(t *testing.T) {
	stub := &stubFetcher{failFirst: 1 << 30}
	retries := 0
	l := New(stub, fastRetryConfig(3), time.Second, func() { retries++ }, nil)

	_, err := l.Load(context.Background(), testRequest("a1"), nil)
	if !errors.IsRetryExhausted(err) {
		t.Fatalf("expected RETRY_EXHAUSTED, got %v", err)
	}

	// maxRetries additional attempts after the first.
	if got := stub.calls.Load(); got != 4 {
		t.Errorf("expected 4 total attempts (1 + 3 retries), got %d", got)
	}
	if retries != 3 {
		t.Errorf("expected 3 retry notifications, got %d", retries)
	}
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	stub := &stubFetcher{
		failFirst: 1 << 30,
		failWith:  errors.NewError(errors.ErrCodeSourceUnsupported, "no fetcher for scheme"),
	}
	l := New(stub, fastRetryConfig(3), time.Second, nil, nil)

	_, err := l.Load(context.Background(), testRequest("a1"), nil)
	if errors.CodeOf(err) != errors.ErrCodeSourceUnsupported {
		t.Fatalf("expected SOURCE_UNSUPPORTED passthrough, got %v", err)
	}
	if got := stub.calls.Load(); got != 1 {
		t.Errorf("non-retryable failure must not retry, got %d attempts", got)
	}
}

func TestFreshFlightAfterTerminalError(t *testing.T) {
	stub := &stubFetcher{failFirst: 4, data: []byte("eventually")}
	l := New(stub, fastRetryConfig(3), time.Second, nil, nil)

	if _, err := l.Load(context.Background(), testRequest("a1"), nil); !errors.IsRetryExhausted(err) {
		t.Fatalf("expected first load to exhaust retries, got %v", err)
	}

	// The flight entry settled and was dropped; a new explicit load starts
	// over and succeeds.
	record, err := l.Load(context.Background(), testRequest("a1"), nil)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if !bytes.Equal(record.Content, []byte("eventually")) {
		t.Error("unexpected content from fresh flight")
	}
}

func TestAttemptTimeout(t *testing.T) {
	stub := &stubFetcher{delay: 200 * time.Millisecond, data: []byte("slow")}
	l := New(stub, fastRetryConfig(1), time.Second, nil, nil)

	req := testRequest("a1")
	req.Timeout = 10 * time.Millisecond

	start := time.Now()
	_, err := l.Load(context.Background(), req, nil)
	if !errors.IsRetryExhausted(err) {
		t.Fatalf("expected RETRY_EXHAUSTED after timeouts, got %v", err)
	}
	if got := stub.calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
	// Two bounded attempts plus backoff, well under the unbounded delay.
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("attempts were not bounded by the per-attempt timeout: %v", elapsed)
	}
}

func TestAbandoningCallerDoesNotCancelFlight(t *testing.T) {
	stub := &stubFetcher{delay: 60 * time.Millisecond, data: []byte("landed")}
	l := New(stub, fastRetryConfig(0), time.Second, nil, nil)

	committed := make(chan *types.CachedAsset, 1)
	commit := func(asset *types.CachedAsset) { committed <- asset }

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := l.Load(ctx, testRequest("a1"), commit)
	if errors.CodeOf(err) != errors.ErrCodeOperationCanceled {
		t.Fatalf("expected OPERATION_CANCELED for the abandoning caller, got %v", err)
	}

	// The detached flight still completes and commits.
	select {
	case asset := <-committed:
		if !bytes.Equal(asset.Content, []byte("landed")) {
			t.Error("committed record has unexpected content")
		}
	case <-time.After(time.Second):
		t.Fatal("flight did not complete after caller abandoned it")
	}
}

func TestEncodeContent(t *testing.T) {
	payload := []byte{0x89, 0x50, 0x4e, 0x47}
	stub := &stubFetcher{data: payload}
	l := New(stub, fastRetryConfig(0), time.Second, nil, nil)

	req := testRequest("a1")
	req.EncodeContent = true

	record, err := l.Load(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if record.EncodedContent != base64.StdEncoding.EncodeToString(payload) {
		t.Error("EncodedContent is not the base64 of Content")
	}

	// Without the flag the derived form is absent.
	record2, err := l.Load(context.Background(), testRequest("a2"), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if record2.EncodedContent != "" {
		t.Error("EncodedContent should be empty when not requested")
	}
}
