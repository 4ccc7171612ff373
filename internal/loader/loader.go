// Package loader performs the retrying, timeout-bounded source fetch behind
// the cache, coalescing concurrent loads for the same asset id into one
// flight.
package loader

import (
	"context"
	"encoding/base64"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/assetcache/assetcache/internal/config"
	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/retry"
	"github.com/assetcache/assetcache/pkg/types"
)

// Request describes one load to perform.
type Request struct {
	ID             string
	SourceLocation string
	Metadata       types.AssetMetadata

	// Timeout bounds each fetch attempt; zero means the loader default.
	Timeout time.Duration

	// ExpiresAt is stamped onto the record before commit.
	ExpiresAt time.Time

	// Priority is stamped onto the record before commit.
	Priority types.Priority

	// EncodeContent derives EncodedContent (base64) from the fetched bytes.
	EncodeContent bool
}

// CommitFunc runs inside the flight exactly once on success, before any
// waiter observes the record. The engine uses it to route the record through
// the strategy selector and write the chosen tier(s), so concurrent callers
// share one authoritative admission.
type CommitFunc func(asset *types.CachedAsset)

// Loader is the single-flight retrying loader. While one load for an id is
// in progress every other caller requesting that id receives the same
// eventual result rather than triggering a duplicate fetch; the flight entry
// is dropped once the load settles, so a later explicit load starts fresh.
type Loader struct {
	group          singleflight.Group
	fetcher        types.Fetcher
	retryConfig    retry.Config
	defaultTimeout time.Duration
	onRetry        func()
	logger         *zap.Logger
}

// New creates a loader over the given fetcher. onRetry, when non-nil, is
// invoked once per retry for metrics.
func New(fetcher types.Fetcher, cfg config.RetryConfig, defaultTimeout time.Duration, onRetry func(), logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Loader{
		fetcher: fetcher,
		retryConfig: retry.Config{
			MaxAttempts:  cfg.MaxRetries + 1,
			InitialDelay: cfg.InitialDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   cfg.Multiplier,
			Jitter:       cfg.Jitter,
		},
		defaultTimeout: defaultTimeout,
		onRetry:        onRetry,
		logger:         logger.Named("loader"),
	}
}

// Load performs (or joins) the flight for req.ID and returns the canonical
// record. The flight is detached from the caller's context: a caller that
// stops waiting does not cancel the shared fetch, so its result still lands
// in the cache for other waiters. The caller's own wait is bounded by ctx.
func (l *Loader) Load(ctx context.Context, req Request, commit CommitFunc) (*types.CachedAsset, error) {
	ch := l.group.DoChan(req.ID, func() (interface{}, error) {
		return l.fly(req, commit)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*types.CachedAsset), nil
	case <-ctx.Done():
		return nil, errors.Wrap(errors.ErrCodeOperationCanceled,
			"caller stopped waiting for load of "+req.ID, ctx.Err()).
			WithComponent("loader").WithAsset(req.ID)
	}
}

// fly runs the load state machine: pending, then loading with retry and
// backoff, settling in loaded or terminal error.
func (l *Loader) fly(req Request, commit CommitFunc) (interface{}, error) {
	now := time.Now()
	record := &types.CachedAsset{
		ID:             req.ID,
		SourceLocation: req.SourceLocation,
		Metadata:       req.Metadata,
		CacheInfo: types.CacheInfo{
			CachedAt:     now,
			LastAccessed: now,
			ExpiresAt:    req.ExpiresAt,
			Priority:     req.Priority,
		},
		LoadState: types.LoadState{Status: types.StatusPending},
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = l.defaultTimeout
	}

	retryCfg := l.retryConfig
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		at := time.Now()
		record.LoadState.RetryCount = attempt
		record.LoadState.LastRetryAt = &at
		if l.onRetry != nil {
			l.onRetry()
		}
		l.logger.Warn("fetch failed, retrying",
			zap.String("id", req.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
	}

	var result *types.FetchResult
	err := retry.New(retryCfg).Do(func() error {
		record.LoadState.Status = types.StatusLoading

		attemptCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		fetched, err := l.fetcher.Fetch(attemptCtx, req.SourceLocation)
		if err != nil {
			return err
		}
		result = fetched
		return nil
	})
	if err != nil {
		record.LoadState.Status = types.StatusError
		record.LoadState.ErrorMessage = err.Error()
		l.logger.Error("load settled in terminal error",
			zap.String("id", req.ID),
			zap.Int("retries", record.LoadState.RetryCount),
			zap.Error(err))
		return nil, err
	}

	record.Content = result.Data
	if record.Metadata.MimeType == "" {
		record.Metadata.MimeType = result.MimeType
	}
	if record.Metadata.FileSizeBytes == 0 {
		record.Metadata.FileSizeBytes = int64(len(result.Data))
	}
	if req.EncodeContent {
		record.EncodedContent = base64.StdEncoding.EncodeToString(result.Data)
	}
	record.LoadState.Status = types.StatusLoaded
	record.LoadState.ProgressPercent = 100

	if commit != nil {
		commit(record)
	}
	return record, nil
}
