package fetch

import (
	"context"
	stderr "errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"

	"go.uber.org/zap"

	"github.com/assetcache/assetcache/internal/config"
	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/types"
)

// HTTPFetcher retrieves asset bytes over http/https. Timeouts are bounded by
// the caller's context; exceeding the deadline reports FETCH_TIMEOUT,
// distinguishable from other fetch failures.
type HTTPFetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
	logger    *zap.Logger
}

// NewHTTPFetcher creates an HTTP transport with the configured response cap.
func NewHTTPFetcher(cfg config.FetchConfig, logger *zap.Logger) *HTTPFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPFetcher{
		client:    &http.Client{},
		maxBytes:  cfg.MaxResponseBytes(),
		userAgent: cfg.UserAgent,
		logger:    logger.Named("fetch.http"),
	}
}

// Fetch retrieves the bytes at location, honoring the context deadline.
func (f *HTTPFetcher) Fetch(ctx context.Context, location string) (*types.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFetchFailed,
			fmt.Sprintf("invalid request for %s", location), err).
			WithComponent("fetch").WithOperation("http")
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.classify(location, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewError(errors.ErrCodeFetchFailed,
			fmt.Sprintf("fetch of %s returned status %d", location, resp.StatusCode)).
			WithComponent("fetch").WithOperation("http").
			WithContext("status", resp.Status)
	}

	reader := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, f.classify(location, err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, errors.NewError(errors.ErrCodeAssetTooLarge,
			fmt.Sprintf("response for %s exceeds %d byte cap", location, f.maxBytes)).
			WithComponent("fetch").WithOperation("http")
	}

	return &types.FetchResult{
		Data:     data,
		MimeType: mimeType(resp.Header.Get("Content-Type"), location),
	}, nil
}

// classify wraps a transport error as FETCH_TIMEOUT or FETCH_FAILED.
func (f *HTTPFetcher) classify(location string, err error) error {
	if isTimeout(err) {
		return errors.Wrap(errors.ErrCodeFetchTimeout,
			fmt.Sprintf("fetch of %s timed out", location), err).
			WithComponent("fetch").WithOperation("http")
	}
	return errors.Wrap(errors.ErrCodeFetchFailed,
		fmt.Sprintf("fetch of %s failed", location), err).
		WithComponent("fetch").WithOperation("http")
}

func isTimeout(err error) bool {
	if stderr.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stderr.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// mimeType resolves a media type from the Content-Type header, falling back
// to the location's file extension.
func mimeType(contentType, location string) string {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	if u, err := url.Parse(location); err == nil {
		if mt := mime.TypeByExtension(path.Ext(u.Path)); mt != "" {
			return mt
		}
	}
	return "application/octet-stream"
}
