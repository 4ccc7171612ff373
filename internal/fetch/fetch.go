package fetch

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/assetcache/assetcache/internal/config"
	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/types"
)

// Dispatcher routes fetches to the transport registered for the source
// location's scheme. It is itself a types.Fetcher, so the loader never
// knows which transport served a location.
type Dispatcher struct {
	fetchers map[string]types.Fetcher
	logger   *zap.Logger
}

// NewDispatcher builds a dispatcher with the standard transports: http and
// https served by the HTTP fetcher, s3 by the S3 fetcher.
func NewDispatcher(cfg config.FetchConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	httpFetcher := NewHTTPFetcher(cfg, logger)
	s3Fetcher := NewS3Fetcher(cfg.S3, logger)

	return &Dispatcher{
		fetchers: map[string]types.Fetcher{
			"http":  httpFetcher,
			"https": httpFetcher,
			"s3":    s3Fetcher,
		},
		logger: logger.Named("fetch"),
	}
}

// Register installs or replaces the transport for a scheme.
func (d *Dispatcher) Register(scheme string, fetcher types.Fetcher) {
	d.fetchers[scheme] = fetcher
}

// Fetch parses the location and delegates to the scheme's transport.
// Unknown schemes fail with SOURCE_UNSUPPORTED, which is not retryable.
func (d *Dispatcher) Fetch(ctx context.Context, location string) (*types.FetchResult, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSourceUnsupported,
			fmt.Sprintf("unparseable source location %q", location), err).
			WithComponent("fetch")
	}

	fetcher, ok := d.fetchers[u.Scheme]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeSourceUnsupported,
			fmt.Sprintf("no fetcher registered for scheme %q", u.Scheme)).
			WithComponent("fetch")
	}

	return fetcher.Fetch(ctx, location)
}
